// Package scheduler implements the playback scheduler / core driver (spec
// §4.10): a single cooperative task runner that owns per-track pipelines,
// runs periodic buffering ticks, selects the next sample across tracks
// under a drift bound, and serializes seek/rate/load/unload control.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ericcug/dashcore/internal/bandwidth"
	"github.com/ericcug/dashcore/internal/chunksource"
	"github.com/ericcug/dashcore/internal/dasherr"
	"github.com/ericcug/dashcore/internal/datasource"
	"github.com/ericcug/dashcore/internal/demux"
	"github.com/ericcug/dashcore/internal/demux/fmp4"
	"github.com/ericcug/dashcore/internal/demux/rawcc"
	"github.com/ericcug/dashcore/internal/drm"
	"github.com/ericcug/dashcore/internal/evaluator"
	"github.com/ericcug/dashcore/internal/logger"
	"github.com/ericcug/dashcore/internal/manifest"
	"github.com/ericcug/dashcore/internal/samplequeue"
	"github.com/ericcug/dashcore/internal/samplesource"
)

// Track identifies one of the three pipelines the driver manages.
type Track int

const (
	TrackVideo Track = iota
	TrackAudio
	TrackText
	numTracks
)

func (t Track) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackText:
		return "text"
	default:
		return "unknown"
	}
}

func (t Track) mimeGlob() string {
	switch t {
	case TrackVideo:
		return "video/*"
	case TrackAudio:
		return "audio/*"
	default:
		return "text/*"
	}
}

func (t Track) toManifestType() manifest.TrackType {
	switch t {
	case TrackVideo:
		return manifest.TrackVideo
	case TrackAudio:
		return manifest.TrackAudio
	default:
		return manifest.TrackText
	}
}

// State is the player state machine, per spec §4.10/§5.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateBuffering
	StateReady
	StateSeeking
	StateEnded
)

const (
	tickPeriod = 400 * time.Millisecond
	// maxPRBufferUs bounds how far ahead of the decoder's reported position
	// (scaled by playback direction/rate) a candidate sample may sit before
	// the scheduler refuses to deliver it, per spec §4.10 step 3's drift
	// bound.
	maxPRBufferUs       = 5 * time.Second
	mediaTimePollPeriod = time.Second
	loadTimeout         = 6 * time.Second
)

// HostCallbacks are the callbacks the core invokes on the ctx pointer, per
// spec §6.
type HostCallbacks struct {
	GetMediaTimeMs func() int64
	DecoderFlush   func()
}

// CDMCallbacks mirrors drm.CDMCallbacks; re-exported so callers only need
// to import this package to wire DRM.
type CDMCallbacks = drm.CDMCallbacks

// trackPipeline bundles one track's chunk source + sample source plus the
// state the pull algorithm needs (peeked sample, check_pssh latch).
type trackPipeline struct {
	criteria  manifest.TrackCriteria
	chunkSrc  *chunksource.Source
	src       *samplesource.Source
	enabled   bool
	checkPSSH bool
}

// Driver is the playback scheduler.
type Driver struct {
	log  logger.Logger
	host HostCallbacks

	mpdClient manifest.MPDClient
	fetcher   *manifest.Fetcher
	// ds is the video track's data source, always metered. unmeteredDS
	// backs audio/text when AllTracksMetered is false, per spec §6's
	// "--no-all-tracks-metered (when off, only video contributes to the
	// bandwidth meter)".
	ds          *datasource.HTTPDataSource
	unmeteredDS *datasource.HTTPDataSource
	meter       *bandwidth.Meter
	drmMgr      *drm.Manager
	evalFactory func() evaluator.Evaluator

	mu    sync.Mutex
	state State

	tracks [numTracks]*trackPipeline
	dynamic bool

	rate           manifest.PlaybackRate
	decoderPosUs   int64
	mediaTimeValid bool
	lastMediaPoll  time.Time
	sampleOffsetUs int64
	durationUs     int64

	firstTimeUs int64

	eos bool

	ctx    context.Context
	cancel context.CancelFunc
	ctrl   chan func()
	done   chan struct{}
}

// Config bundles the construction-time collaborators for a Driver.
type Config struct {
	Log             logger.Logger
	Host            HostCallbacks
	CDM             CDMCallbacks
	AllTracksMetered bool
}

// New constructs an idle Driver.
func New(cfg Config) *Driver {
	log := cfg.Log
	if log == nil {
		log = logger.NoOp()
	}
	meter := bandwidth.New(nil)
	d := &Driver{
		log:         log,
		host:        cfg.Host,
		mpdClient:   datasource.NewMPDClient(),
		ds:          datasource.New(meter),
		unmeteredDS: datasource.New(nil),
		meter:       meter,
		drmMgr:      drm.New(cfg.CDM, log),
		rate:        1,
		state:       StateIdle,
		ctrl:        make(chan func(), 8),
		done:        make(chan struct{}),
	}
	if cfg.AllTracksMetered {
		d.unmeteredDS = d.ds
	}
	d.evalFactory = func() evaluator.Evaluator { return evaluator.NewAdaptive(meter) }
	return d
}

// dataSourceFor returns the data source a track type should load chunks
// through: video always reports to the bandwidth meter, other tracks only
// do when AllTracksMetered was set at construction time.
func (d *Driver) dataSourceFor(tr Track) *datasource.HTTPDataSource {
	if tr == TrackVideo {
		return d.ds
	}
	return d.unmeteredDS
}

// demuxFactory attaches an appropriate demuxer per media type (spec §4.2):
// VIDEO/AUDIO get the fMP4 demuxer, TEXT gets the RawCC demuxer configured
// with the per-representation sample_offset/truncation window chunksource
// computes in params.
func demuxFactory(trackType manifest.TrackType, mimeType string, params demux.FactoryParams) demux.SegmentDemuxer {
	if trackType == manifest.TrackText {
		return rawcc.NewFromParams(mimeType, params)
	}
	return fmp4.New(trackType, mimeType, params)
}

// Load fetches the manifest, blocks until both audio and video upstream
// formats have been announced (or loadTimeout elapses), and starts the
// driver's run loop. Per spec §5's "load waits until both audio and video
// upstream formats have been announced".
func (d *Driver) Load(ctx context.Context, manifestURL string, initialTimeSec float64) error {
	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return &dasherr.InvalidArgumentError{Reason: "Load called while not idle"}
	}
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	d.ctx = runCtx
	d.cancel = cancel

	d.fetcher = manifest.NewFetcher(d.mpdClient, manifestURL, d.log)
	d.fetcher.Enable()

	d.mu.Lock()
	d.state = StatePreparing
	d.decoderPosUs = int64(initialTimeSec * 1e6)
	d.mu.Unlock()

	go d.run()
	d.fetcher.RequestRefresh(runCtx, time.Now().UnixMicro())

	ready := make(chan struct{})
	go func() {
		for {
			d.mu.Lock()
			video := d.tracks[TrackVideo]
			audio := d.tracks[TrackAudio]
			videoReady := video == nil || !video.enabled || video.src.UpstreamFormat().ID != ""
			audioReady := audio == nil || !audio.enabled || audio.src.UpstreamFormat().ID != ""
			formatsKnown := d.state != StatePreparing && videoReady && audioReady
			d.mu.Unlock()
			if formatsKnown {
				close(ready)
				return
			}
			select {
			case <-time.After(50 * time.Millisecond):
			case <-runCtx.Done():
				return
			}
		}
	}()

	select {
	case <-ready:
		return nil
	case <-time.After(loadTimeout):
		return &dasherr.CodecTimeoutError{}
	case <-runCtx.Done():
		return runCtx.Err()
	}
}

// Unload stops the driver and releases every enabled track, blocking until
// all disable(done_cb) callbacks have fired, per spec §5.
func (d *Driver) Unload() {
	d.mu.Lock()
	if d.state == StateIdle {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	doneCh := make(chan struct{})
	d.post(func() {
		for _, t := range d.tracks {
			if t == nil || !t.enabled {
				continue
			}
			wg.Add(1)
			t.src.Disable(func() { wg.Done() })
			t.enabled = false
		}
		wg.Wait()
		close(doneCh)
	})
	<-doneCh

	if d.fetcher != nil {
		d.fetcher.Disable()
	}
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done

	d.mu.Lock()
	d.state = StateIdle
	d.mu.Unlock()
}

// post serializes fn onto the driver's run loop, per spec §5's "control
// ops processed on the task runner".
func (d *Driver) post(fn func()) {
	select {
	case d.ctrl <- fn:
	case <-d.ctx.Done():
	}
}

// run is the driver's single cooperative task runner.
func (d *Driver) run() {
	defer close(d.done)

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case fn := <-d.ctrl:
			fn()
		case res := <-d.fetcher.Results():
			d.onManifestResult(res)
		case <-ticker.C:
			d.tick()
		}
		d.drainLoaderResults()
	}
}

// drainLoaderResults is a non-blocking sweep of every enabled track's
// loader-completion channel, folding results back into chunk-source/
// sample-source state. Collapsing three always-present-but-possibly-nil
// channels into a single select arm keeps the run loop's selection set
// fixed regardless of which tracks are currently enabled.
func (d *Driver) drainLoaderResults() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tracks {
		if t == nil || !t.enabled {
			continue
		}
		for {
			select {
			case res := <-t.src.LoaderResults():
				if err := t.src.HandleLoadResult(res); err != nil {
					d.log.Warnf("scheduler: track load error: %v", err)
				}
			default:
				goto next
			}
		}
	next:
	}
}

func (d *Driver) onManifestResult(res manifest.FetchResult) {
	if res.Err != nil {
		d.log.Warnf("scheduler: manifest fetch failed: %v", res.Err)
		return
	}

	d.mu.Lock()
	first := d.state == StatePreparing
	d.mu.Unlock()

	if first {
		d.instantiatePipelines(res.Manifest)
		d.mu.Lock()
		d.state = StateBuffering
		d.mu.Unlock()
		return
	}
	d.refreshPipelines(res.Manifest)
}

// instantiatePipelines builds the per-track chunk sources and sample
// sources on first manifest receipt, per spec §5's "the first tick that
// observes has_manifest() transitions PREPARING → BUFFERING and
// instantiates per-track pipelines atomically on the driver thread".
func (d *Driver) instantiatePipelines(m *manifest.Manifest) {
	d.mu.Lock()
	d.dynamic = m.Dynamic
	d.durationUs = m.DurationMs * 1000
	d.mu.Unlock()

	for tr := Track(0); tr < numTracks; tr++ {
		criteria := manifest.TrackCriteria{MimeGlob: tr.mimeGlob()}
		periods := buildPeriods(m, criteria)
		if len(periods) == 0 {
			continue
		}

		if tr == TrackVideo {
			d.sampleOffsetUs = periods[0].StartMs*1000 - firstRepPTO(periods[0])
			d.firstTimeUs = d.sampleOffsetUs
		}

		cs := chunksource.New(chunksource.Config{
			TrackType:    tr.toManifestType(),
			Criteria:     criteria,
			Dynamic:      m.Dynamic,
			DemuxFactory: demuxFactory,
			DataSource:   d.dataSourceFor(tr),
			Evaluator:    d.evalFactory(),
		}, periods)

		src := samplesource.New(tr.toManifestType(), cs, d.log)
		src.Prepare(d.decoderPosUs)
		src.Enable(d.rate)

		d.mu.Lock()
		d.tracks[tr] = &trackPipeline{criteria: criteria, chunkSrc: cs, src: src, enabled: true}
		d.mu.Unlock()
	}
}

// refreshPipelines re-selects periods against a refreshed manifest for
// every enabled track, per spec §4.1/§4.2's refresh contract.
func (d *Driver) refreshPipelines(m *manifest.Manifest) {
	d.mu.Lock()
	d.dynamic = m.Dynamic
	d.durationUs = m.DurationMs * 1000
	d.mu.Unlock()
	for tr := Track(0); tr < numTracks; tr++ {
		t := d.tracks[tr]
		if t == nil {
			continue
		}
		periods := buildPeriods(m, t.criteria)
		t.chunkSrc.SetPeriods(periods)
	}
}

func buildPeriods(m *manifest.Manifest, criteria manifest.TrackCriteria) []*manifest.PeriodHolder {
	periods := make([]*manifest.PeriodHolder, 0, len(m.Periods))
	for i := range m.Periods {
		h := manifest.NewPeriodHolder(len(periods), m, i, criteria)
		if h.SelectedSet == nil {
			continue
		}
		periods = append(periods, h)
	}
	return periods
}

func firstRepPTO(p *manifest.PeriodHolder) int64 {
	if len(p.Reps) == 0 {
		return 0
	}
	return p.Reps[0].Representation.PresentationTimeOffsetUs
}

// tick implements spec §4.10's per-tick algorithm.
func (d *Driver) tick() {
	d.mu.Lock()
	state := d.state
	d.mu.Unlock()

	if time.Since(d.lastMediaPoll) >= mediaTimePollPeriod && d.host.GetMediaTimeMs != nil {
		d.lastMediaPoll = time.Now()
		mt := d.host.GetMediaTimeMs()
		d.mu.Lock()
		d.decoderPosUs = mt*1000 + d.sampleOffsetUs
		d.mediaTimeValid = true
		d.mu.Unlock()
	}

	switch state {
	case StatePreparing:
		return
	case StateBuffering, StateReady:
		d.mu.Lock()
		for _, t := range d.tracks {
			if t == nil || !t.enabled {
				continue
			}
			t.src.ContinueBuffering(d.ctx, d.decoderPosUs)
		}
		ready := d.allTracksReadyLocked()
		if ready {
			d.state = StateReady
		}
		d.mu.Unlock()
	}

	if d.fetcher != nil && d.dynamic {
		now := time.Now().UnixMicro()
		if d.fetcher.ShouldRefresh(now) {
			d.fetcher.RequestRefresh(d.ctx, now)
		}
	}
}

// allTracksReadyLocked requires d.mu held by the caller.
func (d *Driver) allTracksReadyLocked() bool {
	for _, t := range d.tracks {
		if t == nil || !t.enabled {
			continue
		}
		if t.src.Queue().IsEmpty() && !t.src.IsEndOfStream() {
			return false
		}
	}
	return true
}

// PulledSample is one sample selected by Pull, or a format announcement.
type PulledSample struct {
	Track     Track
	Format    *manifest.Format
	Sample    *samplequeue.PeekedSample
	EOS       bool
	WouldBlock bool
}

// Pull implements spec §4.10's per-pull algorithm: ensure peeked samples,
// discard decode-only samples ineligible for delivery, select across
// tracks under the drift bound, and verify DRM license presence for
// encrypted candidates.
func (d *Driver) Pull() PulledSample {
	d.mu.Lock()

	mediaTimeTrack := TrackVideo
	if t := d.tracks[TrackAudio]; t != nil && t.enabled {
		mediaTimeTrack = TrackAudio
	}

	var bestTrack = Track(-1)
	var bestSample *samplequeue.PeekedSample
	allEOS := true

	for tr := Track(0); tr < numTracks; tr++ {
		t := d.tracks[tr]
		if t == nil || !t.enabled {
			continue
		}
		status, format, sample := t.src.ReadData()
		switch status {
		case samplesource.FormatRead:
			t.checkPSSH = true
			d.mu.Unlock()
			return PulledSample{Track: tr, Format: format}
		case samplesource.EndOfStream:
			continue
		case samplesource.NothingRead:
			if tr != TrackText {
				allEOS = false
			}
			continue
		case samplesource.SampleRead:
			if tr != TrackText {
				allEOS = false
			}
			if tr == TrackText && mediaTimeTrack != tr && !d.mediaTimeValid {
				continue
			}
			if sample.Flags.Has(manifest.SampleDecodeOnly) && tr != TrackVideo {
				t.src.AdvancePastPeeked()
				continue
			}
			if !d.withinDriftBound(sample.TimeUs) {
				continue
			}
			if bestTrack == -1 || d.isEarlier(sample.TimeUs, bestSample.TimeUs) {
				bestTrack = tr
				bestSample = sample
			}
		}
	}

	if bestTrack == -1 {
		if allEOS && d.anyTrackEnabled() {
			d.eos = true
			d.mu.Unlock()
			return PulledSample{EOS: true}
		}
		d.mu.Unlock()
		return PulledSample{WouldBlock: true}
	}

	t := d.tracks[bestTrack]
	if bestSample.Flags.Has(manifest.SampleEncrypted) && t.checkPSSH {
		pssh := bestSample.KeyID
		// Dropping the lock here lets tick()/drainLoaderResults() keep
		// buffering other tracks while this potentially slow CDM round trip
		// is outstanding.
		// TODO: join on the period's actual PSSH (from PeriodHolder.DrmInitData),
		// not the sample's key id; the two are related but distinct CENC
		// identifiers and this substitution only works for single-key content.
		d.mu.Unlock()
		ok := d.drmMgr.Join(pssh)
		d.mu.Lock()
		if !ok {
			t.src.AdvancePastPeeked()
			d.mu.Unlock()
			return PulledSample{WouldBlock: true}
		}
		t.checkPSSH = false
	}

	if bestTrack == mediaTimeTrack {
		d.decoderPosUs = bestSample.TimeUs
	}
	t.src.AdvancePastPeeked()
	d.mu.Unlock()

	return PulledSample{Track: bestTrack, Sample: bestSample}
}

func (d *Driver) anyTrackEnabled() bool {
	for _, t := range d.tracks {
		if t != nil && t.enabled {
			return true
		}
	}
	return false
}

func (d *Driver) withinDriftBound(sampleTimeUs int64) bool {
	rate := float64(d.rate)
	if rate < 0 {
		rate = -rate
	}
	if rate < 1 {
		rate = 1
	}
	boundUs := int64(float64(maxPRBufferUs/time.Microsecond) * rate)
	if d.rate.IsForward() {
		return sampleTimeUs <= d.decoderPosUs+boundUs
	}
	return sampleTimeUs >= d.decoderPosUs-boundUs
}

func (d *Driver) isEarlier(a, b int64) bool {
	if d.rate.IsForward() {
		return a < b
	}
	return a > b
}

// Seek implements spec §4.10's seek algorithm.
func (d *Driver) Seek(targetMediaTimeMs int64) error {
	d.mu.Lock()
	if d.state != StateReady && d.state != StateBuffering {
		d.mu.Unlock()
		return &dasherr.InvalidArgumentError{Reason: "seek not allowed in current state"}
	}
	if d.rate.IsTrick() {
		d.mu.Unlock()
		return &dasherr.InvalidArgumentError{Reason: "seek refused during trick play"}
	}
	d.mu.Unlock()

	targetUs := targetMediaTimeMs*1000 + d.sampleOffsetUs

	video := d.tracks[TrackVideo]
	if video != nil {
		adjusted := video.chunkSrc.GetAdjustedSeek(targetUs)
		if targetUs != 0 {
			diff := adjusted - targetUs
			if diff < 0 {
				diff = -diff
			}
			if diff >= 2*int64(time.Second/time.Microsecond) {
				return &dasherr.InvalidArgumentError{Reason: "seek target too far from nearest segment boundary"}
			}
		}
		targetUs = adjusted
	}

	done := make(chan struct{})
	d.post(func() {
		d.mu.Lock()
		d.state = StateSeeking
		d.decoderPosUs = targetUs
		d.mediaTimeValid = false
		d.mu.Unlock()

		if d.host.DecoderFlush != nil {
			d.host.DecoderFlush()
		}
		for _, t := range d.tracks {
			if t == nil || !t.enabled {
				continue
			}
			t.src.SeekToUs(targetUs)
		}

		d.mu.Lock()
		d.state = StateBuffering
		d.mu.Unlock()
		close(done)
	})
	<-done
	return nil
}

// SetPlaybackRate implements spec §4.10's rate-change algorithm.
func (d *Driver) SetPlaybackRate(rate manifest.PlaybackRate) {
	done := make(chan struct{})
	d.post(func() {
		d.mu.Lock()
		d.state = StateReady
		d.mu.Unlock()

		var wg sync.WaitGroup
		for _, t := range d.tracks {
			if t == nil || !t.enabled {
				continue
			}
			wg.Add(1)
			t.src.Disable(func() { wg.Done() })
		}
		wg.Wait()

		if d.host.DecoderFlush != nil {
			d.host.DecoderFlush()
		}

		d.mu.Lock()
		d.rate = rate
		pos := d.decoderPosUs
		d.mu.Unlock()

		for _, t := range d.tracks {
			if t == nil {
				continue
			}
			t.criteria.PreferTrick = rate.IsTrick()
			t.src.Enable(rate)
			t.src.SeekToUs(pos)
			t.enabled = true
		}

		d.mu.Lock()
		d.state = StateBuffering
		d.mu.Unlock()
		close(done)
	})
	<-done
}

// GetFirstTime returns the media-time offset (in ms) at which sample time
// 0 is perceived by the consumer.
func (d *Driver) GetFirstTime() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstTimeUs / 1000
}

// GetDuration returns the presentation duration in ms, or a negative
// value for an unbounded (live) presentation.
func (d *Driver) GetDuration() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dynamic {
		return -1
	}
	return d.durationUs / 1000
}

// IsEOS reports the latched end-of-stream rule: EOS only once every
// non-text track has returned END_OF_STREAM.
func (d *Driver) IsEOS() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eos
}

// RequestLicense forwards a PSSH discovered out-of-band (e.g. from a
// host-supplied key message) to the DRM manager.
func (d *Driver) RequestLicense(pssh []byte) {
	d.drmMgr.Request(pssh)
}

// SetBearerToken installs the "auth" attribute as an Authorization header on
// every subsequent segment fetch. Manifest fetches go through mpdClient,
// which does not carry the token.
func (d *Driver) SetBearerToken(token string) {
	d.ds.SetBearerToken(token)
	if d.unmeteredDS != d.ds {
		d.unmeteredDS.SetBearerToken(token)
	}
}

// VideoFormat returns the video track's current upstream format, or the
// zero Format if the video track has not announced one yet.
func (d *Driver) VideoFormat() manifest.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t := d.tracks[TrackVideo]; t != nil {
		return t.src.UpstreamFormat()
	}
	return manifest.Format{}
}

// AudioFormat returns the audio track's current upstream format, or the
// zero Format if the audio track has not announced one yet.
func (d *Driver) AudioFormat() manifest.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t := d.tracks[TrackAudio]; t != nil {
		return t.src.UpstreamFormat()
	}
	return manifest.Format{}
}

// TextFormat returns the text track's current upstream format, or the zero
// Format if no text track is selected or it has not announced one yet.
func (d *Driver) TextFormat() manifest.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t := d.tracks[TrackText]; t != nil {
		return t.src.UpstreamFormat()
	}
	return manifest.Format{}
}

// ReportPlaybackError is a structured-logging hook; recoverable chunk/
// sample drops are logged, fatal ones transition the player to ENDED.
func (d *Driver) ReportPlaybackError(err error, fatal bool) {
	d.log.Errorf("scheduler: playback error (fatal=%v): %v", fatal, err)
	if fatal {
		d.mu.Lock()
		d.state = StateEnded
		d.eos = true
		d.mu.Unlock()
	}
}
