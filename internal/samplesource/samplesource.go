// Package samplesource implements the per-track sample source (spec
// §4.6): it owns one track's chunk source, loader, and rolling sample
// queue, and exposes the read/seek/enable contract the scheduler drives.
package samplesource

import (
	"context"

	"github.com/ericcug/dashcore/internal/chunksource"
	"github.com/ericcug/dashcore/internal/loader"
	"github.com/ericcug/dashcore/internal/logger"
	"github.com/ericcug/dashcore/internal/manifest"
	"github.com/ericcug/dashcore/internal/samplequeue"
)

// ReadStatus is the closed set of outcomes ReadData can report.
type ReadStatus int

const (
	NothingRead ReadStatus = iota
	FormatRead
	SampleRead
	EndOfStream
)

// bufferBytesBudget mirrors spec §6's per-track-type buffer budgets.
func bufferBytesBudget(t manifest.TrackType) int {
	switch t {
	case manifest.TrackVideo:
		return 5 * 1024 * 1024
	case manifest.TrackAudio:
		return 2 * 1024 * 1024
	default:
		return 1536 * 1024
	}
}

// Source is the per-track sample source.
type Source struct {
	trackType manifest.TrackType
	chunkSrc  *chunksource.Source
	ld        *loader.Loader
	queue     *samplequeue.Queue
	log       logger.Logger

	bufferBudget int

	tail chunksource.TailState
	rate manifest.PlaybackRate

	pendingFormat  *manifest.Format
	upstreamFormat manifest.Format

	eos     bool
	enabled bool

	pendingDiscontinuity   bool
	pendingDiscontinuityUs int64

	// lastOpPeriodLocalIndex/lastOpRepresentationID record which
	// period/representation the most recently dispatched chunk targeted,
	// so HandleLoadResult can resolve an init chunk back to its holder
	// once the load settles.
	lastOpPeriodLocalIndex int
	lastOpRepresentationID string

	sink *sampleSink
}

// New constructs a Source for one track.
func New(trackType manifest.TrackType, chunkSrc *chunksource.Source, log logger.Logger) *Source {
	if log == nil {
		log = logger.NoOp()
	}
	q := samplequeue.New()
	return &Source{
		trackType:    trackType,
		chunkSrc:     chunkSrc,
		ld:           loader.New(log),
		queue:        q,
		log:          log,
		bufferBudget: bufferBytesBudget(trackType),
		sink:         &sampleSink{queue: q},
		tail:         chunksource.TailState{Empty: true},
		rate:         1,
	}
}

// Prepare primes the source at the given starting position.
func (s *Source) Prepare(positionUs int64) {
	s.tail = chunksource.TailState{Empty: true}
	s.pendingDiscontinuity = true
	s.pendingDiscontinuityUs = positionUs
}

// Enable marks the track active with the given rate.
func (s *Source) Enable(rate manifest.PlaybackRate) {
	s.enabled = true
	s.rate = rate
	s.eos = false
}

// SetRate updates the playback rate used for chunk-direction decisions.
func (s *Source) SetRate(rate manifest.PlaybackRate) { s.rate = rate }

// Disable stops the track and cancels any in-flight load; doneCb fires
// before Disable returns, without waiting for the load to post its result.
func (s *Source) Disable(doneCb func()) {
	s.enabled = false
	if s.ld.IsLoading() {
		s.ld.Cancel()
	}
	if doneCb != nil {
		doneCb()
	}
}

// LoaderResults exposes the loader's completion channel so the driver can
// multiplex it alongside other tracks'.
func (s *Source) LoaderResults() <-chan loader.Result { return s.ld.Results() }

// ContinueBuffering implements spec §4.6's buffer governor: if fewer than
// bufferBudget bytes are buffered and no load is in flight, ask the chunk
// source for the next chunk and start a load.
func (s *Source) ContinueBuffering(ctx context.Context, positionUs int64) bool {
	if s.eos {
		return true
	}
	if s.queue.BufferedBytes() >= s.bufferBudget {
		return true
	}
	if s.ld.IsLoading() {
		return true
	}

	op := s.chunkSrc.GetChunkOperation(s.tail, positionUs, s.rate)
	switch op.Kind {
	case chunksource.OpEndOfStream:
		s.eos = true
		return true
	case chunksource.OpNone:
		return s.queue.GetWriteIndex() > s.queue.GetReadIndex()
	case chunksource.OpChunk:
		s.lastOpPeriodLocalIndex = op.PeriodLocalIndex
		s.lastOpRepresentationID = op.RepresentationID
		if c, ok := op.Chunk.(*loader.MediaChunk); ok {
			c.Sink = s.sink
		}
		s.ld.StartLoad(ctx, op.Chunk)
		return true
	}
	return false
}

// HandleLoadResult processes a completed/errored/canceled load, updating
// queue/format/eos state. Returns an error only for a fatal, non-retryable
// condition the driver must surface.
func (s *Source) HandleLoadResult(res loader.Result) error {
	if res.Canceled {
		return nil
	}
	if res.Err != nil {
		s.chunkSrc.OnChunkLoadError(res.Err)
		return res.Err
	}

	switch c := res.Chunk.(type) {
	case *loader.InitializationChunk:
		period, rep := s.resolveChunkTarget()
		if period != nil && rep != nil {
			s.chunkSrc.OnChunkLoadCompleted(period, rep, c)
		}
		if c.MediaFormat.ID != "" {
			f := c.MediaFormat
			s.pendingFormat = &f
			s.upstreamFormat = f
		}
	case *loader.MediaChunk:
		s.tail = chunksource.TailState{
			Empty:            false,
			PeriodLocalIndex: s.lastOpPeriodLocalIndex,
			RepresentationID: c.Format().ID,
			SegmentNum:       c.SegmentNum,
			EndTimeUs:        c.EndTimeUs,
		}
	}
	return nil
}

// resolveChunkTarget looks up the period/representation the most recently
// dispatched chunk targeted, using the identifiers ContinueBuffering
// recorded from its ChunkOp.
func (s *Source) resolveChunkTarget() (*manifest.PeriodHolder, *manifest.RepresentationHolder) {
	period := s.chunkSrc.PeriodByLocalIndex(s.lastOpPeriodLocalIndex)
	if period == nil {
		return nil, nil
	}
	rep := period.RepresentationByID(s.lastOpRepresentationID)
	return period, rep
}

// ReadDiscontinuity reports a pending seek/prepare discontinuity exactly
// once: the first ReadDiscontinuity call after Prepare or SeekToUs
// consumes it.
func (s *Source) ReadDiscontinuity() (int64, bool) {
	if !s.pendingDiscontinuity {
		return 0, false
	}
	s.pendingDiscontinuity = false
	return s.pendingDiscontinuityUs, true
}

// ReadData implements spec §4.6's read_data: deliver a pending format
// before any sample, otherwise peek the queue.
func (s *Source) ReadData() (ReadStatus, *manifest.Format, *samplequeue.PeekedSample) {
	if s.pendingFormat != nil {
		f := s.pendingFormat
		s.pendingFormat = nil
		s.upstreamFormat = *f
		return FormatRead, f, nil
	}

	sample, ok := s.queue.PeekSample()
	if !ok {
		if s.eos {
			return EndOfStream, nil, nil
		}
		return NothingRead, nil, nil
	}
	return SampleRead, nil, &sample
}

// AdvancePastPeeked moves the queue's read cursor past the sample most
// recently returned by ReadData.
func (s *Source) AdvancePastPeeked() { s.queue.MoveToNextSample() }

// SeekToUs repositions the track: the driver is expected to have already
// discarded queued samples upstream of the seek target via
// DiscardUpstreamSamples where applicable; this resets the chunk-source
// tail so the next ContinueBuffering call resumes from the new position.
func (s *Source) SeekToUs(positionUs int64) {
	s.tail = chunksource.TailState{Empty: true}
	s.eos = false
	s.pendingDiscontinuity = true
	s.pendingDiscontinuityUs = positionUs
}

// GetBufferedPositionUs returns how far ahead this track has buffered, in
// absolute presentation time.
func (s *Source) GetBufferedPositionUs() int64 {
	if s.tail.Empty {
		return 0
	}
	return s.tail.EndTimeUs
}

// IsEndOfStream reports whether this track's sample source has reached
// end-of-stream.
func (s *Source) IsEndOfStream() bool { return s.eos }

// UpstreamFormat returns the last format announced by the demuxer, used to
// answer codec queries before the first sample of that format is pulled.
func (s *Source) UpstreamFormat() manifest.Format { return s.upstreamFormat }

// Queue exposes the underlying sample queue for the scheduler's
// cross-track selection.
func (s *Source) Queue() *samplequeue.Queue { return s.queue }

// sampleSink adapts demux.Sink onto the sample queue, committing every
// parsed sample. Format, seek-map and DRM announcements are ignored; the
// track's format comes from the initialization chunk instead.
type sampleSink struct {
	queue *samplequeue.Queue
}

func (sk *sampleSink) OnFormat(manifest.Format) {}

func (sk *sampleSink) OnSample(smp manifest.Sample) {
	sk.queue.CommitSample(smp.TimeUs, smp.DurationUs, smp.Flags, smp.Bytes, smp.KeyID, smp.IV, smp.Subsamples)
}

func (sk *sampleSink) OnSeekMap(manifest.SegmentIndex)     {}
func (sk *sampleSink) OnDrmInitData(*manifest.DrmInitData) {}
