// Package chunksource implements the per-track chunk source (spec §4.3):
// given the rolling sample queue's current tail and the playback position,
// it decides the next initialization or media chunk to fetch, or reports
// end-of-stream.
package chunksource

import (
	"github.com/ericcug/dashcore/internal/dasherr"
	"github.com/ericcug/dashcore/internal/datasource"
	"github.com/ericcug/dashcore/internal/demux"
	"github.com/ericcug/dashcore/internal/evaluator"
	"github.com/ericcug/dashcore/internal/loader"
	"github.com/ericcug/dashcore/internal/manifest"
)

// OpKind is the closed set of outcomes GetChunkOperation can report.
type OpKind int

const (
	OpNone OpKind = iota
	OpChunk
	OpEndOfStream
)

// ChunkOp is the result of one GetChunkOperation invocation. PeriodLocalIndex
// and RepresentationID identify which period/representation Chunk belongs
// to, so the sample source can fold a completed load back into TailState
// without re-deriving it from the chunk itself.
type ChunkOp struct {
	Kind             OpKind
	Chunk            loader.Chunk
	PeriodLocalIndex int
	RepresentationID string
}

// TailState describes the queue's current tail chunk, as seen by the
// chunk source (the queue itself only tracks samples; the sample source
// is responsible for remembering which period/representation/segment the
// most recently requested chunk belonged to).
type TailState struct {
	Empty            bool
	PeriodLocalIndex int
	RepresentationID string
	SegmentNum       int64
	EndTimeUs        int64
}

// Source is the per-track chunk source.
type Source struct {
	trackType manifest.TrackType
	criteria  manifest.TrackCriteria

	periods []*manifest.PeriodHolder // ordered by LocalIndex, current window

	dynamic          bool
	liveStart        int64
	liveEnd          int64
	startAtLiveEdge  bool
	liveEdgeLatencyUs int64

	dataSource    datasource.DataSource
	demuxFactory  demux.Factory
	formatEval    evaluator.Evaluator

	fatalErr error
}

// Config bundles the construction-time parameters for a Source.
type Config struct {
	TrackType         manifest.TrackType
	Criteria          manifest.TrackCriteria
	Dynamic           bool
	StartAtLiveEdge   bool
	LiveEdgeLatencyUs int64
	DataSource        datasource.DataSource
	DemuxFactory      demux.Factory
	Evaluator         evaluator.Evaluator
}

// New constructs a Source over the given ordered period holders.
func New(cfg Config, periods []*manifest.PeriodHolder) *Source {
	return &Source{
		trackType:         cfg.TrackType,
		criteria:          cfg.Criteria,
		periods:           periods,
		dynamic:           cfg.Dynamic,
		startAtLiveEdge:   cfg.StartAtLiveEdge,
		liveEdgeLatencyUs: cfg.LiveEdgeLatencyUs,
		dataSource:        cfg.DataSource,
		demuxFactory:      cfg.DemuxFactory,
		formatEval:        cfg.Evaluator,
	}
}

// SetLiveWindow updates the current live-edge bounds, called by the
// driver after every manifest refresh of a dynamic presentation.
func (s *Source) SetLiveWindow(startUs, endUs int64) {
	s.liveStart = startUs
	s.liveEnd = endUs
}

// SetPeriods replaces the ordered period-holder window, called by the
// driver after a manifest refresh adds/evicts periods.
func (s *Source) SetPeriods(periods []*manifest.PeriodHolder) { s.periods = periods }

// PeriodByLocalIndex exposes period lookup to callers (the sample source)
// that need to resolve a ChunkOp's PeriodLocalIndex back to a holder.
func (s *Source) PeriodByLocalIndex(localIndex int) *manifest.PeriodHolder {
	return s.periodAt(localIndex)
}

func (s *Source) periodAt(localIndex int) *manifest.PeriodHolder {
	for _, p := range s.periods {
		if p.LocalIndex == localIndex {
			return p
		}
	}
	return nil
}

func (s *Source) periodPos(localIndex int) int {
	for i, p := range s.periods {
		if p.LocalIndex == localIndex {
			return i
		}
	}
	return -1
}

// GetChunkOperation implements the spec §4.3 selection algorithm.
func (s *Source) GetChunkOperation(tail TailState, playbackPositionUs int64, rate manifest.PlaybackRate) ChunkOp {
	if s.fatalErr != nil {
		return ChunkOp{Kind: OpNone}
	}

	var periodIdx int
	var startingNewPeriod bool
	position := playbackPositionUs

	if tail.Empty {
		if s.dynamic {
			if s.startAtLiveEdge {
				position = s.liveEnd - s.liveEdgeLatencyUs
				if position < s.liveStart {
					position = s.liveStart
				}
			} else {
				position = clamp(position, s.liveStart, s.liveEnd-1)
			}
		}

		idx, ok := s.firstPeriodAtOrAfter(position)
		if !ok {
			if s.dynamic {
				return ChunkOp{Kind: OpNone}
			}
			return ChunkOp{Kind: OpEndOfStream}
		}
		periodIdx = idx
		startingNewPeriod = true
	} else {
		if s.dynamic {
			if tail.EndTimeUs < s.liveStart {
				s.fatalErr = &dasherr.BehindLiveWindowError{
					RepresentationID: tail.RepresentationID,
					OldEnd:           tail.EndTimeUs,
					NewStart:         s.liveStart,
				}
				return ChunkOp{Kind: OpNone}
			}
			if tail.EndTimeUs >= s.liveEnd {
				return ChunkOp{Kind: OpNone}
			}
		}

		pos := s.periodPos(tail.PeriodLocalIndex)
		if pos == -1 {
			idx, ok := s.firstPeriodAtOrAfter(playbackPositionUs)
			if !ok {
				return ChunkOp{Kind: OpEndOfStream}
			}
			periodIdx = idx
			startingNewPeriod = true
		} else if s.isLastPeriod(pos) && s.tailFallsOffEnd(tail, rate) {
			if !s.dynamic && rate.IsForward() {
				return ChunkOp{Kind: OpEndOfStream}
			}
			return ChunkOp{Kind: OpNone}
		} else if s.tailFallsOffPeriodBoundary(tail, pos, rate) {
			nextPos, ok := s.stepPeriod(pos, rate)
			if !ok {
				return ChunkOp{Kind: OpEndOfStream}
			}
			periodIdx = s.periods[nextPos].LocalIndex
			startingNewPeriod = true
		} else {
			periodIdx = tail.PeriodLocalIndex
		}
	}

	period := s.periodAt(periodIdx)
	if period == nil || len(period.Reps) == 0 {
		return ChunkOp{Kind: OpEndOfStream}
	}

	candidates := make([]manifest.Format, len(period.Reps))
	for i, rh := range period.Reps {
		candidates[i] = rh.Representation.Format
	}
	evalResult := s.formatEval.Evaluate(evaluator.Input{
		PlaybackPositionUs: position,
		Candidates:         candidates,
		Rate:               rate,
	})

	rep := period.RepresentationByID(evalResult.Format.ID)
	if rep == nil {
		rep = period.Reps[0]
	}

	if !rep.HasIndex() {
		return s.buildInitChunk(period, rep)
	}

	var segmentNum int64
	switch {
	case tail.Empty:
		segmentNum = rep.SegmentNum(position)
	case startingNewPeriod:
		segmentNum = rep.FirstAvailableSegmentNum()
	case rate.IsForward():
		segmentNum = tail.SegmentNum + 1
	default:
		segmentNum = tail.SegmentNum - 1
	}

	return s.buildMediaChunk(period, rep, segmentNum)
}

func (s *Source) firstPeriodAtOrAfter(positionUs int64) (int, bool) {
	for _, p := range s.periods {
		if len(p.Reps) == 0 {
			continue
		}
		endUs := p.StartMs*1000 + p.DurationUs
		if p.DurationUs < 0 || endUs > positionUs {
			return p.LocalIndex, true
		}
	}
	return 0, false
}

func (s *Source) isLastPeriod(pos int) bool { return pos == len(s.periods)-1 }

func (s *Source) tailFallsOffEnd(tail TailState, rate manifest.PlaybackRate) bool {
	period := s.periodAt(tail.PeriodLocalIndex)
	if period == nil {
		return true
	}
	rep := period.RepresentationByID(tail.RepresentationID)
	if rep == nil {
		return true
	}
	if rate.IsForward() {
		return tail.SegmentNum+1 > rep.LastSegmentNum() && rep.LastSegmentNum() != manifest.Unbounded
	}
	return tail.SegmentNum-1 < rep.FirstSegmentNum()
}

func (s *Source) tailFallsOffPeriodBoundary(tail TailState, pos int, rate manifest.PlaybackRate) bool {
	return s.tailFallsOffEnd(tail, rate) && !s.isLastPeriod(pos)
}

func (s *Source) stepPeriod(pos int, rate manifest.PlaybackRate) (int, bool) {
	step := 1
	if !rate.IsForward() {
		step = -1
	}
	for next := pos + step; next >= 0 && next < len(s.periods); next += step {
		if len(s.periods[next].Reps) > 0 {
			return next, true
		}
	}
	return 0, false
}

func (s *Source) buildInitChunk(period *manifest.PeriodHolder, rep *manifest.RepresentationHolder) ChunkOp {
	initURI, hasInit := rep.InitializationURI()
	indexURI, hasIndex := rep.IndexURI()

	spec := initURI
	if hasInit && hasIndex {
		if merged, ok := initURI.AttemptMerge(indexURI); ok {
			spec = merged
		}
	} else if !hasInit && hasIndex {
		spec = indexURI
	}

	params := s.demuxParams(period, rep)
	dmx := s.demuxFactory(s.trackType, rep.Representation.Format.MimeType, params)
	chunk := loader.NewInitializationChunk(s.dataSource, datasource.Spec{URI: spec.ResolvedURI(), Start: spec.Start, Length: spec.Length}, loader.TriggerInitial, dmx)
	return ChunkOp{Kind: OpChunk, Chunk: chunk, PeriodLocalIndex: period.LocalIndex, RepresentationID: rep.Representation.Format.ID}
}

func (s *Source) buildMediaChunk(period *manifest.PeriodHolder, rep *manifest.RepresentationHolder, segmentNum int64) ChunkOp {
	uri := rep.SegmentURL(segmentNum)
	params := s.demuxParams(period, rep)
	dmx := s.demuxFactory(s.trackType, rep.Representation.Format.MimeType, params)

	chunk := loader.NewMediaChunk(s.dataSource, datasource.Spec{URI: uri.ResolvedURI(), Start: uri.Start, Length: uri.Length}, rep.Representation.Format, loader.TriggerAdaptive, dmx, nil)
	chunk.SegmentNum = segmentNum
	chunk.StartTimeUs = rep.TimeUs(segmentNum)
	chunk.EndTimeUs = chunk.StartTimeUs + rep.DurationUs(segmentNum)
	chunk.SampleOffsetUs = params.SampleOffsetUs
	chunk.DrmInitData = period.DrmInitData
	chunk.IsFormatFinal = rep.IsIndexExplicit()

	return ChunkOp{Kind: OpChunk, Chunk: chunk, PeriodLocalIndex: period.LocalIndex, RepresentationID: rep.Representation.Format.ID}
}

// demuxParams computes the timing context demuxFactory needs to configure
// a RawCC demuxer (spec §4.2): sample_offset = period.start -
// representation.pto always, plus a [trunc_start, trunc_end] media-time
// window of [pto, pto + period_duration] when the representation is an
// unindexed single segment (no sidx, no SegmentTemplate/SegmentTimeline).
func (s *Source) demuxParams(period *manifest.PeriodHolder, rep *manifest.RepresentationHolder) demux.FactoryParams {
	pto := rep.Representation.PresentationTimeOffsetUs
	params := demux.FactoryParams{SampleOffsetUs: period.StartMs*1000 - pto}
	if _, ok := rep.Index.(*manifest.SingleSegmentIndex); ok {
		params.TruncStartUs = pto
		params.TruncEndUs = pto + period.DurationUs
		params.HasTrunc = true
	}
	return params
}

// GetAdjustedSeek implements spec §4.3's seek-snapping rule.
func (s *Source) GetAdjustedSeek(targetUs int64) int64 {
	idx, ok := s.firstPeriodAtOrAfter(targetUs)
	if !ok {
		return targetUs
	}
	period := s.periodAt(idx)
	if period == nil || len(period.Reps) == 0 {
		return targetUs
	}
	rep := period.Reps[0]
	if !rep.HasIndex() {
		return targetUs
	}

	segNum := rep.SegmentNum(targetUs)
	segStart := rep.TimeUs(segNum)
	nextStart := rep.TimeUs(segNum + 1)

	last := rep.LastSegmentNum()
	if last != manifest.Unbounded && segNum >= last {
		return segStart
	}

	if targetUs-segStart <= nextStart-targetUs {
		return segStart
	}
	return nextStart
}

// OnChunkLoadCompleted implements spec §4.3's init-chunk completion
// bookkeeping.
func (s *Source) OnChunkLoadCompleted(period *manifest.PeriodHolder, rep *manifest.RepresentationHolder, init *loader.InitializationChunk) {
	if init.SeekMap != nil && !rep.HasIndex() {
		rep.SetIndex(init.SeekMap)
	}
	if init.DrmInitData != nil && period.DrmInitData == nil {
		period.DrmInitData = init.DrmInitData
	}
}

// OnChunkLoadError latches a fatal error for this source.
func (s *Source) OnChunkLoadError(err error) { s.fatalErr = err }

// ContinueBuffering is a pass-through hook kept for symmetry with spec
// §4.3's contract; the actual buffer-budget decision lives in
// samplesource, which calls GetChunkOperation directly.
func (s *Source) ContinueBuffering(int64) bool { return s.fatalErr == nil }

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
