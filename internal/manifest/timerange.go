package manifest

// TimeRange is the closed sum type over a static (VOD) or dynamic (live)
// available-time window, modeled as a small interface per spec §9.
type TimeRange interface {
	CurrentBounds(nowUs int64) (startUs, endUs int64)
}

// StaticTimeRange is a fixed [start, end) window, used for VOD content.
type StaticTimeRange struct {
	StartUs, EndUs int64
}

func (r StaticTimeRange) CurrentBounds(int64) (int64, int64) { return r.StartUs, r.EndUs }

// DynamicTimeRange computes a sliding live window on every call: the
// window never exceeds [minStart, maxEnd] and is buffer-depth wide,
// anchored to wall-clock "now".
type DynamicTimeRange struct {
	MinStartUs  int64
	MaxEndUs    int64
	TAtZeroUs   int64 // wall-clock time (us) corresponding to presentation time 0
	BufferDepthUs int64
}

// CurrentBounds computes (max(min_start, now-t_at_zero-buffer_depth),
// min(max_end, now-t_at_zero)), per spec §3; a MaxEndUs of 0 or less
// leaves the end unclamped, and an end below the start is raised to the
// start. Callers must ensure nowUs
// advances monotonically; this never reports an empty range when the
// computed end exceeds the computed start by construction of a live
// manifest with a positive buffer depth.
func (r DynamicTimeRange) CurrentBounds(nowUs int64) (int64, int64) {
	liveEdge := nowUs - r.TAtZeroUs
	start := liveEdge - r.BufferDepthUs
	if start < r.MinStartUs {
		start = r.MinStartUs
	}
	end := liveEdge
	if end > r.MaxEndUs && r.MaxEndUs > 0 {
		end = r.MaxEndUs
	}
	if end < start {
		end = start
	}
	return start, end
}
