package manifest

import (
	"strings"
)

// PeriodHolder owns the one AdaptationSet selected for a period (per
// spec §4.2's deterministic ranking) plus one RepresentationHolder per
// representation in that set. It survives manifest refreshes as long as
// its period still exists in the newest snapshot.
type PeriodHolder struct {
	LocalIndex        int
	ManifestPeriodIdx int
	PeriodID          string
	StartMs           int64
	DurationUs        int64

	Criteria TrackCriteria

	SelectedSet *AdaptationSet
	Reps        []*RepresentationHolder

	AvailableStartUs int64
	AvailableEndUs   int64
	IndexIsUnbounded bool
	IndexIsExplicit  bool

	DrmInitData *DrmInitData
}

// rank is the 4-component comparable tuple from spec §4.2; higher wins
// lexicographically left to right.
type rank struct {
	trick bool
	lang  bool
	chans bool
	chanN int
	codec bool
}

func less(a, b rank) bool {
	if a.trick != b.trick {
		return !a.trick && b.trick
	}
	if a.lang != b.lang {
		return !a.lang && b.lang
	}
	if a.chans != b.chans {
		return !a.chans && b.chans
	}
	if a.chanN != b.chanN {
		return a.chanN < b.chanN
	}
	if a.codec != b.codec {
		return !a.codec && b.codec
	}
	return false
}

func setMaxChannels(set *AdaptationSet) int {
	max := 0
	for _, r := range set.Representations {
		if r.Format.Channels > max {
			max = r.Format.Channels
		}
	}
	return max
}

func setHasCodec(set *AdaptationSet, codec string) bool {
	for _, r := range set.Representations {
		if strings.Contains(r.Format.Codecs, codec) {
			return true
		}
	}
	return false
}

func setLang(set *AdaptationSet) string {
	if len(set.Representations) == 0 {
		return ""
	}
	return set.Representations[0].Format.Language
}

func rankOf(set *AdaptationSet, c TrackCriteria) rank {
	r := rank{trick: set.IsTrickPlay() == c.PreferTrick, lang: true, chans: true, codec: true}
	if c.PreferredLang != "" {
		r.lang = langEquals(setLang(set), c.PreferredLang)
	}
	if c.PreferredChannels > 0 {
		n := setMaxChannels(set)
		r.chans = n >= c.PreferredChannels
		r.chanN = n
	}
	if c.PreferredCodec != "" {
		r.codec = setHasCodec(set, c.PreferredCodec)
	}
	return r
}

// selectAdaptationSet picks exactly one AdaptationSet from a period using
// the spec §4.2 deterministic rank, considering only sets whose first
// representation's mime type matches criteria.MimeGlob. Ties go to the
// first in document order.
func selectAdaptationSet(period *Period, c TrackCriteria) (*AdaptationSet, int) {
	var best *AdaptationSet
	var bestIdx = -1
	var bestRank rank
	for i := range period.AdaptationSets {
		set := &period.AdaptationSets[i]
		if len(set.Representations) == 0 {
			continue
		}
		if !mimeMatches(c.MimeGlob, set.Representations[0].Format.MimeType) {
			continue
		}
		r := rankOf(set, c)
		if best == nil || less(bestRank, r) {
			best = set
			bestIdx = i
			bestRank = r
		}
	}
	return best, bestIdx
}

// NewPeriodHolder selects the AdaptationSet for manifestPeriodIdx and
// builds one RepresentationHolder per representation within it.
func NewPeriodHolder(localIndex int, m *Manifest, manifestPeriodIdx int, criteria TrackCriteria) *PeriodHolder {
	period := &m.Periods[manifestPeriodIdx]
	periodDurationUs := durationMsToUs(m.PeriodDurationMs(manifestPeriodIdx))

	h := &PeriodHolder{
		LocalIndex:        localIndex,
		ManifestPeriodIdx: manifestPeriodIdx,
		PeriodID:          period.ID,
		StartMs:           period.StartMs,
		DurationUs:        periodDurationUs,
		Criteria:          criteria,
	}

	set, _ := selectAdaptationSet(period, criteria)
	h.SelectedSet = set
	if set == nil {
		return h
	}

	h.DrmInitData = AggregateDrmInitData(set.ContentProtections)

	h.Reps = make([]*RepresentationHolder, 0, len(set.Representations))
	for i := range set.Representations {
		rh := newRepresentationHolder(&set.Representations[i], set, period, periodDurationUs)
		h.Reps = append(h.Reps, rh)
	}

	h.recomputeAvailability(periodDurationUs)
	return h
}

func durationMsToUs(ms int64) int64 {
	if ms < 0 {
		return -1
	}
	return ms * 1000
}

func (h *PeriodHolder) recomputeAvailability(periodDurationUs int64) {
	h.IndexIsUnbounded = false
	h.IndexIsExplicit = true
	var start, end int64 = -1, -1
	for _, rh := range h.Reps {
		idx := rh.Index
		if idx == nil {
			continue
		}
		first := idx.FirstSegmentNum()
		last := idx.LastSegmentNum(periodDurationUs)
		if last == Unbounded {
			h.IndexIsUnbounded = true
		}
		if !idx.IsExplicit() {
			h.IndexIsExplicit = false
		}
		s := idx.TimeUs(first)
		if start == -1 || s < start {
			start = s
		}
		if last != Unbounded {
			e := idx.TimeUs(last) + idx.DurationUs(last, periodDurationUs)
			if e > end {
				end = e
			}
		}
	}
	h.AvailableStartUs = start
	h.AvailableEndUs = end
}

// UpdatePeriod re-selects the AdaptationSet against a new manifest/period
// index and pushes the new period duration + matching representation into
// each existing RepresentationHolder.
func (h *PeriodHolder) UpdatePeriod(m *Manifest, manifestPeriodIdx int, criteria TrackCriteria) error {
	period := &m.Periods[manifestPeriodIdx]
	periodDurationUs := durationMsToUs(m.PeriodDurationMs(manifestPeriodIdx))

	h.ManifestPeriodIdx = manifestPeriodIdx
	h.StartMs = period.StartMs
	h.DurationUs = periodDurationUs
	h.Criteria = criteria

	set, _ := selectAdaptationSet(period, criteria)
	h.SelectedSet = set
	if set == nil {
		h.Reps = nil
		return nil
	}
	h.DrmInitData = AggregateDrmInitData(set.ContentProtections)

	byID := make(map[string]*RepresentationHolder, len(h.Reps))
	for _, rh := range h.Reps {
		byID[rh.Representation.Format.ID] = rh
	}

	newReps := make([]*RepresentationHolder, 0, len(set.Representations))
	for i := range set.Representations {
		rep := &set.Representations[i]
		if existing, ok := byID[rep.Format.ID]; ok {
			if err := existing.UpdateRepresentation(periodDurationUs, rep, set, period); err != nil {
				return err
			}
			newReps = append(newReps, existing)
		} else {
			newReps = append(newReps, newRepresentationHolder(rep, set, period, periodDurationUs))
		}
	}
	h.Reps = newReps
	h.recomputeAvailability(periodDurationUs)
	return nil
}

// RepresentationByID finds a held representation by its format ID.
func (h *PeriodHolder) RepresentationByID(id string) *RepresentationHolder {
	for _, rh := range h.Reps {
		if rh.Representation.Format.ID == id {
			return rh
		}
	}
	return nil
}
