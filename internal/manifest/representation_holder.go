package manifest

import (
	"sort"

	"github.com/ericcug/dashcore/internal/dasherr"
)

// RepresentationHolder pairs a Representation with its derived SegmentIndex
// and tracks the segment-number shift accumulated across live-window
// refreshes (spec §4.2), so callers can keep addressing segments by a
// stable, monotonically-assigned number even as the underlying index
// slides.
type RepresentationHolder struct {
	Representation *Representation
	Index          SegmentIndex

	periodDurationUs int64
	shift            int64

	initURI  *RangedUri
	indexURI *RangedUri
}

func effectiveSegmentBase(rep *Representation, set *AdaptationSet, period *Period) *SegmentBase {
	if rep.SegmentBase != nil {
		return rep.SegmentBase
	}
	if set.SegmentBase != nil {
		return set.SegmentBase
	}
	return period.InheritedBase
}

func buildSegmentIndex(rep *Representation, base *SegmentBase, periodDurationUs int64) SegmentIndex {
	if base == nil {
		return nil
	}
	switch {
	case base.SingleSegment != nil:
		return &SingleSegmentIndex{URI: *base.SingleSegment, DurationUs: periodDurationUs}
	case base.Template != nil && base.Template.Timeline != nil:
		return NewExplicitIndex(base.Template.Timeline, base.Template.StartNumber, base.Template.Timescale, periodDurationUs, base.Template.Media, rep.Format.ID)
	case base.Template != nil:
		return NewTemplateIndex(base.Template, rep.Format.ID, periodDurationUs)
	case base.Timeline != nil:
		timescale := base.Timescale
		if timescale == 0 {
			timescale = 1
		}
		return NewExplicitIndex(base.Timeline, 1, timescale, periodDurationUs, "", rep.Format.ID)
	default:
		return nil
	}
}

func newRepresentationHolder(rep *Representation, set *AdaptationSet, period *Period, periodDurationUs int64) *RepresentationHolder {
	base := effectiveSegmentBase(rep, set, period)
	h := &RepresentationHolder{
		Representation:   rep,
		periodDurationUs: periodDurationUs,
		Index:            buildSegmentIndex(rep, base, periodDurationUs),
	}
	if base != nil {
		h.initURI = base.InitializationURI
		h.indexURI = base.IndexURI
	}
	return h
}

// HasIndex reports whether the segment index is already known (manifest
// carried one), as opposed to awaiting discovery from an initialization
// chunk's sidx.
func (h *RepresentationHolder) HasIndex() bool { return h.Index != nil }

// SetIndex installs a segment index discovered from an initialization
// chunk load (spec §4.3's on_chunk_load_completed), used only when the
// manifest itself provided none.
func (h *RepresentationHolder) SetIndex(idx SegmentIndex) { h.Index = idx }

// InitializationURI returns the resolved init-segment reference, if any.
func (h *RepresentationHolder) InitializationURI() (RangedUri, bool) {
	if h.initURI != nil {
		return *h.initURI, true
	}
	if ti, ok := h.Index.(*TemplateIndex); ok {
		return ti.InitializationURI()
	}
	return RangedUri{}, false
}

// IndexURI returns the resolved sidx/index reference, if the segment index
// must be fetched separately rather than derived from the manifest.
func (h *RepresentationHolder) IndexURI() (RangedUri, bool) {
	if h.indexURI != nil {
		return *h.indexURI, true
	}
	return RangedUri{}, false
}

func (h *RepresentationHolder) FirstSegmentNum() int64 {
	if h.Index == nil {
		return 0
	}
	return h.Index.FirstSegmentNum() + h.shift
}

func (h *RepresentationHolder) FirstAvailableSegmentNum() int64 { return h.FirstSegmentNum() }

func (h *RepresentationHolder) LastSegmentNum() int64 {
	if h.Index == nil {
		return Unbounded
	}
	last := h.Index.LastSegmentNum(h.periodDurationUs)
	if last == Unbounded {
		return Unbounded
	}
	return last + h.shift
}

func (h *RepresentationHolder) SegmentNum(timeUs int64) int64 {
	if h.Index == nil {
		return 0
	}
	return h.Index.SegmentNum(timeUs, h.periodDurationUs) + h.shift
}

func (h *RepresentationHolder) TimeUs(n int64) int64 {
	if h.Index == nil {
		return 0
	}
	return h.Index.TimeUs(n - h.shift)
}

func (h *RepresentationHolder) DurationUs(n int64) int64 {
	if h.Index == nil {
		return 0
	}
	return h.Index.DurationUs(n-h.shift, h.periodDurationUs)
}

func (h *RepresentationHolder) SegmentURL(n int64) RangedUri {
	return h.Index.SegmentURL(n - h.shift)
}

func (h *RepresentationHolder) IsIndexExplicit() bool {
	return h.Index != nil && h.Index.IsExplicit()
}

// UpdateRepresentation applies spec §4.2's segment-number-shift algorithm
// when the live window slides, then installs the new representation and
// duration.
func (h *RepresentationHolder) UpdateRepresentation(newDurationUs int64, newRep *Representation, set *AdaptationSet, period *Period) error {
	oldIndex := h.Index
	newBase := effectiveSegmentBase(newRep, set, period)
	newIndex := buildSegmentIndex(newRep, newBase, newDurationUs)

	if oldIndex != nil && oldIndex.IsExplicit() && newIndex != nil {
		oldLast := oldIndex.LastSegmentNum(h.periodDurationUs)
		newFirst := newIndex.FirstSegmentNum()
		if oldLast != Unbounded {
			oldEnd := oldIndex.TimeUs(oldLast) + oldIndex.DurationUs(oldLast, h.periodDurationUs)
			newStart := newIndex.TimeUs(newFirst)

			switch {
			case oldEnd == newStart:
				h.shift += oldLast - newFirst + 1
			case oldEnd < newStart:
				return &dasherr.BehindLiveWindowError{
					RepresentationID: newRep.Format.ID,
					OldEnd:           oldEnd,
					NewStart:         newStart,
				}
			default: // oldEnd > newStart: overlap
				h.shift += oldIndex.SegmentNum(newStart, h.periodDurationUs) - newFirst
			}
		}
	}

	h.Representation = newRep
	h.periodDurationUs = newDurationUs
	h.Index = newIndex
	if newBase != nil {
		h.initURI = newBase.InitializationURI
		h.indexURI = newBase.IndexURI
	}
	return nil
}

// MergeTimeline returns a new ExplicitIndex holding the entries of old and
// new, deduped by start time (new's entry wins) and sorted by time,
// grounded on the teacher's dash.MergeTimelines (dash/timeline.go). Neither
// argument is modified. UpdateRepresentation does not call it: a refresh
// replaces the index with one built from the new manifest and relies on
// the segment-number shift alone.
func MergeTimeline(old, new *ExplicitIndex) *ExplicitIndex {
	if old == nil {
		return new
	}
	if new == nil {
		return old
	}
	byTime := make(map[int64]indexEntry, len(old.entries)+len(new.entries))
	for _, e := range old.entries {
		byTime[e.timeUs] = e
	}
	for _, e := range new.entries {
		byTime[e.timeUs] = e
	}
	merged := make([]indexEntry, 0, len(byTime))
	for _, e := range byTime {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].timeUs < merged[j].timeUs })
	return &ExplicitIndex{entries: merged, mediaTpl: new.mediaTpl, repID: new.repID}
}
