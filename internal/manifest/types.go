// Package manifest implements the immutable MPD data model: manifest
// snapshot, period/adaptation-set/representation trees, segment indices,
// and the period/representation holders the driver keeps across refreshes.
package manifest

// TrackType enumerates the three media kinds carried by an AdaptationSet.
type TrackType int

const (
	TrackVideo TrackType = iota
	TrackAudio
	TrackText
)

func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "VIDEO"
	case TrackAudio:
		return "AUDIO"
	case TrackText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

// TrickPlayScheme is the supplemental-property scheme URI an AdaptationSet
// carries to mark itself as a trick-play (low frame rate) track.
const TrickPlayScheme = "http://dashif.org/guidelines/trickmode"

// DescriptorProperty models a SupplementalProperty/EssentialProperty
// element: a scheme URI plus its value attribute.
type DescriptorProperty struct {
	SchemeIDURI string
	Value       string
}

// ContentProtection carries one DRM scheme's init data as found in the MPD,
// prior to aggregation into DrmInitData.
type ContentProtection struct {
	SchemeIDURI string
	UUID        [16]byte
	HasUUID     bool
	PSSH        []byte // cenc:pssh, base64-decoded
}

// Format describes a representation's codec/bitrate/media attributes,
// independent of its segment index.
type Format struct {
	ID           string
	Bitrate      int
	Codecs       string
	MimeType     string
	Width        int
	Height       int
	Channels     int
	SampleRate   int
	Language     string
	FrameRate    float64
}

// Manifest is the immutable, reference-counted snapshot of one parsed MPD.
// A refresh produces a brand-new *Manifest; nothing here is mutated after
// Parse returns.
type Manifest struct {
	AvailabilityStartTimeMs int64
	DurationMs              int64 // -1 from ParseMPD when the duration is unknown
	MinBufferTimeMs         int64
	Dynamic                 bool
	MinUpdatePeriodMs       int64
	TimeShiftBufferDepthMs  int64
	Location                string // next manifest URI, if present

	Periods []Period
}

// PeriodDurationMs returns the derived duration of the period at idx:
// next.start - this.start, or manifest.duration - this.start for the last
// period.
func (m *Manifest) PeriodDurationMs(idx int) int64 {
	p := m.Periods[idx]
	if idx+1 < len(m.Periods) {
		return m.Periods[idx+1].StartMs - p.StartMs
	}
	if m.DurationMs > 0 {
		return m.DurationMs - p.StartMs
	}
	return -1 // unbounded (dynamic, still growing)
}

// Period is a contiguous time range within the presentation.
type Period struct {
	ID              string
	StartMs         int64
	AdaptationSets  []AdaptationSet
	InheritedBase   *SegmentBase // nil if none inherited
}

// AdaptationSet is a set of interchangeable representations.
type AdaptationSet struct {
	ID                     string
	Type                   TrackType
	Representations        []Representation
	ContentProtections     []ContentProtection
	SegmentBase            *SegmentBase
	SupplementalProperties []DescriptorProperty
	EssentialProperties    []DescriptorProperty
}

// IsTrickPlay reports whether this set carries the trick-play supplemental
// property.
func (a *AdaptationSet) IsTrickPlay() bool {
	for _, p := range a.SupplementalProperties {
		if p.SchemeIDURI == TrickPlayScheme {
			return true
		}
	}
	return false
}

// SegmentBase carries the raw MPD-level segment description: either an
// explicit SegmentTimeline, a SegmentTemplate rule, or a single-segment
// byte range. Exactly one of Timeline/Template/SingleSegment should be set;
// which is a closed choice enforced by the parser, not this struct.
type SegmentBase struct {
	Timeline       *SegmentTimeline
	Template       *SegmentTemplateRule
	SingleSegment  *RangedUri

	InitializationURI *RangedUri
	IndexURI          *RangedUri
	Timescale         int64 // default 1 (i.e. already in the manifest's native units)
}

// SegmentTimeline is an explicit list of <S> entries as parsed from the MPD.
type SegmentTimeline struct {
	Entries []TimelineEntry
}

// TimelineEntry mirrors one <S t= d= r=> element: start time, duration,
// and repeat count (r=0 means "once", r=-1 means "repeat until next entry
// or period end").
type TimelineEntry struct {
	T int64
	D int64
	R int64
}

// SegmentTemplateRule is the URL-template + (timeline or fixed-duration)
// rule a SegmentTemplate-based representation is built from.
type SegmentTemplateRule struct {
	Media           string // e.g. "$RepresentationID$/$Number$.m4s" or "...$Time$..."
	InitializationTemplate string
	StartNumber     int64
	Duration        int64 // fixed segment duration, native units; 0 if Timeline is used instead
	Timeline        *SegmentTimeline
	Timescale       int64
}

// Representation is a single encoding of the content.
type Representation struct {
	Format                  Format
	SegmentBase             *SegmentBase // nil means "inherit from AdaptationSet/Period"
	PresentationTimeOffsetUs int64

	ContentID  string
	RevisionID string
}

// CacheKey derives the data-source cache address for this representation.
func (r *Representation) CacheKey() string {
	return r.ContentID + "." + r.Format.ID + "." + r.RevisionID
}
