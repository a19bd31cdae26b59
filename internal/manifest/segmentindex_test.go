package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateIndex_FixedDurationArithmetic(t *testing.T) {
	idx := NewTemplateIndex(&SegmentTemplateRule{
		Media:       "$RepresentationID$/$Number$.m4s",
		StartNumber: 1,
		Duration:    4,
		Timescale:   1,
	}, "v0", 20_000_000)

	assert.Equal(t, int64(1), idx.FirstSegmentNum())
	assert.Equal(t, int64(5), idx.LastSegmentNum(20_000_000))
	assert.Equal(t, int64(0), idx.TimeUs(1))
	assert.Equal(t, int64(4_000_000), idx.TimeUs(2))
	assert.Equal(t, int64(3), idx.SegmentNum(8_500_000, 20_000_000))
	assert.False(t, idx.IsExplicit())
	assert.Equal(t, "v0/3.m4s", idx.SegmentURL(3).ReferenceURI)
}

func TestTemplateIndex_UnboundedWithoutPeriodDuration(t *testing.T) {
	idx := NewTemplateIndex(&SegmentTemplateRule{StartNumber: 1, Duration: 4, Timescale: 1}, "v0", -1)
	assert.Equal(t, Unbounded, idx.LastSegmentNum(-1))
}

func TestTemplateIndex_LastSegmentShorterThanNominal(t *testing.T) {
	idx := NewTemplateIndex(&SegmentTemplateRule{StartNumber: 1, Duration: 4, Timescale: 1}, "v0", 18_000_000)
	last := idx.LastSegmentNum(18_000_000)
	require.Equal(t, int64(5), last)
	assert.Equal(t, int64(2_000_000), idx.DurationUs(last, 18_000_000))
}

func TestExplicitIndex_FromTimeline(t *testing.T) {
	tl := &SegmentTimeline{Entries: []TimelineEntry{
		{T: 0, D: 4, R: 2}, // 3 segments: [0,4), [4,8), [8,12)
	}}
	idx := NewExplicitIndex(tl, 1, 1, 12_000_000, "$RepresentationID$/$Time$.m4s", "v0")

	assert.Equal(t, int64(1), idx.FirstSegmentNum())
	assert.Equal(t, int64(3), idx.LastSegmentNum(12_000_000))
	assert.Equal(t, int64(4_000_000), idx.TimeUs(2))
	assert.Equal(t, int64(2), idx.SegmentNum(5_000_000, 12_000_000))
	assert.True(t, idx.IsExplicit())
	assert.Equal(t, "v0/4000000.m4s", idx.SegmentURL(2).ReferenceURI)
}

func TestExplicitIndex_SegmentNumClampsAtEdges(t *testing.T) {
	tl := &SegmentTimeline{Entries: []TimelineEntry{{T: 0, D: 4, R: 1}}}
	idx := NewExplicitIndex(tl, 1, 1, 8_000_000, "", "v0")

	assert.Equal(t, int64(1), idx.SegmentNum(-1_000_000, 8_000_000))
	assert.Equal(t, int64(2), idx.SegmentNum(100_000_000, 8_000_000))
}

func TestSingleSegmentIndex_AlwaysSegmentZero(t *testing.T) {
	uri := RangedUri{ReferenceURI: "full.mp4", Start: 0, Length: -1}
	idx := &SingleSegmentIndex{URI: uri, DurationUs: 30_000_000}

	assert.Equal(t, int64(0), idx.FirstSegmentNum())
	assert.Equal(t, int64(0), idx.LastSegmentNum(0))
	assert.Equal(t, int64(30_000_000), idx.DurationUs(0, 0))
	assert.Equal(t, uri, idx.SegmentURL(0))
	assert.True(t, idx.IsExplicit())
}

func TestChunkIndex_ByteOffsetForTime(t *testing.T) {
	idx := NewChunkIndex(
		[]int64{100, 200, 150},
		[]int64{0, 100, 300},
		[]int64{4_000_000, 4_000_000, 4_000_000},
		[]int64{0, 4_000_000, 8_000_000},
		1, "$Time$.m4s", "v0",
	)

	off, ok := idx.ByteOffsetForTime(5_000_000)
	require.True(t, ok)
	assert.Equal(t, int64(100), off)

	off, ok = idx.ByteOffsetForTime(0)
	require.True(t, ok)
	assert.Equal(t, int64(0), off)
}
