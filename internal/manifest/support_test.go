package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangedUri_ResolvedURIPrefersReference(t *testing.T) {
	r := RangedUri{BaseURI: "base.mp4", ReferenceURI: "seg.m4s"}
	assert.Equal(t, "seg.m4s", r.ResolvedURI())

	r2 := RangedUri{BaseURI: "base.mp4"}
	assert.Equal(t, "base.mp4", r2.ResolvedURI())
}

func TestRangedUri_AttemptMergeContiguous(t *testing.T) {
	a := RangedUri{ReferenceURI: "seg.m4s", Start: 0, Length: 100}
	b := RangedUri{ReferenceURI: "seg.m4s", Start: 100, Length: 50}

	merged, ok := a.AttemptMerge(b)
	require.True(t, ok)
	assert.Equal(t, int64(0), merged.Start)
	assert.Equal(t, int64(150), merged.Length)
}

func TestRangedUri_AttemptMergeRejectsGapOrDifferentURI(t *testing.T) {
	a := RangedUri{ReferenceURI: "seg.m4s", Start: 0, Length: 100}
	gap := RangedUri{ReferenceURI: "seg.m4s", Start: 150, Length: 50}
	_, ok := a.AttemptMerge(gap)
	assert.False(t, ok)

	other := RangedUri{ReferenceURI: "other.m4s", Start: 100, Length: 50}
	_, ok = a.AttemptMerge(other)
	assert.False(t, ok)
}

func TestRangedUri_AttemptMergeRejectsOpenEndedLength(t *testing.T) {
	a := RangedUri{ReferenceURI: "seg.m4s", Start: 0, Length: -1}
	b := RangedUri{ReferenceURI: "seg.m4s", Start: 100, Length: 50}
	_, ok := a.AttemptMerge(b)
	assert.False(t, ok)
}

func TestLangEquals_AliasesMatch(t *testing.T) {
	assert.True(t, langEquals("en", "eng"))
	assert.True(t, langEquals("FR", "fre"))
	assert.False(t, langEquals("en", "fr"))
	assert.False(t, langEquals("", "eng"))
}

func TestStaticTimeRange_FixedBounds(t *testing.T) {
	r := StaticTimeRange{StartUs: 0, EndUs: 60_000_000}
	start, end := r.CurrentBounds(12345)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(60_000_000), end)
}

func TestDynamicTimeRange_SlidesWithWallClock(t *testing.T) {
	r := DynamicTimeRange{MinStartUs: 0, MaxEndUs: 0, TAtZeroUs: 0, BufferDepthUs: 30_000_000}
	start, end := r.CurrentBounds(100_000_000)
	assert.Equal(t, int64(70_000_000), start)
	assert.Equal(t, int64(100_000_000), end)
}

func TestDynamicTimeRange_ClampsToMinStart(t *testing.T) {
	r := DynamicTimeRange{MinStartUs: 5_000_000, MaxEndUs: 0, TAtZeroUs: 0, BufferDepthUs: 30_000_000}
	start, _ := r.CurrentBounds(10_000_000)
	assert.Equal(t, int64(5_000_000), start)
}

func TestAggregateDrmInitData_SkipsEntriesWithoutUUIDOrPSSH(t *testing.T) {
	uuid := [16]byte{1, 2, 3}
	cps := []ContentProtection{
		{SchemeIDURI: "urn:mpeg:dash:mp4protection:2011"}, // no UUID, no PSSH
		{HasUUID: true, UUID: uuid, PSSH: []byte{0xde, 0xad}},
	}
	data := AggregateDrmInitData(cps)
	require.NotNil(t, data)

	ref, ok := data.SchemeData(uuid)
	require.True(t, ok)
	assert.Equal(t, []byte{0xde, 0xad}, ref.Data().Bytes)
}

func TestAggregateDrmInitData_NilWhenNothingQualifies(t *testing.T) {
	data := AggregateDrmInitData([]ContentProtection{{SchemeIDURI: "urn:x"}})
	assert.Nil(t, data)
}

func TestSchemeInitDataRef_RefUnrefTracksLastHolder(t *testing.T) {
	ref := NewSchemeInitDataRef([16]byte{9}, &SchemeInitData{Mime: "cenc", Bytes: []byte{1}})
	second := ref.Ref()

	assert.False(t, ref.Unref())
	assert.True(t, second.Unref())
}
