package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericcug/dashcore/internal/manifest"
)

func staticManifest(periodDurationMs int64) *manifest.Manifest {
	rep := func(id, mime string) manifest.Representation {
		return manifest.Representation{
			Format: manifest.Format{ID: id, MimeType: mime, Bitrate: 500_000},
			SegmentBase: &manifest.SegmentBase{
				Template: &manifest.SegmentTemplateRule{
					Media: "$RepresentationID$/$Number$.m4s", StartNumber: 1, Duration: 4, Timescale: 1,
				},
			},
		}
	}
	return &manifest.Manifest{
		DurationMs: periodDurationMs,
		Periods: []manifest.Period{
			{
				ID: "p0",
				AdaptationSets: []manifest.AdaptationSet{
					{Type: manifest.TrackVideo, Representations: []manifest.Representation{rep("v0", "video/mp4")}},
					{Type: manifest.TrackAudio, Representations: []manifest.Representation{rep("a0", "audio/mp4")}},
				},
			},
		},
	}
}

func TestDriver_GetDurationReflectsDynamicFlag(t *testing.T) {
	d := New(Config{})

	d.mu.Lock()
	d.dynamic = false
	d.durationUs = 20_000_000
	d.mu.Unlock()
	assert.Equal(t, int64(20_000), d.GetDuration())

	d.mu.Lock()
	d.dynamic = true
	d.mu.Unlock()
	assert.Equal(t, int64(-1), d.GetDuration())
}

func TestDriver_GetFirstTimeReturnsStoredOffset(t *testing.T) {
	d := New(Config{})
	d.firstTimeUs = 5_000_000
	assert.Equal(t, int64(5000), d.GetFirstTime())
}

func TestDriver_SetBearerTokenWiresUnmeteredSourceWhenAllTracksMetered(t *testing.T) {
	d := New(Config{AllTracksMetered: true})
	assert.Same(t, d.ds, d.unmeteredDS)
	// With a single shared data source, SetBearerToken must not double-set
	// (the Driver guards this with a pointer-identity check).
	d.SetBearerToken("tok")
}

func TestDriver_SetBearerTokenLeavesUnmeteredSourceSeparateByDefault(t *testing.T) {
	d := New(Config{})
	assert.NotSame(t, d.ds, d.unmeteredDS)
	d.SetBearerToken("tok")
}

func TestDriver_DataSourceForRoutesVideoToMeteredSource(t *testing.T) {
	d := New(Config{})
	assert.Same(t, d.ds, d.dataSourceFor(TrackVideo))
	assert.Same(t, d.unmeteredDS, d.dataSourceFor(TrackAudio))
	assert.Same(t, d.unmeteredDS, d.dataSourceFor(TrackText))
}

func TestDriver_SeekRefusedOutsideReadyOrBuffering(t *testing.T) {
	d := New(Config{})
	err := d.Seek(1000)
	assert.Error(t, err)
}

func TestDriver_SeekRefusedDuringTrickPlay(t *testing.T) {
	d := New(Config{})
	d.mu.Lock()
	d.state = StateBuffering
	d.rate = 2
	d.mu.Unlock()

	err := d.Seek(1000)
	assert.Error(t, err)
}

func TestDriver_LoadRejectsNonIdleState(t *testing.T) {
	d := New(Config{})
	d.mu.Lock()
	d.state = StateBuffering
	d.mu.Unlock()

	err := d.Load(context.Background(), "http://example.com/manifest.mpd", 0)
	assert.Error(t, err)
}

func TestDriver_IsEOSLatchesOnlyAfterFatalPlaybackError(t *testing.T) {
	d := New(Config{})
	assert.False(t, d.IsEOS())

	d.ReportPlaybackError(assert.AnError, false)
	assert.False(t, d.IsEOS())

	d.ReportPlaybackError(assert.AnError, true)
	assert.True(t, d.IsEOS())
}

func TestDriver_WithinDriftBoundHonorsRateAndDirection(t *testing.T) {
	d := New(Config{})
	d.rate = 1
	d.decoderPosUs = 10_000_000

	assert.True(t, d.withinDriftBound(14_000_000))
	assert.False(t, d.withinDriftBound(16_000_000))

	d.rate = -1
	assert.True(t, d.withinDriftBound(6_000_000))
	assert.False(t, d.withinDriftBound(4_000_000))
}

func TestDriver_WithinDriftBoundScalesBoundByTrickRate(t *testing.T) {
	d := New(Config{})
	d.rate = 4
	d.decoderPosUs = 0

	assert.True(t, d.withinDriftBound(19_000_000))
	assert.False(t, d.withinDriftBound(21_000_000))
}

func TestDriver_IsEarlierRespectsPlaybackDirection(t *testing.T) {
	d := New(Config{})
	d.rate = 1
	assert.True(t, d.isEarlier(1, 2))
	assert.False(t, d.isEarlier(2, 1))

	d.rate = -1
	assert.True(t, d.isEarlier(2, 1))
	assert.False(t, d.isEarlier(1, 2))
}

func TestDriver_AnyTrackEnabledReflectsPipelineState(t *testing.T) {
	d := New(Config{})
	assert.False(t, d.anyTrackEnabled())

	d.tracks[TrackVideo] = &trackPipeline{enabled: false}
	assert.False(t, d.anyTrackEnabled())

	d.tracks[TrackVideo].enabled = true
	assert.True(t, d.anyTrackEnabled())
}

func TestTrack_StringAndMimeGlob(t *testing.T) {
	assert.Equal(t, "video", TrackVideo.String())
	assert.Equal(t, "audio", TrackAudio.String())
	assert.Equal(t, "text", TrackText.String())
	assert.Equal(t, "unknown", Track(99).String())

	assert.Equal(t, "video/*", TrackVideo.mimeGlob())
	assert.Equal(t, "audio/*", TrackAudio.mimeGlob())
	assert.Equal(t, "text/*", TrackText.mimeGlob())

	assert.Equal(t, manifest.TrackVideo, TrackVideo.toManifestType())
	assert.Equal(t, manifest.TrackAudio, TrackAudio.toManifestType())
	assert.Equal(t, manifest.TrackText, TrackText.toManifestType())
}

func TestBuildPeriods_SkipsPeriodsWithNoMatchingSet(t *testing.T) {
	m := staticManifest(20_000)
	m.Periods = append(m.Periods, manifest.Period{ID: "p1"})

	periods := buildPeriods(m, manifest.TrackCriteria{MimeGlob: "video/*"})
	require.Len(t, periods, 1)
	assert.Equal(t, "v0", periods[0].Reps[0].Representation.Format.ID)
}

func TestFirstRepPTO_ZeroWhenPeriodHasNoRepresentations(t *testing.T) {
	p := manifest.NewPeriodHolder(0, staticManifest(20_000), 0, manifest.TrackCriteria{MimeGlob: "text/*"})
	assert.Equal(t, int64(0), firstRepPTO(p))
}
