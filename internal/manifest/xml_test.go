package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMPD = `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT20S">
  <Period id="p0" start="PT0S">
    <AdaptationSet mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" default_KID="00000000-0000-0000-0000-000000000000">
        <cenc:pssh xmlns:cenc="urn:mpeg:cenc:2013">ZGF0YQ==</cenc:pssh>
      </ContentProtection>
      <Representation id="v0" bandwidth="1000000" codecs="avc1.64001f" width="1920" height="1080" frameRate="30000/1001">
        <SegmentTemplate media="$RepresentationID$/$Number$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="1" duration="4" timescale="1"/>
      </Representation>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4" lang="en">
      <Representation id="a0" bandwidth="128000" codecs="mp4a.40.2" audioSamplingRate="48000">
        <SegmentTemplate media="$RepresentationID$/$Number$.m4s" startNumber="1" duration="4" timescale="1"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseMPD_BasicStaticManifest(t *testing.T) {
	m, err := ParseMPD([]byte(sampleMPD), "http://example.com/manifest.mpd")
	require.NoError(t, err)

	assert.False(t, m.Dynamic)
	assert.Equal(t, int64(20_000), m.DurationMs)
	require.Len(t, m.Periods, 1)

	period := m.Periods[0]
	require.Len(t, period.AdaptationSets, 2)

	videoSet := period.AdaptationSets[0]
	assert.Equal(t, TrackVideo, videoSet.Type)
	require.Len(t, videoSet.Representations, 1)
	assert.Equal(t, "v0", videoSet.Representations[0].Format.ID)
	assert.Equal(t, 1920, videoSet.Representations[0].Format.Width)
	assert.InDelta(t, 29.97, videoSet.Representations[0].Format.FrameRate, 0.01)

	require.Len(t, videoSet.ContentProtections, 1)
	assert.Equal(t, []byte("data"), videoSet.ContentProtections[0].PSSH)
	assert.True(t, videoSet.ContentProtections[0].HasUUID)

	audioSet := period.AdaptationSets[1]
	assert.Equal(t, TrackAudio, audioSet.Type)
	assert.Equal(t, "en", audioSet.Representations[0].Format.Language)
	assert.Equal(t, 48000, audioSet.Representations[0].Format.SampleRate)
}

func TestParseMPD_DynamicManifestHasNoDuration(t *testing.T) {
	doc := `<MPD type="dynamic"><Period id="p0" start="PT0S"></Period></MPD>`
	m, err := ParseMPD([]byte(doc), "http://example.com/live.mpd")
	require.NoError(t, err)
	assert.True(t, m.Dynamic)
	assert.Equal(t, int64(-1), m.DurationMs)
}

func TestParseISODurationMs_VariousForms(t *testing.T) {
	assert.Equal(t, int64(20_000), parseISODurationMs("PT20S"))
	assert.Equal(t, int64(90_000), parseISODurationMs("PT1M30S"))
	assert.Equal(t, int64(3_661_000), parseISODurationMs("PT1H1M1S"))
	assert.Equal(t, int64(-1), parseISODurationMs(""))
}

func TestPeriodDurationMs_LastPeriodDerivedFromManifestDuration(t *testing.T) {
	m, err := ParseMPD([]byte(sampleMPD), "http://example.com/manifest.mpd")
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), m.PeriodDurationMs(0))
}
