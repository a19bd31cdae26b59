package rawcc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericcug/dashcore/internal/demux"
	"github.com/ericcug/dashcore/internal/manifest"
)

type capturingSink struct {
	format  manifest.Format
	samples []manifest.Sample
}

func (s *capturingSink) OnFormat(f manifest.Format)          { s.format = f }
func (s *capturingSink) OnSample(smp manifest.Sample)        { s.samples = append(s.samples, smp) }
func (s *capturingSink) OnSeekMap(manifest.SegmentIndex)     {}
func (s *capturingSink) OnDrmInitData(*manifest.DrmInitData) {}

// group appends one (pts, count, entries...) header/entry group in the
// wire format Consume expects.
func group(buf *bytes.Buffer, pts45k uint32, entries ...[4]byte) {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], pts45k)
	header[4] = byte(len(entries))
	buf.Write(header)
	for _, e := range entries {
		buf.Write(e[:])
	}
}

func TestConsume_BatchesEntriesIntoOneSample(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(1) // version
	group(&body, 45000, [4]byte{0, 1, 2, 3}, [4]byte{1, 4, 5, 6})

	d := New("application/x-rawcc", 0, 0, 0, false)
	sink := &capturingSink{}
	_, hasSeek, err := d.Consume(&body, sink)
	require.NoError(t, err)
	assert.False(t, hasSeek)
	assert.Equal(t, "application/x-rawcc", sink.format.MimeType)

	require.Len(t, sink.samples, 1)
	smp := sink.samples[0]
	assert.Equal(t, int64(1_000_000), smp.TimeUs) // 45000/45000*1e6
	require.Len(t, smp.Bytes, 16)                  // two 8-byte entries
}

func TestConsume_TranslatesPTSBySampleOffset(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(1)
	group(&body, 45000, [4]byte{0, 1, 2, 3})

	d := New("application/x-rawcc", 500_000, 0, 0, false)
	sink := &capturingSink{}
	_, _, err := d.Consume(&body, sink)
	require.NoError(t, err)

	require.Len(t, sink.samples, 1)
	assert.Equal(t, int64(1_500_000), sink.samples[0].TimeUs)
}

func TestConsume_DropsEntriesOutsideTruncWindow(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(1)
	group(&body, 0, [4]byte{0, 1, 2, 3})            // before window
	group(&body, 45000, [4]byte{0, 4, 5, 6})        // inside window (1s)
	group(&body, 9_000_000, [4]byte{0, 7, 8, 9})    // after window (200s)

	d := New("application/x-rawcc", 0, 500_000, 5_000_000, true)
	sink := &capturingSink{}
	_, _, err := d.Consume(&body, sink)
	require.NoError(t, err)

	require.Len(t, sink.samples, 1)
	assert.Equal(t, int64(1_000_000), sink.samples[0].TimeUs)
}

func TestConsume_FlushesOnMaxEntriesPerSample(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(1)
	entries := make([][4]byte, maxEntriesPerSample+1)
	for i := range entries {
		entries[i] = [4]byte{0, byte(i), 0, 0}
	}
	group(&body, 0, entries...)

	d := New("application/x-rawcc", 0, 0, 0, false)
	sink := &capturingSink{}
	_, _, err := d.Consume(&body, sink)
	require.NoError(t, err)

	require.Len(t, sink.samples, 2)
	assert.Len(t, sink.samples[0].Bytes, maxEntriesPerSample*entryWireSize)
	assert.Len(t, sink.samples[1].Bytes, entryWireSize)
}

func TestConsume_EmptyChunkProducesNoSamples(t *testing.T) {
	var body bytes.Buffer
	body.WriteByte(1)

	d := New("application/x-rawcc", 0, 0, 0, false)
	sink := &capturingSink{}
	_, _, err := d.Consume(&body, sink)
	require.NoError(t, err)
	assert.Empty(t, sink.samples)
}

func TestNewFromParams_AdaptsFactoryParams(t *testing.T) {
	d := NewFromParams("application/x-rawcc", demux.FactoryParams{
		SampleOffsetUs: 10,
		TruncStartUs:   20,
		TruncEndUs:     30,
		HasTrunc:       true,
	})
	assert.Equal(t, int64(10), d.sampleOffsetUs)
	assert.Equal(t, int64(20), d.truncStartUs)
	assert.Equal(t, int64(30), d.truncEndUs)
	assert.True(t, d.hasTrunc)
}
