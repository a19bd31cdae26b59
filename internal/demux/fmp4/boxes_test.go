package fmp4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor(tag byte, payload []byte) []byte {
	return append([]byte{tag, byte(len(payload))}, payload...)
}

// buildEsdsBox assembles a minimal raw esds box around an AudioSpecificConfig
// payload: box header (size+type+version+flags) wrapping an ES_Descriptor
// that nests a DecoderConfigDescriptor and DecoderSpecificInfo, matching
// the ISO/IEC 14496-1 layout parseAudioObjectType walks.
func buildEsdsBox(asc []byte) []byte {
	decSpecificInfo := descriptor(0x05, asc)
	decConfigPayload := append([]byte{0x40, 0x15, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, decSpecificInfo...)
	decConfigDescr := descriptor(0x04, decConfigPayload)
	esDescrPayload := append([]byte{0x00, 0x01, 0x00}, decConfigDescr...)
	esDescr := descriptor(0x03, esDescrPayload)

	header := make([]byte, 12)
	copy(header[4:8], "esds")
	return append(header, esDescr...)
}

func TestParseAudioObjectType_AACLC(t *testing.T) {
	aot, ok := parseAudioObjectType(buildEsdsBox([]byte{0x12, 0x10}))
	require.True(t, ok)
	assert.Equal(t, 2, aot)
}

func TestParseAudioObjectType_HEAAC(t *testing.T) {
	aot, ok := parseAudioObjectType(buildEsdsBox([]byte{0x28, 0x00}))
	require.True(t, ok)
	assert.Equal(t, 5, aot)
	assert.False(t, allowedAudioObjectTypes[aot])
}

func TestParseAudioObjectType_ExtendedObjectType(t *testing.T) {
	aot, ok := parseAudioObjectType(buildEsdsBox([]byte{0xF8, 0xA0}))
	require.True(t, ok)
	assert.Equal(t, 37, aot)
}

func TestParseAudioObjectType_TooShortIsNotOK(t *testing.T) {
	_, ok := parseAudioObjectType([]byte{0, 0, 0, 0})
	assert.False(t, ok)
}

func TestReadDescriptor_SingleByteLength(t *testing.T) {
	tag, payload, ok := readDescriptor([]byte{0x04, 0x02, 0xAA, 0xBB})
	require.True(t, ok)
	assert.Equal(t, byte(0x04), tag)
	assert.Equal(t, []byte{0xAA, 0xBB}, payload)
}

func TestReadDescriptor_TruncatedPayloadIsNotOK(t *testing.T) {
	_, _, ok := readDescriptor([]byte{0x04, 0x05, 0xAA})
	assert.False(t, ok)
}
