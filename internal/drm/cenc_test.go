package drm

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericcug/dashcore/internal/manifest"
)

var testKey = []byte("0123456789abcdef")

func encryptCTR(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	stream := cipher.NewCTR(block, paddedIV(iv))
	out := make([]byte, len(plain))
	stream.XORKeyStream(out, plain)
	return out
}

func TestDecryptSample_PassesThroughUnencryptedSample(t *testing.T) {
	sample := manifest.Sample{Bytes: []byte("plain")}
	out, err := DecryptSample(testKey, sample)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), out)
}

func TestDecryptSample_ErrorsOnMissingIV(t *testing.T) {
	sample := manifest.Sample{Flags: manifest.SampleEncrypted, Bytes: []byte("x")}
	_, err := DecryptSample(testKey, sample)
	assert.Error(t, err)
}

func TestDecryptSample_FullyEncryptedSampleRoundTrips(t *testing.T) {
	iv := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	plain := []byte("the quick brown fox")
	cipherBytes := encryptCTR(t, testKey, iv, plain)

	sample := manifest.Sample{
		Flags: manifest.SampleEncrypted,
		Bytes: cipherBytes,
		IV:    iv,
	}
	out, err := DecryptSample(testKey, sample)
	require.NoError(t, err)
	assert.Equal(t, plain, out)
}

func TestDecryptSample_SubsampleSplitDecryptsOnlyProtectedRuns(t *testing.T) {
	iv := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	clear1 := []byte("HEAD")
	protected1 := []byte("secretA!")
	clear2 := []byte("MID")
	protected2 := []byte("secretB!")

	// The CTR stream only advances for bytes actually passed through it, so
	// the two protected runs share one continuous keystream even though a
	// clear run separates them in the payload.
	encrypted := encryptCTR(t, testKey, iv, append(append([]byte{}, protected1...), protected2...))

	payload := append(append(append(append([]byte{}, clear1...), encrypted[:len(protected1)]...), clear2...), encrypted[len(protected1):]...)

	sample := manifest.Sample{
		Flags: manifest.SampleEncrypted,
		Bytes: payload,
		IV:    iv,
		Subsamples: []manifest.Subsample{
			{ClearBytes: len(clear1), EncryptedBytes: len(protected1)},
			{ClearBytes: len(clear2), EncryptedBytes: len(protected2)},
		},
	}

	out, err := DecryptSample(testKey, sample)
	require.NoError(t, err)
	expected := append(append(append(append([]byte{}, clear1...), protected1...), clear2...), protected2...)
	assert.Equal(t, expected, out)
}

func TestDecryptSample_SubsampleOverrunIsError(t *testing.T) {
	sample := manifest.Sample{
		Flags: manifest.SampleEncrypted,
		Bytes: []byte("short"),
		IV:    []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Subsamples: []manifest.Subsample{
			{ClearBytes: 100, EncryptedBytes: 0},
		},
	}
	_, err := DecryptSample(testKey, sample)
	assert.Error(t, err)
}

func TestPaddedIV_LeavesSixteenByteIVUnchanged(t *testing.T) {
	iv := make([]byte, 16)
	for i := range iv {
		iv[i] = byte(i)
	}
	assert.Equal(t, iv, paddedIV(iv))
}

func TestPaddedIV_RightPadsEightByteIV(t *testing.T) {
	iv := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	padded := paddedIV(iv)
	require.Len(t, padded, 16)
	assert.Equal(t, iv, padded[:8])
	assert.Equal(t, make([]byte, 8), padded[8:])
}
