package drm

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/ericcug/dashcore/internal/manifest"
)

// DecryptSample performs CENC AES-CTR subsample decryption on one sample's
// payload, given the clear key and the sample's IV/subsample layout. This
// mirrors mohaanymo-veld's internal/decryptor.decryptSample, repurposed
// from "decrypt an entire downloaded segment file" to "decrypt one sample
// as the demuxer hands it to the sample queue" — the per-sample call site
// this streaming core needs, versus veld's batch post-download pass. It is
// provided as an optional software-decrypt path; the primary pull API
// forwards encrypted samples with their crypto metadata to the host CDM
// untouched, per spec §6's copy_frame contract.
func DecryptSample(key []byte, sample manifest.Sample) ([]byte, error) {
	if !sample.Flags.Has(manifest.SampleEncrypted) {
		return sample.Bytes, nil
	}
	if len(sample.IV) == 0 {
		return nil, fmt.Errorf("cenc: encrypted sample missing IV")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cenc: new cipher: %w", err)
	}

	iv := paddedIV(sample.IV)
	stream := cipher.NewCTR(block, iv)

	out := make([]byte, 0, len(sample.Bytes))
	pos := 0

	if len(sample.Subsamples) == 0 {
		// Fully-encrypted sample: no clear/protected split recorded.
		buf := make([]byte, len(sample.Bytes))
		stream.XORKeyStream(buf, sample.Bytes)
		return buf, nil
	}

	for _, ss := range sample.Subsamples {
		if pos+ss.ClearBytes > len(sample.Bytes) {
			return nil, fmt.Errorf("cenc: subsample clear run overruns sample")
		}
		out = append(out, sample.Bytes[pos:pos+ss.ClearBytes]...)
		pos += ss.ClearBytes

		if pos+ss.EncryptedBytes > len(sample.Bytes) {
			return nil, fmt.Errorf("cenc: subsample protected run overruns sample")
		}
		encrypted := sample.Bytes[pos : pos+ss.EncryptedBytes]
		decrypted := make([]byte, len(encrypted))
		stream.XORKeyStream(decrypted, encrypted)
		out = append(out, decrypted...)
		pos += ss.EncryptedBytes
	}

	return out, nil
}

// paddedIV right-pads an 8-byte IV to the 16-byte block size CTR mode
// requires, leaving the low 8 bytes as the counter, per the CENC spec's
// 8-byte IV convention.
func paddedIV(iv []byte) []byte {
	if len(iv) == 16 {
		return iv
	}
	padded := make([]byte, 16)
	copy(padded, iv)
	return padded
}
