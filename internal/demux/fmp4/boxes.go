package fmp4

import (
	"bytes"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/ericcug/dashcore/internal/manifest"
)

// allowedAudioObjectTypes restricts accepted AUDIO content to AAC-LC (ISO/
// IEC 14496-3 audioObjectType 2), rejecting HE-AAC/SBR (5), HE-AACv2/PS
// (29) and other extension profiles this pipeline does not decode.
var allowedAudioObjectTypes = map[int]bool{2: true}

// cencUUIDConst is the Common Encryption scheme UUID, matching the one
// manifest.ParseMPD assigns to every ContentProtection element.
var cencUUIDConst = [16]byte{0x10, 0x77, 0xef, 0xec, 0xc0, 0xb2, 0x4d, 0x02, 0xac, 0xe3, 0x3c, 0x1e, 0x52, 0xe2, 0xfb, 0x4b}

func stsdOf(trak *mp4.TrakBox) *mp4.StsdBox {
	if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return nil
	}
	return trak.Mdia.Minf.Stbl.Stsd
}

func codecNameOf(stsd *mp4.StsdBox) string {
	if len(stsd.Children) == 0 {
		return ""
	}
	switch sample := stsd.Children[0].(type) {
	case *mp4.VisualSampleEntryBox:
		return sample.Type()
	case *mp4.AudioSampleEntryBox:
		return sample.Type()
	default:
		return stsd.Children[0].Type()
	}
}

func visualSampleDims(stsd *mp4.StsdBox) (width, height int, ok bool) {
	if len(stsd.Children) == 0 {
		return 0, 0, false
	}
	v, isVisual := stsd.Children[0].(*mp4.VisualSampleEntryBox)
	if !isVisual {
		return 0, 0, false
	}
	return int(v.Width), int(v.Height), true
}

func audioSampleDims(stsd *mp4.StsdBox) (channels, sampleRate int, ok bool) {
	if len(stsd.Children) == 0 {
		return 0, 0, false
	}
	a, isAudio := stsd.Children[0].(*mp4.AudioSampleEntryBox)
	if !isAudio {
		return 0, 0, false
	}
	return int(a.ChannelCount), int(a.SampleRate >> 16), true
}

// extractCENC walks moov -> trak -> mdia -> minf -> stbl -> stsd -> sinf ->
// schi -> tenc for the default key id, and moov/pssh boxes for the raw
// CENC init data blob, per the box walk in
// mohaanymo-veld/internal/decryptor/decryptor.go.
func extractCENC(moov *mp4.MoovBox) (defaultKID []byte, pssh []byte, ok bool) {
	for _, p := range moov.Psshs {
		pssh = p.RawBox()
		break
	}

	for _, trak := range moov.Traks {
		stsd := stsdOf(trak)
		if stsd == nil || len(stsd.Children) == 0 {
			continue
		}
		sinf := findSinf(stsd.Children[0])
		if sinf == nil || sinf.Schi == nil || sinf.Schi.Tenc == nil {
			continue
		}
		defaultKID = append([]byte(nil), sinf.Schi.Tenc.DefaultKID[:]...)
		ok = true
		break
	}

	if !ok && len(pssh) == 0 {
		return nil, nil, false
	}
	return defaultKID, pssh, ok
}

func findSinf(entry mp4.Box) *mp4.SinfBox {
	container, isContainer := entry.(interface{ GetChildren() []mp4.Box })
	if !isContainer {
		return nil
	}
	for _, child := range container.GetChildren() {
		if sinf, isSinf := child.(*mp4.SinfBox); isSinf {
			return sinf
		}
	}
	return nil
}

// extractSenc returns, per-sample, the IV and subsample layout recorded in
// a traf's SencBox (sample encryption auxiliary info), grounded on veld's
// decryptSample IV/subsample handling.
func extractSenc(traf *mp4.TrafBox) (ivs [][]byte, subsamples [][]manifest.Subsample) {
	if traf.Senc == nil {
		return nil, nil
	}
	for _, s := range traf.Senc.SencSamples {
		ivs = append(ivs, append([]byte(nil), s.IV[:]...))
		var ss []manifest.Subsample
		for _, sp := range s.SubSamples {
			ss = append(ss, manifest.Subsample{
				ClearBytes:     int(sp.BytesOfClearData),
				EncryptedBytes: int(sp.BytesOfProtectedData),
			})
		}
		subsamples = append(subsamples, ss)
	}
	return ivs, subsamples
}

// isSyncSample reports whether a trun sample's flags mark it as a sync
// sample (no "sample_is_difference_sample" bit set).
func isSyncSample(s mp4.Sample) bool {
	const sampleIsNonSyncBit = 1 << 16
	return s.Flags&sampleIsNonSyncBit == 0
}

func findEsds(entry mp4.Box) *mp4.EsdsBox {
	container, isContainer := entry.(interface{ GetChildren() []mp4.Box })
	if !isContainer {
		return nil
	}
	for _, child := range container.GetChildren() {
		if esds, isEsds := child.(*mp4.EsdsBox); isEsds {
			return esds
		}
	}
	return nil
}

// audioObjectType reads the ISO/IEC 14496-3 audioObjectType out of an
// audio sample entry's esds box, re-encoding the box and walking its
// ES_Descriptor -> DecoderConfigDescriptor -> DecoderSpecificInfo chain by
// hand (ISO/IEC 14496-1 §7.2.6.1/§8.3.3) rather than depending on mp4ff's
// internal descriptor field layout.
func audioObjectType(entry mp4.Box) (int, bool) {
	esds := findEsds(entry)
	if esds == nil {
		return 0, false
	}
	var buf bytes.Buffer
	if err := esds.Encode(&buf); err != nil {
		return 0, false
	}
	return parseAudioObjectType(buf.Bytes())
}

func parseAudioObjectType(box []byte) (int, bool) {
	if len(box) < 12 {
		return 0, false
	}
	body := box[12:] // skip size(4) + type(4) + version(1) + flags(3)

	tag, esDescr, ok := readDescriptor(body)
	if !ok || tag != 0x03 || len(esDescr) < 3 { // ES_DescrTag
		return 0, false
	}

	flags := esDescr[2]
	pos := 3
	if flags&0x80 != 0 { // streamDependenceFlag
		pos += 2
	}
	if flags&0x40 != 0 { // URL_Flag
		if pos >= len(esDescr) {
			return 0, false
		}
		pos += 1 + int(esDescr[pos])
	}
	if flags&0x20 != 0 { // OCRstreamFlag
		pos += 2
	}
	if pos > len(esDescr) {
		return 0, false
	}

	tag, decConfig, ok := readDescriptor(esDescr[pos:])
	if !ok || tag != 0x04 || len(decConfig) < 13 { // DecoderConfigDescrTag
		return 0, false
	}

	tag, asc, ok := readDescriptor(decConfig[13:])
	if !ok || tag != 0x05 || len(asc) < 1 { // DecSpecificInfoTag
		return 0, false
	}

	aot := int(asc[0] >> 3)
	if aot == 31 {
		if len(asc) < 2 {
			return 0, false
		}
		aot = 32 + (int(asc[0]&0x07)<<3 | int(asc[1]>>5))
	}
	return aot, true
}

// readDescriptor parses one MPEG-4 descriptor's tag and variable-length
// size field (ISO/IEC 14496-1 §8.3.3: up to 4 size bytes, continuation bit
// in the high bit of each), returning its payload.
func readDescriptor(b []byte) (tag byte, payload []byte, ok bool) {
	if len(b) < 2 {
		return 0, nil, false
	}
	tag = b[0]
	i := 1
	length := 0
	for {
		if i >= len(b) || i-1 >= 4 {
			return 0, nil, false
		}
		c := b[i]
		i++
		length = length<<7 | int(c&0x7f)
		if c&0x80 == 0 {
			break
		}
	}
	if i+length > len(b) {
		return 0, nil, false
	}
	return tag, b[i : i+length], true
}
