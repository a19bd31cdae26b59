// Package fmp4 is the VIDEO/AUDIO SegmentDemuxer (spec §4.2; TEXT gets
// internal/demux/rawcc instead): a fragmented-MP4 reader built on
// github.com/Eyevinn/mp4ff, grounded on
// mohaanymo-veld's internal/decryptor/decryptor.go (mp4.DecodeFile +
// tenc/moof/mdat/senc box walking). Unlike veld's batch decryptor, this
// adapter does not decrypt — it tags each sample with its CENC key id, IV
// and subsample layout and leaves decryption to the host CDM, per the
// core's pull API (copy_frame hands key_id/iv/subsamples to the caller on
// the first fragment of an encrypted sample).
package fmp4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/ericcug/dashcore/internal/demux"
	"github.com/ericcug/dashcore/internal/manifest"
)

// Demuxer parses fMP4 initialization and media segments.
type Demuxer struct {
	trackType manifest.TrackType

	timescale   uint32
	defaultKID  []byte
	sampleOffsetUs int64
}

// New constructs an fMP4 demuxer for the given track type. mimeType and
// params are accepted to satisfy demux.Factory's signature; fMP4 parsing
// itself does not depend on the MIME type once the init segment has been
// read, and has no use for RawCC's timing params.
func New(trackType manifest.TrackType, _ string, _ demux.FactoryParams) demux.SegmentDemuxer {
	return &Demuxer{trackType: trackType}
}

// Reset clears parser state so the instance can be reused.
func (d *Demuxer) Reset() {
	d.timescale = 0
	d.defaultKID = nil
}

// Consume reads one chunk's bytes (an initialization segment or a media
// segment) and routes its contents to sink. fMP4 chunks are not streamed
// incrementally here (a chunk is a handful of boxes, not unbounded media),
// so the whole chunk is buffered and handed to mp4ff's decoder, matching
// veld's decryptor.go use of mp4.DecodeFile.
func (d *Demuxer) Consume(r io.Reader, sink demux.Sink) (int64, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, false, fmt.Errorf("fmp4: read chunk: %w", err)
	}

	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return 0, false, fmt.Errorf("fmp4: decode: %w", err)
	}

	if f.Moov != nil {
		if err := d.consumeInit(f, sink); err != nil {
			return 0, false, err
		}
	}

	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if err := d.consumeFragment(frag, sink); err != nil {
				return 0, false, err
			}
		}
	}

	return 0, false, nil
}

func (d *Demuxer) consumeInit(f *mp4.File, sink demux.Sink) error {
	moov := f.Moov
	if moov.Mvhd != nil {
		d.timescale = moov.Mvhd.Timescale
	}

	var format manifest.Format
	format.MimeType = mimeForTrackType(d.trackType)

	if len(moov.Traks) > 0 {
		trak := moov.Traks[0]
		if trak.Mdia != nil && trak.Mdia.Mdhd != nil {
			d.timescale = trak.Mdia.Mdhd.Timescale
		}
		if stsd := stsdOf(trak); stsd != nil {
			format.Codecs = codecNameOf(stsd)
			if d.trackType == manifest.TrackVideo {
				if w, h, ok := visualSampleDims(stsd); ok {
					format.Width, format.Height = w, h
				}
			}
			if d.trackType == manifest.TrackAudio {
				if ch, sr, ok := audioSampleDims(stsd); ok {
					format.Channels, format.SampleRate = ch, sr
				}
				if len(stsd.Children) > 0 {
					if aot, ok := audioObjectType(stsd.Children[0]); ok && !allowedAudioObjectTypes[aot] {
						return fmt.Errorf("fmp4: audio object type %d not in allow-list (AAC-LC only)", aot)
					}
				}
			}
		}
	}
	sink.OnFormat(format)

	if kid, pssh, ok := extractCENC(moov); ok {
		d.defaultKID = kid
		ref := manifest.NewSchemeInitDataRef(cencUUIDConst, &manifest.SchemeInitData{Mime: "cenc", Bytes: pssh})
		sink.OnDrmInitData(&manifest.DrmInitData{Mapped: map[[16]byte]*manifest.SchemeInitDataRef{cencUUIDConst: ref}})
	}

	return nil
}

func (d *Demuxer) consumeFragment(frag *mp4.Fragment, sink demux.Sink) error {
	if frag.Moof == nil || frag.Mdat == nil {
		return nil
	}
	timescale := d.timescale
	if timescale == 0 {
		timescale = 90000
	}

	baseTimeUs := int64(0)
	for _, traf := range frag.Moof.Trafs {
		if traf.Tfdt != nil {
			baseTimeUs = scaleToUs(int64(traf.Tfdt.BaseMediaDecodeTime()), int64(timescale))
		}

		ivs, subsampleSets := extractSenc(traf)

		mdatOffset := int64(0)
		mdatData := frag.Mdat.Data

		sampleTimeUs := baseTimeUs
		for i, trun := range traf.Truns {
			_ = i
			for si, s := range trun.Samples {
				durUs := scaleToUs(int64(s.Dur), int64(timescale))
				size := int(s.Size)
				if mdatOffset+int64(size) > int64(len(mdatData)) {
					return fmt.Errorf("fmp4: sample overruns mdat")
				}
				payload := mdatData[mdatOffset : mdatOffset+int64(size)]
				mdatOffset += int64(size)

				flags := manifest.SampleFlag(0)
				if !trun.HasSampleFlags() || isSyncSample(s) {
					flags |= manifest.SampleSync
				}

				sample := manifest.Sample{
					TimeUs:     sampleTimeUs,
					DurationUs: durUs,
					Flags:      flags,
					Bytes:      payload,
				}

				if si < len(ivs) {
					sample.Flags |= manifest.SampleEncrypted
					sample.KeyID = d.defaultKID
					sample.IV = ivs[si]
					if si < len(subsampleSets) {
						sample.Subsamples = subsampleSets[si]
					}
				}

				sink.OnSample(sample)
				sampleTimeUs += durUs
			}
		}
	}
	return nil
}

func scaleToUs(v, timescale int64) int64 {
	if timescale <= 0 {
		timescale = 1
	}
	return v * 1_000_000 / timescale
}

func mimeForTrackType(t manifest.TrackType) string {
	switch t {
	case manifest.TrackVideo:
		return "video/mp4"
	case manifest.TrackAudio:
		return "audio/mp4"
	default:
		return "application/mp4"
	}
}
