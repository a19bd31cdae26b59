// Package rawcc implements the RawCC closed-caption demuxer (spec §4.2):
// a TEXT representation's wire format batches short-duration EIA-608/708
// entries that this demuxer groups into dashplayer-sized samples, grounded
// on ndash's extractor/rawcc_parser_extractor.h (RawCCParserExtractor).
package rawcc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ericcug/dashcore/internal/demux"
	"github.com/ericcug/dashcore/internal/manifest"
)

const (
	// maxEntriesPerSample mirrors RawCCParserExtractor::kMaxEntriesPerSample:
	// RawCC entries run ~1-2ms each, so they are batched rather than handed
	// to the sample queue one at a time.
	maxEntriesPerSample = 120

	// entryWireSize is one batched entry's size in the output sample byte
	// stream: pts(4) + field/cc_type(1) + cc1(1) + cc2(1) + cc_valid(1).
	entryWireSize = 8

	// ptsClockHz is the 45kHz clock RawCC PTS values are expressed in.
	ptsClockHz = 45000
)

// Demuxer parses a RawCC byte stream for one TEXT representation.
//
// sampleOffsetUs translates an entry's media-time PTS onto the master
// timeline (period.start - representation.pto, spec §4.2). When hasTrunc
// is set (an unindexed single-segment representation), entries whose
// media-time PTS falls outside [truncStartUs, truncEndUs] are dropped
// before translation, per RawCCParserExtractor's trunc_start_pts/
// trunc_end_pts constructor args.
type Demuxer struct {
	mimeType       string
	sampleOffsetUs int64
	truncStartUs   int64
	truncEndUs     int64
	hasTrunc       bool
}

// New constructs a RawCC demuxer for a TEXT representation.
func New(mimeType string, sampleOffsetUs int64, truncStartUs, truncEndUs int64, hasTrunc bool) *Demuxer {
	return &Demuxer{
		mimeType:       mimeType,
		sampleOffsetUs: sampleOffsetUs,
		truncStartUs:   truncStartUs,
		truncEndUs:     truncEndUs,
		hasTrunc:       hasTrunc,
	}
}

// NewFromParams adapts demux.FactoryParams to New's constructor, matching
// demux.Factory's call shape.
func NewFromParams(mimeType string, params demux.FactoryParams) *Demuxer {
	return New(mimeType, params.SampleOffsetUs, params.TruncStartUs, params.TruncEndUs, params.HasTrunc)
}

// Reset clears no per-chunk state: a RawCC chunk is parsed start-to-finish
// in one Consume call, so there is nothing carried across chunks to clear.
func (d *Demuxer) Reset() {}

// Consume reads one RawCC chunk: a single version byte followed by
// repeated (pts, count, entries...) groups. Entries are batched into
// manifest.Sample values in the wire layout RawCCParserExtractor's header
// comment documents, up to maxEntriesPerSample per sample, using the
// batch's first accepted entry's translated PTS as the sample's TimeUs.
func (d *Demuxer) Consume(r io.Reader, sink demux.Sink) (int64, bool, error) {
	br := bufio.NewReader(r)

	if _, err := br.ReadByte(); err != nil {
		if err == io.EOF {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("rawcc: read version: %w", err)
	}

	sink.OnFormat(manifest.Format{MimeType: d.mimeType})

	var (
		batch       []byte
		batchCount  int
		batchTimeUs int64
		haveBatch   bool
	)

	flush := func() {
		if batchCount == 0 {
			return
		}
		sink.OnSample(manifest.Sample{
			TimeUs: batchTimeUs,
			Flags:  manifest.SampleSync,
			Bytes:  append([]byte(nil), batch...),
		})
		batch = batch[:0]
		batchCount = 0
		haveBatch = false
	}

	header := make([]byte, 5)
	entry := make([]byte, 4)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return 0, false, fmt.Errorf("rawcc: read pts/count header: %w", err)
		}
		pts45k := binary.BigEndian.Uint32(header[:4])
		count := int(header[4])
		ptsUs := int64(pts45k) * 1_000_000 / ptsClockHz

		for i := 0; i < count; i++ {
			if _, err := io.ReadFull(br, entry); err != nil {
				return 0, false, fmt.Errorf("rawcc: read entry: %w", err)
			}

			if d.hasTrunc && (ptsUs < d.truncStartUs || ptsUs > d.truncEndUs) {
				continue
			}

			if batchCount >= maxEntriesPerSample {
				flush()
			}
			if !haveBatch {
				batchTimeUs = ptsUs + d.sampleOffsetUs
				haveBatch = true
			}

			var rec [entryWireSize]byte
			binary.BigEndian.PutUint32(rec[:4], pts45k)
			copy(rec[4:], entry)
			batch = append(batch, rec[:]...)
			batchCount++
		}
	}
	flush()

	return 0, false, nil
}
