package manifest

import "sync/atomic"

// SchemeInitData is one DRM scheme's raw init data blob (a PSSH box, or the
// bytes a CDM expects for that scheme).
type SchemeInitData struct {
	Mime  string
	Bytes []byte
}

// SchemeInitDataRef is a ref-counted handle to a SchemeInitData, shared
// between the period that owns it and every sample drawn from that period,
// per spec §9's "reference-counted; same instance is referenced from the
// current period and from each sample" note. Ref/Unref let callers track
// when the last sample referencing an evicted period's init data has gone,
// without recopying the blob into each sample's metadata.
type SchemeInitDataRef struct {
	UUID [16]byte
	data *SchemeInitData
	refs *int32
}

// NewSchemeInitDataRef wraps data in a new ref-counted handle, held once.
func NewSchemeInitDataRef(uuid [16]byte, data *SchemeInitData) *SchemeInitDataRef {
	n := int32(1)
	return &SchemeInitDataRef{UUID: uuid, data: data, refs: &n}
}

// Data returns the underlying blob.
func (r *SchemeInitDataRef) Data() *SchemeInitData { return r.data }

// Ref increments the use count and returns a handle sharing the same
// underlying buffer.
func (r *SchemeInitDataRef) Ref() *SchemeInitDataRef {
	atomic.AddInt32(r.refs, 1)
	return &SchemeInitDataRef{UUID: r.UUID, data: r.data, refs: r.refs}
}

// Unref decrements the use count; returns true iff this was the last
// reference.
func (r *SchemeInitDataRef) Unref() bool {
	return atomic.AddInt32(r.refs, -1) == 0
}

// DrmInitData aggregates ContentProtection descriptors carrying a known
// UUID and scheme init data into a uuid -> SchemeInitDataRef map (spec's
// "MappedDrmInitData").
type DrmInitData struct {
	Mapped map[[16]byte]*SchemeInitDataRef
}

// AggregateDrmInitData builds a DrmInitData from a set of ContentProtection
// descriptors, skipping entries with no UUID or no PSSH payload.
func AggregateDrmInitData(cps []ContentProtection) *DrmInitData {
	out := &DrmInitData{Mapped: make(map[[16]byte]*SchemeInitDataRef)}
	for _, cp := range cps {
		if !cp.HasUUID || len(cp.PSSH) == 0 {
			continue
		}
		out.Mapped[cp.UUID] = NewSchemeInitDataRef(cp.UUID, &SchemeInitData{
			Mime:  "cenc",
			Bytes: cp.PSSH,
		})
	}
	if len(out.Mapped) == 0 {
		return nil
	}
	return out
}

// SchemeData returns the init data for uuid, if present.
func (d *DrmInitData) SchemeData(uuid [16]byte) (*SchemeInitDataRef, bool) {
	if d == nil {
		return nil, false
	}
	ref, ok := d.Mapped[uuid]
	return ref, ok
}
