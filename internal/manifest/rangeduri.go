package manifest

// RangedUri identifies a byte range of a resource, resolved against a base
// URI. Length -1 means "to end of resource".
type RangedUri struct {
	BaseURI      string
	ReferenceURI string
	Start        int64
	Length       int64 // -1 = to end of resource
}

// ResolvedURI returns the URI this range applies to: the reference URI if
// set, otherwise the base URI (mirroring the teacher's base-URL chaining in
// BuildSegmentURL).
func (r RangedUri) ResolvedURI() string {
	if r.ReferenceURI != "" {
		return r.ReferenceURI
	}
	return r.BaseURI
}

// AttemptMerge merges r with other into one contiguous range if they share
// the same resolved URI and other starts exactly where r ends. Two
// RangedUris with length -1 never merge, since "to end of resource" cannot
// be followed by anything.
func (r RangedUri) AttemptMerge(other RangedUri) (RangedUri, bool) {
	if r.ResolvedURI() != other.ResolvedURI() {
		return RangedUri{}, false
	}
	if r.Length < 0 || other.Length < 0 {
		return RangedUri{}, false
	}
	if r.Start+r.Length != other.Start {
		return RangedUri{}, false
	}
	merged := r
	merged.Length = r.Length + other.Length
	return merged, true
}
