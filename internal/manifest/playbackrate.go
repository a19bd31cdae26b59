package manifest

// TrickRateTable is the fixed 11-entry rate table used for UI stepping,
// per spec §9's resolved open question: arbitrary rates are still accepted
// by SetPlaybackRate itself, but the *table lookup* used for stepping is
// closed to these values.
var TrickRateTable = [11]float64{-240, -120, -60, -15, -4, 1, 4, 15, 60, 120, 240}

// PlaybackRate wraps a signed playback speed.
type PlaybackRate float64

func (r PlaybackRate) IsForward() bool { return r > 0 }
func (r PlaybackRate) IsNormal() bool  { return r == 1 }
func (r PlaybackRate) IsTrick() bool   { return r != 1 && r != -1 }

// Index returns the position of r in TrickRateTable, or (0, false) if r is
// not one of the table's fixed values.
func (r PlaybackRate) Index() (int, bool) {
	for i, v := range TrickRateTable {
		if float64(r) == v {
			return i, true
		}
	}
	return 0, false
}
