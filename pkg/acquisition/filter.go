package acquisition

const (
	filterWeight = 0.16
	filterGain   = (filterWeight + 1) / 2 // 0.58
)

// differencer is a single-pole high-pass filter. It must be reset at every chunk
// boundary because consecutive chunks are not guaranteed to be contiguous in time.
type differencer struct {
	lastRaw      float64
	hasRaw       bool
	lastFiltered float64
}

func (d *differencer) reset() {
	*d = differencer{}
}

// next feeds one raw sample. The first sample after a reset only seeds the filter
// and reports ok == false.
func (d *differencer) next(raw float64) (filtered float64, ok bool) {
	if d.hasRaw {
		filtered = filterGain*(raw-d.lastRaw) + filterWeight*d.lastFiltered
		d.lastFiltered = filtered
		ok = true
	}
	d.lastRaw = raw
	d.hasRaw = true
	return filtered, ok
}
