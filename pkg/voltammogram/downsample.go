package voltammogram

// Downsample reduces records to at most maxPoints using simple decimation.
// Destination-based: dst is reused when it has enough capacity, otherwise a
// new slice is allocated. The last record is always kept so the end of the
// sweep stays visible.
func Downsample(dst []Record, records []Record, maxPoints int) []Record {
	if maxPoints <= 0 || len(records) <= maxPoints {
		if cap(dst) >= len(records) {
			dst = dst[:len(records)]
			copy(dst, records)
			return dst
		}
		result := make([]Record, len(records))
		copy(result, records)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Record, 0, maxPoints)
	}

	var step float64
	if maxPoints > 1 {
		step = float64(len(records)-1) / float64(maxPoints-1)
	}
	for i := range maxPoints {
		idx := int(float64(i)*step + 0.5)
		if idx >= len(records) {
			idx = len(records) - 1
		}
		dst = append(dst, records[idx])
	}

	return dst
}
