package session

// Range is the half-open byte range [Start, End) owned by segment ID.
type Range struct {
	ID    int
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// Partition splits [0, size) into n contiguous ranges of size/n bytes each;
// the last range also takes the remainder. When size < n the leading ranges
// are empty.
func Partition(size int64, n int) []Range {
	if n < 1 {
		return nil
	}
	if size < 0 {
		size = 0
	}
	per := size / int64(n)
	ranges := make([]Range, n)
	for i := 0; i < n; i++ {
		start := int64(i) * per
		end := start + per
		if i == n-1 {
			end = size
		}
		ranges[i] = Range{ID: i, Start: start, End: end}
	}
	return ranges
}
