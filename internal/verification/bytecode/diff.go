package bytecode

// DiffPositions returns every offset at which a and b differ. Bytes past the end of the
// shorter input count as differing.
func DiffPositions(a, b []byte) []int {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	var out []int
	for i := 0; i < longest; i++ {
		if i >= len(a) || i >= len(b) || a[i] != b[i] {
			out = append(out, i)
		}
	}
	return out
}

// RunStarts collapses ascending positions into the first position of each run of
// adjacent positions.
func RunStarts(positions []int) []int {
	var out []int
	for i, p := range positions {
		if i == 0 || positions[i-1]+1 != p {
			out = append(out, p)
		}
	}
	return out
}

// DiffRange returns the first and last differing offsets between a and b. ok is false
// when the inputs are identical.
func DiffRange(a, b []byte) (start, end int, ok bool) {
	positions := DiffPositions(a, b)
	if len(positions) == 0 {
		return 0, 0, false
	}
	return positions[0], positions[len(positions)-1], true
}
