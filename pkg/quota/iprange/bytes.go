package iprange

// Byte-wise operators over equal-length big-endian addresses.

func and(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] & b[i]
	}
	return out
}

func or(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] | b[i]
	}
	return out
}

func not(a []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = ^a[i]
	}
	return out
}

// compare returns -1, 0 or 1 treating a and b as unsigned integers.
func compare(a, b []byte) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

func greaterOrEqual(a, b []byte) bool { return compare(a, b) >= 0 }

func lessOrEqual(a, b []byte) bool { return compare(a, b) <= 0 }

func clone(a []byte) []byte {
	out := make([]byte, len(a))
	copy(out, a)
	return out
}
