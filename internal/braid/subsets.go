package braid

import "fmt"

// SetOfSubsets returns every non-empty subset of items, in a fixed
// deterministic order: subsets are ordered by the bitmask of the member
// indices, and each subset preserves the input order of its members.
func SetOfSubsets(items []string) [][]string {
	n := len(items)
	if n == 0 {
		return nil
	}
	out := make([][]string, 0, (1<<n)-1)
	for mask := 1; mask < 1<<n; mask++ {
		var sub []string
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				sub = append(sub, items[i])
			}
		}
		out = append(out, sub)
	}
	return out
}

// SafeU8 converts v to uint8, panicking when it does not fit. Callers
// use it where a wider count must land in a uint8 wire or archive field
// and overflow would silently corrupt indices.
func SafeU8(v int) uint8 {
	if v < 0 || v > 255 {
		panic(fmt.Sprintf("value %d out of uint8 range", v))
	}
	return uint8(v)
}
