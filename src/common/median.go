package common

import (
	"sort"
	"time"
)

// Median returns the median of a set of durations, or 0 for an empty set. For
// an even number of samples it averages the two middle values.
func Median(input []time.Duration) time.Duration {
	s := make([]time.Duration, len(input))
	copy(s, input)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })

	l := len(s)
	switch {
	case l == 0:
		return 0
	case l%2 == 0:
		mid := l/2 - 1
		return (s[mid] + s[mid+1]) / 2
	default:
		return s[l/2]
	}
}
