package common

import (
	"testing"
	"time"
)

func TestMedian(t *testing.T) {
	ms := time.Millisecond
	for _, c := range []struct {
		in  []time.Duration
		out time.Duration
	}{
		{[]time.Duration{5 * ms, 3 * ms, 4 * ms, 2 * ms, 1 * ms}, 3 * ms},
		{[]time.Duration{6 * ms, 3 * ms, 2 * ms, 4 * ms, 5 * ms, 1 * ms}, 3500 * time.Microsecond},
		{[]time.Duration{ms}, ms},
	} {
		got := Median(c.in)
		if got != c.out {
			t.Errorf("Median(%v) => %v != %v", c.in, got, c.out)
		}
	}
	if m := Median(nil); m != 0 {
		t.Errorf("Empty slice should have returned 0")
	}
}
