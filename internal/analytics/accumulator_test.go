package analytics

import (
	"cmp"
	"math"
	"testing"
)

func TestAccumulator(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		wantMean float64
		wantStd  float64
	}{
		{"empty", nil, math.NaN(), math.NaN()},
		{"single", []float64{5}, 5, math.NaN()},
		{"pair", []float64{2, 4}, 3, math.Sqrt2},
		{"series", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 5, math.Sqrt(32.0 / 7.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc accumulator
			for _, v := range tt.values {
				acc.add(v)
			}
			if !sameFloat(acc.Mean(), tt.wantMean) {
				t.Errorf("Mean() = %v, want %v", acc.Mean(), tt.wantMean)
			}
			if !sameFloat(acc.StdDev(), tt.wantStd) {
				t.Errorf("StdDev() = %v, want %v", acc.StdDev(), tt.wantStd)
			}
		})
	}
}

func TestGrouperOrdersKeys(t *testing.T) {
	g := newGrouper[int]()
	for _, k := range []int{3, 1, 2, 1} {
		g.add(k, float64(k))
	}
	var got []int
	g.each(cmp.Compare[int], func(k int, acc *accumulator) {
		got = append(got, k)
		if k == 1 && acc.count != 2 {
			t.Errorf("key 1 count = %d, want 2", acc.count)
		}
	})
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("keys visited in order %v", got)
	}
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) < 1e-9
}
