package analytics

import (
	"math"
	"slices"
)

// accumulator keeps a running count, mean and sum of squared deviations
// (Welford's method) for one group.
type accumulator struct {
	count int
	mean  float64
	m2    float64
}

func (a *accumulator) add(x float64) {
	a.count++
	delta := x - a.mean
	a.mean += delta / float64(a.count)
	delta2 := x - a.mean
	a.m2 += delta * delta2
}

// Mean returns the arithmetic mean, NaN for an empty group.
func (a *accumulator) Mean() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.mean
}

// StdDev returns the sample standard deviation (n-1 denominator).
// Fewer than two observations yield NaN.
func (a *accumulator) StdDev() float64 {
	if a.count < 2 {
		return math.NaN()
	}
	return math.Sqrt(a.m2 / float64(a.count-1))
}

// grouper maps a composite key to its accumulator.
type grouper[K comparable] struct {
	groups map[K]*accumulator
}

func newGrouper[K comparable]() *grouper[K] {
	return &grouper[K]{groups: make(map[K]*accumulator)}
}

func (g *grouper[K]) add(key K, x float64) {
	acc, ok := g.groups[key]
	if !ok {
		acc = &accumulator{}
		g.groups[key] = acc
	}
	acc.add(x)
}

func (g *grouper[K]) len() int { return len(g.groups) }

// each visits groups in ascending key order as defined by cmp.
func (g *grouper[K]) each(cmp func(a, b K) int, fn func(key K, acc *accumulator)) {
	keys := make([]K, 0, len(g.groups))
	for k := range g.groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, cmp)
	for _, k := range keys {
		fn(k, g.groups[k])
	}
}
