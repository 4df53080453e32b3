package balancer

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// NoOpinion is returned instead of a coefficient of variation when no
	// core carries any load.
	NoOpinion = -1.0
	// Unbalanced stands in for the CV of a deployed assignment that cannot
	// be replayed, so that any real candidate wins.
	Unbalanced = 1e10
)

// CoefficientOfVariation is the population standard deviation of the
// per-core totals divided by their mean. It returns NoOpinion for an empty
// set or a zero mean.
func CoefficientOfVariation(coreLoads map[int]float64) float64 {
	if len(coreLoads) == 0 {
		return NoOpinion
	}
	cores := make([]int, 0, len(coreLoads))
	for c := range coreLoads {
		cores = append(cores, c)
	}
	sort.Ints(cores)
	totals := make([]float64, len(cores))
	for i, c := range cores {
		totals[i] = coreLoads[c]
	}

	mean, std := stat.PopMeanStdDev(totals, nil)
	if mean == 0 {
		return NoOpinion
	}
	return std / mean
}
