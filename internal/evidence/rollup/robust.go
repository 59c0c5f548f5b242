package rollup

import (
	"math"
	"sort"
)

// meanADScale rescales mean absolute deviation so scores stay comparable
// to MAD-based modified z-scores (Iglewicz and Hoaglin).
const meanADScale = 1.253314

// madScale makes the median absolute deviation a consistent estimator of
// the standard deviation under normality.
const madScale = 0.6745

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// outlierScores returns the modified z-score of every value. When the MAD
// is zero the mean absolute deviation takes over; when both are zero all
// values equal the median and every score is zero.
func outlierScores(values []float64) []float64 {
	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)
	scores := make([]float64, len(values))
	if mad > 0 {
		for i, d := range deviations {
			scores[i] = madScale * d / mad
		}
		return scores
	}
	var meanAD float64
	for _, d := range deviations {
		meanAD += d
	}
	meanAD /= float64(len(deviations))
	if meanAD == 0 {
		return scores
	}
	for i, d := range deviations {
		scores[i] = d / (meanADScale * meanAD)
	}
	return scores
}

// weightedPoint is one (value, weight) contribution to an aggregate.
type weightedPoint struct {
	value  float64
	weight float64
}

// weightedMedian returns the smallest value whose cumulative weight reaches
// half the total weight. With equal weights this is the lower median; a
// heavily weighted contributor pulls the result onto its own value.
func weightedMedian(points []weightedPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	sorted := append([]weightedPoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })
	var total float64
	for _, p := range sorted {
		total += p.weight
	}
	half := total / 2
	var cum float64
	for _, p := range sorted {
		cum += p.weight
		if cum >= half {
			return p.value
		}
	}
	return sorted[len(sorted)-1].value
}
