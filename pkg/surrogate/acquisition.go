package surrogate

import "math"

// expectedImprovement scores a candidate under a minimization objective:
// the expected amount by which the prediction improves on the best observed
// metric, integrating over the posterior uncertainty. Zero variance reduces
// to the plain improvement.
func expectedImprovement(mean, variance, best float64) float64 {
	improvement := best - mean
	sigma := math.Sqrt(variance)
	if sigma == 0 {
		if improvement > 0 {
			return improvement
		}
		return 0
	}
	z := improvement / sigma
	return improvement*normalCDF(z) + sigma*normalPDF(z)
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

func normalPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
