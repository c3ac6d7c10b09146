package surrogate

import (
	"math"
	"sort"

	kmodel "github.com/kestrel-ai/kestrel/pkg/model"
)

// kdeModel is the density-ratio (TPE/BOHB style) surrogate: per rung, the top
// quantile of observations by metric forms a "good" kernel density estimate
// and the rest a "bad" one; the acquisition is the good/bad density ratio.
// Decisions use only the single highest rung with enough data to fit both
// densities; lower rungs are ignored for that decision.
type kdeModel struct {
	config kmodel.KDESearcherConfig

	good  *kde
	bad   *kde
	level int
}

func newKDEModel(config kmodel.KDESearcherConfig) *kdeModel {
	return &kdeModel{config: config}
}

func (m *kdeModel) Fit(d *Dataset) error {
	levels := d.Levels()
	have := 0
	for i := len(levels) - 1; i >= 0; i-- {
		rows := d.Observed(levels[i])
		if len(rows) > have {
			have = len(rows)
		}
		if len(rows) < m.config.MinSamples {
			continue
		}

		sorted := make([]Row, len(rows))
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Metric < sorted[b].Metric })

		nGood := int(m.config.TopQuantile * float64(len(sorted)))
		if nGood < 1 {
			nGood = 1
		}
		if len(sorted)-nGood < 1 {
			// Both densities need at least one sample each.
			continue
		}

		good, err := fitKDE(sorted[:nGood])
		if err != nil {
			return err
		}
		bad, err := fitKDE(sorted[nGood:])
		if err != nil {
			return err
		}
		m.good, m.bad, m.level = good, bad, levels[i]
		return nil
	}
	return InsufficientDataError{Needed: m.config.MinSamples, Have: have}
}

func (m *kdeModel) Acquisition(x []float64) float64 {
	if m.good == nil || m.bad == nil {
		return 0
	}
	const eps = 1e-32
	return m.good.density(x) / (m.bad.density(x) + eps)
}

// kde is a product-kernel Gaussian density estimate over the unit hypercube.
type kde struct {
	points     [][]float64
	bandwidths []float64
}

// fitKDE selects per-dimension bandwidths by Scott's rule with a floor that
// keeps degenerate dimensions (all samples equal) integrable.
func fitKDE(rows []Row) (*kde, error) {
	if len(rows) == 0 {
		return nil, ModelFitError{Reason: "empty sample for density estimate"}
	}
	dim := len(rows[0].X)
	points := make([][]float64, len(rows))
	for i, r := range rows {
		if len(r.X) != dim {
			return nil, ModelFitError{Reason: "inconsistent encoding width"}
		}
		points[i] = r.X
	}

	n := float64(len(points))
	factor := math.Pow(n, -1.0/float64(dim+4))
	bandwidths := make([]float64, dim)
	for j := 0; j < dim; j++ {
		var mean, sq float64
		for _, p := range points {
			mean += p[j]
		}
		mean /= n
		for _, p := range points {
			diff := p[j] - mean
			sq += diff * diff
		}
		sigma := math.Sqrt(sq / n)
		bw := sigma * factor
		if bw < 1e-3 {
			bw = 1e-3
		}
		bandwidths[j] = bw
	}
	return &kde{points: points, bandwidths: bandwidths}, nil
}

func (k *kde) density(x []float64) float64 {
	var total float64
	for _, p := range k.points {
		logK := 0.0
		for j := range x {
			z := (x[j] - p[j]) / k.bandwidths[j]
			logK += -0.5*z*z - math.Log(k.bandwidths[j]*math.Sqrt(2*math.Pi))
		}
		total += math.Exp(logK)
	}
	return total / float64(len(k.points))
}
