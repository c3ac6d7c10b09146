package surrogate

import (
	"math"
	"testing"

	"gotest.tools/assert"

	kmodel "github.com/kestrel-ai/kestrel/pkg/model"
)

func gpConfig() kmodel.GPSearcherConfig {
	return kmodel.GPSearcherConfig{CandidatePool: 16}
}

func TestGPInsufficientData(t *testing.T) {
	m := newGPModel(gpConfig(), false)
	d := NewDataset()

	err := m.Fit(d)
	_, ok := err.(InsufficientDataError)
	assert.Assert(t, ok, "expected InsufficientDataError, got %v", err)

	ids := newTestIDs(1)
	d.Observe(ids[0], []float64{0.5}, 1, 0.5)
	err = m.Fit(d)
	_, ok = err.(InsufficientDataError)
	assert.Assert(t, ok)
}

func TestGPPredictsTrainingPoints(t *testing.T) {
	gp := newGaussianProcess(rbfKernel(0.2), 1e-6)
	xs := [][]float64{{0.1}, {0.5}, {0.9}}
	ys := []float64{1.0, 0.2, 0.8}
	assert.NilError(t, gp.fit(xs, ys))

	for i, x := range xs {
		mean, variance := gp.predict(x)
		assert.Assert(t, math.Abs(mean-ys[i]) < 1e-2,
			"mean %v too far from %v at %v", mean, ys[i], x)
		assert.Assert(t, variance < 1e-2)
	}

	// Away from the data the posterior is uncertain.
	_, variance := gp.predict([]float64{3.0})
	assert.Assert(t, variance > 0.5)
}

func TestGPAcquisitionPrefersLowMetricRegion(t *testing.T) {
	m := newGPModel(gpConfig(), false)
	d := NewDataset()
	ids := newTestIDs(8)
	for i, id := range ids {
		x := float64(i) / 7
		// Metric grows with x, so small x is the good region.
		d.Observe(id, []float64{x}, 1, x)
	}
	assert.NilError(t, m.Fit(d))

	good := m.Acquisition([]float64{0.05})
	bad := m.Acquisition([]float64{0.95})
	assert.Assert(t, good > bad, "acquisition %v at the good end should beat %v", good, bad)
}

func TestGPClampsFailureObservations(t *testing.T) {
	m := newGPModel(gpConfig(), false)
	d := NewDataset()
	ids := newTestIDs(9)
	for i := 0; i < 8; i++ {
		x := 0.1 + float64(i)*0.1
		d.Observe(ids[i], []float64{x}, 1, x)
	}
	// A failed trial lands in the dataset as the worst-value sentinel.
	d.Observe(ids[8], []float64{0.95}, 1, math.MaxFloat64)

	assert.NilError(t, m.Fit(d))

	for x := 0.0; x <= 1.0; x += 0.05 {
		acq := m.Acquisition([]float64{x})
		assert.Assert(t, !math.IsNaN(acq) && !math.IsInf(acq, 0),
			"acquisition at %v is %v", x, acq)
	}
	// The failed region still repels the model.
	good := m.Acquisition([]float64{0.05})
	bad := m.Acquisition([]float64{0.95})
	assert.Assert(t, good > bad, "acquisition %v near the failure should not beat %v", bad, good)
}

func TestGPIndependentUsesHighestRung(t *testing.T) {
	m := newGPModel(gpConfig(), false)
	d := NewDataset()
	ids := newTestIDs(6)
	for i := 0; i < 4; i++ {
		d.Observe(ids[i], []float64{float64(i) / 3}, 1, 0.5)
	}
	d.Observe(ids[4], []float64{0.2}, 9, 0.1)
	d.Observe(ids[5], []float64{0.8}, 9, 0.9)

	assert.NilError(t, m.Fit(d))
	assert.Equal(t, m.targetLevel, 9)
}

func TestGPFantasizesPending(t *testing.T) {
	m := newGPModel(gpConfig(), false)
	d := NewDataset()
	ids := newTestIDs(4)
	d.Observe(ids[0], []float64{0.1}, 1, 0.4)
	d.Observe(ids[1], []float64{0.9}, 1, 0.6)

	withoutPending := newGPModel(gpConfig(), false)
	assert.NilError(t, withoutPending.Fit(d))
	before := withoutPending.Acquisition([]float64{0.5})

	// A pending evaluation at 0.5 collapses the posterior variance there,
	// so its expected improvement drops.
	d.AddPending(ids[2], []float64{0.5}, 1)
	assert.NilError(t, m.Fit(d))
	after := m.Acquisition([]float64{0.5})

	assert.Assert(t, after < before,
		"pending point should lower acquisition: before %v, after %v", before, after)
}

func TestGPJointSharesAcrossRungs(t *testing.T) {
	m := newGPModel(gpConfig(), true)
	d := NewDataset()
	ids := newTestIDs(9)
	// Low-rung observations trace the objective; the top rung has a single
	// point, far from the low-rung optimum at 0.2.
	for i := 0; i < 8; i++ {
		x := float64(i) / 7
		diff := x - 0.2
		d.Observe(ids[i], []float64{x}, 1, diff*diff)
	}
	d.Observe(ids[8], []float64{0.9}, 3, 0.5)

	assert.NilError(t, m.Fit(d))
	assert.Equal(t, m.targetLevel, 3)

	// Low-fidelity evidence pulls the top-rung posterior toward 0.2.
	nearOptimum := m.Acquisition([]float64{0.2})
	nearKnownBad := m.Acquisition([]float64{0.9})
	assert.Assert(t, nearOptimum > nearKnownBad)
}

func TestCholeskyRejectsNonPD(t *testing.T) {
	_, ok := choleskyDecompose([][]float64{{1, 2}, {2, 1}})
	assert.Assert(t, !ok)
}

func TestCholeskySolve(t *testing.T) {
	a := [][]float64{{4, 2}, {2, 3}}
	l, ok := choleskyDecompose(a)
	assert.Assert(t, ok)

	x := choleskySolve(l, []float64{10, 8})
	// Solve [4 2; 2 3] x = [10 8] by hand: x = [1.75, 1.5].
	assert.Assert(t, math.Abs(x[0]-1.75) < 1e-9)
	assert.Assert(t, math.Abs(x[1]-1.5) < 1e-9)
}

func TestExpectedImprovement(t *testing.T) {
	// A prediction below the best with no uncertainty improves by the gap.
	assert.Assert(t, math.Abs(expectedImprovement(0.3, 0, 0.5)-0.2) < 1e-12)
	assert.Equal(t, expectedImprovement(0.7, 0, 0.5), 0.0)

	// Uncertainty adds exploration value even at the best's level.
	assert.Assert(t, expectedImprovement(0.5, 0.04, 0.5) > 0)
}
