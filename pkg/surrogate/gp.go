package surrogate

import (
	"math"

	kmodel "github.com/kestrel-ai/kestrel/pkg/model"
)

const (
	defaultNoiseVariance = 1e-6
	defaultLengthScale   = 0.2
	defaultResourceScale = 0.5

	// failureSentinel is the metric recorded for failed or NaN reports.
	failureSentinel = math.MaxFloat64
)

// gpModel is the Gaussian-process surrogate. The independent variant fits the
// highest rung with enough observations on its own; the joint variant fits
// all rungs at once with a resource-correlation kernel, so cheap-fidelity
// observations inform the top rung. Pending evaluations are incorporated as
// fantasized observations at their posterior mean, which is what keeps
// concurrent workers from duplicating exploration.
type gpModel struct {
	config kmodel.GPSearcherConfig
	joint  bool

	gp          *gaussianProcess
	targetLevel int
	maxLevel    float64
	best        float64
}

func newGPModel(config kmodel.GPSearcherConfig, joint bool) *gpModel {
	if config.NoiseVariance == 0 {
		config.NoiseVariance = defaultNoiseVariance
	}
	if config.LengthScale == 0 {
		config.LengthScale = defaultLengthScale
	}
	if config.ResourceScale == 0 {
		config.ResourceScale = defaultResourceScale
	}
	return &gpModel{config: config, joint: joint}
}

func (m *gpModel) Fit(d *Dataset) error {
	levels := d.Levels()
	if len(levels) == 0 {
		return InsufficientDataError{Needed: 2, Have: 0}
	}
	if m.joint {
		return m.fitJoint(d, levels)
	}
	return m.fitIndependent(d, levels)
}

func (m *gpModel) fitIndependent(d *Dataset, levels []int) error {
	have := 0
	for i := len(levels) - 1; i >= 0; i-- {
		level := levels[i]
		observed := d.Observed(level)
		if len(observed) > have {
			have = len(observed)
		}
		if len(observed) < 2 {
			continue
		}

		var xs [][]float64
		var ys []float64
		for _, r := range observed {
			xs = append(xs, r.X)
			ys = append(ys, r.Metric)
		}
		ys = clampFailures(ys)
		best := minTarget(ys)
		gp := newGaussianProcess(m.kernel(), m.config.NoiseVariance)
		if err := gp.fit(xs, ys); err != nil {
			return err
		}

		// Fantasize pending evaluations at their posterior mean and refit so
		// the variance collapses around points already being evaluated.
		if pending := d.PendingAt(level); len(pending) > 0 {
			for _, r := range pending {
				mean, _ := gp.predict(r.X)
				xs = append(xs, r.X)
				ys = append(ys, mean)
			}
			if err := gp.fit(xs, ys); err != nil {
				return err
			}
		}

		m.gp = gp
		m.targetLevel = level
		m.best = best
		return nil
	}
	return InsufficientDataError{Needed: 2, Have: have}
}

func (m *gpModel) fitJoint(d *Dataset, levels []int) error {
	m.maxLevel = float64(levels[len(levels)-1])
	var xs [][]float64
	var ys []float64
	for _, level := range levels {
		for _, r := range d.Observed(level) {
			xs = append(xs, m.augment(r.X, r.Level))
			ys = append(ys, r.Metric)
		}
	}
	if len(xs) < 2 {
		return InsufficientDataError{Needed: 2, Have: len(xs)}
	}
	ys = clampFailures(ys)
	best := minTarget(ys)

	gp := newGaussianProcess(m.kernel(), m.config.NoiseVariance)
	if err := gp.fit(xs, ys); err != nil {
		return err
	}

	var pending []Row
	for _, level := range levels {
		pending = append(pending, d.PendingAt(level)...)
	}
	if len(pending) > 0 {
		for _, r := range pending {
			ax := m.augment(r.X, r.Level)
			mean, _ := gp.predict(ax)
			xs = append(xs, ax)
			ys = append(ys, mean)
		}
		if err := gp.fit(xs, ys); err != nil {
			return err
		}
	}

	m.gp = gp
	m.targetLevel = levels[len(levels)-1]
	m.best = best
	return nil
}

// Acquisition returns the expected improvement of the candidate at the
// model's target rung.
func (m *gpModel) Acquisition(x []float64) float64 {
	if m.gp == nil {
		return 0
	}
	if m.joint {
		x = m.augment(x, m.targetLevel)
	}
	mean, variance := m.gp.predict(x)
	return expectedImprovement(mean, variance, m.best)
}

// kernel builds the RBF covariance; the joint variant multiplies in a second
// RBF over the resource dimension so nearby rungs correlate.
func (m *gpModel) kernel() kernelFunc {
	configScale := m.config.LengthScale
	if !m.joint {
		return rbfKernel(configScale)
	}
	resourceScale := m.config.ResourceScale
	return func(a, b []float64) float64 {
		d := len(a) - 1
		var sum float64
		for i := 0; i < d; i++ {
			diff := a[i] - b[i]
			sum += diff * diff
		}
		rdiff := a[d] - b[d]
		return math.Exp(-sum/(2*configScale*configScale)) *
			math.Exp(-rdiff*rdiff/(2*resourceScale*resourceScale))
	}
}

func (m *gpModel) augment(x []float64, level int) []float64 {
	ax := make([]float64, len(x)+1)
	copy(ax, x)
	ax[len(x)] = float64(level) / m.maxLevel
	return ax
}

func minTarget(ys []float64) float64 {
	best := math.Inf(1)
	for _, y := range ys {
		if y < best {
			best = y
		}
	}
	return best
}

// clampFailures replaces failure sentinels with a finite penalty just past
// the worst real observation. A failed region still repels the model, but a
// 1.8e308 target no longer wrecks the centering and the Cholesky solve.
func clampFailures(ys []float64) []float64 {
	best, worst := math.Inf(1), math.Inf(-1)
	for _, y := range ys {
		if y >= failureSentinel || math.IsNaN(y) {
			continue
		}
		if y < best {
			best = y
		}
		if y > worst {
			worst = y
		}
	}
	if math.IsInf(worst, -1) {
		best, worst = 0, 0
	}
	margin := worst - best
	if margin <= 0 {
		margin = 1
	}
	out := make([]float64, len(ys))
	for i, y := range ys {
		if y >= failureSentinel || math.IsNaN(y) {
			out[i] = worst + margin
		} else {
			out[i] = y
		}
	}
	return out
}

type kernelFunc func(a, b []float64) float64

func rbfKernel(scale float64) kernelFunc {
	return func(a, b []float64) float64 {
		var sum float64
		for i := range a {
			diff := a[i] - b[i]
			sum += diff * diff
		}
		return math.Exp(-sum / (2 * scale * scale))
	}
}

// gaussianProcess is a zero-mean GP regressor over centered targets, solved
// through a Cholesky factorization of the Gram matrix.
type gaussianProcess struct {
	kernel kernelFunc
	noise  float64

	x     [][]float64
	mean  float64
	chol  [][]float64
	alpha []float64
}

func newGaussianProcess(kernel kernelFunc, noise float64) *gaussianProcess {
	return &gaussianProcess{kernel: kernel, noise: noise}
}

func (gp *gaussianProcess) fit(x [][]float64, y []float64) error {
	n := len(x)
	gram := make([][]float64, n)
	for i := range gram {
		gram[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			v := gp.kernel(x[i], x[j])
			if i == j {
				v += gp.noise
			}
			gram[i][j] = v
			gram[j][i] = v
		}
	}

	chol, ok := choleskyDecompose(gram)
	if !ok {
		return ModelFitError{Reason: "covariance matrix is not positive definite"}
	}

	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)
	centered := make([]float64, n)
	for i, v := range y {
		centered[i] = v - mean
	}

	gp.x = x
	gp.mean = mean
	gp.chol = chol
	gp.alpha = choleskySolve(chol, centered)
	return nil
}

func (gp *gaussianProcess) predict(x []float64) (mean, variance float64) {
	n := len(gp.x)
	k := make([]float64, n)
	for i := range gp.x {
		k[i] = gp.kernel(x, gp.x[i])
	}

	for i := range k {
		mean += k[i] * gp.alpha[i]
	}
	mean += gp.mean

	v := forwardSolve(gp.chol, k)
	variance = gp.kernel(x, x) + gp.noise
	for _, vi := range v {
		variance -= vi * vi
	}
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// choleskyDecompose returns the lower-triangular factor of a symmetric
// positive-definite matrix, or false when the matrix is not one.
func choleskyDecompose(a [][]float64) ([][]float64, bool) {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, false
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l, true
}

// choleskySolve solves A x = b given the lower Cholesky factor of A.
func choleskySolve(l [][]float64, b []float64) []float64 {
	y := forwardSolve(l, b)
	n := len(l)
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := y[i]
		for k := i + 1; k < n; k++ {
			sum -= l[k][i] * x[k]
		}
		x[i] = sum / l[i][i]
	}
	return x
}

func forwardSolve(l [][]float64, b []float64) []float64 {
	n := len(l)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= l[i][k] * y[k]
		}
		y[i] = sum / l[i][i]
	}
	return y
}
