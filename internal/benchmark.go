package internal

import (
	"math"

	"github.com/kestrel-ai/kestrel/pkg/check"
	"github.com/kestrel-ai/kestrel/pkg/configspace"
	"github.com/kestrel-ai/kestrel/pkg/model"
	"github.com/kestrel-ai/kestrel/pkg/nprand"
)

// BenchmarkConfig shapes the synthetic objective the demo workers evaluate.
type BenchmarkConfig struct {
	Optimum     float64 `json:"optimum"`
	Noise       float64 `json:"noise"`
	FailureRate float64 `json:"failure_rate"`
}

// DefaultBenchmarkConfig returns the default synthetic objective settings.
func DefaultBenchmarkConfig() BenchmarkConfig {
	return BenchmarkConfig{
		Optimum: 0.35,
		Noise:   0.05,
	}
}

// Validate implements the check.Validatable interface.
func (c BenchmarkConfig) Validate() []error {
	return []error{
		check.BetweenInclusive(c.Optimum, 0.0, 1.0, "optimum must lie in the unit interval"),
		check.GreaterThanOrEqualTo(c.Noise, 0.0, "noise cannot be negative"),
		check.BetweenInclusive(c.FailureRate, 0.0, 1.0,
			"failure_rate must be a probability"),
	}
}

// benchmark is a synthetic objective over the encoded search space: the
// squared distance from a fixed optimum, observed through noise that shrinks
// as the resource level grows. Larger levels yield more faithful metrics, the
// shape multi-fidelity schedulers are built to exploit.
type benchmark struct {
	config BenchmarkConfig
	space  configspace.Space
	rand   *nprand.State
}

func newBenchmark(config BenchmarkConfig, space configspace.Space, seed uint32) *benchmark {
	return &benchmark{config: config, space: space, rand: nprand.New(seed)}
}

// Evaluate runs the synthetic objective for a configuration at a resource
// level. The returned bool is false when the evaluation "crashed", which
// happens with the configured failure rate.
func (b *benchmark) Evaluate(config model.Configuration, level int) (float64, bool) {
	if b.config.FailureRate > 0 && b.rand.UnitInterval() < b.config.FailureRate {
		return math.NaN(), false
	}

	encoded, err := b.space.Encode(config)
	if err != nil {
		return math.NaN(), false
	}

	loss := 0.0
	for _, x := range encoded {
		d := x - b.config.Optimum
		loss += d * d
	}
	noise := b.config.Noise / math.Sqrt(float64(level))
	return loss + noise*b.rand.Norm(), true
}
