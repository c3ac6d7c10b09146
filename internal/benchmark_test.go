package internal

import (
	"math"
	"testing"

	"gotest.tools/assert"

	"github.com/kestrel-ai/kestrel/pkg/configspace"
	"github.com/kestrel-ai/kestrel/pkg/model"
)

func benchSpace(t *testing.T) configspace.Space {
	t.Helper()
	space, err := configspace.ParseSpace([]byte(`
x:
  double:
    minval: 0.0
    maxval: 1.0
"y":
  double:
    minval: 0.0
    maxval: 1.0
`))
	assert.NilError(t, err)
	return space
}

func TestBenchmarkPrefersOptimum(t *testing.T) {
	config := DefaultBenchmarkConfig()
	config.Noise = 0
	b := newBenchmark(config, benchSpace(t), 1)

	atOptimum, ok := b.Evaluate(model.Configuration{"x": 0.35, "y": 0.35}, 1)
	assert.Assert(t, ok)
	far, ok := b.Evaluate(model.Configuration{"x": 1.0, "y": 1.0}, 1)
	assert.Assert(t, ok)
	assert.Assert(t, atOptimum < far)
	assert.Assert(t, math.Abs(atOptimum) < 1e-12)
}

func TestBenchmarkNoiseShrinksWithLevel(t *testing.T) {
	config := DefaultBenchmarkConfig()
	config.Noise = 0.5
	b := newBenchmark(config, benchSpace(t), 2)

	spread := func(level int) float64 {
		var lo, hi = math.Inf(1), math.Inf(-1)
		for i := 0; i < 200; i++ {
			v, ok := b.Evaluate(model.Configuration{"x": 0.5, "y": 0.5}, level)
			assert.Assert(t, ok)
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		return hi - lo
	}
	assert.Assert(t, spread(100) < spread(1))
}

func TestBenchmarkFailureRate(t *testing.T) {
	config := DefaultBenchmarkConfig()
	config.FailureRate = 1.0
	b := newBenchmark(config, benchSpace(t), 3)
	_, ok := b.Evaluate(model.Configuration{"x": 0.5, "y": 0.5}, 1)
	assert.Assert(t, !ok)
}

func TestConfigValidation(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, config.Workers, 4)

	config.Workers = 0
	_, err := New("test", config)
	assert.ErrorContains(t, err, "worker")
}
