package configspace

import (
	"math"
	"testing"

	"gotest.tools/assert"

	"github.com/kestrel-ai/kestrel/pkg/model"
	"github.com/kestrel-ai/kestrel/pkg/nprand"
)

func testSpace(t *testing.T) Space {
	t.Helper()
	space, err := ParseSpace([]byte(spaceYAML))
	assert.NilError(t, err)
	return space
}

func TestSampleInDomain(t *testing.T) {
	space := testSpace(t)
	rand := nprand.New(13)
	for i := 0; i < 100; i++ {
		config := space.Sample(rand)
		assert.NilError(t, space.ValidateConfig(config))

		lr := config["lr"].(float64)
		assert.Assert(t, lr >= 1e-4 && lr <= 1e-1, "lr %v out of range", lr)

		batch := config["batch"].(int)
		assert.Assert(t, batch >= 16 && batch <= 128, "batch %v out of range", batch)

		assert.Equal(t, config["arch"], "resnet18")
	}
}

func TestSampleIntInclusiveBounds(t *testing.T) {
	space := Space{"x": {Int: &IntHyperparameter{Minval: 0, Maxval: 2}}}
	rand := nprand.New(21)
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		seen[space.Sample(rand)["x"].(int)] = true
	}
	assert.DeepEqual(t, seen, map[int]bool{0: true, 1: true, 2: true})
}

func TestSampleDeterministic(t *testing.T) {
	space := testSpace(t)
	a := space.Sample(nprand.New(77))
	b := space.Sample(nprand.New(77))
	assert.DeepEqual(t, a, b)
}

func TestEncode(t *testing.T) {
	space := testSpace(t)
	config := model.Configuration{
		"lr":        0.01, // exponent -2 of [-4, -1]
		"batch":     72,
		"dropout":   0.4,
		"optimizer": "sgd",
		"arch":      "resnet18",
	}
	vec, err := space.Encode(config)
	assert.NilError(t, err)
	// Constants contribute no dimension; order is sorted by name:
	// batch, dropout, lr, optimizer.
	assert.Equal(t, len(vec), 4)
	assert.Equal(t, vec[0], 0.5)
	assert.Equal(t, vec[1], 0.5)
	assert.Assert(t, math.Abs(vec[2]-2.0/3.0) < 1e-9)
	assert.Equal(t, vec[3], 0.5)
}

func TestEncodeMissingValue(t *testing.T) {
	space := testSpace(t)
	_, err := space.Encode(model.Configuration{"lr": 0.01})
	assert.ErrorContains(t, err, "missing")
}

func TestEncodeOutOfDomain(t *testing.T) {
	space := testSpace(t)
	config := model.Configuration{
		"lr":        0.01,
		"batch":     999,
		"dropout":   0.4,
		"optimizer": "sgd",
	}
	_, err := space.Encode(config)
	assert.ErrorContains(t, err, "batch")
}

func TestPerturbInt(t *testing.T) {
	space := Space{"x": {Int: &IntHyperparameter{Minval: 0, Maxval: 100}}}
	rand := nprand.New(1)

	v, err := space.Perturb("x", 20, 60, 0.5, rand)
	assert.NilError(t, err)
	assert.Equal(t, v, 40)

	// Perturbation never leaves the domain.
	v, err = space.Perturb("x", 90, 300, 1.0, rand)
	assert.NilError(t, err)
	assert.Equal(t, v, 100)
}

func TestPerturbDouble(t *testing.T) {
	space := Space{"x": {Double: &DoubleHyperparameter{Minval: 0, Maxval: 1}}}
	rand := nprand.New(1)
	v, err := space.Perturb("x", 0.2, 0.6, 0.5, rand)
	assert.NilError(t, err)
	assert.Equal(t, v, 0.4)
}

func TestPerturbLogStaysInExponentSpace(t *testing.T) {
	space := Space{"x": {Log: &LogHyperparameter{Minval: -4, Maxval: -1, Base: 10}}}
	rand := nprand.New(1)
	// Halfway between exponents -4 and -2 is -3.
	v, err := space.Perturb("x", 1e-4, 1e-2, 0.5, rand)
	assert.NilError(t, err)
	assert.Assert(t, math.Abs(v.(float64)-1e-3) < 1e-12)
}

func TestPerturbConstUnchanged(t *testing.T) {
	space := Space{"x": {Const: &ConstHyperparameter{Val: "fixed"}}}
	rand := nprand.New(1)
	v, err := space.Perturb("x", "fixed", "other", 1.0, rand)
	assert.NilError(t, err)
	assert.Equal(t, v, "fixed")
}

func TestPerturbCategorical(t *testing.T) {
	space := Space{"x": {Categorical: &CategoricalHyperparameter{
		Vals: []interface{}{"a", "b"},
	}}}
	rand := nprand.New(1)

	// factor 1 always adopts the donor; factor 0 never does.
	v, err := space.Perturb("x", "a", "b", 1.0, rand)
	assert.NilError(t, err)
	assert.Equal(t, v, "b")

	v, err = space.Perturb("x", "a", "b", 0.0, rand)
	assert.NilError(t, err)
	assert.Equal(t, v, "a")
}

func TestPerturbUnknownName(t *testing.T) {
	space := testSpace(t)
	_, err := space.Perturb("nope", 1, 2, 0.5, nprand.New(1))
	assert.ErrorContains(t, err, "not in the search space")
}
