package model

import (
	"testing"

	"gotest.tools/assert"

	"github.com/kestrel-ai/kestrel/pkg/check"
)

func validBracket() BracketConfig {
	return BracketConfig{
		Mode:      SyncMode,
		Rungs:     []int{1, 3, 9},
		Divisor:   3,
		MaxTrials: 9,
	}
}

func TestBracketConfigValidation(t *testing.T) {
	assert.NilError(t, check.Validate(validBracket()))

	bad := validBracket()
	bad.Divisor = 1.5
	assert.ErrorContains(t, check.Validate(bad), "divisor")

	bad = validBracket()
	bad.Rungs = []int{3, 3, 9}
	assert.ErrorContains(t, check.Validate(bad), "strictly increasing")

	bad = validBracket()
	bad.MaxTrials = 0
	assert.ErrorContains(t, check.Validate(bad), "max_trials")

	bad = validBracket()
	bad.Mode = "both"
	assert.ErrorContains(t, check.Validate(bad), "mode")
}

func TestRungLevelsExplicit(t *testing.T) {
	config := validBracket()
	assert.DeepEqual(t, config.RungLevels(), []int{1, 3, 9})
}

func TestRungLevelsGeometric(t *testing.T) {
	config := BracketConfig{
		Mode:        AsyncMode,
		MinResource: 2,
		NumRungs:    4,
		Divisor:     2,
		MaxTrials:   16,
	}
	assert.NilError(t, check.Validate(config))
	assert.DeepEqual(t, config.RungLevels(), []int{2, 4, 8, 16})
}

func TestSearcherConfigExactlyOneVariant(t *testing.T) {
	none := SearcherConfig{Metric: "loss"}
	assert.ErrorContains(t, check.Validate(none), "exactly one")

	two := SearcherConfig{
		Metric:       "loss",
		RandomConfig: &RandomSearcherConfig{},
		KDEConfig:    &KDESearcherConfig{MinSamples: 4, TopQuantile: 0.25, CandidatePool: 16},
	}
	assert.ErrorContains(t, check.Validate(two), "exactly one")

	one := SearcherConfig{Metric: "loss", RandomConfig: &RandomSearcherConfig{}}
	assert.NilError(t, check.Validate(one))
}

func TestSearcherConfigRequiresMetric(t *testing.T) {
	config := SearcherConfig{RandomConfig: &RandomSearcherConfig{}}
	assert.ErrorContains(t, check.Validate(config), "metric")
}

func TestKDEConfigValidation(t *testing.T) {
	bad := SearcherConfig{
		Metric:    "loss",
		KDEConfig: &KDESearcherConfig{MinSamples: 1, TopQuantile: 0.25, CandidatePool: 8},
	}
	assert.ErrorContains(t, check.Validate(bad), "min_samples")

	bad.KDEConfig = &KDESearcherConfig{MinSamples: 4, TopQuantile: 1.5, CandidatePool: 8}
	assert.ErrorContains(t, check.Validate(bad), "top_quantile")
}

func TestDEHBConfigValidation(t *testing.T) {
	bad := SearcherConfig{
		Metric:     "loss",
		DEHBConfig: &DEHBSearcherConfig{MutationFactor: 0, CrossoverProb: 0.9},
	}
	assert.ErrorContains(t, check.Validate(bad), "mutation_factor")

	good := SearcherConfig{
		Metric:     "loss",
		DEHBConfig: &DEHBSearcherConfig{MutationFactor: 0.5, CrossoverProb: 0.9},
	}
	assert.NilError(t, check.Validate(good))
}
