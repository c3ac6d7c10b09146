package searcher

import (
	"testing"

	"gotest.tools/assert"

	"github.com/kestrel-ai/kestrel/pkg/bracket"
	"github.com/kestrel-ai/kestrel/pkg/configspace"
	"github.com/kestrel-ai/kestrel/pkg/model"
	"github.com/kestrel-ai/kestrel/pkg/nprand"
	"github.com/kestrel-ai/kestrel/pkg/surrogate"
)

func testSpace(t *testing.T) configspace.Space {
	t.Helper()
	space, err := configspace.ParseSpace([]byte(`
lr:
  log:
    minval: -4
    maxval: -1
    base: 10
batch:
  int:
    minval: 16
    maxval: 128
`))
	assert.NilError(t, err)
	return space
}

func testBracket(t *testing.T, mode model.BracketMode, maxTrials int) *bracket.Bracket {
	t.Helper()
	b, err := bracket.New(0, model.BracketConfig{
		Mode:      mode,
		Rungs:     []int{1, 3, 9},
		Divisor:   3,
		MaxTrials: maxTrials,
	})
	assert.NilError(t, err)
	return b
}

func TestRandomSuggestions(t *testing.T) {
	space := testSpace(t)
	dataset := surrogate.NewDataset()
	engine := New(space, model.SearcherConfig{
		Metric:       "loss",
		RandomConfig: &model.RandomSearcherConfig{},
	}, nprand.New(1), dataset)
	b := testBracket(t, model.SyncMode, 9)

	seen := map[float64]bool{}
	for i := 0; i < 20; i++ {
		config, encoded, err := engine.Suggest(b, 1)
		assert.NilError(t, err)
		assert.NilError(t, space.ValidateConfig(config))
		assert.Equal(t, len(encoded), 2)
		seen[config["lr"].(float64)] = true
	}
	assert.Assert(t, len(seen) > 1, "suggestions should vary")
}

func TestModelBasedFallsBackToRandom(t *testing.T) {
	space := testSpace(t)
	dataset := surrogate.NewDataset()
	engine := New(space, model.SearcherConfig{
		Metric: "loss",
		KDEConfig: &model.KDESearcherConfig{
			MinSamples: 4, TopQuantile: 0.25, CandidatePool: 8,
		},
	}, nprand.New(1), dataset)
	b := testBracket(t, model.SyncMode, 9)

	// Nothing observed yet: suggestions still come and stay in the domain.
	config, _, err := engine.Suggest(b, 1)
	assert.NilError(t, err)
	assert.NilError(t, space.ValidateConfig(config))
}

func TestModelBasedSuggestionsAfterFit(t *testing.T) {
	space := testSpace(t)
	dataset := surrogate.NewDataset()
	rand := nprand.New(5)
	engine := New(space, model.SearcherConfig{
		Metric: "loss",
		KDEConfig: &model.KDESearcherConfig{
			MinSamples: 4, TopQuantile: 0.5, CandidatePool: 16,
		},
	}, rand, dataset)
	b := testBracket(t, model.SyncMode, 9)

	// Observe a dataset where small encoded values do well.
	for i := 0; i < 16; i++ {
		config := space.Sample(rand)
		encoded, err := space.Encode(config)
		assert.NilError(t, err)
		id := model.NewRequestID(rand)
		dataset.Observe(id, encoded, 1, encoded[0]+encoded[1])
	}

	config, _, err := engine.Suggest(b, 1)
	assert.NilError(t, err)
	assert.NilError(t, space.ValidateConfig(config))
	assert.Assert(t, engine.modelReady)
}

func TestRefitOnlyOnVersionChange(t *testing.T) {
	space := testSpace(t)
	dataset := surrogate.NewDataset()
	rand := nprand.New(5)
	engine := New(space, model.SearcherConfig{
		Metric: "loss",
		KDEConfig: &model.KDESearcherConfig{
			MinSamples: 4, TopQuantile: 0.5, CandidatePool: 8,
		},
	}, rand, dataset)
	b := testBracket(t, model.SyncMode, 9)

	_, _, err := engine.Suggest(b, 1)
	assert.NilError(t, err)
	fitted := engine.fittedVersion

	// No dataset movement: the version the engine fit at stays put.
	_, _, err = engine.Suggest(b, 1)
	assert.NilError(t, err)
	assert.Equal(t, engine.fittedVersion, fitted)

	id := model.NewRequestID(rand)
	dataset.Observe(id, []float64{0.5, 0.5}, 1, 0.1)
	_, _, err = engine.Suggest(b, 1)
	assert.NilError(t, err)
	assert.Assert(t, engine.fittedVersion > fitted)
}

func TestRecordAndConfigOf(t *testing.T) {
	space := testSpace(t)
	engine := New(space, model.SearcherConfig{
		Metric:       "loss",
		RandomConfig: &model.RandomSearcherConfig{},
	}, nprand.New(1), surrogate.NewDataset())

	id := model.NewRequestID(nprand.New(2))
	config := model.Configuration{"lr": 0.01, "batch": 32}
	engine.Record(id, config)

	got, ok := engine.ConfigOf(id)
	assert.Assert(t, ok)
	assert.DeepEqual(t, got, config)

	_, ok = engine.ConfigOf(model.NewRequestID(nprand.New(3)))
	assert.Assert(t, !ok)
}

func TestEvolutionaryFlag(t *testing.T) {
	space := testSpace(t)
	random := New(space, model.SearcherConfig{
		Metric:       "loss",
		RandomConfig: &model.RandomSearcherConfig{},
	}, nprand.New(1), surrogate.NewDataset())
	assert.Assert(t, !random.Evolutionary())

	dehb := New(space, model.SearcherConfig{
		Metric:     "loss",
		DEHBConfig: &model.DEHBSearcherConfig{MutationFactor: 0.5, CrossoverProb: 0.9},
	}, nprand.New(1), surrogate.NewDataset())
	assert.Assert(t, dehb.Evolutionary())
}
