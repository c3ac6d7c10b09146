package tune

import (
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
seed: 42
policy: least_loaded
hyperparameters:
  lr:
    log:
      minval: -4
      maxval: -1
      base: 10
  batch:
    int:
      minval: 16
      maxval: 128
brackets:
  - mode: sync
    rungs: [1, 3, 9]
    divisor: 3
    max_trials: 9
    grace_period: 60000000000
searcher:
  metric: loss
  smaller_is_better: true
  kde:
    min_samples: 4
    top_quantile: 0.25
    candidate_pool: 24
`))
	assert.NilError(t, err)
	assert.Equal(t, config.Seed, uint32(42))
	assert.Equal(t, config.Policy, LeastLoaded)
	assert.Equal(t, len(config.Hyperparameters), 2)
	assert.Equal(t, len(config.Brackets), 1)
	assert.Equal(t, config.Brackets[0].GracePeriod, time.Minute)
	assert.Assert(t, config.Searcher.KDEConfig != nil)
	assert.Equal(t, config.Searcher.KDEConfig.CandidatePool, 24)
}

func TestParseConfigDefaultsPolicy(t *testing.T) {
	config, err := ParseConfig([]byte(`
hyperparameters:
  lr:
    double:
      minval: 0.0
      maxval: 1.0
brackets:
  - mode: async
    rungs: [1, 2]
    divisor: 2
    max_trials: 4
searcher:
  metric: loss
  random: {}
`))
	assert.NilError(t, err)
	assert.Equal(t, config.Policy, RoundRobin)
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	_, err := ParseConfig([]byte(`
hyperparameters:
  lr:
    double:
      minval: 0.0
      maxval: 1.0
searcher:
  metric: loss
  random: {}
`))
	assert.ErrorContains(t, err, "at least one bracket")

	_, err = ParseConfig([]byte(`
hyperparameters:
  lr:
    double:
      minval: 0.0
      maxval: 1.0
brackets:
  - mode: sync
    rungs: [1, 2]
    divisor: 2
    max_trials: 4
searcher:
  metric: loss
  random: {}
  kde:
    min_samples: 4
    top_quantile: 0.25
    candidate_pool: 8
`))
	assert.ErrorContains(t, err, "exactly one searcher variant")

	_, err = ParseConfig([]byte(`{"policy": ["not", "a", "string"]}`))
	assert.ErrorContains(t, err, "cannot unmarshal")
}