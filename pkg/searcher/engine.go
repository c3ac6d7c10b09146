// Package searcher decides which configuration to evaluate next: by random
// sampling, by optimizing a surrogate model's acquisition function over a
// candidate pool, or by evolutionary modification of promoted configurations.
package searcher

import (
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-ai/kestrel/pkg/bracket"
	"github.com/kestrel-ai/kestrel/pkg/configspace"
	"github.com/kestrel-ai/kestrel/pkg/model"
	"github.com/kestrel-ai/kestrel/pkg/nprand"
	"github.com/kestrel-ai/kestrel/pkg/surrogate"
)

// Engine combines configuration-space sampling with surrogate-model
// acquisition optimization. It is called under the scheduler's lock and keeps
// no synchronization of its own.
type Engine struct {
	space   configspace.Space
	config  model.SearcherConfig
	rand    *nprand.State
	dataset *surrogate.Dataset
	logger  *log.Entry

	model         surrogate.Model
	fittedVersion uint64
	modelReady    bool

	// configs remembers every configuration the engine has produced, so the
	// evolutionary path can look up parent and donor values by trial ID.
	configs map[model.RequestID]model.Configuration

	// selections are deferred DEHB comparisons keyed by child; each resolves
	// when the child's metric arrives.
	selections map[model.RequestID]selection
}

// New builds an engine for the given search space and searcher config. The
// config must already be validated.
func New(
	space configspace.Space,
	config model.SearcherConfig,
	rand *nprand.State,
	dataset *surrogate.Dataset,
) *Engine {
	return &Engine{
		space:      space,
		config:     config,
		rand:       rand,
		dataset:    dataset,
		logger:     log.WithField("component", "searcher"),
		model:      surrogate.New(config),
		configs:    map[model.RequestID]model.Configuration{},
		selections: map[model.RequestID]selection{},
	}
}

// Suggest picks the next configuration to evaluate at the given rung level
// of a bracket and returns it together with its encoding. Model-based modes
// fall back to pure random sampling whenever the surrogate cannot be fit.
func (e *Engine) Suggest(b *bracket.Bracket, level int) (model.Configuration, []float64, error) {
	config := e.suggest()
	encoded, err := e.space.Encode(config)
	if err != nil {
		return nil, nil, err
	}
	return config, encoded, nil
}

func (e *Engine) suggest() model.Configuration {
	if e.model == nil {
		return e.space.Sample(e.rand)
	}

	e.maybeRefit()
	if !e.modelReady {
		return e.space.Sample(e.rand)
	}

	pool := e.candidatePool()
	best := e.space.Sample(e.rand)
	bestScore, ok := e.score(best)
	if !ok {
		return best
	}
	for i := 1; i < pool; i++ {
		candidate := e.space.Sample(e.rand)
		score, ok := e.score(candidate)
		if !ok {
			continue
		}
		// Strictly greater, so ties resolve to the earlier draw.
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best
}

func (e *Engine) score(config model.Configuration) (float64, bool) {
	encoded, err := e.space.Encode(config)
	if err != nil {
		return 0, false
	}
	return e.model.Acquisition(encoded), true
}

// maybeRefit refits the surrogate model, but only when the dataset moved
// since the last fit; refits never run on a per-decision basis otherwise.
func (e *Engine) maybeRefit() {
	if e.dataset.Version() == e.fittedVersion {
		return
	}
	e.fittedVersion = e.dataset.Version()

	switch err := e.model.Fit(e.dataset); err.(type) {
	case nil:
		e.modelReady = true
	case surrogate.InsufficientDataError:
		e.modelReady = false
	case surrogate.ModelFitError:
		// Keep the last good fit if there is one; otherwise stay on random.
		e.logger.WithError(err).Warn("surrogate refit failed, reusing previous fit")
	default:
		e.logger.WithError(err).Warn("surrogate refit failed")
		e.modelReady = false
	}
}

func (e *Engine) candidatePool() int {
	switch {
	case e.config.KDEConfig != nil:
		return e.config.KDEConfig.CandidatePool
	case e.config.GPIndependentConfig != nil:
		return e.config.GPIndependentConfig.CandidatePool
	case e.config.GPJointConfig != nil:
		return e.config.GPJointConfig.CandidatePool
	default:
		return 1
	}
}

// Evolutionary reports whether promotions must go through the evolutionary
// rule instead of resuming the parent configuration unchanged.
func (e *Engine) Evolutionary() bool {
	return e.config.DEHBConfig != nil
}

// Record associates a configuration with the trial it was created for.
func (e *Engine) Record(requestID model.RequestID, config model.Configuration) {
	e.configs[requestID] = config
}

// ConfigOf returns the configuration the engine produced for a trial.
func (e *Engine) ConfigOf(requestID model.RequestID) (model.Configuration, bool) {
	config, ok := e.configs[requestID]
	return config, ok
}
