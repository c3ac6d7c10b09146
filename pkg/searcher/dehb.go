package searcher

import (
	"github.com/pkg/errors"

	"github.com/kestrel-ai/kestrel/pkg/bracket"
	"github.com/kestrel-ai/kestrel/pkg/model"
)

// selection is a deferred evolutionary comparison: the child config replaces
// the parent's only if its metric, once reported, is not worse.
type selection struct {
	parent       model.RequestID
	parentMetric float64
}

// Evolve produces a child configuration for a promoted parent: mutation
// toward a randomly chosen other promoted member scaled by the mutation
// factor, then per-dimension binomial crossover between mutant and parent.
// The returned flag says whether any value actually changed; a changed child
// must start training from scratch and forfeits checkpoint reuse.
func (e *Engine) Evolve(
	b *bracket.Bracket, parentID model.RequestID, level int,
) (model.Configuration, bool, error) {
	dehb := e.config.DEHBConfig
	if dehb == nil {
		return nil, false, errors.New("evolve called without an evolutionary searcher")
	}
	parent, ok := e.configs[parentID]
	if !ok {
		return nil, false, errors.Errorf("no configuration recorded for parent trial %s", parentID)
	}

	donor := e.pickDonor(b, parentID, level)

	names := e.space.Names()
	child := parent.Clone()
	changed := false
	for _, name := range names {
		if e.rand.UnitInterval() >= dehb.CrossoverProb {
			continue
		}
		mutated, err := e.space.Perturb(
			name, parent[name], donor[name], dehb.MutationFactor, e.rand)
		if err != nil {
			return nil, false, err
		}
		if mutated != parent[name] {
			child[name] = mutated
			changed = true
		}
	}

	return child, changed, nil
}

// pickDonor selects a random other promoted member of the parent's rung; with
// no sibling available the donor is a fresh random sample, which degrades the
// mutation to a domain-scaled perturbation.
func (e *Engine) pickDonor(
	b *bracket.Bracket, parentID model.RequestID, level int,
) model.Configuration {
	var donors []model.Configuration
	for _, id := range b.PromotedAt(level) {
		if id == parentID {
			continue
		}
		if config, ok := e.configs[id]; ok {
			donors = append(donors, config)
		}
	}
	if len(donors) == 0 {
		return e.space.Sample(e.rand)
	}
	return donors[e.rand.Intn(len(donors))]
}

// RegisterChild records the deferred selection between a parent and the
// evolved child that replaced it.
func (e *Engine) RegisterChild(childID, parentID model.RequestID, parentMetric float64) {
	e.selections[childID] = selection{parent: parentID, parentMetric: parentMetric}
}

// ResolveSelection applies the deferred DEHB selection when a child's metric
// arrives: if the child is worse than its parent, the parent's configuration
// re-enters the engine's memory for the child's ID, so future donors draw
// from the surviving configuration. Metrics are normalized smaller-is-better.
func (e *Engine) ResolveSelection(childID model.RequestID, childMetric float64) {
	sel, ok := e.selections[childID]
	if !ok {
		return
	}
	delete(e.selections, childID)
	if childMetric > sel.parentMetric {
		if parentConfig, ok := e.configs[sel.parent]; ok {
			e.configs[childID] = parentConfig
		}
	}
}
