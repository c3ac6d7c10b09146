package surrogate

import (
	"fmt"

	"github.com/kestrel-ai/kestrel/pkg/model"
)

// Model is the capability the suggestion engine needs from a surrogate: fit
// to the dataset, then score candidates. Variants are selected by
// configuration; higher acquisition scores are better.
type Model interface {
	// Fit rebuilds the model from the dataset. It returns
	// InsufficientDataError when no slice of the dataset can support a fit
	// and ModelFitError on numerical failure; in both cases the previous fit
	// (if any) is left intact.
	Fit(d *Dataset) error
	// Acquisition scores an encoded candidate under the current fit.
	Acquisition(x []float64) float64
}

// InsufficientDataError means the dataset cannot support fitting the model
// yet; callers recover by falling back to random sampling.
type InsufficientDataError struct {
	Needed int
	Have   int
}

func (e InsufficientDataError) Error() string {
	return fmt.Sprintf("surrogate model needs %d observations at some rung, have at most %d",
		e.Needed, e.Have)
}

// ModelFitError reports a numerical failure while fitting; callers recover by
// reusing the last good fit or falling back to random sampling.
type ModelFitError struct {
	Reason string
}

func (e ModelFitError) Error() string {
	return fmt.Sprintf("surrogate model fit failed: %s", e.Reason)
}

// New builds the surrogate model the searcher configuration calls for, or nil
// for strategies that do not use one.
func New(config model.SearcherConfig) Model {
	switch {
	case config.KDEConfig != nil:
		return newKDEModel(*config.KDEConfig)
	case config.GPIndependentConfig != nil:
		return newGPModel(*config.GPIndependentConfig, false)
	case config.GPJointConfig != nil:
		return newGPModel(*config.GPJointConfig, true)
	default:
		return nil
	}
}
