// Package configspace describes the searchable hyperparameters and their
// domains. It samples, encodes, and perturbs configurations; everything the
// suggestion engine knows about the search space goes through this package.
package configspace

import (
	"fmt"
	"sort"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/kestrel-ai/kestrel/pkg/check"
)

// Space holds a mapping from hyperparameter name to its domain.
type Space map[string]Hyperparameter

// Each applies the function to each hyperparameter in string order of the
// name, so iteration order is stable across processes.
func (s Space) Each(f func(name string, param Hyperparameter)) {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f(k, s[k])
	}
}

// Names returns the hyperparameter names in sorted order.
func (s Space) Names() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Hyperparameter is a sum type over the supported domains; exactly one
// variant is set.
type Hyperparameter struct {
	Const       *ConstHyperparameter       `json:"const,omitempty"`
	Int         *IntHyperparameter         `json:"int,omitempty"`
	Double      *DoubleHyperparameter      `json:"double,omitempty"`
	Log         *LogHyperparameter         `json:"log,omitempty"`
	Categorical *CategoricalHyperparameter `json:"categorical,omitempty"`
}

// Validate implements the check.Validatable interface.
func (h Hyperparameter) Validate() []error {
	count := 0
	for _, set := range []bool{
		h.Const != nil, h.Int != nil, h.Double != nil, h.Log != nil, h.Categorical != nil,
	} {
		if set {
			count++
		}
	}
	return []error{
		check.True(count == 1, "exactly one hyperparameter variant must be set, got %d", count),
	}
}

// ConstHyperparameter is a constant.
type ConstHyperparameter struct {
	Val interface{} `json:"val"`
}

// IntHyperparameter is an interval of ints, inclusive on both ends.
type IntHyperparameter struct {
	Minval int `json:"minval"`
	Maxval int `json:"maxval"`
}

// Validate implements the check.Validatable interface.
func (p IntHyperparameter) Validate() []error {
	return []error{
		check.GreaterThan(p.Maxval, p.Minval, "maxval must be greater than minval"),
	}
}

// DoubleHyperparameter is an interval of float64s.
type DoubleHyperparameter struct {
	Minval float64 `json:"minval"`
	Maxval float64 `json:"maxval"`
}

// Validate implements the check.Validatable interface.
func (p DoubleHyperparameter) Validate() []error {
	return []error{
		check.GreaterThan(p.Maxval, p.Minval, "maxval must be greater than minval"),
	}
}

// LogHyperparameter is an interval of exponents; sampled values are
// Base**x for x uniform in [Minval, Maxval].
type LogHyperparameter struct {
	Minval float64 `json:"minval"`
	Maxval float64 `json:"maxval"`
	Base   float64 `json:"base"`
}

// Validate implements the check.Validatable interface.
func (p LogHyperparameter) Validate() []error {
	return []error{
		check.GreaterThan(p.Maxval, p.Minval, "maxval must be greater than minval"),
		check.GreaterThan(p.Base, 0.0, "base must be positive"),
	}
}

// CategoricalHyperparameter is a discrete set of values.
type CategoricalHyperparameter struct {
	Vals []interface{} `json:"vals"`
}

// Validate implements the check.Validatable interface.
func (p CategoricalHyperparameter) Validate() []error {
	return []error{
		check.GreaterThan(len(p.Vals), 0, "categorical needs at least one value"),
	}
}

// Error reports a value outside its declared hyperparameter domain.
type Error struct {
	Name   string
	Value  interface{}
	Reason string
}

func (e Error) Error() string {
	return fmt.Sprintf("hyperparameter %q: value %v %s", e.Name, e.Value, e.Reason)
}

// ParseSpace parses and validates a search space from YAML or JSON bytes.
func ParseSpace(bs []byte) (Space, error) {
	var s Space
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal search space")
	}
	if err := check.Validate(s); err != nil {
		return nil, errors.Wrap(err, "invalid search space")
	}
	return s, nil
}
