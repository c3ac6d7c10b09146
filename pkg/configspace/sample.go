package configspace

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"

	"github.com/kestrel-ai/kestrel/pkg/model"
	"github.com/kestrel-ai/kestrel/pkg/nprand"
)

// Sample draws a configuration uniformly from the space (log domains are
// uniform in the exponent).
func (s Space) Sample(rand *nprand.State) model.Configuration {
	results := make(model.Configuration, len(s))
	s.Each(func(name string, param Hyperparameter) {
		results[name] = sampleOne(param, rand)
	})
	return results
}

func sampleOne(h Hyperparameter, rand *nprand.State) interface{} {
	switch {
	case h.Const != nil:
		return h.Const.Val
	case h.Int != nil:
		p := h.Int
		return p.Minval + rand.Intn(p.Maxval-p.Minval+1)
	case h.Double != nil:
		p := h.Double
		return rand.Uniform(p.Minval, p.Maxval)
	case h.Log != nil:
		p := h.Log
		return math.Pow(p.Base, rand.Uniform(p.Minval, p.Maxval))
	case h.Categorical != nil:
		p := h.Categorical
		return p.Vals[rand.Intn(len(p.Vals))]
	default:
		panic(fmt.Sprintf("unexpected hyperparameter type: %+v", h))
	}
}

// Encode maps a configuration into the unit hypercube in sorted name order.
// Constant hyperparameters contribute no dimension. Surrogate models only
// ever see configurations through this encoding.
func (s Space) Encode(config model.Configuration) ([]float64, error) {
	var vec []float64
	var encErr error
	s.Each(func(name string, param Hyperparameter) {
		if param.Const != nil || encErr != nil {
			return
		}
		value, ok := config[name]
		if !ok {
			encErr = Error{Name: name, Value: nil, Reason: "is missing from the configuration"}
			return
		}
		x, err := encodeOne(name, param, value)
		if err != nil {
			encErr = err
			return
		}
		vec = append(vec, x)
	})
	if encErr != nil {
		return nil, encErr
	}
	return vec, nil
}

func encodeOne(name string, h Hyperparameter, value interface{}) (float64, error) {
	switch {
	case h.Int != nil:
		p := h.Int
		v, ok := asFloat(value)
		if !ok || v < float64(p.Minval) || v > float64(p.Maxval) {
			return 0, Error{Name: name, Value: value, Reason: "is outside the int domain"}
		}
		return (v - float64(p.Minval)) / float64(p.Maxval-p.Minval), nil
	case h.Double != nil:
		p := h.Double
		v, ok := asFloat(value)
		if !ok || v < p.Minval || v > p.Maxval {
			return 0, Error{Name: name, Value: value, Reason: "is outside the double domain"}
		}
		return (v - p.Minval) / (p.Maxval - p.Minval), nil
	case h.Log != nil:
		p := h.Log
		v, ok := asFloat(value)
		if !ok || v <= 0 {
			return 0, Error{Name: name, Value: value, Reason: "is outside the log domain"}
		}
		exp := math.Log(v) / math.Log(p.Base)
		if exp < p.Minval-1e-9 || exp > p.Maxval+1e-9 {
			return 0, Error{Name: name, Value: value, Reason: "is outside the log domain"}
		}
		return clamp((exp-p.Minval)/(p.Maxval-p.Minval), 0, 1), nil
	case h.Categorical != nil:
		p := h.Categorical
		for i, candidate := range p.Vals {
			if candidate == value {
				if len(p.Vals) == 1 {
					return 0, nil
				}
				return float64(i) / float64(len(p.Vals)-1), nil
			}
		}
		return 0, Error{Name: name, Value: value, Reason: "is not one of the categorical values"}
	default:
		return 0, Error{Name: name, Value: value, Reason: "has no encodable domain"}
	}
}

// ValidateConfig checks every value of the configuration against its domain.
func (s Space) ValidateConfig(config model.Configuration) error {
	var err error
	s.Each(func(name string, param Hyperparameter) {
		if err != nil || param.Const != nil {
			return
		}
		if _, encErr := encodeOne(name, param, config[name]); encErr != nil {
			err = encErr
		}
	})
	return err
}

// Perturb moves a value toward a donor's value scaled by the mutation factor,
// staying inside the domain. Categorical domains adopt the donor value with
// probability equal to the factor; constants are returned unchanged.
func (s Space) Perturb(
	name string, value, donor interface{}, factor float64, rand *nprand.State,
) (interface{}, error) {
	h, ok := s[name]
	if !ok {
		return nil, Error{Name: name, Value: value, Reason: "is not in the search space"}
	}
	switch {
	case h.Const != nil:
		return value, nil
	case h.Int != nil:
		p := h.Int
		v, vok := asFloat(value)
		d, dok := asFloat(donor)
		if !vok || !dok {
			return nil, Error{Name: name, Value: value, Reason: "is not numeric"}
		}
		mutated := int(math.Round(v + factor*(d-v)))
		return clamp(mutated, p.Minval, p.Maxval), nil
	case h.Double != nil:
		p := h.Double
		v, vok := asFloat(value)
		d, dok := asFloat(donor)
		if !vok || !dok {
			return nil, Error{Name: name, Value: value, Reason: "is not numeric"}
		}
		return clamp(v+factor*(d-v), p.Minval, p.Maxval), nil
	case h.Log != nil:
		p := h.Log
		v, vok := asFloat(value)
		d, dok := asFloat(donor)
		if !vok || !dok || v <= 0 || d <= 0 {
			return nil, Error{Name: name, Value: value, Reason: "is not positive"}
		}
		logBase := math.Log(p.Base)
		exp := math.Log(v)/logBase + factor*(math.Log(d)/logBase-math.Log(v)/logBase)
		return math.Pow(p.Base, clamp(exp, p.Minval, p.Maxval)), nil
	case h.Categorical != nil:
		if rand.UnitInterval() < factor {
			return donor, nil
		}
		return value, nil
	default:
		return nil, Error{Name: name, Value: value, Reason: "has no perturbable domain"}
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func clamp[T constraints.Ordered](val, minval, maxval T) T {
	switch {
	case val < minval:
		return minval
	case val > maxval:
		return maxval
	default:
		return val
	}
}
