package tune

import (
	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/kestrel-ai/kestrel/pkg/check"
	"github.com/kestrel-ai/kestrel/pkg/configspace"
	"github.com/kestrel-ai/kestrel/pkg/model"
)

// Policy selects how an idle worker is matched to a bracket.
type Policy string

// The supported bracket-selection policies.
const (
	RoundRobin  Policy = "round_robin"
	LeastLoaded Policy = "least_loaded"
)

// Config is the complete tuning configuration: the search space, the rung
// ladders, and the suggestion strategy. An empty policy means round-robin.
type Config struct {
	Seed   uint32 `json:"seed"`
	Policy Policy `json:"policy"`

	Hyperparameters configspace.Space     `json:"hyperparameters"`
	Brackets        []model.BracketConfig `json:"brackets"`
	Searcher        model.SearcherConfig  `json:"searcher"`
}

// DefaultConfig returns the configuration defaults merged under parsed files.
func DefaultConfig() Config {
	return Config{Policy: RoundRobin}
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	return []error{
		check.Contains(string(c.Policy),
			[]interface{}{"", string(RoundRobin), string(LeastLoaded)},
			"policy must be round_robin or least_loaded"),
		check.GreaterThan(len(c.Brackets), 0, "at least one bracket is required"),
		check.GreaterThan(len(c.Hyperparameters), 0, "the search space cannot be empty"),
	}
}

// ParseConfig parses and validates a Config from YAML or JSON bytes.
func ParseConfig(bs []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(bs, &config); err != nil {
		return Config{}, errors.Wrap(err, "cannot unmarshal tuning configuration")
	}
	if err := check.Validate(config); err != nil {
		return Config{}, errors.Wrap(err, "invalid tuning configuration")
	}
	return config, nil
}
