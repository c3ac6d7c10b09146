package internal

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/kestrel-ai/kestrel/pkg/check"
	"github.com/kestrel-ai/kestrel/pkg/logger"
	"github.com/kestrel-ai/kestrel/pkg/tune"
)

// DefaultConfig returns the default configuration of the tuner process.
func DefaultConfig() *Config {
	return &Config{
		ConfigFile: "",
		Log:        *logger.DefaultConfig(),
		Port:       8080,
		Workers:    4,
		Tuning:     tune.DefaultConfig(),
		Benchmark:  DefaultBenchmarkConfig(),
	}
}

// Config is the configuration of the tuner process.
type Config struct {
	ConfigFile string          `json:"config_file"`
	Log        logger.Config   `json:"log"`
	Port       int             `json:"port"`
	Workers    int             `json:"workers"`
	Tuning     tune.Config     `json:"tuning"`
	Benchmark  BenchmarkConfig `json:"benchmark"`
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	return []error{
		check.GreaterThan(c.Workers, 0, "at least one worker is required"),
		check.BetweenInclusive(c.Port, 0, 65535, "port must be a valid TCP port"),
	}
}

// Printable returns a JSON string of the configuration suitable for logging.
func (c Config) Printable() ([]byte, error) {
	bs, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert configuration to JSON")
	}
	return bs, nil
}
