package model

import (
	"time"

	"github.com/kestrel-ai/kestrel/pkg/check"
)

// BracketMode selects how a rung resolves promotions.
type BracketMode string

// The supported bracket modes.
const (
	// SyncMode resolves a rung only once every entrant has reported.
	SyncMode BracketMode = "sync"
	// AsyncMode decides each arrival against the reports seen so far.
	AsyncMode BracketMode = "async"
)

// BracketConfig configures one run of the rung ladder. Either Rungs gives the
// ladder explicitly or it is derived geometrically from MinResource, Divisor,
// and NumRungs.
type BracketConfig struct {
	Mode BracketMode `json:"mode"`

	Rungs       []int   `json:"rungs,omitempty"`
	MinResource int     `json:"min_resource,omitempty"`
	NumRungs    int     `json:"num_rungs,omitempty"`
	Divisor     float64 `json:"divisor"`

	// PromoteQuota overrides the floor(N/Divisor) promotion count for sync
	// rungs when positive.
	PromoteQuota int `json:"promote_quota,omitempty"`

	// MaxTrials bounds the number of trials entering the bottom rung.
	MaxTrials int `json:"max_trials"`

	// GracePeriod bounds how long a sync rung waits on missing sibling
	// reports before treating them as failures. Zero means wait forever.
	GracePeriod time.Duration `json:"grace_period,omitempty"`
}

// Validate implements the check.Validatable interface. A structurally invalid
// bracket is rejected here, never at runtime.
func (c BracketConfig) Validate() []error {
	errs := []error{
		check.Contains(string(c.Mode), []interface{}{string(SyncMode), string(AsyncMode)},
			"mode must be sync or async"),
		check.GreaterThanOrEqualTo(c.Divisor, 2.0, "divisor must be >= 2"),
		check.GreaterThanOrEqualTo(c.PromoteQuota, 0, "promote_quota must be >= 0"),
		check.GreaterThan(c.MaxTrials, 0, "max_trials must be > 0"),
		check.GreaterThanOrEqualTo(int64(c.GracePeriod), int64(0), "grace_period must be >= 0"),
	}
	if len(c.Rungs) > 0 {
		errs = append(errs, check.GreaterThan(c.Rungs[0], 0, "rung levels must be positive"))
		for i := 1; i < len(c.Rungs); i++ {
			errs = append(errs, check.GreaterThan(c.Rungs[i], c.Rungs[i-1],
				"rung levels must be strictly increasing"))
		}
	} else {
		errs = append(errs,
			check.GreaterThan(c.MinResource, 0, "min_resource must be > 0"),
			check.GreaterThan(c.NumRungs, 0, "num_rungs must be > 0"),
		)
	}
	return errs
}

// RungLevels returns the resource levels of the ladder, lowest first.
func (c BracketConfig) RungLevels() []int {
	if len(c.Rungs) > 0 {
		levels := make([]int, len(c.Rungs))
		copy(levels, c.Rungs)
		return levels
	}
	levels := make([]int, 0, c.NumRungs)
	level := float64(c.MinResource)
	for i := 0; i < c.NumRungs; i++ {
		levels = append(levels, int(level))
		level *= c.Divisor
	}
	return levels
}

// RandomSearcherConfig configures pure random suggestion.
type RandomSearcherConfig struct{}

// Validate implements the check.Validatable interface.
func (c RandomSearcherConfig) Validate() []error { return nil }

// KDESearcherConfig configures the density-ratio (TPE/BOHB style) searcher.
type KDESearcherConfig struct {
	// MinSamples is the minimum number of observations a rung needs before
	// both densities can be fit there.
	MinSamples int `json:"min_samples"`
	// TopQuantile is the fraction of observations forming the "good" density.
	TopQuantile float64 `json:"top_quantile"`
	// CandidatePool is the number of candidates scored per suggestion.
	CandidatePool int `json:"candidate_pool"`
}

// Validate implements the check.Validatable interface.
func (c KDESearcherConfig) Validate() []error {
	return []error{
		check.GreaterThan(c.MinSamples, 1, "min_samples must be > 1"),
		check.BetweenInclusive(c.TopQuantile, 0.0, 1.0, "top_quantile must be in [0, 1]"),
		check.GreaterThan(c.CandidatePool, 0, "candidate_pool must be > 0"),
	}
}

// GPSearcherConfig configures Gaussian-process based suggestion.
type GPSearcherConfig struct {
	CandidatePool int `json:"candidate_pool"`
	// NoiseVariance is added to the kernel diagonal for numerical stability.
	NoiseVariance float64 `json:"noise_variance,omitempty"`
	// LengthScale is the RBF kernel length scale over the unit hypercube.
	LengthScale float64 `json:"length_scale,omitempty"`
	// ResourceScale is the length scale of the resource-correlation kernel
	// used by the joint model.
	ResourceScale float64 `json:"resource_scale,omitempty"`
}

// Validate implements the check.Validatable interface.
func (c GPSearcherConfig) Validate() []error {
	return []error{
		check.GreaterThan(c.CandidatePool, 0, "candidate_pool must be > 0"),
		check.GreaterThanOrEqualTo(c.NoiseVariance, 0.0, "noise_variance must be >= 0"),
		check.GreaterThanOrEqualTo(c.LengthScale, 0.0, "length_scale must be >= 0"),
		check.GreaterThanOrEqualTo(c.ResourceScale, 0.0, "resource_scale must be >= 0"),
	}
}

// DEHBSearcherConfig configures evolutionary configuration modification.
type DEHBSearcherConfig struct {
	MutationFactor float64 `json:"mutation_factor"`
	CrossoverProb  float64 `json:"crossover_prob"`
}

// Validate implements the check.Validatable interface.
func (c DEHBSearcherConfig) Validate() []error {
	return []error{
		check.GreaterThan(c.MutationFactor, 0.0, "mutation_factor must be > 0"),
		check.BetweenInclusive(c.CrossoverProb, 0.0, 1.0, "crossover_prob must be in [0, 1]"),
	}
}

// SearcherConfig is a sum type over the suggestion strategies. Exactly one
// variant must be set.
type SearcherConfig struct {
	Metric          string `json:"metric"`
	SmallerIsBetter bool   `json:"smaller_is_better"`

	RandomConfig        *RandomSearcherConfig `json:"random,omitempty"`
	KDEConfig           *KDESearcherConfig    `json:"kde,omitempty"`
	GPIndependentConfig *GPSearcherConfig     `json:"gp_independent,omitempty"`
	GPJointConfig       *GPSearcherConfig     `json:"gp_joint,omitempty"`
	DEHBConfig          *DEHBSearcherConfig   `json:"dehb,omitempty"`
}

// Validate implements the check.Validatable interface.
func (c SearcherConfig) Validate() []error {
	count := 0
	for _, set := range []bool{
		c.RandomConfig != nil,
		c.KDEConfig != nil,
		c.GPIndependentConfig != nil,
		c.GPJointConfig != nil,
		c.DEHBConfig != nil,
	} {
		if set {
			count++
		}
	}
	return []error{
		check.True(count == 1, "exactly one searcher variant must be set, got %d", count),
		check.NotEmpty(c.Metric, "metric must be set"),
	}
}
