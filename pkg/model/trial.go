// Package model holds the data model shared by the bracket, surrogate,
// searcher, and scheduler packages.
package model

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// RequestID links every operation on a trial back to the request that created
// it.
type RequestID uuid.UUID

// NewRequestID returns a new request ID using the provided reader.
func NewRequestID(r io.Reader) RequestID {
	var u uuid.UUID
	if _, err := io.ReadFull(r, u[:]); err != nil {
		// We always read from an `nprand.State`, which does not return an
		// error in practice.
		panic(fmt.Sprintf("unexpected error creating request ID: %v", err))
	}

	// Ensure that the underlying UUID is a valid UUIDv4.
	u[6] = (u[6] & 0x0f) | 0x40 // Version 4.
	u[8] = (u[8] & 0x3f) | 0x80 // Variant is 10.
	return RequestID(u)
}

// MarshalText returns the marshaled form of this ID, which is the string form
// of the underlying UUID.
func (r RequestID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(r).String()), nil
}

// UnmarshalText unmarshals this ID from a text representation.
func (r *RequestID) UnmarshalText(data []byte) error {
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return err
	}
	*r = RequestID(u)
	return nil
}

// Before determines whether this ID is strictly lexicographically less than
// another one, comparing the underlying byte sequences.
func (r RequestID) Before(s RequestID) bool {
	return bytes.Compare(r[:], s[:]) == -1
}

func (r RequestID) String() string {
	return uuid.UUID(r).String()
}

// Configuration is a mapping from hyperparameter name to sampled value. A
// configuration is immutable once created and owned by a single trial;
// mutating searchers copy before modifying.
type Configuration map[string]interface{}

// Clone returns a shallow copy of the configuration. Values are scalars, so a
// shallow copy is a full copy.
func (c Configuration) Clone() Configuration {
	clone := make(Configuration, len(c))
	for k, v := range c {
		clone[k] = v
	}
	return clone
}

// TrialStatus is the lifecycle state of a trial.
type TrialStatus string

// The set of trial lifecycle states.
const (
	TrialPending   TrialStatus = "PENDING"
	TrialRunning   TrialStatus = "RUNNING"
	TrialPaused    TrialStatus = "PAUSED"
	TrialStopped   TrialStatus = "STOPPED"
	TrialPromoted  TrialStatus = "PROMOTED"
	TrialCompleted TrialStatus = "COMPLETED"
	TrialFailed    TrialStatus = "FAILED"
)

// Terminal reports whether no further reports are expected for a trial in
// this status.
func (s TrialStatus) Terminal() bool {
	switch s {
	case TrialStopped, TrialCompleted, TrialFailed:
		return true
	default:
		return false
	}
}

// Decision is the verdict the rung system hands back for a metric report.
type Decision int

// The possible rung decisions for a reported metric.
const (
	Continue Decision = iota
	Promote
	Stop
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "CONTINUE"
	case Promote:
		return "PROMOTE"
	case Stop:
		return "STOP"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// CheckpointRef identifies the checkpoint a trial should resume from. The
// checkpoint itself is owned by the execution backend; the core only records
// whether one should be reused.
type CheckpointRef struct {
	RequestID RequestID `json:"request_id"`
	Level     int       `json:"level"`
}

// Observation is a single (resource level, metric) report from a trial.
type Observation struct {
	Level  int     `json:"level"`
	Metric float64 `json:"metric"`
}

// Trial is the scheduler-side record of one configuration under evaluation.
type Trial struct {
	RequestID    RequestID
	Config       Configuration
	Status       TrialStatus
	Level        int
	Observations []Observation

	// Parent is set for configurations produced by an evolutionary step.
	Parent *RequestID
	// FreshStart marks a trial whose configuration was modified on promotion;
	// it must start training from scratch and forfeits checkpoint reuse.
	FreshStart bool
}

// Checkpoint returns the checkpoint reference the trial would resume from, or
// nil if it must start fresh.
func (t *Trial) Checkpoint() *CheckpointRef {
	if t.FreshStart || len(t.Observations) == 0 {
		return nil
	}
	last := t.Observations[len(t.Observations)-1]
	return &CheckpointRef{RequestID: t.RequestID, Level: last.Level}
}
