// Package surrogate holds the observation dataset and the probabilistic
// models fit to it: the KDE density-ratio model and the independent and joint
// Gaussian-process models. Models consume configurations only through their
// unit-hypercube encoding.
package surrogate

import (
	"sort"

	"github.com/kestrel-ai/kestrel/pkg/model"
)

// Row is one (configuration, resource level, metric) observation. Pending
// rows belong to trials that have started but not yet reported at the level;
// their metric is meaningless until the pending flag clears.
type Row struct {
	RequestID model.RequestID
	X         []float64
	Level     int
	Metric    float64
	Pending   bool
}

type pendingKey struct {
	requestID model.RequestID
	level     int
}

// Dataset is the append-only collection of observations shared by the
// suggestion engine and the surrogate models. Only the scheduler mutates it,
// under its own lock; readers take slices by level.
type Dataset struct {
	rows    []Row
	pending map[pendingKey]int
	version uint64
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{pending: map[pendingKey]int{}}
}

// AddPending records that a trial started evaluating toward a level, so
// models can fantasize its outcome instead of re-exploring the same point.
func (d *Dataset) AddPending(requestID model.RequestID, x []float64, level int) {
	key := pendingKey{requestID: requestID, level: level}
	if _, ok := d.pending[key]; ok {
		return
	}
	d.pending[key] = len(d.rows)
	d.rows = append(d.rows, Row{RequestID: requestID, X: x, Level: level, Pending: true})
	d.version++
}

// Observe resolves the pending row for (trial, level) with its metric, or
// appends a fresh row when no pending row exists (a report can arrive for a
// level the suggestion path never registered, e.g. forced failures).
func (d *Dataset) Observe(requestID model.RequestID, x []float64, level int, metric float64) {
	key := pendingKey{requestID: requestID, level: level}
	if i, ok := d.pending[key]; ok {
		d.rows[i].Metric = metric
		d.rows[i].Pending = false
		delete(d.pending, key)
	} else {
		d.rows = append(d.rows, Row{RequestID: requestID, X: x, Level: level, Metric: metric})
	}
	d.version++
}

// DropPending removes the pending row for (trial, level) without an
// observation, for trials that terminate before reporting.
func (d *Dataset) DropPending(requestID model.RequestID, level int) {
	key := pendingKey{requestID: requestID, level: level}
	i, ok := d.pending[key]
	if !ok {
		return
	}
	d.rows = append(d.rows[:i], d.rows[i+1:]...)
	delete(d.pending, key)
	for k, j := range d.pending {
		if j > i {
			d.pending[k] = j - 1
		}
	}
	d.version++
}

// Version increases with every mutation; models refit only when it moved.
func (d *Dataset) Version() uint64 { return d.version }

// Len returns the number of rows, pending included.
func (d *Dataset) Len() int { return len(d.rows) }

// Observed returns the non-pending rows at a level.
func (d *Dataset) Observed(level int) []Row {
	var rows []Row
	for _, r := range d.rows {
		if r.Level == level && !r.Pending {
			rows = append(rows, r)
		}
	}
	return rows
}

// PendingAt returns the pending rows at a level.
func (d *Dataset) PendingAt(level int) []Row {
	var rows []Row
	for _, r := range d.rows {
		if r.Level == level && r.Pending {
			rows = append(rows, r)
		}
	}
	return rows
}

// Levels returns the distinct resource levels present, ascending.
func (d *Dataset) Levels() []int {
	seen := map[int]bool{}
	for _, r := range d.rows {
		seen[r.Level] = true
	}
	levels := make([]int, 0, len(seen))
	for level := range seen {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}
