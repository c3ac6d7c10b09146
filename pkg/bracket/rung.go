package bracket

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrel-ai/kestrel/pkg/model"
)

// worstMetric stands in for NaN and failure reports. Metrics are normalized
// so that smaller is better before they reach a rung.
const worstMetric = math.MaxFloat64

type trialMetric struct {
	RequestID model.RequestID `json:"request_id"`
	Metric    float64         `json:"metric"`
	Promoted  bool            `json:"promoted"`
	// Excluded records (NaN or failed reports) never enter a promoted set.
	Excluded bool `json:"excluded"`
}

// rung tracks the trials registered at one resource level. Metrics are kept
// sorted ascending; the insertion point goes after equal values, so earlier
// reporters stay ahead and win ties.
type rung struct {
	Level   int           `json:"level"`
	Metrics []trialMetric `json:"metrics"`

	// expected counts the trials assigned or promoted into this rung; a sync
	// rung resolves only after all of them have reported.
	expected int
	// resolved marks a sync rung whose promotions are settled.
	resolved bool

	// pending holds started-but-not-reported trials and their start times.
	pending  map[model.RequestID]time.Time
	reported map[model.RequestID]bool
}

func newRung(level int) *rung {
	return &rung{
		Level:    level,
		pending:  map[model.RequestID]time.Time{},
		reported: map[model.RequestID]bool{},
	}
}

// start registers a trial as running toward this rung's level.
func (r *rung) start(requestID model.RequestID, now time.Time) {
	r.pending[requestID] = now
}

// insert records a metric for a trial, keeping the metrics sorted. A metric
// that is NaN is coerced to the worst value and excluded from promotion. A
// second report for the same trial at the same rung violates the rung
// invariant and is rejected.
func (r *rung) insert(requestID model.RequestID, metric float64) (int, error) {
	if r.reported[requestID] {
		return 0, errors.Errorf("trial %s already has a record at rung %d", requestID, r.Level)
	}
	excluded := false
	if math.IsNaN(metric) || metric == worstMetric {
		metric = worstMetric
		excluded = true
	}

	insertIndex := sort.Search(
		len(r.Metrics),
		func(i int) bool { return r.Metrics[i].Metric > metric },
	)
	r.Metrics = append(r.Metrics, trialMetric{})
	copy(r.Metrics[insertIndex+1:], r.Metrics[insertIndex:])
	r.Metrics[insertIndex] = trialMetric{
		RequestID: requestID,
		Metric:    metric,
		Excluded:  excluded,
	}

	delete(r.pending, requestID)
	r.reported[requestID] = true
	return insertIndex, nil
}

// promotionsAsync compares a fresh arrival against the reports seen so far
// and returns the IDs to promote immediately, without waiting for siblings.
// Growing the rung by one report can raise the number of trials that belong
// in the top 1/divisor by at most one; that newly uncovered slot goes either
// to the arrival or to the best not-yet-promoted record.
func (r *rung) promotionsAsync(
	requestID model.RequestID, metric float64, divisor float64,
) []model.RequestID {
	oldNumPromote := int(float64(len(r.Metrics)-1) / divisor)
	numPromote := int(float64(len(r.Metrics)) / divisor)

	idx := r.indexOf(requestID)
	if idx < 0 {
		return nil
	}
	arrival := &r.Metrics[idx]

	switch {
	case idx < numPromote && !arrival.Excluded:
		arrival.Promoted = true
		return []model.RequestID{requestID}
	case numPromote != oldNumPromote:
		// Some other trial should occupy the uncovered promotion slot,
		// unless it was promoted already or is excluded.
		for i := 0; i < numPromote; i++ {
			t := &r.Metrics[i]
			if !t.Promoted && !t.Excluded {
				t.Promoted = true
				return []model.RequestID{t.RequestID}
			}
		}
		return nil
	default:
		return nil
	}
}

// resolveSync resolves a fully-reported sync rung: the top floor(N/divisor)
// records (or the configured quota) promote, everything else stops. Excluded
// records never promote; a rung with fewer than divisor reports promotes
// nothing.
func (r *rung) resolveSync(divisor float64, quota int) (promote, stop []model.RequestID) {
	r.resolved = true
	numPromote := int(float64(len(r.Metrics)) / divisor)
	if quota > 0 {
		numPromote = quota
	}
	if len(r.Metrics) < int(divisor) {
		numPromote = 0
	}

	for i := range r.Metrics {
		t := &r.Metrics[i]
		if len(promote) < numPromote && !t.Excluded {
			t.Promoted = true
			promote = append(promote, t.RequestID)
		} else {
			stop = append(stop, t.RequestID)
		}
	}
	return promote, stop
}

// stale returns the pending trials whose start precedes the grace cutoff.
// Only meaningful once a sibling has reported, since an empty rung has
// nothing to resolve.
func (r *rung) stale(cutoff time.Time) []model.RequestID {
	if len(r.Metrics) == 0 {
		return nil
	}
	var ids []model.RequestID
	for id, started := range r.pending {
		if started.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *rung) indexOf(requestID model.RequestID) int {
	for i := range r.Metrics {
		if r.Metrics[i].RequestID == requestID {
			return i
		}
	}
	return -1
}

func (r *rung) pendingIDs() []model.RequestID {
	ids := make([]model.RequestID, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Before(ids[j]) })
	return ids
}

// complete reports whether every expected trial has reported.
func (r *rung) complete() bool {
	return r.expected > 0 && len(r.Metrics) >= r.expected
}
