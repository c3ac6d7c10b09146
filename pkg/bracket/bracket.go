// Package bracket implements one run of a rung ladder: trial registration,
// synchronous and asynchronous promotion, and the pending bookkeeping that
// model-based suggestion relies on.
package bracket

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrel-ai/kestrel/pkg/check"
	"github.com/kestrel-ai/kestrel/pkg/model"
)

// Outcome describes what a metric report resolved to. Decision applies to the
// reporting trial; Promote and Stop may also name sibling trials whose fate
// was settled by the same report.
type Outcome struct {
	Decision model.Decision
	Promote  []model.RequestID
	Stop     []model.RequestID
}

// Promotion is a resolved promotion waiting for a worker slot.
type Promotion struct {
	RequestID model.RequestID
	// Level is the resource level of the rung the trial is promoted into.
	Level int
	// FromLevel is the level the trial was promoted at; with an unmodified
	// configuration the trial resumes from its checkpoint there.
	FromLevel int
}

// Bracket owns a rung ladder and the lifecycle of the trials inside it.
type Bracket struct {
	ID int

	mode    model.BracketMode
	divisor float64
	quota   int
	grace   time.Duration

	maxTrials int
	rungs     []*rung
	// trialRungs maps each trial to the index of the rung it currently
	// occupies; a trial occupies at most one unresolved rung.
	trialRungs map[model.RequestID]int
	active     map[model.RequestID]bool
	stopped    map[model.RequestID]bool
	entered    int

	promotions []Promotion
}

// New builds a bracket from a validated configuration. Structural problems
// (divisor < 2, non-increasing rungs) are rejected here and never surface at
// runtime.
func New(id int, config model.BracketConfig) (*Bracket, error) {
	if err := check.Validate(config); err != nil {
		return nil, errors.Wrap(err, "invalid bracket configuration")
	}
	levels := config.RungLevels()
	rungs := make([]*rung, 0, len(levels))
	for _, level := range levels {
		rungs = append(rungs, newRung(level))
	}
	return &Bracket{
		ID:         id,
		mode:       config.Mode,
		divisor:    config.Divisor,
		quota:      config.PromoteQuota,
		grace:      config.GracePeriod,
		maxTrials:  config.MaxTrials,
		rungs:      rungs,
		trialRungs: map[model.RequestID]int{},
		active:     map[model.RequestID]bool{},
		stopped:    map[model.RequestID]bool{},
	}, nil
}

// BaseLevel returns the resource level of the bottom rung.
func (b *Bracket) BaseLevel() int { return b.rungs[0].Level }

// Levels returns the rung resource levels, lowest first.
func (b *Bracket) Levels() []int {
	levels := make([]int, len(b.rungs))
	for i, r := range b.rungs {
		levels[i] = r.Level
	}
	return levels
}

// WantsTrial reports whether the bracket still has budget for a new entrant.
func (b *Bracket) WantsTrial() bool {
	return b.entered < b.maxTrials
}

// Load returns the number of non-terminal trials owned by the bracket.
func (b *Bracket) Load() int { return len(b.active) }

// Assign registers a new trial at the bottom rung and marks it running.
func (b *Bracket) Assign(requestID model.RequestID, now time.Time) error {
	if !b.WantsTrial() {
		return errors.Errorf("bracket %d is over its trial budget", b.ID)
	}
	if _, ok := b.trialRungs[requestID]; ok {
		return errors.Errorf("trial %s is already assigned to bracket %d", requestID, b.ID)
	}
	b.entered++
	b.trialRungs[requestID] = 0
	b.active[requestID] = true
	b.rungs[0].expected++
	b.rungs[0].start(requestID, now)
	return nil
}

// Resumed tells the bracket a promoted trial started running toward the
// given level.
func (b *Bracket) Resumed(requestID model.RequestID, level int, now time.Time) error {
	idx := b.rungIndex(level)
	if idx < 0 {
		return errors.Errorf("bracket %d has no rung at level %d", b.ID, level)
	}
	b.trialRungs[requestID] = idx
	b.active[requestID] = true
	b.rungs[idx].start(requestID, now)
	return nil
}

// OnReport records a metric for a trial at a rung level and applies the
// bracket's promotion policy. Metrics arrive normalized so that smaller is
// better; NaN is treated as the worst possible value.
func (b *Bracket) OnReport(
	requestID model.RequestID, level int, metric float64,
) (Outcome, error) {
	idx := b.rungIndex(level)
	if idx < 0 {
		return Outcome{}, errors.Errorf("bracket %d has no rung at level %d", b.ID, level)
	}
	if cur, ok := b.trialRungs[requestID]; !ok || cur != idx {
		return Outcome{}, errors.Errorf(
			"trial %s reported at rung %d of bracket %d but does not occupy it",
			requestID, level, b.ID)
	}
	r := b.rungs[idx]
	if _, err := r.insert(requestID, metric); err != nil {
		return Outcome{}, err
	}

	if idx == len(b.rungs)-1 {
		// Top rung: the trial has nothing left to train toward.
		return b.outcome(requestID, Outcome{Decision: model.Stop, Stop: []model.RequestID{requestID}}), nil
	}

	switch b.mode {
	case model.AsyncMode:
		return b.outcome(requestID, b.reportAsync(requestID, metric, idx)), nil
	default:
		return b.outcome(requestID, b.reportSync(requestID, idx)), nil
	}
}

func (b *Bracket) reportAsync(requestID model.RequestID, metric float64, idx int) Outcome {
	r := b.rungs[idx]
	out := Outcome{Decision: model.Continue}
	for _, id := range r.promotionsAsync(requestID, metric, b.divisor) {
		out.Promote = append(out.Promote, id)
		if id == requestID {
			out.Decision = model.Promote
		}
	}
	return out
}

func (b *Bracket) reportSync(requestID model.RequestID, idx int) Outcome {
	r := b.rungs[idx]
	// Sync rungs resolve only once every entrant of the rung has reported
	// and the bracket has no more trials to feed into it.
	if r.resolved || !r.complete() || (idx == 0 && b.WantsTrial()) {
		return Outcome{Decision: model.Continue}
	}
	promote, stop := r.resolveSync(b.divisor, b.quota)
	out := Outcome{Decision: model.Continue, Promote: promote, Stop: stop}
	for _, id := range promote {
		if id == requestID {
			out.Decision = model.Promote
		}
	}
	for _, id := range stop {
		if id == requestID {
			out.Decision = model.Stop
		}
	}
	return out
}

// outcome translates promote/stop ID sets into bracket state changes and
// queues promotions for idle workers.
func (b *Bracket) outcome(reporter model.RequestID, out Outcome) Outcome {
	for _, id := range out.Promote {
		idx := b.trialRungs[id]
		if idx+1 < len(b.rungs) {
			b.rungs[idx+1].expected++
			b.promotions = append(b.promotions, Promotion{
				RequestID: id,
				Level:     b.rungs[idx+1].Level,
				FromLevel: b.rungs[idx].Level,
			})
		}
	}
	for _, id := range out.Stop {
		b.markStopped(id)
	}
	return out
}

// NextPromotion pops a resolved promotion waiting for a worker, if any.
func (b *Bracket) NextPromotion() (Promotion, bool) {
	if len(b.promotions) == 0 {
		return Promotion{}, false
	}
	p := b.promotions[0]
	b.promotions = b.promotions[1:]
	return p, true
}

// Stopped marks a trial terminal inside the bracket. Stopping an already
// stopped trial has no additional effect. Removing a pending trial can leave
// its sync rung fully reported; in that case the rung resolves now and the
// settled promotions and stops come back in the Outcome.
func (b *Bracket) Stopped(requestID model.RequestID) Outcome {
	idx, occupied := b.trialRungs[requestID]
	already := b.stopped[requestID]
	b.markStopped(requestID)

	if already || !occupied || b.mode != model.SyncMode || idx == len(b.rungs)-1 {
		return Outcome{}
	}
	r := b.rungs[idx]
	if r.resolved || !r.complete() || (idx == 0 && b.WantsTrial()) {
		return Outcome{}
	}
	promote, stop := r.resolveSync(b.divisor, b.quota)
	return b.outcome(requestID, Outcome{Decision: model.Continue, Promote: promote, Stop: stop})
}

func (b *Bracket) markStopped(requestID model.RequestID) {
	if b.stopped[requestID] {
		return
	}
	b.stopped[requestID] = true
	delete(b.active, requestID)
	if idx, ok := b.trialRungs[requestID]; ok {
		r := b.rungs[idx]
		if _, pending := r.pending[requestID]; pending {
			// The trial started toward this rung but will never report.
			delete(r.pending, requestID)
			r.expected--
		} else if i := r.indexOf(requestID); i >= 0 && !r.Metrics[i].Promoted {
			// The trial already reported here; its record must not enter a
			// promoted set when the rung settles later.
			r.Metrics[i].Excluded = true
		}
	}
	// Drop any promotion the trial had queued so its target rung stops
	// expecting a report.
	kept := b.promotions[:0]
	for _, p := range b.promotions {
		if p.RequestID == requestID {
			if idx := b.rungIndex(p.Level); idx >= 0 {
				b.rungs[idx].expected--
			}
			continue
		}
		kept = append(kept, p)
	}
	b.promotions = kept
}

// PendingAt returns the trials started but not yet reporting at the given
// level, in stable order.
func (b *Bracket) PendingAt(level int) []model.RequestID {
	idx := b.rungIndex(level)
	if idx < 0 {
		return nil
	}
	return b.rungs[idx].pendingIDs()
}

// PromotedAt returns the promoted records of the rung below the given level,
// best metric first; these are DEHB's parent pool for that level.
func (b *Bracket) PromotedAt(level int) []model.RequestID {
	idx := b.rungIndex(level)
	if idx <= 0 {
		return nil
	}
	prev := b.rungs[idx-1]
	var ids []model.RequestID
	for _, t := range prev.Metrics {
		if t.Promoted {
			ids = append(ids, t.RequestID)
		}
	}
	return ids
}

// Stale returns trials that have been pending past the bracket's grace
// period. The caller is expected to fail them so sync rungs cannot deadlock
// on a silently dead worker. A zero grace period disables forcing.
func (b *Bracket) Stale(now time.Time) []model.RequestID {
	if b.mode != model.SyncMode || b.grace <= 0 {
		return nil
	}
	cutoff := now.Add(-b.grace)
	var ids []model.RequestID
	for _, r := range b.rungs {
		ids = append(ids, r.stale(cutoff)...)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Before(ids[j]) })
	return ids
}

// CloseOut stops paused trials that can no longer be promoted: once the
// bracket's budget is spent, any rung with no outstanding reports has settled
// its promotions, so its unpromoted records are stopped. Rungs are walked
// bottom up and the walk ends at the first rung still waiting on reports.
func (b *Bracket) CloseOut() []model.RequestID {
	if b.WantsTrial() {
		return nil
	}
	var ids []model.RequestID
	for _, r := range b.rungs[:len(b.rungs)-1] {
		if len(r.pending) > 0 || len(r.Metrics) < r.expected {
			break
		}
		for _, t := range r.Metrics {
			if !t.Promoted && !b.stopped[t.RequestID] {
				ids = append(ids, t.RequestID)
				b.markStopped(t.RequestID)
			}
		}
	}
	return ids
}

// Finished reports whether the bracket has no more work to hand out: its
// budget is spent, nothing is active, and no promotion is queued.
func (b *Bracket) Finished() bool {
	return !b.WantsTrial() && len(b.active) == 0 && len(b.promotions) == 0
}

func (b *Bracket) rungIndex(level int) int {
	for i, r := range b.rungs {
		if r.Level == level {
			return i
		}
	}
	return -1
}
