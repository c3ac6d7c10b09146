// Package tune contains the top-level scheduler: it multiplexes worker
// requests across brackets, routes metric reports, and keeps the observation
// dataset the suggestion engine reads.
package tune

import (
	"math"
	"sync"
	"time"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-ai/kestrel/pkg/bracket"
	"github.com/kestrel-ai/kestrel/pkg/check"
	"github.com/kestrel-ai/kestrel/pkg/configspace"
	"github.com/kestrel-ai/kestrel/pkg/model"
	"github.com/kestrel-ai/kestrel/pkg/nprand"
	"github.com/kestrel-ai/kestrel/pkg/searcher"
	"github.com/kestrel-ai/kestrel/pkg/surrogate"
)

// Assignment is the work handed to an idle worker: evaluate the
// configuration up to the resource level, resuming from the checkpoint when
// one is carried.
type Assignment struct {
	RequestID  model.RequestID
	Config     model.Configuration
	Level      int
	Checkpoint *model.CheckpointRef
}

type startedTrial struct {
	id model.RequestID
	at time.Time
}

func startOrder(a, b interface{}) int {
	t1, t2 := a.(startedTrial), b.(startedTrial)
	switch {
	case t1.at.Before(t2.at):
		return -1
	case t2.at.Before(t1.at):
		return 1
	case t1.id.Before(t2.id):
		return -1
	case t2.id.Before(t1.id):
		return 1
	default:
		return 0
	}
}

// Scheduler is the single logical decision maker. All mutating entry points
// serialize on one mutex, so worker-completion callbacks may call in
// concurrently.
type Scheduler struct {
	mu sync.Mutex

	config  Config
	space   configspace.Space
	rand    *nprand.State
	dataset *surrogate.Dataset
	engine  *searcher.Engine
	logger  *log.Entry

	brackets     []*bracket.Bracket
	trials       map[model.RequestID]*model.Trial
	trialBracket map[model.RequestID]int

	// byStart orders non-terminal trials by start time for stable
	// introspection and stale scans.
	byStart *treeset.Set
	starts  map[model.RequestID]time.Time

	workers     map[string]model.RequestID
	trialWorker map[model.RequestID]string

	next  int
	clock func() time.Time
}

// NewScheduler validates the configuration and builds the scheduler with its
// brackets, dataset, and suggestion engine.
func NewScheduler(config Config) (*Scheduler, error) {
	if err := check.Validate(config); err != nil {
		return nil, errors.Wrap(err, "invalid tuning configuration")
	}

	brackets := make([]*bracket.Bracket, 0, len(config.Brackets))
	for i, bc := range config.Brackets {
		b, err := bracket.New(i, bc)
		if err != nil {
			return nil, err
		}
		brackets = append(brackets, b)
	}

	rand := nprand.New(config.Seed)
	dataset := surrogate.NewDataset()
	return &Scheduler{
		config:       config,
		space:        config.Hyperparameters,
		rand:         rand,
		dataset:      dataset,
		engine:       searcher.New(config.Hyperparameters, config.Searcher, rand, dataset),
		logger:       log.WithField("component", "scheduler"),
		brackets:     brackets,
		trials:       map[model.RequestID]*model.Trial{},
		trialBracket: map[model.RequestID]int{},
		byStart:      treeset.NewWith(startOrder),
		starts:       map[model.RequestID]time.Time{},
		workers:      map[string]model.RequestID{},
		trialWorker:  map[model.RequestID]string{},
		clock:        time.Now,
	}, nil
}

// SuggestTrial supplies work to an idle worker: a pending promotion if one
// resolved, otherwise a fresh configuration from the suggestion engine.
// ErrNoPendingWork means the worker should retry after the next report or
// shut down if the search is finished.
func (s *Scheduler) SuggestTrial(workerID string) (Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	s.forceStale(now)

	for _, i := range s.bracketOrder() {
		b := s.brackets[i]
		if promo, ok := b.NextPromotion(); ok {
			a, err := s.resume(b, i, promo, now)
			if err != nil {
				return Assignment{}, err
			}
			s.bind(workerID, a.RequestID)
			suggestionsTotal.WithLabelValues("promotion").Inc()
			return a, nil
		}
		if b.WantsTrial() {
			a, err := s.create(b, i, now)
			if err != nil {
				return Assignment{}, err
			}
			s.bind(workerID, a.RequestID)
			suggestionsTotal.WithLabelValues("create").Inc()
			return a, nil
		}
	}
	return Assignment{}, ErrNoPendingWork
}

func (s *Scheduler) create(b *bracket.Bracket, idx int, now time.Time) (Assignment, error) {
	config, encoded, err := s.engine.Suggest(b, b.BaseLevel())
	if err != nil {
		return Assignment{}, errors.Wrap(err, "suggestion failed")
	}
	requestID := model.NewRequestID(s.rand)
	if err := b.Assign(requestID, now); err != nil {
		return Assignment{}, err
	}

	trial := &model.Trial{
		RequestID: requestID,
		Config:    config,
		Status:    model.TrialRunning,
		Level:     b.BaseLevel(),
	}
	s.engine.Record(requestID, config)
	s.dataset.AddPending(requestID, encoded, b.BaseLevel())
	s.track(trial, idx, now)

	s.logger.WithFields(log.Fields{
		"bracket": idx, "trial": requestID, "rung": b.BaseLevel(),
	}).Info("created trial")
	return Assignment{RequestID: requestID, Config: config, Level: b.BaseLevel()}, nil
}

func (s *Scheduler) resume(
	b *bracket.Bracket, idx int, promo bracket.Promotion, now time.Time,
) (Assignment, error) {
	parent := s.trials[promo.RequestID]

	if s.engine.Evolutionary() {
		child, changed, err := s.engine.Evolve(b, promo.RequestID, promo.Level)
		if err != nil {
			s.logger.WithError(err).Warn("evolution failed, resuming parent unchanged")
		} else if changed {
			return s.resumeEvolved(b, idx, promo, parent, child, now), nil
		}
	}

	parent.Status = model.TrialRunning
	checkpoint := parent.Checkpoint()
	parent.Level = promo.Level
	if err := b.Resumed(promo.RequestID, promo.Level, now); err != nil {
		return Assignment{}, err
	}
	if encoded, err := s.space.Encode(parent.Config); err == nil {
		s.dataset.AddPending(promo.RequestID, encoded, promo.Level)
	}

	s.logger.WithFields(log.Fields{
		"bracket": idx, "trial": promo.RequestID,
		"from": promo.FromLevel, "to": promo.Level,
	}).Info("promoted trial")
	return Assignment{
		RequestID:  promo.RequestID,
		Config:     parent.Config,
		Level:      promo.Level,
		Checkpoint: checkpoint,
	}, nil
}

// resumeEvolved replaces a promoted parent with its evolved child. The child
// is a new trial with a modified configuration; it starts training from
// scratch and carries no checkpoint reference.
func (s *Scheduler) resumeEvolved(
	b *bracket.Bracket, idx int, promo bracket.Promotion,
	parent *model.Trial, child model.Configuration, now time.Time,
) Assignment {
	childID := model.NewRequestID(s.rand)
	parentID := parent.RequestID
	childTrial := &model.Trial{
		RequestID:  childID,
		Config:     child,
		Status:     model.TrialRunning,
		Level:      promo.Level,
		Parent:     &parentID,
		FreshStart: true,
	}

	parent.Status = model.TrialPromoted
	b.Stopped(parentID)
	s.untrack(parentID)

	_ = b.Resumed(childID, promo.Level, now)
	s.trialBracket[childID] = idx
	s.engine.Record(childID, child)
	s.engine.RegisterChild(childID, parentID, s.normalizedMetricAt(parent, promo.FromLevel))
	if encoded, err := s.space.Encode(child); err == nil {
		s.dataset.AddPending(childID, encoded, promo.Level)
	}
	s.track(childTrial, idx, now)

	s.logger.WithFields(log.Fields{
		"bracket": idx, "parent": parentID, "child": childID, "rung": promo.Level,
	}).Info("evolved promoted configuration")
	return Assignment{RequestID: childID, Config: child, Level: promo.Level}
}

// ReportMetric records a metric for a trial at a rung level and returns the
// rung decision. Reports for unknown or terminal trials surface a
// TrialReportError without touching scheduler state.
func (s *Scheduler) ReportMetric(
	requestID model.RequestID, level int, metric float64,
) (model.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trial, ok := s.trials[requestID]
	if !ok {
		return model.Continue, TrialReportError{RequestID: requestID, Reason: "unknown trial"}
	}
	if trial.Status.Terminal() {
		return model.Continue, TrialReportError{
			RequestID: requestID, Reason: "trial is already " + string(trial.Status)}
	}

	b := s.brackets[s.trialBracket[requestID]]
	norm := s.normalize(metric)
	out, err := b.OnReport(requestID, level, norm)
	if err != nil {
		return model.Continue, TrialReportError{RequestID: requestID, Reason: err.Error()}
	}

	trial.Observations = append(trial.Observations, model.Observation{Level: level, Metric: metric})
	trial.Level = level
	if encoded, encErr := s.space.Encode(trial.Config); encErr == nil {
		s.dataset.Observe(requestID, encoded, level, datasetMetric(norm))
	}
	s.engine.ResolveSelection(requestID, norm)

	s.applyOutcome(b, trial, level, out)
	for _, id := range b.CloseOut() {
		s.stopTrial(id, model.TrialStopped)
	}
	s.unbind(requestID)

	decisionsTotal.WithLabelValues(out.Decision.String()).Inc()
	s.logger.WithFields(log.Fields{
		"trial": requestID, "rung": level, "decision": out.Decision.String(),
	}).Debug("recorded report")
	return out.Decision, nil
}

// TrialExited tells the scheduler a trial reached a terminal status in the
// execution backend. A failure contributes a worst-case metric so the models
// learn to avoid the region; earlier reports remain valid observations.
func (s *Scheduler) TrialExited(requestID model.RequestID, status model.TrialStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trial, ok := s.trials[requestID]
	if !ok {
		return TrialReportError{RequestID: requestID, Reason: "unknown trial"}
	}
	if trial.Status.Terminal() {
		return nil
	}

	switch status {
	case model.TrialFailed:
		s.failTrial(requestID)
	case model.TrialCompleted:
		s.stopTrial(requestID, model.TrialCompleted)
	default:
		return errors.Errorf("unexpected terminal status %s for trial %s", status, requestID)
	}
	return nil
}

// StopTrial stops a trial. Stopping an already stopped trial is a no-op and
// does not alter the observation dataset.
func (s *Scheduler) StopTrial(requestID model.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTrial(requestID, model.TrialStopped)
}

// IsFinished reports whether every bracket has spent its budget and no trial
// or promotion remains outstanding.
func (s *Scheduler) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.brackets {
		if !b.Finished() {
			return false
		}
	}
	return true
}

// Trial returns a snapshot of the trial record.
func (s *Scheduler) Trial(requestID model.RequestID) (model.Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trials[requestID]
	if !ok {
		return model.Trial{}, false
	}
	return *t, true
}

// ActiveTrials returns the non-terminal trials in start order.
func (s *Scheduler) ActiveTrials() []model.RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]model.RequestID, 0, s.byStart.Size())
	it := s.byStart.Iterator()
	for it.Next() {
		ids = append(ids, it.Value().(startedTrial).id)
	}
	return ids
}

// BestTrial returns the trial with the best metric at the highest resource
// level observed so far.
func (s *Scheduler) BestTrial() (model.Trial, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Trial
	bestLevel := -1
	bestMetric := math.Inf(1)
	for _, t := range s.trials {
		for _, obs := range t.Observations {
			norm := s.normalize(obs.Metric)
			if math.IsNaN(norm) {
				continue
			}
			if obs.Level > bestLevel || (obs.Level == bestLevel && norm < bestMetric) {
				best, bestLevel, bestMetric = t, obs.Level, norm
			}
		}
	}
	if best == nil {
		return model.Trial{}, false
	}
	return *best, true
}

func (s *Scheduler) applyOutcome(
	b *bracket.Bracket, reporter *model.Trial, level int, out bracket.Outcome,
) {
	levels := b.Levels()
	top := levels[len(levels)-1]

	for _, id := range out.Promote {
		if t, ok := s.trials[id]; ok && !t.Status.Terminal() {
			t.Status = model.TrialPromoted
		}
	}
	for _, id := range out.Stop {
		status := model.TrialStopped
		if id == reporter.RequestID && level == top {
			status = model.TrialCompleted
		}
		s.stopTrial(id, status)
	}
	if out.Decision == model.Continue && !reporter.Status.Terminal() {
		reporter.Status = model.TrialPaused
	}
}

// failTrial routes a failure through the owning rung as a worst-case report,
// so sync rungs cannot deadlock waiting on the dead trial, then marks the
// trial failed.
func (s *Scheduler) failTrial(requestID model.RequestID) {
	trial := s.trials[requestID]
	b := s.brackets[s.trialBracket[requestID]]

	if encoded, err := s.space.Encode(trial.Config); err == nil {
		s.dataset.Observe(requestID, encoded, trial.Level, math.MaxFloat64)
	}
	if out, err := b.OnReport(requestID, trial.Level, math.NaN()); err == nil {
		// The failing trial gets its own terminal status below, not the
		// generic stop the rung resolution hands out.
		kept := out.Stop[:0]
		for _, id := range out.Stop {
			if id != requestID {
				kept = append(kept, id)
			}
		}
		out.Stop = kept
		s.applyOutcome(b, trial, trial.Level, out)
	}
	s.stopTrial(requestID, model.TrialFailed)
	for _, id := range b.CloseOut() {
		s.stopTrial(id, model.TrialStopped)
	}
}

func (s *Scheduler) stopTrial(requestID model.RequestID, status model.TrialStatus) {
	trial, ok := s.trials[requestID]
	if !ok || trial.Status.Terminal() {
		return
	}
	trial.Status = status
	b := s.brackets[s.trialBracket[requestID]]
	out := b.Stopped(requestID)
	s.dataset.DropPending(requestID, trial.Level)
	s.untrack(requestID)
	s.unbind(requestID)
	// Removing a pending trial can settle its sync rung.
	if len(out.Promote) > 0 || len(out.Stop) > 0 {
		s.applyOutcome(b, trial, trial.Level, out)
	}
}

// forceStale fails trials that stayed pending past their bracket's grace
// period; this is the recovery path for sync rungs deadlocked on a silently
// dead worker.
func (s *Scheduler) forceStale(now time.Time) {
	for i, b := range s.brackets {
		var merr *multierror.Error
		for _, id := range b.Stale(now) {
			merr = multierror.Append(merr, PromotionDeadlockError{BracketID: i, RequestID: id})
			s.failTrial(id)
			forcedFailuresTotal.Inc()
		}
		if err := merr.ErrorOrNil(); err != nil {
			s.logger.WithError(err).Warn("forced stale trials to fail")
		}
	}
}

func (s *Scheduler) bracketOrder() []int {
	n := len(s.brackets)
	order := make([]int, 0, n)
	switch s.config.Policy {
	case LeastLoaded:
		for i := 0; i < n; i++ {
			order = append(order, i)
		}
		// Insertion sort by load; bracket counts stay small.
		for i := 1; i < n; i++ {
			for j := i; j > 0 && s.brackets[order[j]].Load() < s.brackets[order[j-1]].Load(); j-- {
				order[j], order[j-1] = order[j-1], order[j]
			}
		}
	default:
		for i := 0; i < n; i++ {
			order = append(order, (s.next+i)%n)
		}
		s.next = (s.next + 1) % n
	}
	return order
}

func (s *Scheduler) track(trial *model.Trial, bracketIdx int, now time.Time) {
	s.trials[trial.RequestID] = trial
	s.trialBracket[trial.RequestID] = bracketIdx
	s.starts[trial.RequestID] = now
	s.byStart.Add(startedTrial{id: trial.RequestID, at: now})
}

func (s *Scheduler) untrack(requestID model.RequestID) {
	if at, ok := s.starts[requestID]; ok {
		s.byStart.Remove(startedTrial{id: requestID, at: at})
		delete(s.starts, requestID)
	}
}

func (s *Scheduler) bind(workerID string, requestID model.RequestID) {
	s.workers[workerID] = requestID
	s.trialWorker[requestID] = workerID
}

func (s *Scheduler) unbind(requestID model.RequestID) {
	if workerID, ok := s.trialWorker[requestID]; ok {
		delete(s.trialWorker, requestID)
		if s.workers[workerID] == requestID {
			delete(s.workers, workerID)
		}
	}
}

// normalize flips metrics so that smaller is always better internally.
func (s *Scheduler) normalize(metric float64) float64 {
	if s.config.Searcher.SmallerIsBetter {
		return metric
	}
	return -metric
}

// datasetMetric coerces NaN to the worst value before it reaches the models.
func datasetMetric(norm float64) float64 {
	if math.IsNaN(norm) {
		return math.MaxFloat64
	}
	return norm
}

func (s *Scheduler) normalizedMetricAt(trial *model.Trial, level int) float64 {
	for _, obs := range trial.Observations {
		if obs.Level == level {
			return s.normalize(obs.Metric)
		}
	}
	return math.MaxFloat64
}
