// Package internal wires the tuning scheduler to a pool of benchmark workers
// and the process-level surfaces around them.
package internal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-ai/kestrel/pkg/check"
	"github.com/kestrel-ai/kestrel/pkg/logger"
	"github.com/kestrel-ai/kestrel/pkg/model"
	"github.com/kestrel-ai/kestrel/pkg/tune"
)

// retryInterval is how long an idle worker waits when the scheduler has no
// work for it yet.
const retryInterval = 50 * time.Millisecond

// Tuner drives a hyperparameter search against the synthetic benchmark with
// a pool of concurrent workers.
type Tuner struct {
	version   string
	config    *Config
	scheduler *tune.Scheduler
	bench     *benchmark
}

// New constructs a Tuner from a validated configuration.
func New(version string, config *Config) (*Tuner, error) {
	if err := check.Validate(config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	scheduler, err := tune.NewScheduler(config.Tuning)
	if err != nil {
		return nil, err
	}
	return &Tuner{
		version:   version,
		config:    config,
		scheduler: scheduler,
		bench: newBenchmark(
			config.Benchmark, config.Tuning.Hyperparameters, config.Tuning.Seed+1),
	}, nil
}

// Run executes the search until every bracket spends its budget or the
// context is canceled. It returns the first worker error, if any.
func (t *Tuner) Run(ctx context.Context) error {
	log.Infof("kestrel %s starting %d workers", t.version, t.config.Workers)

	if t.config.Port > 0 {
		go t.serveMetrics(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < t.config.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error { return t.runWorker(ctx, workerID) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if best, ok := t.scheduler.BestTrial(); ok {
		log.WithFields(log.Fields{
			"trial": best.RequestID, "config": best.Config,
		}).Info("search finished")
	} else {
		log.Warn("search finished without a single successful observation")
	}
	return nil
}

func (t *Tuner) runWorker(ctx context.Context, workerID string) error {
	workerCtx := logger.Context{"worker": workerID}
	wlog := log.WithFields(workerCtx.Fields())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		assignment, err := t.scheduler.SuggestTrial(workerID)
		if errors.Is(err, tune.ErrNoPendingWork) {
			if t.scheduler.IsFinished() {
				wlog.Debug("no work left, exiting")
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryInterval):
			}
			continue
		}
		if err != nil {
			return err
		}

		tlog := log.WithFields(logger.MergeContexts(workerCtx, logger.Context{
			"trial": assignment.RequestID,
			"rung":  assignment.Level,
		}).Fields())

		metric, ok := t.bench.Evaluate(assignment.Config, assignment.Level)
		if !ok {
			tlog.Warn("evaluation failed")
			if err := t.scheduler.TrialExited(
				assignment.RequestID, model.TrialFailed); err != nil {
				return err
			}
			continue
		}

		decision, err := t.scheduler.ReportMetric(
			assignment.RequestID, assignment.Level, metric)
		if err != nil {
			tlog.WithError(err).Warn("report rejected")
			continue
		}
		tlog.WithFields(log.Fields{
			"metric":   metric,
			"decision": decision.String(),
		}).Debug("reported metric")
	}
}

func (t *Tuner) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", t.config.Port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server failed")
	}
}
