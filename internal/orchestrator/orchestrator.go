// Package orchestrator runs a crawl: discovery, checkpoint filtering and a
// bounded pool of workers fed from the unit queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/clock"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/metrics"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/queue/memory"
)

// Processor runs one attempt at a unit.
type Processor interface {
	Process(ctx context.Context, item crawler.QueueItem) crawler.Outcome
}

// Config controls a run.
type Config struct {
	// Concurrency is the number of units processed at once.
	Concurrency int
	// RetryFailed resets units left FAILED by earlier runs.
	RetryFailed bool
	// Vehicles restricts the run to these vehicle IDs when non-empty.
	Vehicles []string
	// EventsTopic receives one UnitEvent per terminal outcome.
	EventsTopic string
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Discovery crawler.Discovery
	Store     crawler.CheckpointStore
	Worker    Processor
	Publisher crawler.Publisher
	Policy    crawler.RetryPolicy
	Metrics   *metrics.Metrics
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
}

// Orchestrator coordinates one crawl at a time.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Discovery == nil:
		return nil, errors.New("discovery is required")
	case deps.Store == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Worker == nil:
		return nil, errors.New("worker is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if deps.Policy.MaxAttempts == 0 {
		deps.Policy = crawler.DefaultRetryPolicy()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger.Named("orchestrator")}, nil
}

// Run crawls the catalogue at catalogueURL. With force every discovered unit
// is reset to PENDING first. The returned error is non-nil only when the run
// was aborted: a DiscoveryError, a CheckpointError or cancellation. Failed
// units are reported in the Summary.
func (o *Orchestrator) Run(ctx context.Context, catalogueURL string, force bool) (crawler.Summary, error) {
	start := o.deps.Clock.Now()
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("new run id: %w", err)
	}
	summary := crawler.Summary{RunID: runID}
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("run starting", zap.String("catalogue_url", catalogueURL), zap.Bool("force", force))

	units, vehicles, err := o.discover(ctx, catalogueURL, logger)
	summary.Vehicles = vehicles
	summary.Discovered = len(units)
	if err != nil {
		summary.Duration = o.deps.Clock.Now().Sub(start)
		return summary, err
	}

	pending, err := o.prepare(ctx, units, force, &summary, logger)
	if err != nil {
		summary.Duration = o.deps.Clock.Now().Sub(start)
		return summary, err
	}

	err = o.dispatch(ctx, runID, pending, &summary, logger)
	summary.Duration = o.deps.Clock.Now().Sub(start)
	logger.Info("run finished",
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("retried", summary.Retried),
		zap.Int("aborted", summary.Aborted),
		zap.Int("records", summary.Records),
		zap.Duration("duration", summary.Duration),
		zap.Error(err),
	)
	return summary, err
}

// discover lists vehicles and their groups and returns the deduplicated units.
func (o *Orchestrator) discover(ctx context.Context, catalogueURL string, logger *zap.Logger) ([]crawler.WorkUnit, int, error) {
	var vehicles []crawler.VehicleRef
	err := o.retry(ctx, "list vehicles", logger, func(ctx context.Context) error {
		var err error
		vehicles, err = o.deps.Discovery.ListVehicles(ctx, catalogueURL)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	vehicles = o.filterVehicles(vehicles)

	var (
		units []crawler.WorkUnit
		seen  = make(map[crawler.UnitKey]bool)
	)
	for _, v := range vehicles {
		var groups []crawler.GroupRef
		err := o.retry(ctx, "list groups "+v.VehicleID, logger, func(ctx context.Context) error {
			var err error
			groups, err = o.deps.Discovery.ListGroups(ctx, v)
			return err
		})
		if err != nil {
			return nil, len(vehicles), err
		}
		for _, g := range groups {
			unit := crawler.NewWorkUnit(v, g)
			if seen[unit.Key()] {
				logger.Debug("duplicate unit dropped", zap.Stringer("unit", unit.Key()))
				continue
			}
			seen[unit.Key()] = true
			units = append(units, unit)
		}
	}
	logger.Info("discovery complete", zap.Int("vehicles", len(vehicles)), zap.Int("units", len(units)))
	return units, len(vehicles), nil
}

func (o *Orchestrator) filterVehicles(vehicles []crawler.VehicleRef) []crawler.VehicleRef {
	if len(o.cfg.Vehicles) == 0 {
		return vehicles
	}
	want := make(map[string]bool, len(o.cfg.Vehicles))
	for _, id := range o.cfg.Vehicles {
		want[id] = true
	}
	out := vehicles[:0:0]
	for _, v := range vehicles {
		if want[v.VehicleID] {
			out = append(out, v)
		}
	}
	return out
}

// retry runs fn under the retry policy. Persistent failure is a DiscoveryError.
func (o *Orchestrator) retry(ctx context.Context, stage string, logger *zap.Logger, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", stage, ctx.Err())
		}
		decision := o.deps.Policy.Decide(crawler.Classify(err), attempt)
		if !decision.Retry() {
			return &crawler.DiscoveryError{Stage: stage, Err: err}
		}
		logger.Warn("discovery step failed, retrying",
			zap.String("stage", stage), zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay), zap.Error(err))
		if err := sleep(ctx, decision.Delay); err != nil {
			return fmt.Errorf("%s: %w", stage, err)
		}
	}
}

// prepare reconciles units with the checkpoint store and returns the ones to run.
func (o *Orchestrator) prepare(
	ctx context.Context,
	units []crawler.WorkUnit,
	force bool,
	summary *crawler.Summary,
	logger *zap.Logger,
) ([]crawler.WorkUnit, error) {
	recovered, err := o.deps.Store.RecoverInProgress(ctx)
	if err != nil {
		return nil, &crawler.CheckpointError{Op: "recover", Err: err}
	}
	if recovered > 0 {
		logger.Warn("recovered units left in progress by an earlier run", zap.Int("count", recovered))
	}

	pending := make([]crawler.WorkUnit, 0, len(units))
	for _, unit := range units {
		key := unit.Key()
		if err := o.deps.Store.Register(ctx, key); err != nil {
			return nil, &crawler.CheckpointError{Op: "register", Key: key, Err: err}
		}
		if force {
			if err := o.deps.Store.Reset(ctx, key); err != nil {
				return nil, &crawler.CheckpointError{Op: "reset", Key: key, Err: err}
			}
			pending = append(pending, unit)
			continue
		}
		rec, _, err := o.deps.Store.Get(ctx, key)
		if err != nil {
			return nil, &crawler.CheckpointError{Op: "get", Key: key, Err: err}
		}
		switch rec.Status {
		case crawler.StatusDone:
			summary.Skipped++
			continue
		case crawler.StatusFailed:
			if !o.cfg.RetryFailed {
				summary.Skipped++
				continue
			}
			if err := o.deps.Store.Reset(ctx, key); err != nil {
				return nil, &crawler.CheckpointError{Op: "reset", Key: key, Err: err}
			}
		}
		pending = append(pending, unit)
	}
	logger.Info("units selected", zap.Int("pending", len(pending)), zap.Int("skipped", summary.Skipped))
	return pending, nil
}

type unitQueue interface {
	crawler.Queue
	Len() int
	Close()
}

// dispatch feeds units to Concurrency workers until every unit reached a
// terminal outcome, the run is aborted or ctx ends.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	runID string,
	units []crawler.WorkUnit,
	summary *crawler.Summary,
	logger *zap.Logger,
) error {
	if len(units) == 0 {
		return nil
	}
	var q unitQueue = memory.NewQueue()
	defer q.Close()
	for _, unit := range units {
		if err := q.Enqueue(ctx, crawler.QueueItem{Unit: unit, Attempt: 1}); err != nil {
			return fmt.Errorf("enqueue %s: %w", unit.Key(), err)
		}
	}
	o.deps.Metrics.SetQueueDepth(q.Len())

	var (
		mu          sync.Mutex
		outstanding = len(units)
	)
	settle := func(item crawler.QueueItem, out crawler.Outcome) error {
		mu.Lock()
		defer mu.Unlock()
		defer func() { o.deps.Metrics.SetQueueDepth(q.Len()) }()

		switch out.Kind {
		case crawler.OutcomeRetry:
			summary.Retried++
			q.EnqueueAfter(item.Next(out.Err), out.RetryAfter)
			return nil
		case crawler.OutcomeDone:
			summary.Done++
			summary.Records += out.Records
		case crawler.OutcomeFailed:
			if crawler.IsRunFatal(out.Err) {
				return out.Err
			}
			summary.Failed++
			summary.Failures = append(summary.Failures, crawler.UnitFailure{Key: out.Key, Error: errText(out.Err)})
		case crawler.OutcomeSkipped:
			summary.Skipped++
		case crawler.OutcomeAborted:
			summary.Aborted++
		}
		outstanding--
		if outstanding == 0 {
			q.Close()
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				item, err := q.Dequeue(gctx)
				if err != nil {
					return nil
				}
				out := o.deps.Worker.Process(gctx, item)
				if err := settle(item, out); err != nil {
					logger.Error("run aborted", zap.Stringer("unit", item.Unit.Key()), zap.Error(err))
					return err
				}
				o.publish(ctx, runID, out, logger)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run canceled: %w", err)
	}
	return nil
}

// publish emits a UnitEvent for terminal outcomes. Publish failures are logged only.
func (o *Orchestrator) publish(ctx context.Context, runID string, out crawler.Outcome, logger *zap.Logger) {
	if o.deps.Publisher == nil || o.cfg.EventsTopic == "" {
		return
	}
	var status crawler.Status
	switch out.Kind {
	case crawler.OutcomeDone:
		status = crawler.StatusDone
	case crawler.OutcomeFailed:
		status = crawler.StatusFailed
	default:
		return
	}
	event := crawler.UnitEvent{
		RunID:     runID,
		VehicleID: out.Key.VehicleID,
		GroupID:   out.Key.GroupID,
		Status:    status,
		Records:   out.Records,
		ImagePath: out.ImagePath,
		Attempt:   out.Attempt,
		Error:     errText(out.Err),
		At:        o.deps.Clock.Now(),
	}
	if _, err := o.deps.Publisher.Publish(context.WithoutCancel(ctx), o.cfg.EventsTopic, event); err != nil {
		logger.Warn("publish unit event failed", zap.Stringer("unit", out.Key), zap.Error(err))
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
