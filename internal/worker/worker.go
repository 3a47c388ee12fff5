// Package worker implements the per-unit extraction pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/clock"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
	"github.com/JakeFAU/parts-catalogue-crawler/internal/metrics"
)

const releaseTimeout = 10 * time.Second

// Paginator drives a table until no more rows can be revealed.
type Paginator interface {
	Exhaust(ctx context.Context, page crawler.TablePage) (crawler.PageSnapshot, error)
}

// Config controls Worker behavior.
type Config struct {
	// UnitTimeout bounds one attempt at a unit. Zero disables the ceiling.
	UnitTimeout time.Duration
	// FetchImages enables diagram download.
	FetchImages bool
}

// Deps groups the collaborators a Worker needs.
type Deps struct {
	Store     crawler.CheckpointStore
	Pages     crawler.PageOpener
	Paginator Paginator
	Images    crawler.ImageFetcher
	Sink      crawler.SinkWriter
	Policy    crawler.RetryPolicy
	Metrics   *metrics.Metrics
	Clock     crawler.Clock
	Tracer    trace.Tracer
}

// Worker processes one unit at a time; it is safe to share across goroutines.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Pages == nil:
		return nil, errors.New("page opener is required")
	case deps.Paginator == nil:
		return nil, errors.New("paginator is required")
	case deps.Sink == nil:
		return nil, errors.New("sink writer is required")
	}
	if deps.Policy.MaxAttempts == 0 {
		deps.Policy = crawler.DefaultRetryPolicy()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("github.com/JakeFAU/parts-catalogue-crawler/internal/worker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger.Named("worker")}, nil
}

// Process runs one attempt at item and reports how it ended. The checkpoint
// is always left in a consistent state: DONE only after the sink accepted
// every record, PENDING on retry or cancellation, FAILED on give-up.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) crawler.Outcome {
	start := w.deps.Clock.Now()
	key := item.Unit.Key()
	logger := w.logger.With(
		zap.String("vehicle_id", key.VehicleID),
		zap.String("group_id", key.GroupID),
		zap.Int("attempt", item.Attempt),
	)

	ctx, span := w.deps.Tracer.Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("vehicle_id", key.VehicleID),
		attribute.String("group_id", key.GroupID),
		attribute.Int("attempt", item.Attempt),
	))
	defer span.End()

	out := w.process(ctx, item, logger)
	out.Key = key
	out.Attempt = item.Attempt
	out.Duration = w.deps.Clock.Now().Sub(start)

	span.SetAttributes(attribute.String("outcome", string(out.Kind)), attribute.Int("records", out.Records))
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	w.deps.Metrics.ObserveUnit(string(out.Kind), out.Duration)
	return out
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) crawler.Outcome {
	key := item.Unit.Key()
	claimed, err := w.deps.Store.Claim(ctx, key)
	if err != nil {
		logger.Error("claim failed", zap.Error(err))
		return crawler.Outcome{Kind: crawler.OutcomeFailed, Err: &crawler.CheckpointError{Op: "claim", Key: key, Err: err}}
	}
	if !claimed {
		logger.Debug("unit not claimable, skipping")
		return crawler.Outcome{Kind: crawler.OutcomeSkipped}
	}

	w.deps.Metrics.IncActiveWorkers()
	defer w.deps.Metrics.DecActiveWorkers()

	records, imagePath, err := w.extract(ctx, item.Unit, logger)
	if err == nil {
		if err := w.deps.Store.Complete(ctx, key, len(records)); err != nil {
			logger.Error("complete failed after sink write", zap.Error(err))
			return crawler.Outcome{Kind: crawler.OutcomeFailed, Err: &crawler.CheckpointError{Op: "complete", Key: key, Err: err}}
		}
		w.deps.Metrics.AddRecords(len(records))
		logger.Info("unit done", zap.Int("records", len(records)), zap.String("image_path", imagePath))
		return crawler.Outcome{Kind: crawler.OutcomeDone, Records: len(records), ImagePath: imagePath}
	}

	if ctx.Err() != nil {
		return w.abort(ctx, key, err, logger)
	}
	return w.handleFailure(ctx, item, err, logger)
}

func (w *Worker) extract(ctx context.Context, unit crawler.WorkUnit, logger *zap.Logger) ([]crawler.PartRecord, string, error) {
	unitCtx := ctx
	if w.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, w.cfg.UnitTimeout)
		defer cancel()
	}

	records, imagePath, err := w.extractPage(unitCtx, unit, logger)
	if err != nil && ctx.Err() == nil && errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
		return nil, "", &crawler.UnitTimeoutError{Key: unit.Key(), Err: err}
	}
	return records, imagePath, err
}

func (w *Worker) extractPage(ctx context.Context, unit crawler.WorkUnit, logger *zap.Logger) ([]crawler.PartRecord, string, error) {
	page, err := w.deps.Pages.Open(ctx, unit)
	if err != nil {
		return nil, "", asTransient("open page", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Warn("close page failed", zap.Error(cerr))
		}
	}()

	snap, err := w.deps.Paginator.Exhaust(ctx, page)
	w.deps.Metrics.ObserveReveals(snap.Reveals)
	if err != nil {
		return nil, "", err
	}
	logger.Debug("table exhausted", zap.Int("rows", len(snap.Rows)), zap.Int("reveals", snap.Reveals))

	records, err := ParseRecords(unit, snap.Rows)
	if err != nil {
		return nil, "", err
	}
	if unit.ExpectedRowCount != nil && *unit.ExpectedRowCount != len(records) {
		logger.Warn("row count differs from listing hint",
			zap.Int("expected", *unit.ExpectedRowCount), zap.Int("rows", len(records)))
	}

	imagePath, err := w.storeDiagram(ctx, unit, page, logger)
	if err != nil {
		return nil, "", err
	}
	pageURL := page.URL()
	for i := range records {
		records[i].ImagePath = imagePath
		records[i].PartsPageURL = pageURL
	}

	if err := w.deps.Sink.WriteRecords(ctx, unit.Key(), records); err != nil {
		return nil, "", err
	}
	return records, imagePath, nil
}

// storeDiagram downloads and stores the unit's diagram. Download problems are
// logged and skipped; only a failed store write is returned.
func (w *Worker) storeDiagram(ctx context.Context, unit crawler.WorkUnit, page crawler.Page, logger *zap.Logger) (string, error) {
	if !w.cfg.FetchImages || w.deps.Images == nil {
		return "", nil
	}
	src, err := page.DiagramURL(ctx)
	if err != nil {
		logger.Warn("diagram lookup failed", zap.Error(err))
		w.deps.Metrics.IncImage("lookup_failed")
		return "", nil
	}
	if src == "" {
		w.deps.Metrics.IncImage("absent")
		return "", nil
	}
	img, err := w.deps.Images.Fetch(ctx, src)
	if err != nil || len(img.Data) == 0 {
		logger.Warn("diagram download failed", zap.String("url", src), zap.Error(err))
		w.deps.Metrics.IncImage("download_failed")
		return "", nil
	}
	path, err := w.deps.Sink.WriteImage(ctx, unit.VehicleID, unit.GroupType, unit.TableNo, img)
	if err != nil {
		w.deps.Metrics.IncImage("store_failed")
		return "", err
	}
	w.deps.Metrics.IncImage("stored")
	return path, nil
}

func (w *Worker) handleFailure(ctx context.Context, item crawler.QueueItem, err error, logger *zap.Logger) crawler.Outcome {
	key := item.Unit.Key()
	kind := crawler.Classify(err)
	attempt := item.Attempt
	if kind == crawler.KindUnitTimeout {
		attempt = item.Timeouts + 1
	}
	decision := w.deps.Policy.Decide(kind, attempt)
	w.deps.Metrics.IncError(crawler.ErrorLabel(err))

	if decision.Retry() {
		if rerr := w.deps.Store.Release(ctx, key, err.Error()); rerr != nil {
			return crawler.Outcome{Kind: crawler.OutcomeFailed, Err: &crawler.CheckpointError{Op: "release", Key: key, Err: rerr}}
		}
		logger.Warn("unit attempt failed, will retry",
			zap.Error(err), zap.Stringer("kind", kind), zap.Duration("delay", decision.Delay))
		return crawler.Outcome{Kind: crawler.OutcomeRetry, Err: err, RetryAfter: decision.Delay}
	}

	if ferr := w.deps.Store.Fail(ctx, key, err.Error()); ferr != nil {
		return crawler.Outcome{Kind: crawler.OutcomeFailed, Err: &crawler.CheckpointError{Op: "fail", Key: key, Err: ferr}}
	}
	logger.Error("unit failed", zap.Error(err), zap.Stringer("kind", kind))
	return crawler.Outcome{Kind: crawler.OutcomeFailed, Err: err}
}

// abort returns a canceled unit to PENDING using a context detached from the
// canceled one.
func (w *Worker) abort(ctx context.Context, key crawler.UnitKey, cause error, logger *zap.Logger) crawler.Outcome {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := w.deps.Store.Release(relCtx, key, "aborted: "+cause.Error()); err != nil {
		logger.Error("release after cancellation failed", zap.Error(err))
		return crawler.Outcome{Kind: crawler.OutcomeAborted, Err: &crawler.CheckpointError{Op: "release", Key: key, Err: err}}
	}
	logger.Info("unit released after cancellation")
	return crawler.Outcome{Kind: crawler.OutcomeAborted, Err: cause}
}

// asTransient marks browser errors without a type of their own as retryable.
func asTransient(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var ioErr *crawler.TransientIOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &crawler.TransientIOError{Op: op, Err: err}
}
