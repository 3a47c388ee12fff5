// Package pagination drives a "load more rows" table until it is judged complete.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Config tunes the reveal loop.
type Config struct {
	// MinRevealInterval is the minimum delay between two reveal attempts.
	MinRevealInterval time.Duration
	// RevealWait bounds a single reveal call and the growth window that follows it.
	RevealWait time.Duration
	// PollInterval is the delay between observations inside the growth window.
	PollInterval time.Duration
	// StabilityQuorum is the number of consecutive no-growth observations
	// needed before the table is considered settled.
	StabilityQuorum int
	// StabilityQuorumNoTotal applies when the page shows no total.
	StabilityQuorumNoTotal int
	// MaxReveals bounds the loop.
	MaxReveals int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MinRevealInterval:      500 * time.Millisecond,
		RevealWait:             10 * time.Second,
		PollInterval:           250 * time.Millisecond,
		StabilityQuorum:        2,
		StabilityQuorumNoTotal: 2,
		MaxReveals:             200,
	}
}

// Controller runs the pagination-exhaustion protocol against a TablePage.
type Controller struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Controller, filling unset fields from DefaultConfig.
func New(cfg Config, logger *zap.Logger) *Controller {
	def := DefaultConfig()
	if cfg.RevealWait <= 0 {
		cfg.RevealWait = def.RevealWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StabilityQuorum <= 0 {
		cfg.StabilityQuorum = def.StabilityQuorum
	}
	if cfg.StabilityQuorumNoTotal <= 0 {
		cfg.StabilityQuorumNoTotal = def.StabilityQuorumNoTotal
	}
	if cfg.MaxReveals <= 0 {
		cfg.MaxReveals = def.MaxReveals
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger}
}

// Exhaust reveals rows until the table settles. It returns the raw rows as
// loaded; duplicates are left for the caller to reject.
func (c *Controller) Exhaust(ctx context.Context, page crawler.TablePage) (crawler.PageSnapshot, error) {
	limit := rate.Inf
	if c.cfg.MinRevealInterval > 0 {
		limit = rate.Every(c.cfg.MinRevealInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	snap := crawler.PageSnapshot{}
	rows, err := c.observe(ctx, page, &snap)
	if err != nil {
		return crawler.PageSnapshot{}, err
	}
	snap.Rows = rows

	stable := 0
	for snap.Reveals < c.cfg.MaxReveals {
		if err := limiter.Wait(ctx); err != nil {
			return crawler.PageSnapshot{}, fmt.Errorf("reveal rate limit: %w", err)
		}
		if err := c.reveal(ctx, page, &snap); err != nil {
			return crawler.PageSnapshot{}, err
		}
		snap.Reveals++

		rows, grew, err := c.awaitGrowth(ctx, page, &snap, len(snap.Rows))
		if err != nil {
			return crawler.PageSnapshot{}, err
		}
		shrank := len(rows) < len(snap.Rows)
		snap.Rows = rows
		if grew || shrank {
			stable = 0
			continue
		}
		stable++

		quorum := c.cfg.StabilityQuorum
		if snap.ReportedTotal == nil {
			quorum = c.cfg.StabilityQuorumNoTotal
		}
		if stable < quorum {
			continue
		}
		if snap.ReportedTotal != nil && len(snap.Rows) < *snap.ReportedTotal {
			return crawler.PageSnapshot{}, &crawler.PaginationExhaustionError{
				Loaded:   len(snap.Rows),
				Reported: *snap.ReportedTotal,
			}
		}
		c.logger.Debug("table exhausted",
			zap.Int("rows", len(snap.Rows)),
			zap.Int("reveals", snap.Reveals),
			zap.Int("observations", snap.Observations),
		)
		return snap, nil
	}
	return crawler.PageSnapshot{}, &crawler.PaginationTimeoutError{
		Loaded:  len(snap.Rows),
		Reveals: snap.Reveals,
		Err:     fmt.Errorf("no stable state after %d reveals", c.cfg.MaxReveals),
	}
}

func (c *Controller) reveal(ctx context.Context, page crawler.TablePage, snap *crawler.PageSnapshot) error {
	revealCtx, cancel := context.WithTimeout(ctx, c.cfg.RevealWait)
	defer cancel()
	if err := page.RevealMore(revealCtx); err != nil {
		return c.wrap(ctx, "reveal", err, snap)
	}
	return nil
}

// awaitGrowth polls until the row count moves away from prev or the window closes.
func (c *Controller) awaitGrowth(
	ctx context.Context,
	page crawler.TablePage,
	snap *crawler.PageSnapshot,
	prev int,
) ([]crawler.RawRow, bool, error) {
	deadline := time.Now().Add(c.cfg.RevealWait)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		rows, err := c.observe(ctx, page, snap)
		if err != nil {
			return nil, false, err
		}
		if len(rows) != prev || !time.Now().Add(c.cfg.PollInterval).Before(deadline) {
			return rows, len(rows) > prev, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, fmt.Errorf("await rows: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Controller) observe(ctx context.Context, page crawler.TablePage, snap *crawler.PageSnapshot) ([]crawler.RawRow, error) {
	obsCtx, cancel := context.WithTimeout(ctx, c.cfg.RevealWait)
	defer cancel()
	snap.Observations++
	rows, err := page.CurrentRows(obsCtx)
	if err != nil {
		return nil, c.wrap(ctx, "read rows", err, snap)
	}
	total, ok, err := page.ReportedTotal(obsCtx)
	if err != nil {
		return nil, c.wrap(ctx, "read total", err, snap)
	}
	if ok {
		snap.ReportedTotal = &total
	}
	return rows, nil
}

// wrap turns a capability failure into the pagination taxonomy. A deadline on
// the local window is a pagination timeout; the caller's cancellation passes through.
func (c *Controller) wrap(ctx context.Context, op string, err error, snap *crawler.PageSnapshot) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &crawler.PaginationTimeoutError{Loaded: len(snap.Rows), Reveals: snap.Reveals, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &crawler.TransientIOError{Op: op, Err: err}
}
