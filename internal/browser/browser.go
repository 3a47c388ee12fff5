// Package browser drives the catalogue's DataTables UI through headless
// Chrome. It implements discovery and the per-unit parts page.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the headless browser.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	// PopupTimeout is how long to wait for the parts popup before looking for
	// the table in the originating tab.
	PopupTimeout time.Duration
	// RevealStep is how many rows one reveal adds. Zero shows every row at once.
	RevealStep int
}

// DefaultConfig returns the stock browser settings.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 45 * time.Second,
		PopupTimeout:      10 * time.Second,
		RevealStep:        25,
	}
}

// Browser owns one Chrome process. Every Open or discovery call gets its own
// incognito browser context so units never share page state.
type Browser struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// New starts Chrome.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	def := DefaultConfig()
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.PopupTimeout <= 0 {
		cfg.PopupTimeout = def.PopupTimeout
	}
	if cfg.RevealStep < 0 {
		return nil, fmt.Errorf("reveal step must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("block-new-web-contents", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger.Named("browser"),
	}, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

func (b *Browser) newTab() *tab {
	ctx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	return &tab{ctx: ctx, cancel: cancel}
}

// tab is a chromedp target. Calls run on the target but stop when the
// caller's context ends.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(t.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(t.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err //nolint:wrapcheck // callers wrap with the step name
}

func (t *tab) close() {
	t.cancel()
}

func (t *tab) document(ctx context.Context, sel string) (*goquery.Document, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML(sel, &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("read %s: %w", sel, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", sel, err)
	}
	return doc, nil
}

func (t *tab) text(ctx context.Context, sel string) (string, error) {
	var out string
	js := fmt.Sprintf(`document.querySelector(%s)?.innerText || ''`, jsString(sel))
	if err := t.run(ctx, chromedp.Evaluate(js, &out)); err != nil {
		return "", fmt.Errorf("read text %s: %w", sel, err)
	}
	return out, nil
}

func (b *Browser) setUserAgent() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if b.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// navigate loads url and waits for the vehicle list table.
func (b *Browser) navigate(ctx context.Context, t *tab, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	err := t.run(navCtx,
		b.setUserAgent(),
		chromedp.Navigate(url),
		chromedp.WaitReady(vehicleTable, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// showAll asks every DataTable in sels to render all rows and waits for the redraw.
func (t *tab) showAll(ctx context.Context, sels ...string) error {
	list, err := json.Marshal(sels)
	if err != nil {
		return fmt.Errorf("encode selectors: %w", err)
	}
	var shown bool
	if err := t.run(ctx, chromedp.Evaluate(fmt.Sprintf(showAllJS, list), &shown, awaitPromise)); err != nil {
		return fmt.Errorf("show all rows: %w", err)
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

var errNoRows = errors.New("no rows found")

const (
	vehicleTable   = "#datatable-t2"
	groupTables    = "#DataTables_Table_0, #DataTables_Table_2"
	partsTable     = "#bomPage"
	partsTableInfo = "#bomPage_info"
)

const showAllJS = `(() => new Promise(resolve => {
  const $ = window.jQuery || window.$;
  if (!($ && $.fn && $.fn.DataTable)) { resolve(false); return; }
  let pending = 0;
  const done = () => { if (--pending <= 0) resolve(true); };
  %s.forEach(sel => {
    if (!$.fn.DataTable.isDataTable(sel)) return;
    const dt = $(sel).DataTable();
    pending++;
    dt.one('draw.dt', () => setTimeout(done, 50));
    dt.page.len(-1).draw(false);
  });
  if (pending === 0) resolve(false);
}))()`

const revealJS = `(() => {
  const $ = window.jQuery || window.$;
  if (!($ && $.fn && $.fn.DataTable && $.fn.DataTable.isDataTable('#bomPage'))) return false;
  const dt = $('#bomPage').DataTable();
  const info = dt.page.info();
  if (info.length < 0 || info.length >= info.recordsDisplay) return false;
  const step = %d;
  dt.page.len(step > 0 ? info.length + step : -1).draw(false);
  return true;
})()`
