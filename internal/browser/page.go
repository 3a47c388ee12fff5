package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Opener implements crawler.PageOpener.
type Opener struct {
	b *Browser
}

// NewOpener returns an Opener backed by b.
func NewOpener(b *Browser) *Opener {
	return &Opener{b: b}
}

// Open navigates a fresh browser context to the unit's parts table. The
// catalogue usually opens the table in a popup whose URL carries the group
// code; when no popup appears the table is looked for in the same tab.
func (o *Opener) Open(ctx context.Context, unit crawler.WorkUnit) (crawler.Page, error) {
	root := o.b.newTab()
	host, location, err := o.open(ctx, root, unit)
	if err != nil {
		root.close()
		return nil, err
	}
	return &Page{root: root, host: host, step: o.b.cfg.RevealStep, url: location}, nil
}

func (o *Opener) open(ctx context.Context, root *tab, unit crawler.WorkUnit) (*tab, string, error) {
	if err := o.b.openAggregates(ctx, root, unit.SourceURL, unit.ModelCode); err != nil {
		return nil, "", err
	}

	popups := chromedp.WaitNewTarget(root.ctx, func(info *target.Info) bool {
		return info.Type == "page"
	})
	js := fmt.Sprintf(`window.updateBomDetails(%s, '', %s)`, jsString(unit.GroupID), jsString(unit.Variant))
	if err := root.run(ctx, evaluate(js)); err != nil {
		return nil, "", fmt.Errorf("open group %s: %w", unit.GroupID, err)
	}

	host := root
	popup := false
	timer := time.NewTimer(o.b.cfg.PopupTimeout)
	defer timer.Stop()
	select {
	case id := <-popups:
		popupCtx, cancel := chromedp.NewContext(root.ctx, chromedp.WithTargetID(id))
		host = &tab{ctx: popupCtx, cancel: cancel}
		popup = true
	case <-timer.C:
		o.b.logger.Debug("no popup, using originating tab", zap.String("group_id", unit.GroupID))
	case <-ctx.Done():
		return nil, "", fmt.Errorf("wait for parts popup: %w", ctx.Err())
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.b.cfg.NavigationTimeout)
	defer cancel()
	var location string
	if err := host.run(waitCtx, waitReady(partsTable), chromedp.Location(&location)); err != nil {
		if popup {
			host.close()
		}
		return nil, "", fmt.Errorf("wait for parts table %s: %w", unit.GroupID, err)
	}
	if popup && !strings.Contains(location, unit.GroupID) {
		host.close()
		return nil, "", fmt.Errorf("popup url mismatch for %s: %s", unit.GroupID, location)
	}
	return host, location, nil
}

// Page is an opened parts table. It implements crawler.Page.
type Page struct {
	root *tab
	host *tab
	step int
	url  string
}

// URL returns the location the parts table was loaded from.
func (p *Page) URL() string {
	return p.url
}

// CurrentRows returns every rendered row of the parts table.
func (p *Page) CurrentRows(ctx context.Context) ([]crawler.RawRow, error) {
	doc, err := p.host.document(ctx, partsTable)
	if err != nil {
		return nil, err
	}
	return ParsePartsTable(doc)
}

// ReportedTotal reads the "of N entries" counter under the table.
func (p *Page) ReportedTotal(ctx context.Context) (int, bool, error) {
	info, err := p.host.text(ctx, partsTableInfo)
	if err != nil {
		return 0, false, err
	}
	n, ok := ParseInfoTotal(info)
	return n, ok, nil
}

// RevealMore grows the table's page length by the configured step.
func (p *Page) RevealMore(ctx context.Context) error {
	var grew bool
	if err := p.host.run(ctx, chromedp.Evaluate(fmt.Sprintf(revealJS, p.step), &grew)); err != nil {
		return fmt.Errorf("reveal rows: %w", err)
	}
	return nil
}

// DiagramURL returns the absolute src of the diagram image, or "".
func (p *Page) DiagramURL(ctx context.Context) (string, error) {
	var src string
	if err := p.host.run(ctx, evaluate(`document.querySelector('#image img')?.src || ''`, &src)); err != nil {
		return "", fmt.Errorf("read diagram src: %w", err)
	}
	return src, nil
}

// Close disposes of the popup and the browser context.
func (p *Page) Close() error {
	if p.host != p.root {
		p.host.close()
	}
	p.root.close()
	return nil
}

func evaluate(js string, out ...any) chromedp.Action {
	var res any
	if len(out) > 0 {
		res = out[0]
	}
	return chromedp.Evaluate(js, res)
}

func waitReady(sel string) chromedp.Action {
	return chromedp.WaitReady(sel, chromedp.ByQuery)
}
