package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// Discovery implements crawler.Discovery on the catalogue's SPA.
type Discovery struct {
	b *Browser
}

// NewDiscovery returns a Discovery backed by b.
func NewDiscovery(b *Browser) *Discovery {
	return &Discovery{b: b}
}

// ListVehicles returns every vehicle card of the catalogue.
func (d *Discovery) ListVehicles(ctx context.Context, catalogueURL string) ([]crawler.VehicleRef, error) {
	t := d.b.newTab()
	defer t.close()

	if err := d.b.navigate(ctx, t, catalogueURL); err != nil {
		return nil, err
	}
	if err := t.showAll(ctx, vehicleTable); err != nil {
		return nil, err
	}
	doc, err := t.document(ctx, "html")
	if err != nil {
		return nil, err
	}
	vehicles := ParseVehicles(doc, catalogueURL)
	if len(vehicles) == 0 {
		return nil, fmt.Errorf("list vehicles at %s: %w", catalogueURL, errNoRows)
	}

	if info, err := t.text(ctx, vehicleTable+"_info"); err == nil {
		if want, ok := ParseInfoTotal(info); ok && len(vehicles) < want {
			d.b.logger.Warn("vehicle count below catalogue total",
				zap.Int("found", len(vehicles)), zap.Int("reported", want))
		}
	}
	d.b.logger.Info("vehicles listed", zap.Int("count", len(vehicles)))
	return vehicles, nil
}

// ListGroups returns the engine and frame groups of v.
func (d *Discovery) ListGroups(ctx context.Context, v crawler.VehicleRef) ([]crawler.GroupRef, error) {
	t := d.b.newTab()
	defer t.close()

	if err := d.b.openAggregates(ctx, t, v.SourceURL, v.ModelCode); err != nil {
		return nil, err
	}
	if err := t.showAll(ctx, "#DataTables_Table_0", "#DataTables_Table_1", "#DataTables_Table_2", "#DataTables_Table_3"); err != nil {
		return nil, err
	}
	doc, err := t.document(ctx, "html")
	if err != nil {
		return nil, err
	}
	groups := ParseGroups(doc)
	if len(groups) == 0 {
		return nil, fmt.Errorf("list groups for %s: %w", v.VehicleID, errNoRows)
	}
	d.b.logger.Debug("groups listed", zap.String("vehicle_id", v.VehicleID), zap.Int("count", len(groups)))
	return groups, nil
}

// openAggregates loads the catalogue and switches its panel to modelCode.
func (b *Browser) openAggregates(ctx context.Context, t *tab, url, modelCode string) error {
	if err := b.navigate(ctx, t, url); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigationTimeout)
	defer cancel()
	js := fmt.Sprintf(`window.loadModelAggregates('', %s)`, jsString(modelCode))
	if err := t.run(waitCtx, evaluate(js), waitReady(groupTables)); err != nil {
		return fmt.Errorf("load aggregates for %s: %w", modelCode, err)
	}
	return nil
}
