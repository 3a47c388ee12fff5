package crawler

import (
	"context"
	"io"
	"time"
)

// CheckpointStore persists per-unit processing status. Every mutation is a
// single-row transaction and refreshes UpdatedAt.
type CheckpointStore interface {
	// Register creates a PENDING record on first sight; existing records are untouched.
	Register(ctx context.Context, key UnitKey) error
	// Get returns the record and whether it exists.
	Get(ctx context.Context, key UnitKey) (CheckpointRecord, bool, error)
	// Claim moves PENDING (or absent) to IN_PROGRESS. It reports false when the
	// unit is in any other state.
	Claim(ctx context.Context, key UnitKey) (bool, error)
	// Complete moves IN_PROGRESS to DONE. Completing a DONE unit is a no-op.
	Complete(ctx context.Context, key UnitKey, rows int) error
	// Fail moves IN_PROGRESS to FAILED and records the error.
	Fail(ctx context.Context, key UnitKey, errText string) error
	// Release returns a claimed unit to PENDING so it can be retried.
	Release(ctx context.Context, key UnitKey, errText string) error
	// Reset forces the unit back to PENDING regardless of state.
	Reset(ctx context.Context, key UnitKey) error
	// RecoverInProgress returns every IN_PROGRESS unit to PENDING.
	RecoverInProgress(ctx context.Context) (int, error)
	// List returns records, optionally filtered by status ("" means all).
	List(ctx context.Context, status Status) ([]CheckpointRecord, error)
}

// Discovery enumerates the catalogue.
type Discovery interface {
	ListVehicles(ctx context.Context, catalogueURL string) ([]VehicleRef, error)
	ListGroups(ctx context.Context, vehicle VehicleRef) ([]GroupRef, error)
}

// TablePage is the pagination capability of a parts table.
type TablePage interface {
	// CurrentRows returns every row currently loaded in the table.
	CurrentRows(ctx context.Context) ([]RawRow, error)
	// ReportedTotal returns the total the page claims, if it shows one.
	ReportedTotal(ctx context.Context) (int, bool, error)
	// RevealMore asks the page to load more rows. It is a no-op when nothing is left.
	RevealMore(ctx context.Context) error
}

// Page is an opened parts page for one unit.
type Page interface {
	TablePage
	// DiagramURL returns the diagram image source, or "" when the page has none.
	DiagramURL(ctx context.Context) (string, error)
	// URL is the address the table was loaded from.
	URL() string
	Close() error
}

// PageOpener navigates an isolated browser context to a unit's parts table.
type PageOpener interface {
	Open(ctx context.Context, unit WorkUnit) (Page, error)
}

// ImageFetcher downloads diagram images.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) (Image, error)
}

// SinkWriter durably stores part records and images. Implementations must be
// safe for concurrent calls on distinct units.
type SinkWriter interface {
	// WriteRecords replaces every stored record of key with records.
	WriteRecords(ctx context.Context, key UnitKey, records []PartRecord) error
	// WriteImage stores a diagram and returns its location.
	WriteImage(ctx context.Context, vehicleID, groupType, tableNo string, img Image) (string, error)
}

// RecordStore persists part records with replace-per-unit semantics.
type RecordStore interface {
	ReplaceUnit(ctx context.Context, key UnitKey, records []PartRecord) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes unit events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for work units.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	EnqueueAfter(item QueueItem, delay time.Duration)
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
