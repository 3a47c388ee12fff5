// Package sink composes the record and image stores behind crawler.SinkWriter.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

const rollbackTimeout = 10 * time.Second

// Writer fans records out to one or more record stores and images to a blob store.
type Writer struct {
	records []crawler.RecordStore
	images  crawler.BlobStore
	logger  *zap.Logger
}

// New builds a Writer. At least one record store is required; images may be nil,
// in which case WriteImage fails.
func New(images crawler.BlobStore, logger *zap.Logger, records ...crawler.RecordStore) (*Writer, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("at least one record store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{records: records, images: images, logger: logger.Named("sink")}, nil
}

// WriteRecords replaces the unit's rows in every record store, in order. When
// a store fails, the stores already written have the unit cleared again so a
// failed unit never leaves rows behind.
func (w *Writer) WriteRecords(ctx context.Context, key crawler.UnitKey, records []crawler.PartRecord) error {
	for i, store := range w.records {
		if err := store.ReplaceUnit(ctx, key, records); err != nil {
			err = errors.Join(err, w.clear(ctx, key, w.records[:i]))
			return &crawler.StorageError{Op: fmt.Sprintf("write records (store %d)", i), Err: err}
		}
	}
	w.logger.Debug("records written",
		zap.String("vehicle_id", key.VehicleID),
		zap.String("group_id", key.GroupID),
		zap.Int("rows", len(records)),
	)
	return nil
}

// clear removes the unit from stores using a context that outlives cancellation.
func (w *Writer) clear(ctx context.Context, key crawler.UnitKey, stores []crawler.RecordStore) error {
	if len(stores) == 0 {
		return nil
	}
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	var errs []error
	for i, store := range stores {
		if err := store.ReplaceUnit(clearCtx, key, nil); err != nil {
			w.logger.Error("rollback of unit rows failed",
				zap.String("vehicle_id", key.VehicleID),
				zap.String("group_id", key.GroupID),
				zap.Int("store", i),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("rollback store %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// WriteImage stores a diagram at images/<vehicle>/<group type>/<table><ext>.
func (w *Writer) WriteImage(ctx context.Context, vehicleID, groupType, tableNo string, img crawler.Image) (string, error) {
	if w.images == nil {
		return "", &crawler.StorageError{Op: "write image", Err: fmt.Errorf("no image store configured")}
	}
	if len(img.Data) == 0 {
		return "", &crawler.StorageError{Op: "write image", Err: fmt.Errorf("image is empty")}
	}
	name := ImagePath(vehicleID, groupType, tableNo, img.ContentType)
	loc, err := w.images.PutObject(ctx, name, baseContentType(img.ContentType), bytes.NewReader(img.Data))
	if err != nil {
		return "", &crawler.StorageError{Op: "write image", Err: err}
	}
	return loc, nil
}

// ImagePath returns the relative location of a unit's diagram.
func ImagePath(vehicleID, groupType, tableNo, contentType string) string {
	return path.Join("images", cleanSegment(vehicleID), cleanSegment(groupType), cleanSegment(tableNo)+Extension(contentType))
}

// Extension maps an image content type to a file extension.
func Extension(contentType string) string {
	switch baseContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/svg+xml":
		return ".svg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".bin"
	}
}

func baseContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

var segmentReplacer = strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")

func cleanSegment(s string) string {
	s = segmentReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	return s
}
