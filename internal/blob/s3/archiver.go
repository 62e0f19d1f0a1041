package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	defaultBatchSize = 5000
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

// ArchiverConfig tunes the archiver.
type ArchiverConfig struct {
	// BatchSize is the number of rows per archive object.
	BatchSize int
	// PartSize is the multipart part size for large objects.
	PartSize int64
}

// AlertArchiver implements domain.Archiver. It copies alert rows older than
// a cutoff to JSON-lines objects, then deletes exactly the rows it uploaded.
// Rows are only deleted after their object is written, so a failed upload
// loses nothing.
type AlertArchiver struct {
	writer    domain.BlobWriter
	source    domain.AlertArchiveSource
	batchSize int
	partSize  int64
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an AlertArchiver.
func NewArchiver(writer domain.BlobWriter, source domain.AlertArchiveSource, cfg ArchiverConfig, logger *slog.Logger) *AlertArchiver {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &AlertArchiver{
		writer:    writer,
		source:    source,
		batchSize: batch,
		partSize:  cfg.PartSize,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// ArchiveWhaleAlerts moves whale alerts received before the cutoff and
// returns how many rows were archived.
func (a *AlertArchiver) ArchiveWhaleAlerts(ctx context.Context, before time.Time) (int64, error) {
	return archiveTable(ctx, a, "whale_alerts",
		func(ctx context.Context) ([]domain.WhaleAlert, error) {
			return a.source.WhaleAlertsBefore(ctx, before, a.batchSize)
		},
		func(w domain.WhaleAlert) (string, time.Time) { return w.ID, w.ReceivedAt },
		a.source.DeleteWhaleAlerts,
	)
}

// ArchivePositionAlerts moves position alerts detected before the cutoff and
// returns how many rows were archived.
func (a *AlertArchiver) ArchivePositionAlerts(ctx context.Context, before time.Time) (int64, error) {
	return archiveTable(ctx, a, "position_alerts",
		func(ctx context.Context) ([]domain.PositionAlert, error) {
			return a.source.PositionAlertsBefore(ctx, before, a.batchSize)
		},
		func(p domain.PositionAlert) (string, time.Time) { return p.ID, p.DetectedAt },
		a.source.DeletePositionAlerts,
	)
}

// archiveTable repeats fetch, upload, delete until a short batch.
func archiveTable[T any](
	ctx context.Context,
	a *AlertArchiver,
	table string,
	fetch func(context.Context) ([]T, error),
	identify func(T) (string, time.Time),
	remove func(context.Context, []string) (int64, error),
) (int64, error) {
	var total int64
	for {
		rows, err := fetch(ctx)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s query: %w", table, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		ids := make([]string, 0, len(rows))
		oldest := a.now().UTC()
		for _, r := range rows {
			id, ts := identify(r)
			ids = append(ids, id)
			if !ts.IsZero() && ts.Before(oldest) {
				oldest = ts.UTC()
			}
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", table, err)
		}

		path := archivePath(table, oldest)
		if len(buf) >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", table, err)
		}

		n, err := remove(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s delete: %w", table, err)
		}
		total += n
		if n == 0 {
			return total, fmt.Errorf("s3blob: archive %s: uploaded %d rows but deleted none", table, len(rows))
		}

		a.logger.InfoContext(ctx, "archived batch",
			slog.String("table", table),
			slog.String("path", path),
			slog.Int("rows", len(rows)),
			slog.Int64("deleted", n),
		)

		if len(rows) < a.batchSize {
			return total, nil
		}
	}
}

// archivePath returns archive/<table>/YYYY/MM/DD/<uuid>.jsonl.
func archivePath(table string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", table, day.Format("2006/01/02"), uuid.NewString())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*AlertArchiver)(nil)
