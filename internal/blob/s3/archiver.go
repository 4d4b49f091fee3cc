package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cryptumbot/cryptum/internal/domain"
)

// archiveBatchSize bounds how many trades one archive file holds.
const archiveBatchSize = 5000

// TradeArchiveStore is the narrow slice of the trade store the archiver
// needs: time-ranged reads plus the post-verification delete.
type TradeArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves closed trades older than the retention window into cold
// storage. Rows are deleted from the primary store only after the uploaded
// object has been verified, so a failed upload never loses history.
type Archiver struct {
	writer        domain.BlobWriter
	reader        *Reader
	trades        TradeArchiveStore
	retentionDays int
	interval      time.Duration
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil to skip upload
// verification (rows are then deleted on upload success alone).
func NewArchiver(
	writer domain.BlobWriter,
	reader *Reader,
	trades TradeArchiveStore,
	retentionDays int,
	interval time.Duration,
	logger *slog.Logger,
) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		writer:        writer,
		reader:        reader,
		trades:        trades,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes archive passes on a ticker until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.ArchiveOnce(ctx, time.Now().UTC()); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("archive pass complete", slog.Int64("trades", n))
			}
		}
	}
}

// ArchiveOnce archives every closed trade older than the retention cutoff,
// batch by batch, returning the total number of rows moved. Each batch is
// uploaded as one JSONL object and deleted from the store only once the
// object's stored size matches what was sent.
func (a *Archiver) ArchiveOnce(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -a.retentionDays)
	var total int64

	for {
		batch, err := a.trades.ListClosedBefore(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive query: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive marshal: %w", err)
		}

		last := batch[len(batch)-1]
		key := archiveKey(*last.ClosedAt)
		if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive upload: %w", err)
		}

		if a.reader != nil {
			size, err := a.reader.Stat(ctx, key)
			if err != nil {
				return total, fmt.Errorf("s3blob: archive verify %s: %w", key, err)
			}
			if size != int64(len(buf)) {
				return total, fmt.Errorf("s3blob: archive verify %s: stored %d bytes, sent %d", key, size, len(buf))
			}
		}

		// The batch is ordered by closed_at ascending, so deleting strictly
		// before the last trade plus one nanosecond removes exactly the rows
		// just uploaded.
		deleted, err := a.trades.DeleteClosedBefore(ctx, last.ClosedAt.Add(time.Nanosecond))
		if err != nil {
			return total, fmt.Errorf("s3blob: archive delete: %w", err)
		}
		total += deleted

		a.logger.Info("archived trade batch",
			slog.String("key", key),
			slog.Int("uploaded", len(batch)),
			slog.Int64("deleted", deleted),
		)

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// archiveKey builds the S3 key for one archive file, partitioned by month
// with the batch boundary timestamp for uniqueness.
//
//	archive/trades/2026-08/20260830T151205Z.jsonl
func archiveKey(boundary time.Time) string {
	return fmt.Sprintf("archive/trades/%s/%s.jsonl",
		boundary.UTC().Format("2006-01"),
		boundary.UTC().Format("20060102T150405Z"),
	)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
