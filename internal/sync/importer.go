package sync

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/notesreview/notesync/internal/notes"
	"github.com/notesreview/notesync/internal/osmdump"
	"github.com/notesreview/notesync/internal/watermark"
	"go.uber.org/zap"
)

var (
	errMissingReader     = errors.New("dump reader is required")
	errMissingWriter     = errors.New("batch writer is required")
	errMissingWatermarks = errors.New("watermark store is required")
)

const importFailureType = "import_error"

// ImporterConfig carries the dependencies of an Importer.
type ImporterConfig struct {
	Reader     *osmdump.Reader
	Writer     *Writer
	Store      *notes.Store
	Watermarks *watermark.Store
	BatchSize  int
	Logger     *zap.Logger
}

// Importer loads a full dump into the store in large batches and then
// reconciles deletions against the dump's id set. Re-running it on an
// unchanged dump is a no-op: every candidate lands in matched.
type Importer struct {
	reader     *osmdump.Reader
	writer     *Writer
	store      *notes.Store
	watermarks *watermark.Store
	batchSize  int
	logger     *zap.Logger
}

// NewImporter validates the configuration and returns an Importer.
func NewImporter(cfg ImporterConfig) (*Importer, error) {
	if cfg.Reader == nil {
		return nil, newEngineError(opImportRun, "missing_reader", errMissingReader)
	}
	if cfg.Writer == nil {
		return nil, newEngineError(opImportRun, "missing_writer", errMissingWriter)
	}
	if cfg.Store == nil {
		return nil, newEngineError(opImportRun, "missing_store", errMissingStore)
	}
	if cfg.Watermarks == nil {
		return nil, newEngineError(opImportRun, "missing_watermarks", errMissingWatermarks)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		reader:     cfg.Reader,
		writer:     cfg.Writer,
		store:      cfg.Store,
		watermarks: cfg.Watermarks,
		batchSize:  batchSize,
		logger:     logger,
	}, nil
}

// ImportResult summarizes a completed import run.
type ImportResult struct {
	Stats   Stats
	Skipped int
	// MaxID is the highest note id seen in the dump; reconciliation
	// deletions are bounded by it.
	MaxID int64
	// NewestNote is the creation date of the newest note in the dump,
	// persisted as the import watermark.
	NewestNote time.Time
}

// Run streams the dump to completion, reconciles deletions and persists
// the import watermark. Any returned error is fatal and leaves the
// watermark at its previous value.
func (imp *Importer) Run(ctx context.Context) (ImportResult, error) {
	var result ImportResult
	seen := make(map[int64]struct{})
	batch := make([]notes.Note, 0, imp.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stats, err := imp.writer.Apply(ctx, importFailureType, batch)
		if err != nil {
			return err
		}
		result.Stats.Add(stats)
		imp.logger.Info("import batch applied",
			zap.Int("batch", len(batch)),
			zap.Int("inserted", stats.Inserted),
			zap.Int("updated", stats.Updated),
			zap.Int("matched", stats.Matched))
		batch = batch[:0]
		return nil
	}

	for {
		note, err := imp.reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, newEngineError(opImportRun, "dump_read_failed", err)
		}

		seen[note.ID] = struct{}{}
		if note.ID > result.MaxID {
			result.MaxID = note.ID
		}
		if opened := note.Opened(); opened.After(result.NewestNote) {
			result.NewestNote = opened
		}

		batch = append(batch, note)
		if len(batch) >= imp.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	result.Skipped = imp.reader.Skipped()

	deleted, err := imp.reconcile(ctx, seen, result.MaxID)
	if err != nil {
		return result, err
	}
	result.Stats.Deleted += deleted

	if !result.NewestNote.IsZero() {
		if err := imp.watermarks.Write(watermark.SlotImport, result.NewestNote); err != nil {
			return result, newEngineError(opImportRun, "watermark_write_failed", err)
		}
	}
	return result, nil
}

// reconcile deletes every stored id absent from the dump. The scan is
// bounded by the dump's maximum id so notes created upstream after the
// dump was generated survive.
func (imp *Importer) reconcile(ctx context.Context, seen map[int64]struct{}, maxID int64) (int, error) {
	if maxID == 0 {
		return 0, nil
	}

	var stale []int64
	err := imp.store.EachID(ctx, maxID, func(id int64) error {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
		return nil
	})
	if err != nil {
		return 0, newEngineError(opImportRun, "reconcile_scan_failed", err)
	}

	deleted, err := imp.store.DeleteIDs(ctx, importFailureType, stale)
	if err != nil {
		return deleted, newEngineError(opImportRun, "reconcile_delete_failed", err)
	}
	if deleted > 0 {
		imp.logger.Info("reconciled deletions", zap.Int("deleted", deleted), zap.Int64("max_id", maxID))
	}
	return deleted, nil
}
