package sync

import (
	"context"
	"errors"

	"github.com/notesreview/notesync/internal/notes"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("note store is required")

// WriterConfig carries the dependencies of a Writer.
type WriterConfig struct {
	Store  *notes.Store
	Logger *zap.Logger
}

// Writer turns candidate notes into store mutations. Both the importer
// and the updater terminate here, so the diff rules live in one place.
type Writer struct {
	store  *notes.Store
	logger *zap.Logger
}

// NewWriter validates the configuration and returns a Writer.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Store == nil {
		return nil, newEngineError(opWriterNew, "missing_store", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: cfg.Store, logger: logger}, nil
}

// Apply diffs one batch of candidates against the store and applies the
// resulting mutations unordered and best-effort. Per candidate:
//
//   - zero comments: delete by id
//   - not stored yet: insert the full note
//   - stored and field-for-field identical: no write, counted as matched
//   - stored but different: replace status, updated_at and comments,
//     leaving the coordinates untouched
//
// failureType tags any captured write-error rows. Re-applying the same
// batch is idempotent: the second pass lands entirely in matched.
func (w *Writer) Apply(ctx context.Context, failureType string, candidates []notes.Note) (Stats, error) {
	var stats Stats
	if len(candidates) == 0 {
		return stats, nil
	}

	liveIDs := make([]int64, 0, len(candidates))
	for _, candidate := range candidates {
		if !candidate.Deletable() {
			liveIDs = append(liveIDs, candidate.ID)
		}
	}

	existing, err := w.store.FindBatch(ctx, liveIDs)
	if err != nil {
		return stats, newEngineError(opWriterApply, "lookup_failed", err)
	}

	mutations := make([]notes.Mutation, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Deletable() {
			mutations = append(mutations, notes.Mutation{Kind: notes.MutationDelete, Note: candidate})
			continue
		}
		stored, ok := existing[candidate.ID]
		switch {
		case !ok:
			mutations = append(mutations, notes.Mutation{Kind: notes.MutationInsert, Note: candidate})
		case candidate.Equivalent(stored):
			stats.Matched++
		default:
			mutations = append(mutations, notes.Mutation{Kind: notes.MutationUpdate, Note: candidate})
		}
	}

	w.logger.Debug("applying mutations",
		zap.Int("candidates", len(candidates)),
		zap.Int("mutations", len(mutations)),
		zap.Int("matched", stats.Matched))

	applied, err := w.store.BulkApply(ctx, failureType, mutations)
	if err != nil {
		return stats, newEngineError(opWriterApply, "bulk_apply_failed", err)
	}
	stats.Inserted = applied.Inserted
	stats.Updated = applied.Updated
	stats.Deleted = applied.Deleted
	stats.Failed = applied.Failed
	return stats, nil
}
