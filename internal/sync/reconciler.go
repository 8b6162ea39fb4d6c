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

var errMissingScanner = errors.New("id scanner is required")

const reconcileFailureType = "reconcile_error"

// ReconcilerConfig carries the dependencies of a Reconciler.
type ReconcilerConfig struct {
	Scanner    *osmdump.IDScanner
	Store      *notes.Store
	Watermarks *watermark.Store
	Clock      func() time.Time
	Logger     *zap.Logger
	// Apply enables the actual deletions; without it the run only
	// reports the two set differences.
	Apply bool
}

// Reconciler diffs the dump's id set against the store and removes notes
// that no longer exist upstream. Deletion is bounded by the highest id
// in the dump so notes created after the dump was generated survive.
type Reconciler struct {
	scanner    *osmdump.IDScanner
	store      *notes.Store
	watermarks *watermark.Store
	clock      func() time.Time
	logger     *zap.Logger
	apply      bool
}

// NewReconciler validates the configuration and returns a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Scanner == nil {
		return nil, newEngineError(opReconcileRun, "missing_scanner", errMissingScanner)
	}
	if cfg.Store == nil {
		return nil, newEngineError(opReconcileRun, "missing_store", errMissingStore)
	}
	if cfg.Watermarks == nil {
		return nil, newEngineError(opReconcileRun, "missing_watermarks", errMissingWatermarks)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		scanner:    cfg.Scanner,
		store:      cfg.Store,
		watermarks: cfg.Watermarks,
		clock:      clock,
		logger:     logger,
		apply:      cfg.Apply,
	}, nil
}

// ReconcileResult summarizes both directions of the id-set diff.
type ReconcileResult struct {
	// DumpOnly counts ids present in the dump but missing from the store
	// (notes the importer has not caught up with yet).
	DumpOnly int
	// StoreOnly counts ids present in the store but absent from the
	// dump; these are the deletion candidates.
	StoreOnly int
	// Deleted is how many rows were actually removed (zero unless the
	// run was asked to apply).
	Deleted int
	MaxID   int64
}

// Run scans the dump ids, diffs them against the store and, when
// applying, deletes the stale rows and advances the sync watermark.
func (r *Reconciler) Run(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	inDump := make(map[int64]struct{})
	for {
		id, err := r.scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, newEngineError(opReconcileRun, "dump_read_failed", err)
		}
		inDump[id] = struct{}{}
		if id > result.MaxID {
			result.MaxID = id
		}
	}

	var stale []int64
	err := r.store.EachID(ctx, result.MaxID, func(id int64) error {
		if _, ok := inDump[id]; ok {
			// Seen in both; what remains in the map afterwards is the
			// dump-only remainder.
			delete(inDump, id)
			return nil
		}
		stale = append(stale, id)
		return nil
	})
	if err != nil {
		return result, newEngineError(opReconcileRun, "store_scan_failed", err)
	}

	result.DumpOnly = len(inDump)
	result.StoreOnly = len(stale)
	r.logger.Info("reconciliation diff computed",
		zap.Int("dump_only", result.DumpOnly),
		zap.Int("store_only", result.StoreOnly),
		zap.Int64("max_id", result.MaxID))

	if !r.apply {
		return result, nil
	}

	deleted, err := r.store.DeleteIDs(ctx, reconcileFailureType, stale)
	if err != nil {
		return result, newEngineError(opReconcileRun, "delete_failed", err)
	}
	result.Deleted = deleted

	if err := r.watermarks.Write(watermark.SlotSync, r.clock().UTC()); err != nil {
		return result, newEngineError(opReconcileRun, "watermark_write_failed", err)
	}
	return result, nil
}
