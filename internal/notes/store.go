package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreError wraps a store failure with a dotted operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew  = "notes.store.new"
	opFindBatch = "notes.find_batch"
	opGet       = "notes.get"
	opEachID    = "notes.each_id"
	opCount     = "notes.count"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// MutationKind discriminates store mutations produced by diffing.
type MutationKind string

const (
	// MutationInsert writes a full note that the store has never seen.
	MutationInsert MutationKind = "insert"
	// MutationUpdate replaces status, updated_at and comments of an
	// existing row; coordinates are never rewritten.
	MutationUpdate MutationKind = "update"
	// MutationDelete removes a note whose upstream thread is empty.
	MutationDelete MutationKind = "delete"
)

// Mutation is one store operation. Delete mutations only use Note.ID.
type Mutation struct {
	Kind MutationKind
	Note Note
}

// Applied reports how many mutations of a batch took effect per kind.
// Failed counts mutations rejected by the store and captured as
// write-error rows.
type Applied struct {
	Inserted int
	Updated  int
	Deleted  int
	Failed   int
}

// StoreConfig carries the dependencies of a Store.
type StoreConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store owns the notes collection and the append-only write-error log.
// It is created once per run invocation and handed to the engine
// components explicitly; there is no process-wide singleton.
type Store struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, idProvider: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// SQLite limits the number of bound variables per statement.
const idChunkSize = 500

// FindBatch loads the stored notes for the given ids. Missing ids are
// simply absent from the result map.
func (s *Store) FindBatch(ctx context.Context, ids []int64) (map[int64]Note, error) {
	found := make(map[int64]Note, len(ids))
	for start := 0; start < len(ids); start += idChunkSize {
		end := min(start+idChunkSize, len(ids))

		var records []Record
		if err := s.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Find(&records).Error; err != nil {
			return nil, newStoreError(opFindBatch, "select_failed", err)
		}
		for _, record := range records {
			note, err := record.toNote()
			if err != nil {
				return nil, newStoreError(opFindBatch, "decode_failed", err)
			}
			found[note.ID] = note
		}
	}
	return found, nil
}

// Get loads a single note by id.
func (s *Store) Get(ctx context.Context, id int64) (Note, bool, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, newStoreError(opGet, "select_failed", err)
	}
	note, err := record.toNote()
	if err != nil {
		return Note{}, false, newStoreError(opGet, "decode_failed", err)
	}
	return note, true, nil
}

// BulkApply applies a batch of mutations unordered and best-effort: a
// mutation rejected by the store is captured as a write-error row tagged
// with failureType and the rest of the batch still applies. Only context
// cancellation aborts the batch.
func (s *Store) BulkApply(ctx context.Context, failureType string, mutations []Mutation) (Applied, error) {
	var applied Applied
	for _, mutation := range mutations {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if err := s.apply(ctx, mutation); err != nil {
			applied.Failed++
			s.recordFailure(ctx, failureType, mutation.Note.ID, err)
			continue
		}
		switch mutation.Kind {
		case MutationInsert:
			applied.Inserted++
		case MutationUpdate:
			applied.Updated++
		case MutationDelete:
			applied.Deleted++
		}
	}
	return applied, nil
}

func (s *Store) apply(ctx context.Context, mutation Mutation) error {
	switch mutation.Kind {
	case MutationInsert:
		record, err := newRecord(mutation.Note)
		if err != nil {
			return err
		}
		return s.db.WithContext(ctx).Create(&record).Error
	case MutationUpdate:
		record, err := newRecord(mutation.Note)
		if err != nil {
			return err
		}
		return s.db.WithContext(ctx).Model(&Record{}).Where("id = ?", record.ID).Updates(map[string]any{
			"status":        record.Status,
			"updated_at_s":  record.UpdatedAtSeconds,
			"comments_json": record.CommentsJSON,
		}).Error
	case MutationDelete:
		// Deleting an absent row is a no-op, not a failure.
		return s.db.WithContext(ctx).Delete(&Record{}, "id = ?", mutation.Note.ID).Error
	default:
		return fmt.Errorf("unknown mutation kind %q", mutation.Kind)
	}
}

func (s *Store) recordFailure(ctx context.Context, failureType string, noteID int64, cause error) {
	s.logger.Warn("store mutation rejected",
		zap.String("type", failureType),
		zap.Int64("note_id", noteID),
		zap.Error(cause))

	errorID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Error("write-error id generation failed", zap.Error(err))
		return
	}
	row := WriteError{
		ErrorID:           errorID,
		Type:              failureType,
		OccurredAtSeconds: s.clock().UTC().Unix(),
		NoteID:            noteID,
		Detail:            cause.Error(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("write-error record not persisted", zap.Error(err))
	}
}

// EachID streams the stored note ids not larger than maxID in ascending
// order. Used by reconciliation to avoid materializing the whole key set
// through gorm structs.
func (s *Store) EachID(ctx context.Context, maxID int64, fn func(id int64) error) error {
	rows, err := s.db.WithContext(ctx).Model(&Record{}).
		Select("id").
		Where("id <= ?", maxID).
		Order("id").
		Rows()
	if err != nil {
		return newStoreError(opEachID, "select_failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return newStoreError(opEachID, "scan_failed", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return newStoreError(opEachID, "iterate_failed", err)
	}
	return nil
}

// DeleteIDs removes the given ids in chunks and returns how many rows
// were actually deleted. Chunk failures are captured as write-error rows
// and do not stop the remaining chunks.
func (s *Store) DeleteIDs(ctx context.Context, failureType string, ids []int64) (int, error) {
	deleted := 0
	for start := 0; start < len(ids); start += idChunkSize {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		end := min(start+idChunkSize, len(ids))

		result := s.db.WithContext(ctx).Delete(&Record{}, "id IN ?", ids[start:end])
		if result.Error != nil {
			s.recordFailure(ctx, failureType, ids[start], result.Error)
			continue
		}
		deleted += int(result.RowsAffected)
	}
	return deleted, nil
}

// Count returns the number of stored notes.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Record{}).Count(&total).Error; err != nil {
		return 0, newStoreError(opCount, "count_failed", err)
	}
	return total, nil
}
