package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/notesreview/notesync/internal/notes"
	"github.com/notesreview/notesync/internal/watermark"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *notes.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notes.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&notes.Record{}, &notes.WriteError{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	store, err := notes.NewStore(notes.StoreConfig{Database: db, IDProvider: notes.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func newTestWriter(t *testing.T, store *notes.Store) *Writer {
	t.Helper()
	writer, err := NewWriter(WriterConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected writer error: %v", err)
	}
	return writer
}

func newTestWatermarks(t *testing.T) *watermark.Store {
	t.Helper()
	watermarks, err := watermark.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected watermark error: %v", err)
	}
	return watermarks
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("unexpected time error: %v", err)
	}
	return ts
}

func mustComment(t *testing.T, date string, action notes.Action, user, text string) notes.Comment {
	t.Helper()
	comment, err := notes.NewComment(mustTime(t, date), action, nil, user, text)
	if err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	return comment
}

func mustNote(t *testing.T, id int64, lon, lat float64, status notes.Status, comments ...notes.Comment) notes.Note {
	t.Helper()
	note, err := notes.NewNote(id, lon, lat, status, comments)
	if err != nil {
		t.Fatalf("unexpected note error: %v", err)
	}
	return note
}

func seedNotes(t *testing.T, store *notes.Store, seeded ...notes.Note) {
	t.Helper()
	mutations := make([]notes.Mutation, 0, len(seeded))
	for _, note := range seeded {
		mutations = append(mutations, notes.Mutation{Kind: notes.MutationInsert, Note: note})
	}
	applied, err := store.BulkApply(context.Background(), "test_seed", mutations)
	if err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	if applied.Inserted != len(seeded) || applied.Failed != 0 {
		t.Fatalf("seed did not apply cleanly: %+v", applied)
	}
}

type fetchCall struct {
	from  time.Time
	to    time.Time
	limit int
}

// scriptedFetcher replays canned pages and records the requested windows.
type scriptedFetcher struct {
	pages [][]notes.Note
	err   error
	calls []fetchCall
}

func (f *scriptedFetcher) Fetch(ctx context.Context, from, to time.Time, limit int) ([]notes.Note, int, error) {
	f.calls = append(f.calls, fetchCall{from: from, to: to, limit: limit})
	if f.err != nil {
		return nil, 0, f.err
	}
	index := len(f.calls) - 1
	if index >= len(f.pages) {
		return nil, 0, nil
	}
	page := f.pages[index]
	return page, len(page), nil
}
