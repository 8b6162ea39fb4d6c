package notes

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notes.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &WriteError{}); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Database: db, IDProvider: NewUUIDProvider()})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("unexpected time error: %v", err)
	}
	return ts
}

func mustComment(t *testing.T, date string, action Action, uid *int64, user, text string) Comment {
	t.Helper()
	comment, err := NewComment(mustTime(t, date), action, uid, user, text)
	if err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}
	return comment
}

func mustNote(t *testing.T, id int64, lon, lat float64, status Status, comments ...Comment) Note {
	t.Helper()
	note, err := NewNote(id, lon, lat, status, comments)
	if err != nil {
		t.Fatalf("unexpected note error: %v", err)
	}
	return note
}

func int64Ptr(value int64) *int64 {
	return &value
}
