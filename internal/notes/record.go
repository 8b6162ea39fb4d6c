package notes

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted row backing a Note. The comment thread is kept
// as a JSON document so the row mirrors the upstream shape instead of
// exploding into a child table the sync engine never queries.
type Record struct {
	ID               int64   `gorm:"column:id;primaryKey"`
	Longitude        float64 `gorm:"column:lon;not null"`
	Latitude         float64 `gorm:"column:lat;not null"`
	Status           string  `gorm:"column:status;size:16;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null;index:idx_notes_updated"`
	CommentsJSON     string  `gorm:"column:comments_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "notes"
}

// WriteError captures one rejected store mutation. Rows are append-only
// and exist purely for observability; nothing in the engine reads them.
type WriteError struct {
	ErrorID           string `gorm:"column:error_id;primaryKey;size:190;not null"`
	Type              string `gorm:"column:type;size:64;not null"`
	OccurredAtSeconds int64  `gorm:"column:occurred_at_s;not null"`
	NoteID            int64  `gorm:"column:note_id;not null"`
	Detail            string `gorm:"column:detail;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (WriteError) TableName() string {
	return "write_errors"
}

func newRecord(note Note) (Record, error) {
	payload, err := json.Marshal(note.Comments)
	if err != nil {
		return Record{}, fmt.Errorf("encode comments for note %d: %w", note.ID, err)
	}
	return Record{
		ID:               note.ID,
		Longitude:        note.Longitude,
		Latitude:         note.Latitude,
		Status:           string(note.Status),
		UpdatedAtSeconds: note.UpdatedAt.Unix(),
		CommentsJSON:     string(payload),
	}, nil
}

func (r Record) toNote() (Note, error) {
	var comments []Comment
	if err := json.Unmarshal([]byte(r.CommentsJSON), &comments); err != nil {
		return Note{}, fmt.Errorf("decode comments for note %d: %w", r.ID, err)
	}
	return Note{
		ID:        r.ID,
		Longitude: r.Longitude,
		Latitude:  r.Latitude,
		Status:    Status(r.Status),
		UpdatedAt: time.Unix(r.UpdatedAtSeconds, 0).UTC(),
		Comments:  comments,
	}, nil
}
