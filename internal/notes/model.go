package notes

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the lifecycle states of a note.
type Status string

const (
	// StatusOpen marks a note that is still awaiting resolution.
	StatusOpen Status = "open"
	// StatusClosed marks a note that has been resolved upstream.
	StatusClosed Status = "closed"
)

// Action enumerates the events that can appear in a note's comment thread.
type Action string

const (
	ActionOpened    Action = "opened"
	ActionCommented Action = "commented"
	ActionClosed    Action = "closed"
	ActionReopened  Action = "reopened"
	ActionHidden    Action = "hidden"
)

var (
	// ErrInvalidNoteID indicates that a note identifier is not positive.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidStatus indicates an unknown note status value.
	ErrInvalidStatus = errors.New("notes: invalid status")
	// ErrMissingCommentDate indicates a comment without a timestamp.
	ErrMissingCommentDate = errors.New("notes: comment date is required")
)

// ParseStatus validates a raw status string from the upstream API.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusOpen, StatusClosed:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Comment is one timestamped event in a note's thread. UID is nil when the
// acting user's account no longer exists; User and Text are empty rather
// than stored when upstream supplied no value.
type Comment struct {
	Date   time.Time `json:"date"`
	Action Action    `json:"action"`
	UID    *int64    `json:"uid,omitempty"`
	User   string    `json:"user,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// NewComment normalizes one raw comment. The date is truncated to UTC
// seconds (upstream resolution) and blank text is dropped entirely.
func NewComment(date time.Time, action Action, uid *int64, user, text string) (Comment, error) {
	if date.IsZero() {
		return Comment{}, ErrMissingCommentDate
	}
	return Comment{
		Date:   date.UTC().Truncate(time.Second),
		Action: action,
		UID:    uid,
		User:   user,
		Text:   text,
	}, nil
}

// Equal reports field-wise equality with another comment.
func (c Comment) Equal(other Comment) bool {
	if !c.Date.Equal(other.Date) || c.Action != other.Action {
		return false
	}
	if (c.UID == nil) != (other.UID == nil) {
		return false
	}
	if c.UID != nil && *c.UID != *other.UID {
		return false
	}
	return c.User == other.User && c.Text == other.Text
}

// Note is the normalized shape shared by the dump and API ingestion paths.
// Coordinates are first-write-wins: updates never rewrite them.
type Note struct {
	ID        int64
	Longitude float64
	Latitude  float64
	Status    Status
	UpdatedAt time.Time
	Comments  []Comment
}

// NewNote assembles a note from already-normalized comments. UpdatedAt is
// derived from the last comment; a note without comments keeps a zero
// UpdatedAt, reports Deletable, and must never be inserted.
func NewNote(id int64, longitude, latitude float64, status Status, comments []Comment) (Note, error) {
	if id <= 0 {
		return Note{}, fmt.Errorf("%w: %d", ErrInvalidNoteID, id)
	}
	note := Note{
		ID:        id,
		Longitude: longitude,
		Latitude:  latitude,
		Status:    status,
		Comments:  comments,
	}
	if len(comments) > 0 {
		note.UpdatedAt = comments[len(comments)-1].Date
	}
	return note, nil
}

// Deletable reports whether the upstream representation has no visible
// comments. Such notes are useless (the thread may have been hidden by a
// moderator) and must be removed from the store instead of written.
func (n Note) Deletable() bool {
	return len(n.Comments) == 0
}

// Opened returns the creation date of the note, the date of its opening
// comment. The zero time is returned for deletable notes.
func (n Note) Opened() time.Time {
	if len(n.Comments) == 0 {
		return time.Time{}
	}
	return n.Comments[0].Date
}

// Equivalent reports whether the mutable fields (status, updated_at,
// comments) match field for field. Coordinates are deliberately excluded:
// they are immutable once written and never participate in diffing.
func (n Note) Equivalent(other Note) bool {
	if n.Status != other.Status || !n.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	if len(n.Comments) != len(other.Comments) {
		return false
	}
	for i := range n.Comments {
		if !n.Comments[i].Equal(other.Comments[i]) {
			return false
		}
	}
	return true
}
