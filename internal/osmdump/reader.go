// Package osmdump streams note elements out of a full planet dump. The
// dump holds millions of notes, so the reader hands out one parsed note
// at a time and releases each element as soon as it is consumed; at no
// point is more than a single note tree held in memory.
package osmdump

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/notesreview/notesync/internal/notes"
	"go.uber.org/zap"
)

// Attributes stay strings here so that one note with broken values can
// be skipped without poisoning the XML token stream.
type noteElement struct {
	ID       string           `xml:"id,attr"`
	Lon      string           `xml:"lon,attr"`
	Lat      string           `xml:"lat,attr"`
	ClosedAt string           `xml:"closed_at,attr"`
	Comments []commentElement `xml:"comment"`
}

type commentElement struct {
	Timestamp string `xml:"timestamp,attr"`
	Action    string `xml:"action,attr"`
	UID       string `xml:"uid,attr"`
	User      string `xml:"user,attr"`
	Text      string `xml:",chardata"`
}

// Reader produces a lazy, finite, non-restartable sequence of notes in
// file order. It never touches the store.
type Reader struct {
	decoder *xml.Decoder
	logger  *zap.Logger
	skipped int
}

// NewReader wraps an open dump stream.
func NewReader(source io.Reader, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{decoder: xml.NewDecoder(source), logger: logger}
}

// Next returns the next well-formed note from the dump, or io.EOF once
// the stream is exhausted. A note that fails to convert is logged with
// its id and skipped; only a broken XML stream ends the sequence early.
func (r *Reader) Next() (notes.Note, error) {
	for {
		token, err := r.decoder.Token()
		if err == io.EOF {
			return notes.Note{}, io.EOF
		}
		if err != nil {
			return notes.Note{}, fmt.Errorf("osmdump: read token: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "note" {
			continue
		}

		var element noteElement
		if err := r.decoder.DecodeElement(&element, &start); err != nil {
			return notes.Note{}, fmt.Errorf("osmdump: decode note element: %w", err)
		}

		note, err := convert(element)
		if err != nil {
			r.skipped++
			r.logger.Warn("skipping malformed dump note",
				zap.String("note_id", element.ID),
				zap.Error(err))
			continue
		}
		return note, nil
	}
}

// Skipped reports how many malformed elements were dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

func convert(element noteElement) (notes.Note, error) {
	id, err := strconv.ParseInt(element.ID, 10, 64)
	if err != nil {
		return notes.Note{}, fmt.Errorf("parse id: %w", err)
	}
	longitude, err := strconv.ParseFloat(element.Lon, 64)
	if err != nil {
		return notes.Note{}, fmt.Errorf("parse lon: %w", err)
	}
	latitude, err := strconv.ParseFloat(element.Lat, 64)
	if err != nil {
		return notes.Note{}, fmt.Errorf("parse lat: %w", err)
	}

	status := notes.StatusOpen
	if element.ClosedAt != "" {
		status = notes.StatusClosed
	}

	comments := make([]notes.Comment, 0, len(element.Comments))
	for _, raw := range element.Comments {
		comment, err := convertComment(raw)
		if err != nil {
			return notes.Note{}, err
		}
		comments = append(comments, comment)
	}

	return notes.NewNote(id, longitude, latitude, status, comments)
}

func convertComment(raw commentElement) (notes.Comment, error) {
	date, err := notes.ParseDate(raw.Timestamp)
	if err != nil {
		return notes.Comment{}, fmt.Errorf("parse comment timestamp: %w", err)
	}

	var uid *int64
	if raw.UID != "" {
		value, err := strconv.ParseInt(raw.UID, 10, 64)
		if err != nil {
			return notes.Comment{}, fmt.Errorf("parse comment uid: %w", err)
		}
		uid = &value
	}

	text := strings.TrimSpace(raw.Text)
	return notes.NewComment(date, notes.Action(raw.Action), uid, raw.User, text)
}
