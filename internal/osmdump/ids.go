package osmdump

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"
)

// IDScanner streams only the note ids out of a dump. Reconciliation
// needs nothing but the id set, so skipping the comment subtrees keeps
// the pass considerably cheaper than a full parse.
type IDScanner struct {
	decoder *xml.Decoder
	logger  *zap.Logger
	skipped int
}

// NewIDScanner wraps an open dump stream.
func NewIDScanner(source io.Reader, logger *zap.Logger) *IDScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IDScanner{decoder: xml.NewDecoder(source), logger: logger}
}

// Next returns the next note id in file order, or io.EOF once the
// stream is exhausted. A note without a parseable id is logged and
// skipped.
func (s *IDScanner) Next() (int64, error) {
	for {
		token, err := s.decoder.Token()
		if err == io.EOF {
			return 0, io.EOF
		}
		if err != nil {
			return 0, fmt.Errorf("osmdump: read token: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "note" {
			continue
		}

		raw := ""
		for _, attribute := range start.Attr {
			if attribute.Name.Local == "id" {
				raw = attribute.Value
				break
			}
		}
		if err := s.decoder.Skip(); err != nil {
			return 0, fmt.Errorf("osmdump: skip note element: %w", err)
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.skipped++
			s.logger.Warn("skipping dump note without usable id",
				zap.String("note_id", raw),
				zap.Error(err))
			continue
		}
		return id, nil
	}
}

// Skipped reports how many elements without a usable id were dropped.
func (s *IDScanner) Skipped() int {
	return s.skipped
}
