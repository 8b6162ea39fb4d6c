// Package watermark persists the durable cursors of the sync engine as
// plain text files holding one ISO-8601 timestamp each. Every slot is
// read once when its owning run starts and written once when the run
// completes without fatal error; a crash leaves the previous value in
// place, which is safe to re-process.
package watermark

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Slot names one watermark file.
type Slot string

const (
	// SlotImport records the creation date of the newest note present in
	// the most recently completed full import.
	SlotImport Slot = "LAST_IMPORT.txt"
	// SlotUpdate records the upper time bound fully processed by the
	// incremental updater.
	SlotUpdate Slot = "LAST_UPDATE.txt"
	// SlotSync records the completion time of the last reconciliation.
	SlotSync Slot = "LAST_SYNC.txt"
)

// Timestamps written by earlier tooling carry no zone suffix.
var parseLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// Store reads and writes watermark slots inside a single directory.
type Store struct {
	dir string
}

// NewStore ensures the directory exists and returns a Store.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("watermark directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watermark directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Read returns the slot's timestamp. The second return value is false
// when the slot has never been written; any other failure to read or
// parse the file is an error the caller must treat as fatal.
func (s *Store) Read(slot Slot) (time.Time, bool, error) {
	raw, err := os.ReadFile(s.path(slot))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark %s: %w", slot, err)
	}

	value := strings.TrimSpace(string(raw))
	for _, layout := range parseLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("parse watermark %s: unrecognized timestamp %q", slot, value)
}

// Write persists the slot all-or-nothing: the value lands in a temporary
// file first and is renamed into place.
func (s *Store) Write(slot Slot, value time.Time) error {
	formatted := value.UTC().Truncate(time.Second).Format(time.RFC3339)

	temp, err := os.CreateTemp(s.dir, string(slot)+".*")
	if err != nil {
		return fmt.Errorf("write watermark %s: %w", slot, err)
	}
	if _, err := temp.WriteString(formatted); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return fmt.Errorf("write watermark %s: %w", slot, err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("write watermark %s: %w", slot, err)
	}
	if err := os.Rename(temp.Name(), s.path(slot)); err != nil {
		os.Remove(temp.Name())
		return fmt.Errorf("write watermark %s: %w", slot, err)
	}
	return nil
}

func (s *Store) path(slot Slot) string {
	return filepath.Join(s.dir, string(slot))
}
