package notes

import (
	"fmt"
	"time"
)

// Upstream emits RFC3339 in the dump and "2006-01-02 15:04:05 UTC" in
// the change API; older dumps omit the zone suffix.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05",
}

// ParseDate parses an upstream timestamp into UTC. Both ingestion paths
// share this so the resulting Note shape is path-independent.
func ParseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("notes: unrecognized date %q", raw)
}
