package sync

// Stats is the audit trail of a run. The per-kind counts must be exact:
// inserted/updated/deleted reflect mutations the store actually applied,
// matched counts candidates identical to their stored version, and
// failed counts mutations captured in the write-error log.
type Stats struct {
	Inserted int
	Updated  int
	Matched  int
	Deleted  int
	Failed   int
}

// Add accumulates another batch's counts.
func (s *Stats) Add(other Stats) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Matched += other.Matched
	s.Deleted += other.Deleted
	s.Failed += other.Failed
}

// Mutated returns the number of records the run changed in the store.
func (s Stats) Mutated() int {
	return s.Inserted + s.Updated + s.Deleted
}
