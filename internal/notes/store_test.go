package notes

import (
	"context"
	"testing"
)

func TestBulkApplyInsertAndRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)

	note := mustNote(t, 5, 10.0, 20.0, StatusOpen,
		mustComment(t, "2020-01-01T00:00:00Z", ActionOpened, int64Ptr(42), "alice", "first"))

	applied, err := store.BulkApply(context.Background(), "import_error", []Mutation{
		{Kind: MutationInsert, Note: note},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied.Inserted != 1 || applied.Failed != 0 {
		t.Fatalf("unexpected applied counts: %+v", applied)
	}

	stored, found, err := store.Get(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatalf("expected note to exist")
	}
	if !stored.Equivalent(note) {
		t.Fatalf("stored note differs: %+v vs %+v", stored, note)
	}
	if stored.Longitude != 10.0 || stored.Latitude != 20.0 {
		t.Fatalf("unexpected coordinates: %v %v", stored.Longitude, stored.Latitude)
	}
}

func TestBulkApplyUpdateLeavesCoordinatesUntouched(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	opened := mustComment(t, "2020-01-01T00:00:00Z", ActionOpened, nil, "alice", "")
	original := mustNote(t, 5, 10.0, 20.0, StatusOpen, opened)
	if _, err := store.BulkApply(ctx, "import_error", []Mutation{{Kind: MutationInsert, Note: original}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The update carries different coordinates; they must be ignored.
	closed := mustComment(t, "2020-01-02T00:00:00Z", ActionClosed, nil, "bob", "")
	changed := mustNote(t, 5, 99.0, 99.0, StatusClosed, opened, closed)
	applied, err := store.BulkApply(ctx, "update_error", []Mutation{{Kind: MutationUpdate, Note: changed}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied.Updated != 1 {
		t.Fatalf("unexpected applied counts: %+v", applied)
	}

	stored, _, err := store.Get(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != StatusClosed || len(stored.Comments) != 2 {
		t.Fatalf("update not applied: %+v", stored)
	}
	if stored.Longitude != 10.0 || stored.Latitude != 20.0 {
		t.Fatalf("coordinates were rewritten: %v %v", stored.Longitude, stored.Latitude)
	}
}

func TestBulkApplyDeleteIsIdempotent(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	note := mustNote(t, 7, 1.0, 2.0, StatusOpen,
		mustComment(t, "2020-01-01T00:00:00Z", ActionOpened, nil, "", ""))
	if _, err := store.BulkApply(ctx, "import_error", []Mutation{{Kind: MutationInsert, Note: note}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	empty := mustNote(t, 7, 1.0, 2.0, StatusOpen)
	for run := 0; run < 2; run++ {
		applied, err := store.BulkApply(ctx, "update_error", []Mutation{{Kind: MutationDelete, Note: empty}})
		if err != nil {
			t.Fatalf("unexpected error on run %d: %v", run, err)
		}
		if applied.Deleted != 1 || applied.Failed != 0 {
			t.Fatalf("unexpected applied counts on run %d: %+v", run, applied)
		}
	}

	if _, found, err := store.Get(ctx, 7); err != nil || found {
		t.Fatalf("expected note to be gone, found=%v err=%v", found, err)
	}
}

func TestBulkApplyIsolatesMutationFailures(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	comment := mustComment(t, "2020-01-01T00:00:00Z", ActionOpened, nil, "", "")
	first := mustNote(t, 1, 0, 0, StatusOpen, comment)
	duplicate := mustNote(t, 1, 0, 0, StatusOpen, comment)
	second := mustNote(t, 2, 0, 0, StatusOpen, comment)

	// The duplicate insert violates the primary key; the rest of the
	// batch must still apply.
	applied, err := store.BulkApply(ctx, "import_error", []Mutation{
		{Kind: MutationInsert, Note: first},
		{Kind: MutationInsert, Note: duplicate},
		{Kind: MutationInsert, Note: second},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied.Inserted != 2 || applied.Failed != 1 {
		t.Fatalf("unexpected applied counts: %+v", applied)
	}

	var failures []WriteError
	if err := db.Find(&failures).Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected one write-error row, got %d", len(failures))
	}
	if failures[0].Type != "import_error" || failures[0].NoteID != 1 {
		t.Fatalf("unexpected write-error row: %+v", failures[0])
	}
	if failures[0].ErrorID == "" || failures[0].Detail == "" {
		t.Fatalf("write-error row missing id or detail: %+v", failures[0])
	}
}

func TestFindBatchReturnsOnlyExistingIDs(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	comment := mustComment(t, "2020-01-01T00:00:00Z", ActionOpened, nil, "", "")
	if _, err := store.BulkApply(ctx, "import_error", []Mutation{
		{Kind: MutationInsert, Note: mustNote(t, 1, 0, 0, StatusOpen, comment)},
		{Kind: MutationInsert, Note: mustNote(t, 3, 0, 0, StatusOpen, comment)},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := store.FindBatch(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected two notes, got %d", len(found))
	}
	if _, ok := found[2]; ok {
		t.Fatalf("id 2 must be absent")
	}
}

func TestEachIDRespectsUpperBound(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	comment := mustComment(t, "2020-01-01T00:00:00Z", ActionOpened, nil, "", "")
	var mutations []Mutation
	for _, id := range []int64{1, 5, 10, 20} {
		mutations = append(mutations, Mutation{Kind: MutationInsert, Note: mustNote(t, id, 0, 0, StatusOpen, comment)})
	}
	if _, err := store.BulkApply(ctx, "import_error", mutations); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var seen []int64
	err := store.EachID(ctx, 10, func(id int64) error {
		seen = append(seen, id)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 5 || seen[2] != 10 {
		t.Fatalf("unexpected ids: %v", seen)
	}
}

func TestDeleteIDsReportsAffectedRows(t *testing.T) {
	db := newTestDatabase(t)
	store := newTestStore(t, db)
	ctx := context.Background()

	comment := mustComment(t, "2020-01-01T00:00:00Z", ActionOpened, nil, "", "")
	if _, err := store.BulkApply(ctx, "import_error", []Mutation{
		{Kind: MutationInsert, Note: mustNote(t, 1, 0, 0, StatusOpen, comment)},
		{Kind: MutationInsert, Note: mustNote(t, 2, 0, 0, StatusOpen, comment)},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleted, err := store.DeleteIDs(ctx, "reconcile_error", []int64{1, 2, 99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", deleted)
	}

	total, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected empty store, got %d", total)
	}
}
