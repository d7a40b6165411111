package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/dukerupert/bywater/internal/database"
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/resolve"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRegistry(db)
}

func TestInsertAssignsIDAndStamps(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	before := model.NowMillis()
	c := &model.Chore{Title: "take out trash", Points: 5}
	if err := r.Chores.Insert(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	after := model.NowMillis()

	if c.ID == "" {
		t.Error("expected generated id")
	}
	if c.Modified < before || c.Modified > after {
		t.Errorf("modified = %d, want within [%d, %d]", c.Modified, before, after)
	}
	if c.CreatedAt == 0 {
		t.Error("expected created_at to default")
	}

	got, err := r.Chores.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "take out trash" {
		t.Fatalf("got %+v, want stored chore", got)
	}
}

func TestUpsertOverwritesStaleStamp(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	c := &model.Chore{Title: "dishes"}
	if err := r.Chores.Insert(ctx, c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A caller-supplied stale stamp must be overwritten with now.
	stale := c.Modified - 60_000
	c.Modified = stale
	c.Title = "dishes (evening)"
	if err := r.Chores.Upsert(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if c.Modified <= stale {
		t.Errorf("modified = %d, want restamped past %d", c.Modified, stale)
	}

	got, err := r.Chores.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "dishes (evening)" {
		t.Errorf("title = %q, want updated", got.Title)
	}
}

func TestBulkUpsertAllOrNothing(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	docs := make([]*model.Chore, 100)
	for i := range docs {
		docs[i] = &model.Chore{
			Syncable: model.Syncable{ID: fmt.Sprintf("chore-%03d", i)},
			Title:    fmt.Sprintf("chore %d", i),
		}
	}

	before := model.NowMillis()
	if err := r.Chores.BulkUpsert(ctx, docs); err != nil {
		t.Fatalf("bulk upsert: %v", err)
	}
	after := model.NowMillis()

	all, err := r.Chores.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 100 {
		t.Fatalf("len = %d, want 100", len(all))
	}
	for _, c := range all {
		if c.Modified < before || c.Modified > after {
			t.Fatalf("chore %s modified = %d, want within [%d, %d]", c.ID, c.Modified, before, after)
		}
	}
}

func TestBulkUpsertIdempotent(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	docs := []*model.Chore{
		{Syncable: model.Syncable{ID: "a"}, Title: "sweep"},
		{Syncable: model.Syncable{ID: "b"}, Title: "mop"},
	}
	if err := r.Chores.BulkUpsert(ctx, docs); err != nil {
		t.Fatalf("first bulk upsert: %v", err)
	}
	first, err := r.Chores.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}

	if err := r.Chores.BulkUpsert(ctx, docs); err != nil {
		t.Fatalf("second bulk upsert: %v", err)
	}
	second, err := r.Chores.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("record count changed: %d -> %d", len(first), len(second))
	}
	for i := range second {
		if second[i].ID != first[i].ID || second[i].Title != first[i].Title {
			t.Errorf("record %d changed: %+v -> %+v", i, first[i], second[i])
		}
		// Only modified may change, and only forward.
		if second[i].Modified < first[i].Modified {
			t.Errorf("record %s modified moved backward: %d -> %d",
				second[i].ID, first[i].Modified, second[i].Modified)
		}
	}
}

func TestSoftThenHardRemove(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	m := &model.Member{Syncable: model.Syncable{ID: "u1"}, Name: "Rosie"}
	if err := r.Members.Insert(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := r.Members.Remove(ctx, "u1", false); err != nil {
		t.Fatalf("soft remove: %v", err)
	}
	got, err := r.Members.GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("soft-removed record should still be readable by id")
	}
	if got.Lifecycle() != model.Tombstoned {
		t.Errorf("lifecycle = %q, want tombstoned", got.Lifecycle())
	}

	// Tombstones are absent from active views.
	all, err := r.Members.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("active view has %d records, want 0", len(all))
	}
	n, err := r.Members.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}

	if err := r.Members.Remove(ctx, "u1", true); err != nil {
		t.Fatalf("hard remove: %v", err)
	}
	got, err = r.Members.GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("get after hard remove: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil after hard remove", got)
	}
}

func TestRemoveUnknownIDIsNoOp(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Members.Remove(ctx, "ghost", false); err != nil {
		t.Fatalf("soft remove unknown: %v", err)
	}
	if err := r.Members.Remove(ctx, "ghost", true); err != nil {
		t.Fatalf("hard remove unknown: %v", err)
	}
}

func TestGetModifiedSinceStrictAndOrdered(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := r.Chores.Insert(ctx, &model.Chore{Syncable: model.Syncable{ID: id}, Title: id}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	all, err := r.Chores.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	watermark := all[0].Modified

	// Soft-delete one record; the tombstone must appear in the delta.
	if err := r.Chores.Remove(ctx, "b", false); err != nil {
		t.Fatalf("remove: %v", err)
	}

	changed, err := r.Chores.GetModifiedSince(ctx, watermark)
	if err != nil {
		t.Fatalf("modified since: %v", err)
	}
	for i := 1; i < len(changed); i++ {
		if changed[i].Modified < changed[i-1].Modified {
			t.Errorf("results not ascending by modified at %d", i)
		}
	}
	var sawTombstone bool
	for _, c := range changed {
		if c.Modified <= watermark {
			t.Errorf("record %s modified %d not strictly greater than %d", c.ID, c.Modified, watermark)
		}
		if c.ID == "b" && c.Lifecycle() == model.Tombstoned {
			sawTombstone = true
		}
	}
	if !sawTombstone {
		t.Error("expected the tombstone for b in the delta")
	}
}

func TestQueryFiltersActiveSet(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	assignee := "m1"
	chores := []*model.Chore{
		{Syncable: model.Syncable{ID: "c1"}, Title: "dust", AssignedTo: &assignee},
		{Syncable: model.Syncable{ID: "c2"}, Title: "vacuum"},
	}
	if err := r.Chores.BulkUpsert(ctx, chores); err != nil {
		t.Fatalf("bulk upsert: %v", err)
	}

	mine, err := r.Chores.Query(ctx, func(c *model.Chore) bool {
		return c.AssignedTo != nil && *c.AssignedTo == "m1"
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "c1" {
		t.Fatalf("query returned %+v, want only c1", mine)
	}
}

func TestPutDocsPreservesStamps(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	docs := []resolve.Document{
		{"id": "h1", "modified": int64(12345), "name": "Bagshot Row"},
		{"id": "h2", "modified": int64(99999), "name": "Hill Lane", "state": "tombstoned"},
	}
	if err := r.Households.PutDocs(ctx, docs); err != nil {
		t.Fatalf("put docs: %v", err)
	}

	h1, err := r.Households.GetByID(ctx, "h1")
	if err != nil {
		t.Fatalf("get h1: %v", err)
	}
	if h1.Modified != 12345 {
		t.Errorf("h1.modified = %d, want 12345 (sync writes must not restamp)", h1.Modified)
	}

	h2, err := r.Households.GetByID(ctx, "h2")
	if err != nil {
		t.Fatalf("get h2: %v", err)
	}
	if h2.Lifecycle() != model.Tombstoned {
		t.Errorf("h2 lifecycle = %q, want tombstoned", h2.Lifecycle())
	}
}

func TestTombstoneDocForUnknownID(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Rewards.TombstoneDoc(ctx, "r9", 777); err != nil {
		t.Fatalf("tombstone doc: %v", err)
	}
	doc, err := r.Rewards.GetDoc(ctx, "r9")
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	if doc == nil {
		t.Fatal("expected a placeholder tombstone row")
	}
	if doc["state"] != string(model.Tombstoned) || doc.Modified() != 777 {
		t.Errorf("doc = %+v, want tombstoned at 777", doc)
	}
}

func TestPurgeTombstones(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Chores.Insert(ctx, &model.Chore{Syncable: model.Syncable{ID: "old"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.Chores.Remove(ctx, "old", false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	tomb, err := r.Chores.GetByID(ctx, "old")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	n, err := r.Chores.PurgeTombstones(ctx, tomb.Modified)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	got, err := r.Chores.GetByID(ctx, "old")
	if err != nil {
		t.Fatalf("get after purge: %v", err)
	}
	if got != nil {
		t.Error("expected tombstone to be gone after purge")
	}
}

func TestRegistrySyncedCoversAllCollections(t *testing.T) {
	r := setupRegistry(t)

	want := []string{
		Households, Members, Chores, ChoreCompletions,
		Rewards, RewardRedemptions, PointAdjustments, NotificationPrefs,
	}
	synced := r.Synced()
	if len(synced) != len(want) {
		t.Fatalf("synced collections = %d, want %d", len(synced), len(want))
	}
	for i, s := range synced {
		if s.Name() != want[i] {
			t.Errorf("synced[%d] = %q, want %q", i, s.Name(), want[i])
		}
	}
}

func TestFindByIndex(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	robin := "m1"
	chores := []*model.Chore{
		{Syncable: model.Syncable{ID: "c1"}, Title: "dust", AssignedTo: &robin},
		{Syncable: model.Syncable{ID: "c2"}, Title: "vacuum"},
		{Syncable: model.Syncable{ID: "c3"}, Title: "mop", AssignedTo: &robin},
	}
	if err := r.Chores.BulkUpsert(ctx, chores); err != nil {
		t.Fatalf("bulk upsert: %v", err)
	}
	// Tombstoned assignments drop out of the index view.
	if err := r.Chores.Remove(ctx, "c3", false); err != nil {
		t.Fatalf("remove: %v", err)
	}

	mine, err := r.Chores.FindByIndex(ctx, "assigned_to", "m1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "c1" {
		t.Fatalf("found %+v, want only c1", mine)
	}
}

func TestFindByIndexRange(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	comps := []*model.ChoreCompletion{
		{Syncable: model.Syncable{ID: "k1"}, ChoreID: "c1", CompletedAt: 100},
		{Syncable: model.Syncable{ID: "k2"}, ChoreID: "c1", CompletedAt: 200},
		{Syncable: model.Syncable{ID: "k3"}, ChoreID: "c1", CompletedAt: 300},
	}
	if err := r.Completions.BulkUpsert(ctx, comps); err != nil {
		t.Fatalf("bulk upsert: %v", err)
	}

	// Inclusive on both ends, ordered by the indexed field.
	got, err := r.Completions.FindByIndexRange(ctx, "completed_at", 100, 200)
	if err != nil {
		t.Fatalf("find range: %v", err)
	}
	if len(got) != 2 || got[0].ID != "k1" || got[1].ID != "k2" {
		t.Fatalf("found %+v, want k1 and k2", got)
	}
}

func TestFindByIndexRejectsBadField(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if _, err := r.Chores.FindByIndex(ctx, "x'; DROP TABLE chores; --", "v"); err == nil {
		t.Error("expected an error for a malformed field name")
	}
	if _, err := r.Completions.FindByIndexRange(ctx, "", 0, 1); err == nil {
		t.Error("expected an error for an empty field name")
	}
}
