package resolve

import (
	"errors"
	"reflect"
	"testing"
)

func doc(id string, modified int64, extra map[string]any) Document {
	d := Document{"id": id, "modified": modified}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

func TestResolveLocalNewer(t *testing.T) {
	local := doc("a", 300, map[string]any{"title": "sweep porch"})
	remote := doc("a", 200, map[string]any{"title": "sweep deck"})

	res, err := Resolve(local, remote)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceLocal {
		t.Errorf("source = %q, want %q", res.Source, SourceLocal)
	}
	if res.Winner.Modified() != 300 {
		t.Errorf("winner.modified = %d, want 300", res.Winner.Modified())
	}
	if res.Winner["title"] != "sweep porch" {
		t.Errorf("winner.title = %v, want sweep porch", res.Winner["title"])
	}
}

func TestResolveRemoteNewer(t *testing.T) {
	local := doc("a", 100, nil)
	remote := doc("a", 200, map[string]any{"field": "X"})

	res, err := Resolve(local, remote)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceRemote {
		t.Errorf("source = %q, want %q", res.Source, SourceRemote)
	}
	if res.Winner.Modified() != 200 {
		t.Errorf("winner.modified = %d, want 200", res.Winner.Modified())
	}
	if res.Winner["field"] != "X" {
		t.Errorf("winner.field = %v, want X", res.Winner["field"])
	}
}

func TestResolveTieMerges(t *testing.T) {
	local := doc("b", 500, map[string]any{"title": "local title", "notes": "keep me", "last_activity": int64(900)})
	remote := doc("b", 500, map[string]any{"title": "remote title", "last_activity": int64(450)})

	res, err := Resolve(local, remote)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceMerged {
		t.Errorf("source = %q, want %q", res.Source, SourceMerged)
	}
	if res.Winner.Modified() != 500 {
		t.Errorf("winner.modified = %d, want 500", res.Winner.Modified())
	}
	// Remote fields take precedence where present.
	if res.Winner["title"] != "remote title" {
		t.Errorf("winner.title = %v, want remote title", res.Winner["title"])
	}
	// Local-only fields survive.
	if res.Winner["notes"] != "keep me" {
		t.Errorf("winner.notes = %v, want keep me", res.Winner["notes"])
	}
	// last_activity is the max of both sides.
	if got := asMillis(res.Winner["last_activity"]); got != 900 {
		t.Errorf("winner.last_activity = %d, want 900", got)
	}
}

func TestResolveIdentityMismatch(t *testing.T) {
	_, err := Resolve(doc("a", 1, nil), doc("b", 2, nil))
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("err = %v, want ErrIdentityMismatch", err)
	}

	_, err = Resolve(Document{"modified": int64(1)}, doc("b", 2, nil))
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("missing local id: err = %v, want ErrIdentityMismatch", err)
	}
}

func TestResolveDeterministic(t *testing.T) {
	local := doc("c", 500, map[string]any{"a": 1.0})
	remote := doc("c", 500, map[string]any{"b": 2.0})

	first, err := Resolve(local, remote)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Resolve(local, remote)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if again.Source != first.Source || !reflect.DeepEqual(again.Winner, first.Winner) {
			t.Fatalf("resolution changed on repeat call: %+v vs %+v", again, first)
		}
	}
}

func TestLastWriteWinsProperty(t *testing.T) {
	cases := []struct{ lm, rm int64 }{
		{1, 2}, {2, 1}, {100, 2000}, {1700000000001, 1700000000000},
	}
	for _, tc := range cases {
		res, err := Resolve(doc("x", tc.lm, nil), doc("x", tc.rm, nil))
		if err != nil {
			t.Fatalf("resolve(%d,%d): %v", tc.lm, tc.rm, err)
		}
		max := tc.lm
		if tc.rm > max {
			max = tc.rm
		}
		if res.Winner.Modified() != max {
			t.Errorf("resolve(%d,%d): winner.modified = %d, want %d", tc.lm, tc.rm, res.Winner.Modified(), max)
		}
	}
}

func TestMergeUnionAndOrder(t *testing.T) {
	locals := []Document{
		doc("a", 300, map[string]any{"title": "local a"}),
		doc("b", 100, nil),
	}
	remotes := []Document{
		doc("a", 200, map[string]any{"title": "remote a"}),
		doc("c", 50, nil),
	}

	out, err := Merge(locals, remotes)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	// Ascending by modified: c(50), b(100), a(300, local won).
	wantIDs := []string{"c", "b", "a"}
	for i, id := range wantIDs {
		if out[i].ID() != id {
			t.Errorf("out[%d].id = %q, want %q", i, out[i].ID(), id)
		}
	}
	if out[2]["title"] != "local a" {
		t.Errorf("overlap winner title = %v, want local a", out[2]["title"])
	}
}

func TestMergeIdempotent(t *testing.T) {
	locals := []Document{doc("a", 300, nil), doc("b", 100, nil)}
	remotes := []Document{doc("a", 200, nil), doc("c", 50, nil)}

	once, err := Merge(locals, remotes)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	twice, err := Merge(once, remotes)
	if err != nil {
		t.Fatalf("merge again: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\n once: %+v\ntwice: %+v", once, twice)
	}
}
