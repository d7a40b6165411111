package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/bywater/internal/resolve"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "test-key"}, testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestPullSinceQueryAndTranslation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/chores" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("updated_at"); got != "gt.1500" {
			t.Errorf("updated_at filter = %q, want gt.1500", got)
		}
		if got := q.Get("order"); got != "updated_at.asc" {
			t.Errorf("order = %q, want updated_at.asc", got)
		}
		if got := r.Header.Get("apikey"); got != "test-key" {
			t.Errorf("apikey header = %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": "c1", "updated_at": 2000, "title": "sweep"},
			{"id": "c2", "updated_at": 3000, "is_deleted": true},
		})
	}))

	docs, err := c.PullSince(context.Background(), "chores", 1500)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	if docs[0].Modified() != 2000 {
		t.Errorf("docs[0].modified = %d, want 2000 (renamed from updated_at)", docs[0].Modified())
	}
	if _, ok := docs[0]["updated_at"]; ok {
		t.Error("wire field updated_at leaked into local document")
	}
	if docs[1]["state"] != "tombstoned" {
		t.Errorf("docs[1].state = %v, want tombstoned", docs[1]["state"])
	}
}

func TestPullSinceMissingTable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"PGRST205","message":"Could not find the table"}`)
	}))

	_, err := c.PullSince(context.Background(), "chores", 0)
	if !errors.Is(err, ErrSchemaNotProvisioned) {
		t.Fatalf("err = %v, want ErrSchemaNotProvisioned", err)
	}
}

func TestPullSinceServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.PullSince(context.Background(), "chores", 0)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestPullSinceConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, APIKey: "k"}, testLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.PullSince(context.Background(), "chores", 0)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestUpsertBatchTranslatesToWire(t *testing.T) {
	var got []map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if prefer := r.Header.Get("Prefer"); prefer != "resolution=merge-duplicates,return=minimal" {
			t.Errorf("Prefer = %q", prefer)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	docs := []resolve.Document{
		{"id": "c1", "modified": int64(2000), "title": "sweep"},
		{"id": "c2", "modified": int64(3000), "state": "tombstoned"},
	}
	if err := c.UpsertBatch(context.Background(), "chores", docs); err != nil {
		t.Fatalf("upsert batch: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("server saw %d docs, want 2", len(got))
	}
	if got[0]["updated_at"] != float64(2000) {
		t.Errorf("updated_at = %v, want 2000 (renamed from modified)", got[0]["updated_at"])
	}
	if _, ok := got[0]["modified"]; ok {
		t.Error("local field modified leaked onto the wire")
	}
	if got[1]["is_deleted"] != true {
		t.Errorf("is_deleted = %v, want true", got[1]["is_deleted"])
	}
}

func TestUpsertBatchEmptyIsNoRequest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request for empty batch")
	}))
	if err := c.UpsertBatch(context.Background(), "chores", nil); err != nil {
		t.Fatalf("empty upsert: %v", err)
	}
}

func TestDeleteByIDs(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if got := r.URL.Query().Get("id"); got != "in.(a,b)" {
			t.Errorf("id filter = %q, want in.(a,b)", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.DeleteByIDs(context.Background(), "chores", []string{"a", "b"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestDeleteByIDsEscapesReservedCharacters(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A comma inside an id must not read as a list separator.
		if !strings.Contains(r.URL.RawQuery, "id=in.(a%2Cb,c)") {
			t.Errorf("raw query = %q, want the embedded comma escaped", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := c.DeleteByIDs(context.Background(), "chores", []string{"a,b", "c"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestHealthReachable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Even an auth error means the service answered.
		w.WriteHeader(http.StatusUnauthorized)
	}))
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "not-a-url"}, testLogger()); err == nil {
		t.Fatal("expected error for URL without scheme")
	}
}
