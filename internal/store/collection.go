// Package store is the durable local replica: one SQLite-backed collection
// per entity type plus per-collection sync watermarks. Collections are
// strongly typed handles resolved once at startup (see Registry); the sync
// engine uses the schemaless Synced view of the same tables.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/resolve"
)

// Collection is a typed handle over one replicated table. T is the document
// struct; PT is its pointer type, which carries the Record methods through
// the embedded Syncable.
type Collection[T any, PT interface {
	*T
	model.Record
}] struct {
	db   *sql.DB
	name string
}

// NewCollection binds a collection handle to its table. The table must
// exist (database.Open runs migrations before any handle is built).
func NewCollection[T any, PT interface {
	*T
	model.Record
}](db *sql.DB, name string) *Collection[T, PT] {
	return &Collection[T, PT]{db: db, name: name}
}

// Name returns the collection (table) name.
func (c *Collection[T, PT]) Name() string { return c.name }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Collection[T, PT]) put(ctx context.Context, ex execer, doc PT) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO `+c.name+` (id, state, modified, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, modified = excluded.modified, data = excluded.data`,
		doc.Key(), string(doc.Lifecycle()), doc.LastModified(), string(data),
	)
	return err
}

// Insert stamps the document and writes it. An empty id gets a fresh UUID;
// an unset created_at defaults to now. Insert does not check for a
// pre-existing id; overwriting callers must use Upsert deliberately.
func (c *Collection[T, PT]) Insert(ctx context.Context, doc PT) error {
	now := model.NowMillis()
	if doc.Key() == "" {
		doc.SetKey(uuid.NewString())
	}
	if doc.CreatedStamp() == 0 {
		doc.SetCreated(now)
	}
	doc.Stamp(now)
	return storageErr("insert", c.name, doc.Key(), c.put(ctx, c.db, doc))
}

// Upsert writes the document, always overwriting its modified stamp with
// now regardless of the caller-supplied value. A blind upsert of a stale
// in-memory copy therefore wins locally; callers must have resolved
// conflicts first (see the resolve package).
func (c *Collection[T, PT]) Upsert(ctx context.Context, doc PT) error {
	doc.Stamp(model.NowMillis())
	return storageErr("upsert", c.name, doc.Key(), c.put(ctx, c.db, doc))
}

// BulkUpsert writes the batch in one transaction, all-or-nothing, stamping
// each document with the call time.
func (c *Collection[T, PT]) BulkUpsert(ctx context.Context, docs []PT) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("bulk upsert", c.name, "", err)
	}
	defer tx.Rollback()

	now := model.NowMillis()
	for _, doc := range docs {
		doc.Stamp(now)
		if err := c.put(ctx, tx, doc); err != nil {
			return storageErr("bulk upsert", c.name, doc.Key(), err)
		}
	}
	return storageErr("bulk upsert", c.name, "", tx.Commit())
}

func (c *Collection[T, PT]) scan(data string) (PT, error) {
	doc := PT(new(T))
	if err := json.Unmarshal([]byte(data), doc); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return doc, nil
}

// GetByID returns the document, tombstoned or not, or (nil, nil) when the
// id has never been seen or was hard-deleted.
func (c *Collection[T, PT]) GetByID(ctx context.Context, id string) (PT, error) {
	var data string
	err := c.db.QueryRowContext(ctx, `SELECT data FROM `+c.name+` WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", c.name, id, err)
	}
	doc, err := c.scan(data)
	return doc, storageErr("get", c.name, id, err)
}

func (c *Collection[T, PT]) list(ctx context.Context, op, query string, args ...any) ([]PT, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, c.name, "", err)
	}
	defer rows.Close()

	var docs []PT
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(op, c.name, "", err)
		}
		doc, err := c.scan(data)
		if err != nil {
			return nil, storageErr(op, c.name, "", err)
		}
		docs = append(docs, doc)
	}
	return docs, storageErr(op, c.name, "", rows.Err())
}

// GetAll returns every active document, ascending by modified. Tombstones
// are excluded: they are logically absent from application views.
func (c *Collection[T, PT]) GetAll(ctx context.Context) ([]PT, error) {
	return c.list(ctx, "get all",
		`SELECT data FROM `+c.name+` WHERE state = ? ORDER BY modified ASC, id ASC`, string(model.Active))
}

// Query filters the active set with a client-side predicate. Fine for a
// kilobyte/megabyte-scale household cache; not meant for large datasets.
func (c *Collection[T, PT]) Query(ctx context.Context, pred func(PT) bool) ([]PT, error) {
	all, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []PT
	for _, doc := range all {
		if pred(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// FindByIndex returns the active documents whose field equals value,
// ascending by modified. field names a top-level document field; the
// migrations index the ones the kiosk queries by (household_id,
// assigned_to, member_id, chore_id), so those lookups hit an index
// instead of scanning.
func (c *Collection[T, PT]) FindByIndex(ctx context.Context, field string, value any) ([]PT, error) {
	if err := validField(field); err != nil {
		return nil, storageErr("find", c.name, "", err)
	}
	return c.list(ctx, "find",
		`SELECT data FROM `+c.name+` WHERE state = ? AND json_extract(data, '$.`+field+`') = ?
		 ORDER BY modified ASC, id ASC`, string(model.Active), value)
}

// FindByIndexRange returns the active documents whose field lies in
// [lo, hi], ascending by that field. Used with the completed_at index for
// day-windowed completion queries.
func (c *Collection[T, PT]) FindByIndexRange(ctx context.Context, field string, lo, hi any) ([]PT, error) {
	if err := validField(field); err != nil {
		return nil, storageErr("find range", c.name, "", err)
	}
	expr := `json_extract(data, '$.` + field + `')`
	return c.list(ctx, "find range",
		`SELECT data FROM `+c.name+` WHERE state = ? AND `+expr+` >= ? AND `+expr+` <= ?
		 ORDER BY `+expr+` ASC, id ASC`, string(model.Active), lo, hi)
}

// validField rejects anything that could not be a document field name.
// Field names are compiled into the query text, never caller data.
func validField(field string) error {
	if field == "" {
		return fmt.Errorf("empty index field")
	}
	for _, r := range field {
		if (r < 'a' || r > 'z') && r != '_' {
			return fmt.Errorf("invalid index field %q", field)
		}
	}
	return nil
}

// Count returns the number of active documents.
func (c *Collection[T, PT]) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+c.name+` WHERE state = ?`, string(model.Active)).Scan(&n)
	return n, storageErr("count", c.name, "", err)
}

// Remove deletes a document. hard=true removes the row physically; the
// default soft form transitions the document to the tombstoned state and
// restamps it so the deletion propagates to the remote side on push.
// Removing an unknown id is a no-op.
func (c *Collection[T, PT]) Remove(ctx context.Context, id string, hard bool) error {
	if hard {
		_, err := c.db.ExecContext(ctx, `DELETE FROM `+c.name+` WHERE id = ?`, id)
		return storageErr("remove", c.name, id, err)
	}

	doc, err := c.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	doc.Tombstone(model.NowMillis())
	return storageErr("remove", c.name, id, c.put(ctx, c.db, doc))
}

// GetModifiedSince returns every document, tombstones included, whose
// modified is strictly greater than the watermark, ascending by modified.
// This is the basis for incremental push.
func (c *Collection[T, PT]) GetModifiedSince(ctx context.Context, since int64) ([]PT, error) {
	return c.list(ctx, "modified since",
		`SELECT data FROM `+c.name+` WHERE modified > ? ORDER BY modified ASC, id ASC`, since)
}

// PurgeTombstones physically removes tombstoned documents last modified at
// or before the cutoff. Safe only once their deletion has been pushed.
func (c *Collection[T, PT]) PurgeTombstones(ctx context.Context, cutoff int64) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM `+c.name+` WHERE state = ? AND modified <= ?`, string(model.Tombstoned), cutoff)
	if err != nil {
		return 0, storageErr("purge", c.name, "", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Synced: the schemaless view used by the sync engine ---

// Synced is the per-collection surface the sync engine works against.
// Writes through this view preserve the documents' own modified stamps:
// sync applies observed state, it does not author new changes.
type Synced interface {
	Name() string
	DocsModifiedSince(ctx context.Context, since int64) ([]resolve.Document, error)
	GetDoc(ctx context.Context, id string) (resolve.Document, error)
	PutDocs(ctx context.Context, docs []resolve.Document) error
	TombstoneDoc(ctx context.Context, id string, ms int64) error
	Count(ctx context.Context) (int, error)
	PurgeTombstones(ctx context.Context, cutoff int64) (int, error)
}

func (c *Collection[T, PT]) docList(ctx context.Context, op, query string, args ...any) ([]resolve.Document, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, c.name, "", err)
	}
	defer rows.Close()

	var docs []resolve.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, storageErr(op, c.name, "", err)
		}
		var doc resolve.Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, storageErr(op, c.name, "", err)
		}
		docs = append(docs, doc)
	}
	return docs, storageErr(op, c.name, "", rows.Err())
}

// DocsModifiedSince is GetModifiedSince for the sync engine.
func (c *Collection[T, PT]) DocsModifiedSince(ctx context.Context, since int64) ([]resolve.Document, error) {
	return c.docList(ctx, "modified since",
		`SELECT data FROM `+c.name+` WHERE modified > ? ORDER BY modified ASC, id ASC`, since)
}

// GetDoc returns the raw document for an id, or nil when absent.
func (c *Collection[T, PT]) GetDoc(ctx context.Context, id string) (resolve.Document, error) {
	var data string
	err := c.db.QueryRowContext(ctx, `SELECT data FROM `+c.name+` WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", c.name, id, err)
	}
	var doc resolve.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, storageErr("get", c.name, id, err)
	}
	return doc, nil
}

func (c *Collection[T, PT]) putDoc(ctx context.Context, ex execer, doc resolve.Document) error {
	state, _ := doc["state"].(string)
	if state == "" {
		state = string(model.Active)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO `+c.name+` (id, state, modified, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, modified = excluded.modified, data = excluded.data`,
		doc.ID(), state, doc.Modified(), string(data),
	)
	return err
}

// PutDocs writes a resolved batch in one transaction, preserving each
// document's modified stamp and lifecycle state verbatim.
func (c *Collection[T, PT]) PutDocs(ctx context.Context, docs []resolve.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("put docs", c.name, "", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if err := c.putDoc(ctx, tx, doc); err != nil {
			return storageErr("put docs", c.name, doc.ID(), err)
		}
	}
	return storageErr("put docs", c.name, "", tx.Commit())
}

// TombstoneDoc records a remote-originated deletion as a local tombstone,
// keeping the row so any still-pending local state can reconcile against it.
func (c *Collection[T, PT]) TombstoneDoc(ctx context.Context, id string, ms int64) error {
	doc, err := c.GetDoc(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = resolve.Document{"id": id}
	}
	doc["state"] = string(model.Tombstoned)
	doc["modified"] = ms
	return storageErr("tombstone", c.name, id, c.putDoc(ctx, c.db, doc))
}
