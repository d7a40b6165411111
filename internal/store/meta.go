package store

import (
	"context"
	"database/sql"
)

// Watermarks bound which remote and local changes have already been
// reconciled for one collection.
type Watermarks struct {
	Collection string
	LastPull   int64
	LastPush   int64
}

// MetaStore persists per-collection sync watermarks. Advances are
// monotonic at the SQL level: a concurrent or replayed cycle can never move
// a watermark backward.
type MetaStore struct {
	db *sql.DB
}

func NewMetaStore(db *sql.DB) *MetaStore {
	return &MetaStore{db: db}
}

// Get returns the watermarks for a collection, zero-valued when the
// collection has never synced.
func (m *MetaStore) Get(ctx context.Context, collection string) (Watermarks, error) {
	w := Watermarks{Collection: collection}
	err := m.db.QueryRowContext(ctx,
		`SELECT last_pull, last_push FROM sync_meta WHERE collection = ?`, collection).
		Scan(&w.LastPull, &w.LastPush)
	if err == sql.ErrNoRows {
		return w, nil
	}
	if err != nil {
		return w, storageErr("get watermarks", collection, "", err)
	}
	return w, nil
}

// AdvancePull moves the pull watermark forward. Passing an older timestamp
// is a no-op.
func (m *MetaStore) AdvancePull(ctx context.Context, collection string, ts int64) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO sync_meta (collection, last_pull) VALUES (?, ?)
		 ON CONFLICT(collection) DO UPDATE SET last_pull = max(last_pull, excluded.last_pull)`,
		collection, ts,
	)
	return storageErr("advance pull", collection, "", err)
}

// AdvancePush moves the push watermark forward. Passing an older timestamp
// is a no-op.
func (m *MetaStore) AdvancePush(ctx context.Context, collection string, ts int64) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO sync_meta (collection, last_push) VALUES (?, ?)
		 ON CONFLICT(collection) DO UPDATE SET last_push = max(last_push, excluded.last_push)`,
		collection, ts,
	)
	return storageErr("advance push", collection, "", err)
}
