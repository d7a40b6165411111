package model

import "time"

// Lifecycle is the replication state of a document. A tombstoned document
// is logically absent but stays in the local store until its deletion has
// propagated and it is purged.
type Lifecycle string

const (
	Active     Lifecycle = "active"
	Tombstoned Lifecycle = "tombstoned"
)

// Syncable holds the fields every replicated document carries. It is
// embedded in every collection's document type.
//
// Modified is milliseconds since epoch and mirrors the server's
// change-tracking column. It is the sole field used for ordering and
// conflict resolution, and never moves backward for a given id.
type Syncable struct {
	ID           string    `json:"id"`
	CreatedAt    int64     `json:"created_at,omitempty"`
	Modified     int64     `json:"modified"`
	State        Lifecycle `json:"state,omitempty"`
	LastActivity int64     `json:"last_activity,omitempty"`
}

// Record is implemented by every document type via the embedded Syncable.
type Record interface {
	Key() string
	SetKey(id string)
	LastModified() int64
	Stamp(ms int64)
	CreatedStamp() int64
	SetCreated(ms int64)
	Lifecycle() Lifecycle
	Tombstone(ms int64)
}

func (s *Syncable) Key() string        { return s.ID }
func (s *Syncable) SetKey(id string)   { s.ID = id }
func (s *Syncable) LastModified() int64 { return s.Modified }

// Stamp sets the modification timestamp. Callers pass "now"; the store
// rejects nothing here because upserts deliberately overwrite any
// caller-supplied value.
func (s *Syncable) Stamp(ms int64) { s.Modified = ms }

func (s *Syncable) CreatedStamp() int64 { return s.CreatedAt }
func (s *Syncable) SetCreated(ms int64) { s.CreatedAt = ms }

// Lifecycle reports the document state. Documents written before the state
// field existed count as active.
func (s *Syncable) Lifecycle() Lifecycle {
	if s.State == "" {
		return Active
	}
	return s.State
}

// Tombstone marks the document deleted and restamps it so the deletion
// shows up in modified-since queries and propagates on the next push.
func (s *Syncable) Tombstone(ms int64) {
	s.State = Tombstoned
	s.Modified = ms
}

// NowMillis is the timestamp format used throughout the replica.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
