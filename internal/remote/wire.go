package remote

import (
	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/resolve"
)

// The server tracks changes in an updated_at column and deletions in an
// is_deleted flag; the replica calls those modified and state. Translation
// is a renaming step at this boundary, values pass through untouched.

const (
	wireModified = "updated_at"
	wireDeleted  = "is_deleted"

	localModified = "modified"
	localState    = "state"
)

// FromWire renames server fields to their local names.
func FromWire(doc resolve.Document) resolve.Document {
	out := doc.Clone()
	if v, ok := out[wireModified]; ok {
		out[localModified] = v
		delete(out, wireModified)
	}
	if v, ok := out[wireDeleted]; ok {
		if deleted, _ := v.(bool); deleted {
			out[localState] = string(model.Tombstoned)
		}
		delete(out, wireDeleted)
	}
	return out
}

// ToWire renames local fields to their server names.
func ToWire(doc resolve.Document) resolve.Document {
	out := doc.Clone()
	if v, ok := out[localModified]; ok {
		out[wireModified] = v
		delete(out, localModified)
	}
	if v, ok := out[localState]; ok {
		out[wireDeleted] = v == string(model.Tombstoned)
		delete(out, localState)
	}
	return out
}
