package store

import "fmt"

// StorageError wraps a failed local-store operation with the collection and
// id it was touching.
type StorageError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store: %s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, collection, id string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Collection: collection, ID: id, Err: err}
}
