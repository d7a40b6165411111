// Package resolve decides the winning version when local and remote copies
// of the same document diverge. Resolution is last-write-wins on the
// modified timestamp; exact-timestamp ties produce a merged document with
// remote fields taking precedence, so every replica converges on the same
// record even under simultaneous writes with coarse clock resolution.
//
// There are no vector clocks and no per-field history. This is deliberately
// coarse: clients rarely write the same record within the same millisecond,
// and last-write-wins data loss is an accepted tradeoff.
package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrIdentityMismatch means a caller tried to resolve documents with
// different ids. That is a programming error, never silently coerced.
var ErrIdentityMismatch = errors.New("resolve: document ids differ")

// Source identifies where the winning version came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceMerged Source = "merged"
)

// Document is the schemaless view of a replicated record used at the sync
// boundary. Typed documents are converted through JSON, so numeric fields
// may appear as float64.
type Document map[string]any

// ID returns the document's id, or "" when absent.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Modified returns the modification timestamp in milliseconds.
func (d Document) Modified() int64 {
	return asMillis(d["modified"])
}

// Clone returns a shallow copy. Nested values are shared; resolution only
// ever rebinds top-level fields.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func asMillis(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// Resolution is the outcome of resolving two conflicting copies.
type Resolution struct {
	Winner Document
	Source Source
}

// Resolve returns the winning version of a document that exists on both
// sides. Pure: the same inputs always give the same outcome.
func Resolve(local, remote Document) (Resolution, error) {
	if local.ID() == "" || local.ID() != remote.ID() {
		return Resolution{}, fmt.Errorf("%w: local=%q remote=%q", ErrIdentityMismatch, local.ID(), remote.ID())
	}

	lm, rm := local.Modified(), remote.Modified()
	switch {
	case lm > rm:
		return Resolution{Winner: local, Source: SourceLocal}, nil
	case rm > lm:
		return Resolution{Winner: remote, Source: SourceRemote}, nil
	default:
		return Resolution{Winner: merge(local, remote), Source: SourceMerged}, nil
	}
}

// merge layers remote's fields over local's. The merged timestamp is
// remote's, and last_activity is the max of both sides.
func merge(local, remote Document) Document {
	out := local.Clone()
	for k, v := range remote {
		out[k] = v
	}
	out["modified"] = remote.Modified()

	la := asMillis(local["last_activity"])
	if ra := asMillis(remote["last_activity"]); ra > la {
		la = ra
	}
	if la > 0 {
		out["last_activity"] = la
	}
	return out
}

// Merge reconciles a remote batch against the matching local documents and
// returns the union by id, each overlapping id resolved through Resolve.
// The result is ordered by (modified, id) ascending so callers can apply it
// in timestamp order. Idempotent: merging the result against either input
// again yields the same set.
func Merge(locals, remotes []Document) ([]Document, error) {
	byID := make(map[string]Document, len(locals)+len(remotes))
	for _, l := range locals {
		byID[l.ID()] = l
	}
	for _, r := range remotes {
		l, ok := byID[r.ID()]
		if !ok {
			byID[r.ID()] = r
			continue
		}
		res, err := Resolve(l, r)
		if err != nil {
			return nil, err
		}
		byID[r.ID()] = res.Winner
	}

	out := make([]Document, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified() != out[j].Modified() {
			return out[i].Modified() < out[j].Modified()
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}
