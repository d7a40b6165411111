// Package sync keeps the local replica and the hosted backend eventually
// consistent: cursor-based pulls, incremental pushes of local mutations,
// and reconciliation of live change events, per collection. Conflicts are
// settled by the resolve package; watermarks only ever move forward, and
// only after the work they describe has fully committed.
package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/bywater/internal/model"
	"github.com/dukerupert/bywater/internal/remote"
	"github.com/dukerupert/bywater/internal/resolve"
	"github.com/dukerupert/bywater/internal/store"
)

// remoteAPI is the slice of the backend client the engine needs.
type remoteAPI interface {
	PullSince(ctx context.Context, table string, since int64) ([]resolve.Document, error)
	UpsertBatch(ctx context.Context, table string, docs []resolve.Document) error
	DeleteByIDs(ctx context.Context, table string, ids []string) error
}

// Engine syncs one collection. Collections sync independently; there is no
// ordering guarantee across collections or across batches.
type Engine struct {
	col    store.Synced
	meta   *store.MetaStore
	remote remoteAPI
	logger *slog.Logger
}

func NewEngine(col store.Synced, meta *store.MetaStore, api remoteAPI, logger *slog.Logger) *Engine {
	return &Engine{
		col:    col,
		meta:   meta,
		remote: api,
		logger: logger.With("collection", col.Name()),
	}
}

// Pull fetches remote changes past the pull watermark and reconciles them
// into the local store. Every pulled document goes through the same
// resolver as live events, so a concurrent local edit is never blindly
// overwritten. The watermark advances only after the batch commits, and it
// advances to the time the request was made, not the time it finished.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	w, err := e.meta.Get(ctx, e.col.Name())
	if err != nil {
		return 0, err
	}

	cursor := model.NowMillis()
	docs, err := e.remote.PullSince(ctx, e.col.Name(), w.LastPull)
	if errors.Is(err, remote.ErrSchemaNotProvisioned) {
		e.logger.Debug("pull skipped, table not provisioned")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	// docs arrive ascending by modified and are applied in that order.
	winners := make([]resolve.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ID() == "" {
			e.logger.Error("dropping pulled record without id")
			continue
		}
		local, err := e.col.GetDoc(ctx, doc.ID())
		if err != nil {
			return 0, err
		}
		if local == nil {
			winners = append(winners, doc)
			continue
		}
		res, err := resolve.Resolve(local, doc)
		if err != nil {
			return 0, err
		}
		if res.Source != resolve.SourceRemote {
			e.logConflict(local, doc, res.Source)
		}
		if res.Source == resolve.SourceLocal {
			// The local edit is newer; it will reach the server on push.
			continue
		}
		winners = append(winners, res.Winner)
	}

	if err := e.col.PutDocs(ctx, winners); err != nil {
		return 0, err
	}
	if err := e.meta.AdvancePull(ctx, e.col.Name(), cursor); err != nil {
		return 0, err
	}
	return len(winners), nil
}

// Push sends every local change past the push watermark: live documents as
// an upsert batch, tombstones as a delete request. The watermark advances
// only after both batches succeed; any failure leaves it alone so the same
// records are retried next cycle.
func (e *Engine) Push(ctx context.Context) (upserts, deletes int, err error) {
	w, err := e.meta.Get(ctx, e.col.Name())
	if err != nil {
		return 0, 0, err
	}

	cursor := model.NowMillis()
	pending, err := e.col.DocsModifiedSince(ctx, w.LastPush)
	if err != nil {
		return 0, 0, err
	}

	var live []resolve.Document
	var dead []string
	for _, doc := range pending {
		if doc["state"] == string(model.Tombstoned) {
			dead = append(dead, doc.ID())
		} else {
			live = append(live, doc)
		}
	}

	err = e.remote.UpsertBatch(ctx, e.col.Name(), live)
	if errors.Is(err, remote.ErrSchemaNotProvisioned) {
		e.logger.Debug("push skipped, table not provisioned")
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	if err := e.remote.DeleteByIDs(ctx, e.col.Name(), dead); err != nil {
		return 0, 0, err
	}

	if err := e.meta.AdvancePush(ctx, e.col.Name(), cursor); err != nil {
		return 0, 0, err
	}
	return len(live), len(dead), nil
}

// ApplyEvent reconciles one live change event. Remote deletes become local
// tombstones rather than hard deletes, preserving the row for any
// still-pending local state.
func (e *Engine) ApplyEvent(ctx context.Context, ev remote.Event) error {
	switch ev.Action {
	case remote.ActionDelete:
		return e.col.TombstoneDoc(ctx, ev.ID, model.NowMillis())

	case remote.ActionInsert, remote.ActionUpdate:
		local, err := e.col.GetDoc(ctx, ev.ID)
		if err != nil {
			return err
		}
		if local == nil {
			return e.col.PutDocs(ctx, []resolve.Document{ev.Doc})
		}
		res, err := resolve.Resolve(local, ev.Doc)
		if err != nil {
			return err
		}
		if res.Source != resolve.SourceRemote {
			e.logConflict(local, ev.Doc, res.Source)
		}
		if res.Source == resolve.SourceLocal {
			return nil
		}
		return e.col.PutDocs(ctx, []resolve.Document{res.Winner})

	default:
		e.logger.Error("unknown event action", "action", ev.Action)
		return nil
	}
}

// logConflict reports a resolution whose winner wasn't trivially remote.
// Not an error: last-write-wins discarding one side's edit is the
// documented tradeoff, but it should be visible in the logs.
func (e *Engine) logConflict(local, remoteDoc resolve.Document, src resolve.Source) {
	delta := local.Modified() - remoteDoc.Modified()
	if delta < 0 {
		delta = -delta
	}
	e.logger.Warn("conflict resolved",
		"id", local.ID(),
		"local_modified", local.Modified(),
		"remote_modified", remoteDoc.Modified(),
		"winner", string(src),
		"delta_ms", delta,
	)
}
