package store

import (
	"context"
	"testing"
)

func TestWatermarksDefaultZero(t *testing.T) {
	r := setupRegistry(t)

	w, err := r.Meta.Get(context.Background(), Chores)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.LastPull != 0 || w.LastPush != 0 {
		t.Errorf("fresh watermarks = %+v, want zeros", w)
	}
}

func TestWatermarksMonotonic(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Meta.AdvancePull(ctx, Chores, 1000); err != nil {
		t.Fatalf("advance pull: %v", err)
	}
	if err := r.Meta.AdvancePush(ctx, Chores, 900); err != nil {
		t.Fatalf("advance push: %v", err)
	}

	// Attempts to move backward are no-ops.
	if err := r.Meta.AdvancePull(ctx, Chores, 500); err != nil {
		t.Fatalf("advance pull backward: %v", err)
	}
	if err := r.Meta.AdvancePush(ctx, Chores, 1); err != nil {
		t.Fatalf("advance push backward: %v", err)
	}

	w, err := r.Meta.Get(ctx, Chores)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.LastPull != 1000 {
		t.Errorf("last_pull = %d, want 1000", w.LastPull)
	}
	if w.LastPush != 900 {
		t.Errorf("last_push = %d, want 900", w.LastPush)
	}

	// Forward advances still apply.
	if err := r.Meta.AdvancePull(ctx, Chores, 2000); err != nil {
		t.Fatalf("advance pull forward: %v", err)
	}
	w, err = r.Meta.Get(ctx, Chores)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.LastPull != 2000 {
		t.Errorf("last_pull = %d, want 2000", w.LastPull)
	}
}

func TestWatermarksPerCollection(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	if err := r.Meta.AdvancePull(ctx, Chores, 100); err != nil {
		t.Fatalf("advance: %v", err)
	}
	w, err := r.Meta.Get(ctx, Rewards)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if w.LastPull != 0 {
		t.Errorf("rewards last_pull = %d, want 0 (collections sync independently)", w.LastPull)
	}
}
