package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/dukerupert/bywater/internal/remote"
	"github.com/dukerupert/bywater/internal/store"
)

// State describes the orchestrator's current relationship with the backend.
type State string

const (
	// StateLocalOnly means no backend is configured. The replica is the
	// only copy and sync never runs.
	StateLocalOnly State = "local_only"
	StateOffline   State = "offline"
	StateIdle      State = "idle"
	StateSyncing   State = "syncing"
)

// ErrSyncInProgress is returned when a sync cycle is requested while one
// is already running.
var ErrSyncInProgress = errors.New("sync already in progress")

// remoteService is everything the manager needs from the backend client.
type remoteService interface {
	remoteAPI
	Health(ctx context.Context) error
}

// eventSource is the live change feed. Run blocks until the context is
// cancelled and closes the Events channel on return.
type eventSource interface {
	Run(ctx context.Context)
	Events() <-chan remote.Event
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	State    State      `json:"state"`
	Online   bool       `json:"online"`
	Syncing  bool       `json:"syncing"`
	LastSync *time.Time `json:"last_sync,omitempty"`
	LastErr  string     `json:"last_error,omitempty"`
}

// StatusCallback receives a snapshot after every state transition.
type StatusCallback func(Status)

// ChangeCallback fires after a live event has been applied locally, so the
// UI layer can refresh without polling.
type ChangeCallback func(collection, action, id string)

type Config struct {
	// ProbeInterval is how often the backend is health-checked while the
	// manager runs. Zero means 30 seconds.
	ProbeInterval time.Duration
}

// Manager owns the sync lifecycle for all collections: connectivity
// probing, periodic full cycles, and the live event feed. Callers inject
// their own instance; there is no package-level singleton.
type Manager struct {
	mu       gosync.Mutex
	cfg      Config
	remote   remoteService
	feed     eventSource
	meta     *store.MetaStore
	engines  map[string]*Engine
	status   Status
	probed   bool
	callback StatusCallback
	onChange ChangeCallback
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *slog.Logger
}

// NewManager wires one engine per registered collection. svc and feed may
// be nil, which puts the manager in local-only mode: all CRUD keeps
// working against the replica and sync is a no-op.
func NewManager(cfg Config, reg *store.Registry, svc remoteService, feed eventSource, logger *slog.Logger) *Manager {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	// With a backend configured the daemon starts offline until the first
	// probe says otherwise; it is never in local-only mode.
	initial := StateLocalOnly
	if svc != nil {
		initial = StateOffline
	}
	m := &Manager{
		cfg:     cfg,
		remote:  svc,
		feed:    feed,
		meta:    reg.Meta,
		engines: make(map[string]*Engine),
		status:  Status{State: initial},
		logger:  logger.With("component", "sync"),
	}
	for _, col := range reg.Synced() {
		m.engines[col.Name()] = NewEngine(col, reg.Meta, svc, logger)
	}
	return m
}

// OnStatus registers the status callback. Call before Start.
func (m *Manager) OnStatus(cb StatusCallback) { m.callback = cb }

// OnChange registers the entity change callback. Call before Start.
func (m *Manager) OnChange(cb ChangeCallback) { m.onChange = cb }

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start launches the probe loop, the live feed consumer, and an initial
// sync cycle. It returns immediately; use OnStatus to observe progress.
func (m *Manager) Start(ctx context.Context) error {
	if m.remote == nil {
		m.logger.Info("no backend configured, running local-only")
		m.transition(func(s *Status) { s.State = StateLocalOnly })
		return nil
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("sync manager already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.probed = false
	m.mu.Unlock()

	// run closes the channel it was handed, never the struct field: Stop
	// nils the field under the lock and may do so before run is scheduled.
	go m.run(ctx, done)
	return nil
}

// Stop halts all sync activity and blocks until the run loop exits.
// Idempotent; safe to call on a manager that never started.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if m.feed != nil {
		go m.feed.Run(ctx)
		go m.consumeFeed(ctx)
	}

	// First probe happens inline so startup reaches a real state quickly.
	m.probe(ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe health-checks the backend and, on an offline-to-online edge,
// kicks off a full sync cycle to drain whatever queued up while offline.
func (m *Manager) probe(ctx context.Context) {
	err := m.remote.Health(ctx)
	online := err == nil

	m.mu.Lock()
	wasOnline := m.status.Online
	settled := m.probed
	m.probed = true
	m.mu.Unlock()

	// The first probe after Start always notifies; later probes only on
	// an edge.
	if online == wasOnline && settled {
		return
	}
	if !online {
		m.logger.Info("backend unreachable, queueing local changes", "error", err)
		m.transition(func(s *Status) {
			s.Online = false
			s.State = StateOffline
		})
		return
	}

	m.logger.Info("backend reachable")
	m.transition(func(s *Status) {
		s.Online = true
		s.State = StateIdle
	})
	if err := m.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
		m.logger.Error("sync cycle failed", "error", err)
	}
}

// Sync runs one full pull-then-push cycle across every collection,
// collections in parallel. Only one cycle runs at a time; a second caller
// gets ErrSyncInProgress rather than a queued duplicate.
func (m *Manager) Sync(ctx context.Context) error {
	if m.remote == nil {
		return nil
	}

	m.mu.Lock()
	if m.status.Syncing {
		m.mu.Unlock()
		return ErrSyncInProgress
	}
	m.status.Syncing = true
	m.status.State = StateSyncing
	snap := m.status
	m.mu.Unlock()
	m.notify(snap)

	var wg gosync.WaitGroup
	errs := make(chan error, len(m.engines))
	for name, eng := range m.engines {
		wg.Add(1)
		go func(name string, eng *Engine) {
			defer wg.Done()
			if _, err := eng.Pull(ctx); err != nil {
				errs <- err
				m.logger.Error("pull failed", "collection", name, "error", err)
				return
			}
			if _, _, err := eng.Push(ctx); err != nil {
				errs <- err
				m.logger.Error("push failed", "collection", name, "error", err)
			}
		}(name, eng)
	}
	wg.Wait()
	close(errs)
	err := <-errs

	now := time.Now()
	m.transition(func(s *Status) {
		s.Syncing = false
		if err != nil {
			s.LastErr = err.Error()
			s.Online = false
			s.State = StateOffline
			return
		}
		s.LastErr = ""
		s.Online = true
		s.State = StateIdle
		s.LastSync = &now
	})
	return err
}

// consumeFeed applies live events one at a time, in arrival order. A
// single consumer keeps reconciliation serial so events for the same
// record can never race each other.
func (m *Manager) consumeFeed(ctx context.Context) {
	for ev := range m.feed.Events() {
		eng, ok := m.engines[ev.Table]
		if !ok {
			m.logger.Debug("event for untracked table", "table", ev.Table)
			continue
		}
		if err := eng.ApplyEvent(ctx, ev); err != nil {
			m.logger.Error("apply event failed",
				"table", ev.Table, "id", ev.ID, "error", err)
			continue
		}
		if m.onChange != nil {
			m.onChange(ev.Table, string(ev.Action), ev.ID)
		}
	}
}

// transition mutates status under the lock and notifies outside it.
func (m *Manager) transition(mutate func(*Status)) {
	m.mu.Lock()
	mutate(&m.status)
	snap := m.status
	m.mu.Unlock()
	m.notify(snap)
}

func (m *Manager) notify(snap Status) {
	if m.callback != nil {
		m.callback(snap)
	}
}
