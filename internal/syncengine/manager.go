package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// defaultStopTimeout bounds how long StopConnection/StopAll wait for a
// worker's loop to exit before giving up.
const defaultStopTimeout = 10 * time.Second

// SyncManager owns one SyncWorker per enabled Connection and is the single
// entry point the control surfaces (HTTP API, tray, CLI) use to drive the
// engine (spec.md §3, §4.3).
type SyncManager struct {
	store      Store
	remoteFS   RemoteFS
	newWatcher func() Watcher
	logger     *slog.Logger

	mu      sync.Mutex
	workers map[int64]*SyncWorker
}

func NewSyncManager(store Store, remoteFS RemoteFS, newWatcher func() Watcher, logger *slog.Logger) *SyncManager {
	return &SyncManager{
		store:      store,
		remoteFS:   remoteFS,
		newWatcher: newWatcher,
		logger:     logger,
		workers:    make(map[int64]*SyncWorker),
	}
}

// StartConnection starts the worker for conn if none is running yet. If a
// live worker already exists for the connection, it triggers an immediate
// sync instead of restarting it (spec.md §4.3).
func (m *SyncManager) StartConnection(ctx context.Context, conn *Connection) error {
	m.mu.Lock()
	if w, exists := m.workers[conn.ID]; exists {
		m.mu.Unlock()
		w.TriggerSync()
		return nil
	}
	w := NewSyncWorker(conn, m.store, m.remoteFS, m.newWatcher, m.logger, m.handleStatus)
	m.workers[conn.ID] = w
	m.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		m.mu.Lock()
		if m.workers[conn.ID] == w {
			delete(m.workers, conn.ID)
		}
		m.mu.Unlock()
		return fmt.Errorf("manager: start connection %d: %w", conn.ID, err)
	}
	return nil
}

// StopConnection removes the worker for connectionID from the map, asks it
// to stop, and unconditionally records StatusStopped in the Store once the
// bounded wait completes, whether the stop was clean or timed out
// (spec.md §4.3).
func (m *SyncManager) StopConnection(connectionID int64) error {
	m.mu.Lock()
	w, ok := m.workers[connectionID]
	if ok {
		delete(m.workers, connectionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	stopErr := w.Stop(defaultStopTimeout)
	if err := m.store.UpdateStatus(context.Background(), connectionID, StatusStopped, ""); err != nil {
		m.logger.Error("stop connection: update status", "connection_id", connectionID, "error", err)
	}
	if stopErr != nil {
		return fmt.Errorf("manager: stop connection %d: %w", connectionID, stopErr)
	}
	return nil
}

// SyncNow triggers an immediate cycle for a running connection. It is a
// no-op if the connection has no running worker.
func (m *SyncManager) SyncNow(connectionID int64) {
	m.mu.Lock()
	w, ok := m.workers[connectionID]
	m.mu.Unlock()
	if ok {
		w.TriggerSync()
	}
}

// RefreshConnection stops a running worker and restarts it with conn's
// updated configuration, so a changed LocalPath or RemotePath takes effect
// immediately instead of waiting for the worker to notice on its own
// (spec.md §4.3). It no-ops after stopping when conn is disabled.
func (m *SyncManager) RefreshConnection(ctx context.Context, conn *Connection) error {
	if err := m.StopConnection(conn.ID); err != nil {
		return err
	}
	if !conn.Enabled {
		return nil
	}
	return m.StartConnection(ctx, conn)
}

// RemoveConnection stops the worker, if any, and forgets about it. It does
// not delete the connection record; callers delete it from the Store
// afterwards.
func (m *SyncManager) RemoveConnection(connectionID int64) error {
	return m.StopConnection(connectionID)
}

// StartAll starts a worker for every enabled connection currently in the
// Store.
func (m *SyncManager) StartAll(ctx context.Context) error {
	conns, err := m.store.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("manager: list connections: %w", err)
	}
	for _, c := range conns {
		if !c.Enabled {
			continue
		}
		if err := m.StartConnection(ctx, c); err != nil {
			m.logger.Error("start connection", "connection_id", c.ID, "error", err)
		}
	}
	return nil
}

// StopAll stops every running worker and waits for them concurrently,
// bounded by defaultStopTimeout each.
func (m *SyncManager) StopAll() {
	m.mu.Lock()
	workers := make([]*SyncWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		w := w
		g.Go(func() error {
			if err := w.Stop(defaultStopTimeout); err != nil {
				m.logger.Error("stop worker", "connection_id", w.ConnectionID(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Status returns the last known in-process status of a connection's
// worker, or StatusStopped if it has none.
func (m *SyncManager) Status(connectionID int64) Status {
	m.mu.Lock()
	w, ok := m.workers[connectionID]
	m.mu.Unlock()
	if !ok {
		return StatusStopped
	}
	return w.Status()
}

func (m *SyncManager) handleStatus(connectionID int64, status Status, err error) {
	if status != StatusStopped {
		return
	}
	m.mu.Lock()
	delete(m.workers, connectionID)
	m.mu.Unlock()
}
