package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/oneclicksftp/sftpsyncd/internal/ignore"
)

// errorBackoff is how long a worker waits after a connection failure
// (session open or remote listing) before its next attempt, independent of
// the connection's configured interval.
const errorBackoff = 5 * time.Second

// SyncWorker runs the reconciliation loop for exactly one Connection: one
// goroutine drives periodic cycles, and one filesystem watcher feeds it
// dirty paths that jump the queue on the next cycle (spec.md §3, §4.1).
type SyncWorker struct {
	store      Store
	remoteFS   RemoteFS
	newWatcher func() Watcher
	logger     *slog.Logger
	statusSink StatusSink

	mu      sync.Mutex
	conn    *Connection
	running bool
	status  Status
	watcher Watcher
	trigger chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	dirty *dirtySet
}

// NewSyncWorker builds a worker for conn. newWatcher is called once per
// Start to obtain a fresh Watcher instance, since a Watcher is single-use
// between Start/Stop.
func NewSyncWorker(conn *Connection, store Store, remoteFS RemoteFS, newWatcher func() Watcher, logger *slog.Logger, statusSink StatusSink) *SyncWorker {
	return &SyncWorker{
		conn:       conn,
		store:      store,
		remoteFS:   remoteFS,
		newWatcher: newWatcher,
		logger:     logger,
		statusSink: statusSink,
		dirty:      newDirtySet(),
	}
}

// ConnectionID returns the id of the connection this worker serves.
func (w *SyncWorker) ConnectionID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.ID
}

// Start launches the watcher and the cycle loop. Calling Start on an
// already-running worker is a no-op.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	conn := w.conn
	watcher := w.newWatcher()
	if err := watcher.Start(conn.LocalPath, w.dirty.add); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker: start watcher for connection %d: %w", conn.ID, err)
	}
	w.watcher = watcher
	w.trigger = make(chan struct{}, 1)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	w.setStatus(ctx, StatusRunning, nil)
	go w.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits up to timeout (10s if <= 0) for
// it to finish. Calling Stop on a worker that is not running is a no-op.
// It is safe to call Stop more than once.
func (w *SyncWorker) Stop(timeout time.Duration) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stopCh := w.stopCh
	doneCh := w.doneCh
	watcher := w.watcher
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	var err error
	select {
	case <-doneCh:
	case <-time.After(timeout):
		err = fmt.Errorf("worker: stop timed out after %s", timeout)
		w.setStatus(context.Background(), StatusStopped, nil)
	}
	if watcher != nil {
		if watcherErr := watcher.Stop(); watcherErr != nil && err == nil {
			err = fmt.Errorf("worker: stop watcher: %w", watcherErr)
		}
	}
	return err
}

// TriggerSync wakes the loop immediately instead of waiting out the rest of
// the current interval. It is a no-op if the worker is not running.
func (w *SyncWorker) TriggerSync() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// UpdateConnection swaps in new connection configuration, taking effect at
// the start of the next cycle.
func (w *SyncWorker) UpdateConnection(c *Connection) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn = c
}

func (w *SyncWorker) connection() *Connection {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := *w.conn
	return &c
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		w.runCycle(ctx)

		select {
		case <-w.stopCh:
			w.setStatus(ctx, StatusStopped, nil)
			return
		default:
		}

		conn := w.connection()
		timer := time.NewTimer(time.Duration(conn.Interval()) * time.Second)
		select {
		case <-w.stopCh:
			timer.Stop()
			w.setStatus(ctx, StatusStopped, nil)
			return
		case <-w.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// runCycle executes one full reconciliation pass: scan both sides, diff
// against the persisted SyncState, plan actions, execute them, and persist
// the resulting state. Errors opening or listing the remote side abort the
// cycle without persisting state, per spec.md §4.1 step 8.
func (w *SyncWorker) runCycle(ctx context.Context) {
	conn := w.connection()
	w.setStatus(ctx, StatusSyncing, nil)

	rules, err := ignore.Load(conn.LocalPath)
	if err != nil {
		w.fail(ctx, conn, fmt.Errorf("load ignore rules: %w", err))
		return
	}

	local, err := scanLocal(conn.LocalPath, rules)
	if err != nil {
		w.fail(ctx, conn, fmt.Errorf("scan local tree: %w", err))
		return
	}

	dirty := w.dirty.drain()

	session, err := w.remoteFS.Open(ctx, conn)
	if err != nil {
		w.failAndBackoff(ctx, conn, fmt.Errorf("open remote session: %w", err))
		return
	}
	defer session.Close()

	remote, err := session.ListRecursive(ctx, conn.RemotePath)
	if err != nil {
		w.failAndBackoff(ctx, conn, fmt.Errorf("list remote tree: %w", err))
		return
	}

	prior, err := w.store.LoadSyncState(ctx, conn.ID)
	if err != nil {
		w.fail(ctx, conn, fmt.Errorf("load sync state: %w", err))
		return
	}

	actions := planActions(local, remote, prior, dirty, conn.AllowDelete, conn.LocalPriority)

	succeeded := make([]Action, 0, len(actions))
	for _, action := range actions {
		if err := w.executeAction(ctx, conn, session, action); err != nil {
			w.logger.Error("action failed", "connection_id", conn.ID, "action", action.String(), "error", err)
			_ = w.store.AddLog(ctx, &conn.ID, LogError, action.Path, err.Error())
			continue
		}
		succeeded = append(succeeded, action)
		message := fmt.Sprintf("%s (%s)", action.String(), humanize.Bytes(uint64(actionSize(action, local, remote))))
		w.logger.Info("action applied", "connection_id", conn.ID, "action", action.String())
		_ = w.store.AddLog(ctx, &conn.ID, logTypeFor(action.Kind), action.Path, message)
	}

	newState := buildSyncState(local, remote, succeeded)
	if err := w.store.SaveSyncState(ctx, conn.ID, newState); err != nil {
		w.fail(ctx, conn, fmt.Errorf("save sync state: %w", err))
		return
	}

	w.setStatus(ctx, StatusRunning, nil)
}

func (w *SyncWorker) executeAction(ctx context.Context, conn *Connection, session RemoteSession, action Action) error {
	localPath := filepath.Join(conn.LocalPath, filepath.FromSlash(action.Path))
	remotePath := path.Join(conn.RemotePath, action.Path)

	switch action.Kind {
	case ActionUpload:
		if err := session.EnsureParentDirs(ctx, remotePath); err != nil {
			return err
		}
		return session.UploadFile(ctx, localPath, remotePath)
	case ActionDownload:
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return err
		}
		return session.DownloadFile(ctx, remotePath, localPath)
	case ActionDeleteLocal:
		return os.RemoveAll(localPath)
	case ActionDeleteRemote:
		return session.DeletePath(ctx, remotePath)
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

// buildSyncState derives the new persisted state from this cycle's
// snapshots, adjusted for the actions that actually succeeded: an upload or
// download makes both sides consistent, mirroring the mtime of the action's
// source side, which the transfer preserves on the destination.
func buildSyncState(local, remote Snapshot, succeeded []Action) SyncState {
	state := make(SyncState, len(local)+len(remote))
	for p, meta := range local {
		mtime := meta.MTime
		state[p] = SyncStateEntry{LocalExists: true, LocalMTime: &mtime}
	}
	for p, meta := range remote {
		mtime := meta.MTime
		entry := state[p]
		entry.RemoteExists = true
		entry.RemoteMTime = &mtime
		state[p] = entry
	}

	for _, action := range succeeded {
		entry := state[action.Path]
		switch action.Kind {
		case ActionUpload:
			entry.RemoteExists = true
			entry.RemoteMTime = entry.LocalMTime
		case ActionDownload:
			entry.LocalExists = true
			entry.LocalMTime = entry.RemoteMTime
		case ActionDeleteLocal:
			entry.LocalExists = false
			entry.LocalMTime = nil
		case ActionDeleteRemote:
			entry.RemoteExists = false
			entry.RemoteMTime = nil
		}
		if !entry.LocalExists && !entry.RemoteExists {
			delete(state, action.Path)
			continue
		}
		state[action.Path] = entry
	}
	return state
}

// actionSize reports the size an action moved or removed, for a friendlier
// audit log message.
func actionSize(action Action, local, remote Snapshot) int64 {
	switch action.Kind {
	case ActionUpload, ActionDeleteLocal:
		return local[action.Path].Size
	case ActionDownload, ActionDeleteRemote:
		return remote[action.Path].Size
	default:
		return 0
	}
}

func logTypeFor(kind ActionKind) LogType {
	switch kind {
	case ActionUpload:
		return LogUpload
	case ActionDownload:
		return LogDownload
	case ActionDeleteLocal:
		return LogDeleteLocal
	case ActionDeleteRemote:
		return LogDeleteRemote
	default:
		return LogInfo
	}
}

func (w *SyncWorker) fail(ctx context.Context, conn *Connection, err error) {
	w.logger.Error("sync cycle failed", "connection_id", conn.ID, "error", err)
	_ = w.store.AddLog(ctx, &conn.ID, LogError, "", err.Error())
	w.setStatus(ctx, StatusError, err)
}

// failAndBackoff handles connection-layer failures (session open, remote
// listing): it reports the error without persisting state, then sleeps
// errorBackoff so a broken connection doesn't spin the loop.
func (w *SyncWorker) failAndBackoff(ctx context.Context, conn *Connection, err error) {
	w.fail(ctx, conn, err)
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-time.After(errorBackoff):
	}
}

func (w *SyncWorker) setStatus(ctx context.Context, status Status, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()

	if updateErr := w.store.UpdateStatus(ctx, w.ConnectionID(), status, msg); updateErr != nil {
		w.logger.Error("update status", "connection_id", w.ConnectionID(), "error", updateErr)
	}
	if w.statusSink != nil {
		w.statusSink(w.ConnectionID(), status, err)
	}
}

// Status returns the worker's last known lifecycle state.
func (w *SyncWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}
