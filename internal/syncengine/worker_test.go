package syncengine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	states   map[int64]SyncState
	statuses map[int64]Status
	logs     []*LogEntry
	listed   []*Connection
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[int64]SyncState{}, statuses: map[int64]Status{}}
}

func (s *fakeStore) ListConnections(ctx context.Context) ([]*Connection, error) {
	return s.listed, nil
}
func (s *fakeStore) GetConnection(ctx context.Context, id int64) (*Connection, error) {
	return nil, nil
}
func (s *fakeStore) CreateConnection(ctx context.Context, c *Connection) (int64, error) {
	return 0, nil
}
func (s *fakeStore) UpdateConnection(ctx context.Context, c *Connection) error { return nil }
func (s *fakeStore) DeleteConnection(ctx context.Context, id int64) error     { return nil }

func (s *fakeStore) UpdateStatus(ctx context.Context, id int64, status Status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) AddLog(ctx context.Context, connectionID *int64, logType LogType, path, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, &LogEntry{ConnectionID: connectionID, Type: logType, Path: path, Message: message})
	return nil
}
func (s *fakeStore) GetLogs(ctx context.Context, connectionID int64, limit int) ([]*LogEntry, error) {
	return s.logs, nil
}

func (s *fakeStore) LoadSyncState(ctx context.Context, connectionID int64) (SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[connectionID], nil
}
func (s *fakeStore) SaveSyncState(ctx context.Context, connectionID int64, state SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[connectionID] = state
	return nil
}

func (s *fakeStore) GetSettings(ctx context.Context) (map[string]any, error) { return nil, nil }
func (s *fakeStore) UpdateSettings(ctx context.Context, values map[string]any) error { return nil }

func (s *fakeStore) statusOf(id int64) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

// fakeRemote is a RemoteFS/RemoteSession backed by a real temp
// directory, so upload/download exercise actual file I/O.
type fakeRemote struct {
	root string
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	return &fakeRemote{root: t.TempDir()}
}

func (f *fakeRemote) Open(ctx context.Context, c *Connection) (RemoteSession, error) {
	return &fakeSession{root: f.root}, nil
}

type fakeSession struct{ root string }

func (s *fakeSession) resolve(remotePath string) string {
	return filepath.Join(s.root, filepath.FromSlash(remotePath))
}

func (s *fakeSession) ListRecursive(ctx context.Context, remoteRoot string) (Snapshot, error) {
	base := s.resolve(remoteRoot)
	snap := make(Snapshot)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	err := filepath.Walk(base, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(base, p)
		snap[filepath.ToSlash(rel)] = FileMeta{MTime: float64(info.ModTime().UnixNano()) / 1e9, Size: info.Size()}
		return nil
	})
	return snap, err
}

func (s *fakeSession) EnsureParentDirs(ctx context.Context, remotePath string) error {
	return os.MkdirAll(filepath.Dir(s.resolve(remotePath)), 0o755)
}

func (s *fakeSession) UploadFile(ctx context.Context, localPath, remotePath string) error {
	return copyFile(localPath, s.resolve(remotePath))
}

func (s *fakeSession) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	return copyFile(s.resolve(remotePath), localPath)
}

func (s *fakeSession) DeletePath(ctx context.Context, remotePath string) error {
	return os.RemoveAll(s.resolve(remotePath))
}

func (s *fakeSession) Close() error { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

type noopWatcher struct{}

func (noopWatcher) Start(root string, onDirty func(string)) error { return nil }
func (noopWatcher) Stop() error                                   { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSyncWorker_UploadsNewLocalFileOnFirstCycle(t *testing.T) {
	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "a.txt"), []byte("hello"), 0o644))

	conn := &Connection{ID: 1, LocalPath: localDir, RemotePath: "sync", IntervalSeconds: 3600}
	store := newFakeStore()
	remote := newFakeRemote(t)
	w := NewSyncWorker(conn, store, remote, func() Watcher { return noopWatcher{} }, testLogger(), nil)

	w.runCycle(context.Background())

	data, err := os.ReadFile(filepath.Join(remote.root, "sync", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, StatusRunning, store.statusOf(1))

	state, err := store.LoadSyncState(context.Background(), 1)
	require.NoError(t, err)
	require.Contains(t, state, "a.txt")
	assert.True(t, state["a.txt"].LocalExists)
	assert.True(t, state["a.txt"].RemoteExists)
}

func TestSyncWorker_ConvergesThenIsIdempotent(t *testing.T) {
	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "a.txt"), []byte("hello"), 0o644))
	conn := &Connection{ID: 1, LocalPath: localDir, RemotePath: "sync", IntervalSeconds: 3600}
	store := newFakeStore()
	remote := newFakeRemote(t)
	w := NewSyncWorker(conn, store, remote, func() Watcher { return noopWatcher{} }, testLogger(), nil)

	ctx := context.Background()
	w.runCycle(ctx)
	firstState, err := store.LoadSyncState(ctx, 1)
	require.NoError(t, err)

	w.runCycle(ctx)
	secondState, err := store.LoadSyncState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, firstState, secondState)
}

func TestSyncWorker_DeletionGatedByAllowDelete(t *testing.T) {
	localDir := t.TempDir()
	conn := &Connection{ID: 1, LocalPath: localDir, RemotePath: "sync", IntervalSeconds: 3600, AllowDelete: true}
	store := newFakeStore()
	remote := newFakeRemote(t)
	w := NewSyncWorker(conn, store, remote, func() Watcher { return noopWatcher{} }, testLogger(), nil)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "a.txt"), []byte("x"), 0o644))
	w.runCycle(ctx)

	require.NoError(t, os.Remove(filepath.Join(localDir, "a.txt")))
	w.runCycle(ctx)

	_, err := os.Stat(filepath.Join(remote.root, "sync", "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncWorker_StartStopIsIdempotentAndBounded(t *testing.T) {
	localDir := t.TempDir()
	conn := &Connection{ID: 1, LocalPath: localDir, RemotePath: "sync", IntervalSeconds: MinInterval}
	store := newFakeStore()
	remote := newFakeRemote(t)
	w := NewSyncWorker(conn, store, remote, func() Watcher { return noopWatcher{} }, testLogger(), nil)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop(2*time.Second))
	require.NoError(t, w.Stop(2*time.Second))
}

// hangingRemote never returns from Open within a test's patience, so the
// worker's cycle is still in flight when Stop's bound elapses.
type hangingRemote struct{}

func (hangingRemote) Open(ctx context.Context, c *Connection) (RemoteSession, error) {
	time.Sleep(5 * time.Second)
	return nil, context.DeadlineExceeded
}

func TestSyncWorker_StopForciblyMarksStoppedOnTimeout(t *testing.T) {
	localDir := t.TempDir()
	conn := &Connection{ID: 1, LocalPath: localDir, RemotePath: "sync", IntervalSeconds: MinInterval}
	store := newFakeStore()
	w := NewSyncWorker(conn, store, hangingRemote{}, func() Watcher { return noopWatcher{} }, testLogger(), nil)

	require.NoError(t, w.Start(context.Background()))

	err := w.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, StatusStopped, w.Status())
	assert.Equal(t, StatusStopped, store.statusOf(conn.ID))
}

func TestSyncWorker_TriggerSyncWakesLoopEarly(t *testing.T) {
	localDir := t.TempDir()
	conn := &Connection{ID: 1, LocalPath: localDir, RemotePath: "sync", IntervalSeconds: 3600}
	store := newFakeStore()
	remote := newFakeRemote(t)
	w := NewSyncWorker(conn, store, remote, func() Watcher { return noopWatcher{} }, testLogger(), nil)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(2 * time.Second)

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "b.txt"), []byte("x"), 0o644))
	w.TriggerSync()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(remote.root, "sync", "b.txt"))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}
