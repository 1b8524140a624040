package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirtyCollector struct {
	mu    sync.Mutex
	paths []string
}

func (d *dirtyCollector) add(p string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, p)
}

func (d *dirtyCollector) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestFsNotifyWatcher_ReportsRelativeFileEvents(t *testing.T) {
	root := t.TempDir()
	collector := &dirtyCollector{}

	w := New(nil)
	require.NoError(t, w.Start(root, collector.add))
	defer w.Stop()

	target := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		for _, p := range collector.snapshot() {
			if p == "a.txt" {
				return true
			}
		}
		return false
	})
}

func TestFsNotifyWatcher_SubdirectoryEventsUseForwardSlashes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	collector := &dirtyCollector{}

	w := New(nil)
	require.NoError(t, w.Start(root, collector.add))
	defer w.Stop()

	target := filepath.Join(root, "sub", "b.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))

	waitFor(t, 2*time.Second, func() bool {
		for _, p := range collector.snapshot() {
			if p == "sub/b.txt" {
				return true
			}
		}
		return false
	})
}

func TestFsNotifyWatcher_StopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	w := New(nil)
	require.NoError(t, w.Start(root, func(string) {}))
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestRelativeUnder(t *testing.T) {
	rel, ok := relativeUnder("/a/b", "/a/b/c/d.txt")
	assert.True(t, ok)
	assert.Equal(t, "c/d.txt", rel)

	_, ok = relativeUnder("/a/b", "/a/b")
	assert.False(t, ok, "the root itself is not a dirty path")

	_, ok = relativeUnder("/a/b", "/other/c.txt")
	assert.False(t, ok)
}
