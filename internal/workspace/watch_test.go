package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenjordan/terminus/internal/repository"
)

func TestWatcherFiresOnChangeForCreatedFile(t *testing.T) {
	root, err := os.MkdirTemp("", "terminus-watch-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	store := repository.NewInMemory()
	mgr := NewManager(root, 0755, store)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1"), 0755))

	fired := make(chan struct{}, 8)
	w := NewWatcher(mgr, "1", 1, func(sessionID string, numericID int64) {
		assert.Equal(t, "1", sessionID)
		assert.Equal(t, int64(1), numericID)
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(root, "1", "new.py"), []byte("x = 1"), 0644))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange was not invoked for a created file")
	}
}

func TestWatcherIgnoresIgnoredPaths(t *testing.T) {
	root, err := os.MkdirTemp("", "terminus-watch-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	store := repository.NewInMemory()
	mgr := NewManager(root, 0755, store)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1"), 0755))

	fired := make(chan struct{}, 8)
	w := NewWatcher(mgr, "1", 1, func(string, int64) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(root, "1", "package.json"), []byte("{}"), 0644))

	select {
	case <-fired:
		t.Fatal("onChange should not fire for an ignored path")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	root, err := os.MkdirTemp("", "terminus-watch-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	store := repository.NewInMemory()
	mgr := NewManager(root, 0755, store)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1"), 0755))

	w := NewWatcher(mgr, "1", 1, func(string, int64) {})
	require.NoError(t, w.Start())
	assert.NotPanics(t, func() {
		w.Stop()
		w.Stop()
	})
}
