package workspace

import (
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/yenjordan/terminus/internal/logger"
)

// Watcher mirrors a session's on-disk tree changes into the same
// SyncFromDisk pipeline an explicit file_change frame uses, so a shell
// command that touches files gets picked up without the client asking.
type Watcher struct {
	mgr       *Manager
	watcher   *fsnotify.Watcher
	onChange  func(sessionID string, numericID int64)
	sessionID string
	numericID int64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewWatcher creates a watcher for one session's workspace root. onChange
// is invoked (from the watcher's goroutine) once per create, write, remove
// or rename event on a non-ignored path in this session's tree, with no
// batching, and is expected to call SyncFromDisk.
func NewWatcher(mgr *Manager, sessionID string, numericID int64, onChange func(sessionID string, numericID int64)) *Watcher {
	return &Watcher{mgr: mgr, sessionID: sessionID, numericID: numericID, onChange: onChange}
}

// Start begins watching. Failure to create the underlying inotify instance
// is non-fatal to the session — the explicit file_change frame path still
// works — so callers should log and continue rather than abort attach.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.stop = make(chan struct{})
	w.running = true

	root := w.mgr.sessionRoot(w.sessionID)
	w.addTree(root)

	go w.run()
	return nil
}

// addTree watches root and every subdirectory under it; fsnotify does not
// watch recursively on its own.
func (w *Watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.watcher.Add(p)
	})
}

func (w *Watcher) run() {
	log := logger.Session(w.sessionID)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if Ignored(event.Name) {
				continue
			}
			w.onChange(w.sessionID, w.numericID)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("workspace watcher error")
		}
	}
}

// Stop tears down the watcher. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stop)
	w.watcher.Close()
}
