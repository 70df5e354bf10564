// Package registry is the process-wide, single-writer index from
// session_id to its live PTYSession and Workspace handle. It is the only
// process-global mutable state in the system; every other component
// receives it by injection.
package registry

import (
	"strconv"
	"sync"
	"time"

	"github.com/yenjordan/terminus/internal/apperror"
	"github.com/yenjordan/terminus/internal/logger"
	"github.com/yenjordan/terminus/internal/pty"
	"github.com/yenjordan/terminus/internal/repository"
	"github.com/yenjordan/terminus/internal/workspace"
)

// Handle is what Acquire/Lookup hand back: the live PTYSession and the
// on-disk workspace path, plus bookkeeping the Registry itself owns.
type Handle struct {
	SessionID    string
	NumericID    int64
	PTY          *pty.Supervisor
	WorkspaceDir string

	mu           sync.Mutex
	refCount     int
	lastActivity time.Time
	watcher      *workspace.Watcher
}

func (h *Handle) touch() {
	h.mu.Lock()
	h.lastActivity = time.Now()
	h.mu.Unlock()
}

func (h *Handle) RefCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refCount
}

func (h *Handle) LastActivity() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

// Registry is the single mutator of (PTYSession, Workspace) creation and
// destruction. Mutating operations are serialized per session_id via a
// striped lock: one sync.Mutex per key, held for the duration of
// create-or-attach, and a Registry-wide mutex (stripeMu) guarding the map
// of per-key locks. This is the generalization of the teacher's single
// map-wide RWMutex to one lock per key, so unrelated sessions never
// serialize on each other.
type Registry struct {
	store     repository.Store
	workspace *workspace.Manager

	shell   string
	envBase map[string]string

	handlesMu sync.RWMutex
	handles   map[string]*Handle

	stripeMu sync.Mutex
	stripes  map[string]*sync.Mutex

	idleTTL time.Duration

	stopReaper chan struct{}
}

func New(store repository.Store, wsMgr *workspace.Manager, shell string, env map[string]string, idleTTL time.Duration) *Registry {
	return &Registry{
		store:     store,
		workspace: wsMgr,
		shell:     shell,
		envBase:   env,
		handles:   make(map[string]*Handle),
		stripes:   make(map[string]*sync.Mutex),
		idleTTL:   idleTTL,
	}
}

func (r *Registry) stripeFor(sessionID string) *sync.Mutex {
	r.stripeMu.Lock()
	defer r.stripeMu.Unlock()
	m, ok := r.stripes[sessionID]
	if !ok {
		m = &sync.Mutex{}
		r.stripes[sessionID] = m
	}
	return m
}

// Acquire creates the PTYSession and Workspace if absent, or attaches to
// the existing one, incrementing the ref-count and updating last_activity.
// The caller must own the session (checked by the broker before calling
// this, via auth.Principal.CanAccess) — the Registry itself is
// auth-agnostic.
func (r *Registry) Acquire(sessionID string) (*Handle, error) {
	lock := r.stripeFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	r.handlesMu.RLock()
	h, ok := r.handles[sessionID]
	r.handlesMu.RUnlock()
	if ok {
		h.mu.Lock()
		h.refCount++
		h.mu.Unlock()
		h.touch()
		return h, nil
	}

	numericID, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return nil, apperror.Wrap(apperror.SessionNotFound, "invalid session id", err)
	}
	if _, err := r.store.GetSession(numericID); err != nil {
		return nil, apperror.Wrap(apperror.SessionNotFound, "session not found", err)
	}

	workDir, err := r.workspace.Materialize(sessionID)
	if err != nil {
		return nil, err
	}

	sup, err := pty.Spawn(sessionID, pty.Options{
		Shell:   r.shell,
		Login:   true,
		WorkDir: workDir,
		Env:     r.envBase,
	})
	if err != nil {
		return nil, err
	}

	h = &Handle{
		SessionID:    sessionID,
		NumericID:    numericID,
		PTY:          sup,
		WorkspaceDir: workDir,
		refCount:     1,
		lastActivity: time.Now(),
	}

	watcher := workspace.NewWatcher(r.workspace, sessionID, numericID, func(sid string, nid int64) {
		if _, err := r.workspace.SyncFromDisk(sid, nid); err != nil {
			log := logger.Session(sid)
			log.Warn().Err(err).Msg("registry: background sync failed")
		}
	})
	if err := watcher.Start(); err != nil {
		log := logger.Session(sessionID)
		log.Warn().Err(err).Msg("registry: workspace watcher unavailable, falling back to explicit sync only")
	} else {
		h.watcher = watcher
	}

	r.handlesMu.Lock()
	r.handles[sessionID] = h
	r.handlesMu.Unlock()

	log := logger.Session(sessionID)
	log.Info().Msg("registry: session acquired")
	return h, nil
}

// Release decrements the ref-count. The reaper is responsible for tearing
// down sessions whose ref-count has been zero for longer than idleTTL; a
// zero ref-count alone does not destroy anything.
func (r *Registry) Release(sessionID string) {
	r.handlesMu.RLock()
	h, ok := r.handles[sessionID]
	r.handlesMu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	if h.refCount > 0 {
		h.refCount--
	}
	h.lastActivity = time.Now()
	h.mu.Unlock()
}

// Lookup returns the handle for sessionID without changing its ref-count.
func (r *Registry) Lookup(sessionID string) (*Handle, error) {
	r.handlesMu.RLock()
	defer r.handlesMu.RUnlock()
	h, ok := r.handles[sessionID]
	if !ok {
		return nil, apperror.New(apperror.SessionNotFound, "no live session: "+sessionID)
	}
	return h, nil
}

// Touch records activity against sessionID (a PTY write/read or frame
// handled), used by the idle-reaper logic.
func (r *Registry) Touch(sessionID string) {
	r.handlesMu.RLock()
	h, ok := r.handles[sessionID]
	r.handlesMu.RUnlock()
	if ok {
		h.touch()
	}
}

// destroy kills the PTYSession and drops the handle from the map. The
// Workspace on disk is left in place — workspaces are removed only on
// Session deletion from the external repository, never by the reaper.
func (r *Registry) destroy(sessionID string, killGrace time.Duration) {
	lock := r.stripeFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	r.handlesMu.Lock()
	h, ok := r.handles[sessionID]
	if ok {
		delete(r.handles, sessionID)
	}
	r.handlesMu.Unlock()
	if !ok {
		return
	}

	if h.watcher != nil {
		h.watcher.Stop()
	}
	h.PTY.Kill(killGrace)
	log := logger.Session(sessionID)
	log.Info().Msg("registry: session reaped")
}

// StartReaper launches the periodic task that destroys sessions whose
// ref-count is zero and whose last_activity exceeds idleTTL. Call once at
// startup; cancel via StopReaper.
func (r *Registry) StartReaper(interval, killGrace time.Duration) {
	r.stopReaper = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.stopReaper:
				return
			case <-ticker.C:
				r.reapOnce(killGrace)
			}
		}
	}()
}

func (r *Registry) StopReaper() {
	if r.stopReaper != nil {
		close(r.stopReaper)
	}
}

func (r *Registry) reapOnce(killGrace time.Duration) {
	r.handlesMu.RLock()
	var stale []string
	now := time.Now()
	for id, h := range r.handles {
		if h.RefCount() == 0 && now.Sub(h.LastActivity()) > r.idleTTL {
			stale = append(stale, id)
		}
	}
	r.handlesMu.RUnlock()

	for _, id := range stale {
		r.destroy(id, killGrace)
	}
}
