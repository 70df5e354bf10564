// Package workspace keeps a session's on-disk directory tree in sync with
// its CodeFile rows in the repository. It owns path validation, atomic
// writes, and content-hash-based change detection.
package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/yenjordan/terminus/internal/apperror"
	"github.com/yenjordan/terminus/internal/models"
	"github.com/yenjordan/terminus/internal/repository"
)

// Manager materializes and syncs session workspaces under a single root
// directory. One Manager serves every session in the process.
type Manager struct {
	root  string
	mode  os.FileMode
	store repository.Store

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewManager(root string, mode os.FileMode, store repository.Store) *Manager {
	return &Manager{
		root:  root,
		mode:  mode,
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// pathLock returns the per-path mutex for sessionID+path, creating it on
// first use. This is the "serialize writes to the same path" primitive from
// the concurrency model, scoped narrower than the Registry's per-session
// lock so unrelated files in the same session don't serialize on each other.
func (m *Manager) pathLock(sessionID, path string) *sync.Mutex {
	key := sessionID + ":" + path
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *Manager) sessionRoot(sessionID string) string {
	return filepath.Join(m.root, sessionID)
}

// Materialize creates the session directory if missing and writes every
// CodeFile the session owns to its logical path. Idempotent.
func (m *Manager) Materialize(sessionID string) (string, error) {
	root := m.sessionRoot(sessionID)
	if err := os.MkdirAll(root, m.mode); err != nil {
		return "", apperror.Wrap(apperror.WorkspaceError, "create session root", err)
	}

	numericID, err := sessionIDToInt(sessionID)
	if err != nil {
		return root, nil
	}

	files, err := m.store.ListCodeFiles(numericID)
	if err != nil {
		return "", apperror.Wrap(apperror.WorkspaceError, "list code files", err)
	}

	latest := dedupeByLatest(files)
	for _, f := range latest {
		if Ignored(f.Path) {
			continue
		}
		dest, err := ValidatePath(m.root, sessionID, f.Path)
		if err != nil {
			return "", err
		}
		if err := writeFileAtomic(dest, []byte(f.Content), m.mode); err != nil {
			return "", apperror.Wrap(apperror.WorkspaceError, "materialize "+f.Path, err)
		}
	}

	return root, nil
}

// dedupeByLatest applies the de-duplication rule: when multiple CodeFiles
// share a path, only the one with the greatest UpdatedAt survives.
func dedupeByLatest(files []*models.CodeFile) []*models.CodeFile {
	byPath := make(map[string]*models.CodeFile, len(files))
	for _, f := range files {
		existing, ok := byPath[f.Path]
		if !ok || f.UpdatedAt.After(existing.UpdatedAt) {
			byPath[f.Path] = f
		}
	}
	out := make([]*models.CodeFile, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	return out
}

// WriteFile atomically writes content to path on disk and upserts the
// corresponding CodeFile row.
func (m *Manager) WriteFile(sessionID string, numericSessionID int64, path, content string) (*models.CodeFile, error) {
	lock := m.pathLock(sessionID, path)
	lock.Lock()
	defer lock.Unlock()

	dest, err := ValidatePath(m.root, sessionID, path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), m.mode); err != nil {
		return nil, apperror.Wrap(apperror.WorkspaceError, "mkdir for "+path, err)
	}
	if err := writeFileAtomic(dest, []byte(content), m.mode); err != nil {
		return nil, apperror.Wrap(apperror.WorkspaceError, "write "+path, err)
	}

	f := &models.CodeFile{
		SessionID: numericSessionID,
		Path:      path,
		Name:      filepath.Base(path),
		Content:   content,
		FileType:  fileTypeOf(path),
	}
	upserted, err := m.store.UpsertCodeFile(f)
	if err != nil {
		return nil, apperror.Wrap(apperror.WorkspaceError, "upsert "+path, err)
	}
	return upserted, nil
}

// ReadFile reads path from disk, falling back to the repository if the
// materialized workspace has not been written yet.
func (m *Manager) ReadFile(sessionID string, numericSessionID int64, path string) (string, error) {
	dest, err := ValidatePath(m.root, sessionID, path)
	if err != nil {
		return "", err
	}

	lock := m.pathLock(sessionID, path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(dest)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", apperror.Wrap(apperror.WorkspaceError, "read "+path, err)
	}

	f, err := m.store.GetCodeFile(numericSessionID, path)
	if err != nil {
		return "", apperror.Wrap(apperror.WorkspaceError, "read "+path, err)
	}
	return f.Content, nil
}

// DeleteFile removes both the on-disk file and its CodeFile row.
func (m *Manager) DeleteFile(sessionID string, numericSessionID int64, path string) error {
	lock := m.pathLock(sessionID, path)
	lock.Lock()
	defer lock.Unlock()

	dest, err := ValidatePath(m.root, sessionID, path)
	if err != nil {
		return err
	}

	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return apperror.Wrap(apperror.WorkspaceError, "delete "+path, err)
	}
	if err := m.store.DeleteCodeFile(numericSessionID, path); err != nil && err != repository.ErrNotFound {
		return apperror.Wrap(apperror.WorkspaceError, "delete row "+path, err)
	}
	return nil
}

// SyncFromDisk scans the session's on-disk tree and reconciles it against
// the repository: new files are created, changed files are updated,
// disk-absent rows are deleted. Content hashing (BLAKE3) avoids upserting
// rows whose content has not actually changed.
func (m *Manager) SyncFromDisk(sessionID string, numericSessionID int64) (models.ChangeSet, error) {
	root := m.sessionRoot(sessionID)
	var changes models.ChangeSet

	diskPaths := make(map[string]struct{})

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		logical := "/" + strings.ReplaceAll(rel, string(filepath.Separator), "/")
		if Ignored(logical) {
			return nil
		}

		diskPaths[logical] = struct{}{}

		lock := m.pathLock(sessionID, logical)
		lock.Lock()
		defer lock.Unlock()

		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		existing, getErr := m.store.GetCodeFile(numericSessionID, logical)
		if getErr == repository.ErrNotFound {
			if _, err := m.store.UpsertCodeFile(&models.CodeFile{
				SessionID: numericSessionID,
				Path:      logical,
				Name:      filepath.Base(logical),
				Content:   string(content),
				FileType:  fileTypeOf(logical),
			}); err != nil {
				return err
			}
			changes.Created = append(changes.Created, logical)
			return nil
		}
		if getErr != nil {
			return getErr
		}

		if !sameContent(existing.Content, string(content)) {
			if _, err := m.store.UpsertCodeFile(&models.CodeFile{
				SessionID: numericSessionID,
				Path:      logical,
				Name:      filepath.Base(logical),
				Content:   string(content),
				FileType:  fileTypeOf(logical),
			}); err != nil {
				return err
			}
			changes.Updated = append(changes.Updated, logical)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return changes, apperror.Wrap(apperror.WorkspaceError, "sync from disk", err)
	}

	rows, err := m.store.ListCodeFiles(numericSessionID)
	if err != nil {
		return changes, apperror.Wrap(apperror.WorkspaceError, "list code files", err)
	}
	for _, f := range rows {
		if Ignored(f.Path) {
			continue
		}
		if _, onDisk := diskPaths[f.Path]; !onDisk {
			if err := m.store.DeleteCodeFile(numericSessionID, f.Path); err != nil {
				return changes, apperror.Wrap(apperror.WorkspaceError, "delete stale row", err)
			}
			changes.Deleted = append(changes.Deleted, f.Path)
		}
	}

	sort.Strings(changes.Created)
	sort.Strings(changes.Updated)
	sort.Strings(changes.Deleted)
	return changes, nil
}

// Cleanup removes every path in the ignore set, both on disk and in the
// repository. Safe to call repeatedly.
func (m *Manager) Cleanup(sessionID string, numericSessionID int64) error {
	root := m.sessionRoot(sessionID)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		logical := "/" + strings.ReplaceAll(rel, string(filepath.Separator), "/")
		if !Ignored(logical) {
			return nil
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
		_ = m.store.DeleteCodeFile(numericSessionID, logical)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return apperror.Wrap(apperror.WorkspaceError, "cleanup", err)
	}
	return nil
}

func sameContent(a, b string) bool {
	ha := blake3.Sum256([]byte(a))
	hb := blake3.Sum256([]byte(b))
	return ha == hb
}

// writeFileAtomic writes data to a temp file beside dest, then renames it
// into place, so a concurrently running shell never observes a partial
// write.
func writeFileAtomic(dest string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, mode); err != nil {
		return err
	}
	tmp := filepath.Join(dir, ".tmp-"+uuid.New().String())

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func fileTypeOf(path string) string {
	switch filepath.Ext(path) {
	case ".py":
		return "python"
	default:
		return "text"
	}
}

func sessionIDToInt(sessionID string) (int64, error) {
	return strconv.ParseInt(sessionID, 10, 64)
}
