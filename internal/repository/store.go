// Package repository models the external persistence layer as a Go
// interface, with an in-memory implementation for tests and standalone
// operation. A real deployment backs Store with a relational database.
package repository

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yenjordan/terminus/internal/models"
)

var ErrNotFound = fmt.Errorf("not found")

// Store is the CRUD surface over the entities the core touches. Only
// Session and CodeFile have real behavior behind them; Submission and
// Review exist so the data model named by the wider system is complete,
// with no workflow logic layered on top.
type Store interface {
	GetSession(id int64) (*models.Session, error)
	CreateSession(s *models.Session) (*models.Session, error)
	UpdateSession(s *models.Session) (*models.Session, error)
	DeleteSession(id int64) error

	ListCodeFiles(sessionID int64) ([]*models.CodeFile, error)
	GetCodeFile(sessionID int64, path string) (*models.CodeFile, error)
	UpsertCodeFile(f *models.CodeFile) (*models.CodeFile, error)
	DeleteCodeFile(sessionID int64, path string) error

	CreateSubmission(s *models.Submission) (*models.Submission, error)
	ListSubmissions(sessionID int64) ([]*models.Submission, error)
	CreateReview(r *models.Review) (*models.Review, error)
	ListReviews(submissionID int64) ([]*models.Review, error)
}

// InMemory is a Store backed entirely by process memory, safe for
// concurrent use. Meant for tests and single-process deployments; nothing
// survives a restart.
type InMemory struct {
	mu sync.RWMutex

	sessions    map[int64]*models.Session
	codeFiles   map[int64]map[string]*models.CodeFile // sessionID -> path -> file
	submissions map[int64]*models.Submission
	reviews     map[int64]*models.Review

	nextSessionID    int64
	nextFileID       int64
	nextSubmissionID int64
	nextReviewID     int64
}

func NewInMemory() *InMemory {
	return &InMemory{
		sessions:    make(map[int64]*models.Session),
		codeFiles:   make(map[int64]map[string]*models.CodeFile),
		submissions: make(map[int64]*models.Submission),
		reviews:     make(map[int64]*models.Review),
	}
}

func (m *InMemory) GetSession(id int64) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *InMemory) CreateSession(s *models.Session) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSessionID++
	cp := *s
	cp.ID = m.nextSessionID
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt, cp.LastAccessedAt = now, now, now
	m.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *InMemory) UpdateSession(s *models.Session) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.UpdatedAt = time.Now()
	m.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

// DeleteSession removes the session and cascades to its files, per the
// data model's cascade-on-delete invariant.
func (m *InMemory) DeleteSession(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.codeFiles, id)
	return nil
}

func (m *InMemory) ListCodeFiles(sessionID int64) ([]*models.CodeFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := m.codeFiles[sessionID]
	out := make([]*models.CodeFile, 0, len(files))
	for _, f := range files {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *InMemory) GetCodeFile(sessionID int64, path string) (*models.CodeFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := m.codeFiles[sessionID]
	if files == nil {
		return nil, ErrNotFound
	}
	f, ok := files[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *InMemory) UpsertCodeFile(f *models.CodeFile) (*models.CodeFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.codeFiles[f.SessionID]
	if !ok {
		files = make(map[string]*models.CodeFile)
		m.codeFiles[f.SessionID] = files
	}
	cp := *f
	now := time.Now()
	if existing, ok := files[f.Path]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		m.nextFileID++
		cp.ID = m.nextFileID
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.SizeBytes = int64(len(cp.Content))
	files[cp.Path] = &cp
	out := cp
	return &out, nil
}

func (m *InMemory) DeleteCodeFile(sessionID int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := m.codeFiles[sessionID]
	if files == nil {
		return ErrNotFound
	}
	if _, ok := files[path]; !ok {
		return ErrNotFound
	}
	delete(files, path)
	return nil
}

func (m *InMemory) CreateSubmission(s *models.Submission) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubmissionID++
	cp := *s
	cp.ID = m.nextSubmissionID
	cp.CreatedAt = time.Now()
	m.submissions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *InMemory) ListSubmissions(sessionID int64) ([]*models.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Submission
	for _, s := range m.submissions {
		if s.SessionID == sessionID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) CreateReview(r *models.Review) (*models.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReviewID++
	cp := *r
	cp.ID = m.nextReviewID
	cp.CreatedAt = time.Now()
	m.reviews[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *InMemory) ListReviews(submissionID int64) ([]*models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Review
	for _, r := range m.reviews {
		if r.SubmissionID == submissionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
