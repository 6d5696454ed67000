package proctor

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type studentKey struct {
	quizID uuid.UUID
	userID int
}

type memEntry struct {
	mu sync.Mutex
	s  *model.ProctoringSession
}

// MemoryStore is an in-process SessionStore. Each session has its own
// mutex so updates to different sessions never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*memEntry
	open     map[studentKey]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*memEntry),
		open:     make(map[studentKey]uuid.UUID),
	}
}

func (m *MemoryStore) CreateOrGet(_ context.Context, s *model.ProctoringSession) (*model.ProctoringSession, bool, error) {
	key := studentKey{quizID: s.QuizID, userID: s.UserID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.open[key]; ok {
		if ent, ok := m.sessions[id]; ok {
			ent.mu.Lock()
			cur := ent.s
			ent.mu.Unlock()
			if cur.Status != model.SessionStatusCompleted {
				return cur.Clone(), false, nil
			}
		}
	}

	m.sessions[s.ID] = &memEntry{s: s.Clone()}
	m.open[key] = s.ID
	return s.Clone(), true, nil
}

func (m *MemoryStore) entry(id uuid.UUID) (*memEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.sessions[id]
	return ent, ok
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*model.ProctoringSession, error) {
	ent, ok := m.entry(id)
	if !ok {
		return nil, ErrUnknownSession
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.s.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id uuid.UUID, fn UpdateFunc) (*model.ProctoringSession, error) {
	ent, ok := m.entry(id)
	if !ok {
		return nil, ErrUnknownSession
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	next := ent.s.Clone()
	if err := fn(next); err != nil {
		return ent.s.Clone(), err
	}
	next.Version = ent.s.Version + 1
	ent.s = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListByQuiz(_ context.Context, quizID uuid.UUID) ([]*model.ProctoringSession, error) {
	return m.collect(func(s *model.ProctoringSession) bool { return s.QuizID == quizID }), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*model.ProctoringSession, error) {
	return m.collect(func(*model.ProctoringSession) bool { return true }), nil
}

func (m *MemoryStore) collect(keep func(*model.ProctoringSession) bool) []*model.ProctoringSession {
	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.sessions))
	for _, ent := range m.sessions {
		entries = append(entries, ent)
	}
	m.mu.RUnlock()

	out := make([]*model.ProctoringSession, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		if keep(ent.s) {
			out = append(out, ent.s.Clone())
		}
		ent.mu.Unlock()
	}
	SortSessions(out)
	return out
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	ent.mu.Lock()
	key := studentKey{quizID: ent.s.QuizID, userID: ent.s.UserID}
	ent.mu.Unlock()
	if m.open[key] == id {
		delete(m.open, key)
	}
	return nil
}
