package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/realestate-lead-bot/internal/leads"
)

// MemoryStore keeps sessions in process memory behind a single mutex.
// Sessions do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

// load returns the session for phone, creating it if needed. Caller holds mu.
func (s *MemoryStore) load(phone string) *Session {
	sess, ok := s.sessions[phone]
	if !ok {
		created := newSession(phone, s.now().UTC())
		sess = &created
		s.sessions[phone] = sess
	}
	return sess
}

func (s *MemoryStore) Get(_ context.Context, phone string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(phone).clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, phone string, update SessionUpdate) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.load(phone)
	sess.applyUpdate(update, s.now().UTC())
	return sess.clone(), nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, phone string, role Role, content string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.load(phone)
	sess.appendTurn(role, content, s.now().UTC())
	return sess.clone(), nil
}

func (s *MemoryStore) MergeLead(_ context.Context, phone string, update leads.Update) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.load(phone)
	sess.mergeLead(update, s.now().UTC())
	return sess.clone(), nil
}

func (s *MemoryStore) RecordExchange(_ context.Context, phone, text, reply string, lead leads.Snapshot) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.load(phone)
	sess.recordExchange(text, reply, lead, s.now().UTC())
	return sess.clone(), nil
}

func (s *MemoryStore) Clear(_ context.Context, phone string) error {
	s.mu.Lock()
	delete(s.sessions, phone)
	s.mu.Unlock()
	return nil
}

// List returns every live session ordered by creation time.
func (s *MemoryStore) List(_ context.Context) ([]Session, error) {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.Unlock()
	sortSessions(out)
	return out, nil
}

func (s *MemoryStore) EvictIdle(_ context.Context, maxIdle time.Duration) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	evicted := 0
	for phone, sess := range s.sessions {
		if sess.idleSince(now) > maxIdle {
			delete(s.sessions, phone)
			evicted++
		}
	}
	return evicted, len(s.sessions), nil
}

func sortSessions(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].PhoneNumber < sessions[j].PhoneNumber
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
