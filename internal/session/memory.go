package session

import (
	"context"
	"sync"
	"time"

	apperrors "github-issue-mirror/internal/errors"
	"github-issue-mirror/internal/model"
)

type memEntry struct {
	session   model.Session
	expiresAt time.Time
}

// MemStore is an in-memory Store. It backs the desktop token cache and
// tests; the edge service uses PGStore.
type MemStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]memEntry
	now      func() time.Time
}

// NewMemStore creates an in-memory store. A non-positive ttl selects
// DefaultTTL.
func NewMemStore(ttl time.Duration) *MemStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemStore{
		ttl:      ttl,
		sessions: make(map[string]memEntry),
		now:      time.Now,
	}
}

func (s *MemStore) Create(_ context.Context, userID int64, accessToken string, installations []model.Installation) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sessions[token] = memEntry{
		session: model.Session{
			Token:          token,
			UserID:         userID,
			AccessToken:    accessToken,
			CreatedAt:      now,
			LastAccessedAt: now,
			Installations:  installations,
		},
		expiresAt: now.Add(s.ttl),
	}
	return token, nil
}

func (s *MemStore) Get(_ context.Context, token string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[token]
	now := s.now()
	if !ok || !entry.expiresAt.After(now) {
		delete(s.sessions, token)
		return nil, nil
	}

	entry.session.LastAccessedAt = now
	entry.expiresAt = now.Add(s.ttl)
	s.sessions[token] = entry

	sess := entry.session
	return &sess, nil
}

func (s *MemStore) UpdateInstallations(_ context.Context, token string, installations []model.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[token]
	now := s.now()
	if !ok || !entry.expiresAt.After(now) {
		delete(s.sessions, token)
		return apperrors.ErrSessionNotFound
	}

	entry.session.Installations = installations
	entry.session.LastAccessedAt = now
	entry.expiresAt = now.Add(s.ttl)
	s.sessions[token] = entry
	return nil
}

func (s *MemStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Reset drops all sessions.
func (s *MemStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]memEntry)
}
