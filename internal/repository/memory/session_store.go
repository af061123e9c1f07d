package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// SessionStore is an in-memory model.SessionStore used by tests and
// single-node development runs.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.UserSession
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]model.UserSession),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

func (s *SessionStore) Create(ctx context.Context, session model.UserSession) (model.UserSession, error) {
	now := s.now().UTC()
	if session.SessionID == "" {
		session.SessionID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = now
	}
	session.IsActive = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
	return session, nil
}

func (s *SessionStore) GetSessionByID(ctx context.Context, sessionID string) (model.UserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return model.UserSession{}, model.ErrNotFound
	}
	return session, nil
}

func (s *SessionStore) ListActiveByUser(ctx context.Context, userID string) ([]model.UserSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []model.UserSession
	for _, session := range s.sessions {
		if session.UserID == userID && session.IsActive && session.LogoutAt == nil {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

func (s *SessionStore) RevokeActiveForDevice(ctx context.Context, deviceID, excludeSessionID string) (int, error) {
	return s.revoke(func(session model.UserSession) bool {
		return session.DeviceID == deviceID
	}, excludeSessionID)
}

func (s *SessionStore) RevokeActiveForUser(ctx context.Context, userID, excludeSessionID string) (int, error) {
	return s.revoke(func(session model.UserSession) bool {
		return session.UserID == userID
	}, excludeSessionID)
}

func (s *SessionStore) revoke(match func(model.UserSession) bool, excludeSessionID string) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, session := range s.sessions {
		if id == excludeSessionID || !session.IsActive || !match(session) {
			continue
		}
		s.sessions[id] = session.LoggedOut(now)
		count++
	}
	return count, nil
}

func (s *SessionStore) UpdateActivity(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return model.ErrNotFound
	}
	s.sessions[sessionID] = session.Touched(at)
	return nil
}

func (s *SessionStore) MarkLoggedOut(ctx context.Context, session model.UserSession) (model.UserSession, error) {
	updated := session.LoggedOut(s.now())
	if err := s.replace(updated); err != nil {
		return model.UserSession{}, err
	}
	return updated, nil
}

func (s *SessionStore) MarkInactive(ctx context.Context, session model.UserSession) (model.UserSession, error) {
	updated := session.Inactivated()
	if err := s.replace(updated); err != nil {
		return model.UserSession{}, err
	}
	return updated, nil
}

func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, session := range s.sessions {
		if session.IsActive && session.ExpiresAt.Before(now) {
			s.sessions[id] = session.Inactivated()
			count++
		}
	}
	return count, nil
}

func (s *SessionStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			count++
		}
	}
	return count, nil
}

func (s *SessionStore) replace(session model.UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.SessionID]; !ok {
		return model.ErrNotFound
	}
	s.sessions[session.SessionID] = session
	return nil
}
