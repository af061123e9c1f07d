package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// MagicLinkStore is an in-memory model.MagicLinkStore used by tests and
// single-node development runs.
type MagicLinkStore struct {
	mu      sync.RWMutex
	byToken map[string]model.MagicLink
	byID    map[string]model.MagicLink
	now     func() time.Time
}

func NewMagicLinkStore() *MagicLinkStore {
	return &MagicLinkStore{
		byToken: make(map[string]model.MagicLink),
		byID:    make(map[string]model.MagicLink),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *MagicLinkStore) WithClock(now func() time.Time) *MagicLinkStore {
	s.now = now
	return s
}

func (s *MagicLinkStore) Create(ctx context.Context, userID, requestIP, requestUserAgent string, validity time.Duration) (model.MagicLink, error) {
	token, err := newLoginToken()
	if err != nil {
		return model.MagicLink{}, err
	}

	now := s.now().UTC()
	link := model.MagicLink{
		LinkID:           uuid.New().String(),
		UserID:           userID,
		Token:            token,
		CreatedAt:        now,
		ExpiresAt:        now.Add(validity),
		RequestIP:        requestIP,
		RequestUserAgent: requestUserAgent,
		IsActive:         true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byToken[link.Token] = link
	s.byID[link.LinkID] = link
	return link, nil
}

func (s *MagicLinkStore) FindByToken(ctx context.Context, token string) (model.MagicLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byToken[token]
	if !ok {
		return model.MagicLink{}, model.ErrNotFound
	}
	return link, nil
}

func (s *MagicLinkStore) FindActiveByUser(ctx context.Context, userID string) ([]model.MagicLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var links []model.MagicLink
	for _, link := range s.byID {
		if link.UserID == userID && link.IsActive {
			links = append(links, link)
		}
	}
	return links, nil
}

func (s *MagicLinkStore) Invalidate(ctx context.Context, link model.MagicLink) (model.MagicLink, error) {
	updated := link.Invalidated()
	if err := s.replace(updated); err != nil {
		return model.MagicLink{}, err
	}
	return updated, nil
}

func (s *MagicLinkStore) MarkUsed(ctx context.Context, link model.MagicLink, usedIP, usedUserAgent string) (model.MagicLink, error) {
	updated := link.Used(s.now(), usedIP, usedUserAgent)
	if err := s.replace(updated); err != nil {
		return model.MagicLink{}, err
	}
	return updated, nil
}

func (s *MagicLinkStore) replace(link model.MagicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[link.LinkID]; !ok {
		return model.ErrNotFound
	}
	s.byToken[link.Token] = link
	s.byID[link.LinkID] = link
	return nil
}

// newLoginToken returns 32 bytes of crypto/rand entropy, hex encoded.
func newLoginToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate login token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
