package scylla

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// MagicLinkRepository persists magic links in ScyllaDB across two tables:
// magic_links keyed by token for redemption, magic_links_by_user keyed by
// user id so outstanding links can be superseded.
type MagicLinkRepository struct {
	client *ScyllaClient
	logger *zap.Logger
	now    func() time.Time
}

func NewMagicLinkRepository(client *ScyllaClient, logger *zap.Logger) *MagicLinkRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MagicLinkRepository{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (r *MagicLinkRepository) WithClock(now func() time.Time) *MagicLinkRepository {
	r.now = now
	return r
}

func (r *MagicLinkRepository) Create(ctx context.Context, userID, requestIP, requestUserAgent string, validity time.Duration) (model.MagicLink, error) {
	token, err := newLoginToken()
	if err != nil {
		return model.MagicLink{}, err
	}

	now := r.now().UTC()
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

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
        INSERT INTO magic_links (
            token, link_id, user_id, created_at, expires_at,
            used_at, used_ip, used_user_agent,
            request_ip, request_user_agent, is_active
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.Token, link.LinkID, link.UserID, link.CreatedAt, link.ExpiresAt,
		nil, "", "", link.RequestIP, link.RequestUserAgent, link.IsActive)
	batch.Query(`
        INSERT INTO magic_links_by_user (user_id, link_id, token, created_at, expires_at, is_active)
        VALUES (?, ?, ?, ?, ?, ?)`,
		link.UserID, link.LinkID, link.Token, link.CreatedAt, link.ExpiresAt, link.IsActive)

	if err := r.client.ExecuteBatch(batch); err != nil {
		r.logger.Error("failed to create magic link",
			zap.String("user_id", userID), zap.Error(err))
		return model.MagicLink{}, fmt.Errorf("failed to create magic link: %w", err)
	}

	return link, nil
}

func (r *MagicLinkRepository) FindByToken(ctx context.Context, token string) (model.MagicLink, error) {
	var link model.MagicLink
	var usedAt time.Time

	query := r.client.Prepared.GetMagicLinkByToken.Bind(token).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&link.Token, &link.LinkID, &link.UserID, &link.CreatedAt, &link.ExpiresAt,
		&usedAt, &link.UsedIP, &link.UsedUserAgent,
		&link.RequestIP, &link.RequestUserAgent, &link.IsActive)
	if err != nil {
		if err == gocql.ErrNotFound {
			return model.MagicLink{}, model.ErrNotFound
		}
		return model.MagicLink{}, fmt.Errorf("failed to get magic link: %w", err)
	}

	// Null timestamps come back as the zero time.
	if !usedAt.IsZero() {
		link.UsedAt = &usedAt
	}
	return link, nil
}

// FindActiveByUser returns the user's links that are still flagged active.
// Rows from the by-user table carry just enough state for supersession.
func (r *MagicLinkRepository) FindActiveByUser(ctx context.Context, userID string) ([]model.MagicLink, error) {
	iter := r.client.Prepared.GetMagicLinksByUser.Bind(userID).WithContext(ctx).Iter()

	var links []model.MagicLink
	var link model.MagicLink
	for iter.Scan(&link.LinkID, &link.Token, &link.CreatedAt, &link.ExpiresAt, &link.IsActive) {
		if link.IsActive {
			link.UserID = userID
			links = append(links, link)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list magic links for user: %w", err)
	}
	return links, nil
}

func (r *MagicLinkRepository) Invalidate(ctx context.Context, link model.MagicLink) (model.MagicLink, error) {
	updated := link.Invalidated()
	if err := r.writeState(ctx, updated); err != nil {
		return model.MagicLink{}, err
	}
	return updated, nil
}

func (r *MagicLinkRepository) MarkUsed(ctx context.Context, link model.MagicLink, usedIP, usedUserAgent string) (model.MagicLink, error) {
	updated := link.Used(r.now(), usedIP, usedUserAgent)
	if err := r.writeState(ctx, updated); err != nil {
		return model.MagicLink{}, err
	}
	return updated, nil
}

// writeState settles the link's mutable columns in both tables atomically.
func (r *MagicLinkRepository) writeState(ctx context.Context, link model.MagicLink) error {
	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
        UPDATE magic_links SET used_at = ?, used_ip = ?, used_user_agent = ?, is_active = ?
        WHERE token = ?`,
		link.UsedAt, link.UsedIP, link.UsedUserAgent, link.IsActive, link.Token)
	batch.Query(`
        UPDATE magic_links_by_user SET is_active = ?
        WHERE user_id = ? AND link_id = ?`,
		link.IsActive, link.UserID, link.LinkID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		r.logger.Error("failed to update magic link state",
			zap.String("link_id", link.LinkID), zap.Error(err))
		return fmt.Errorf("failed to update magic link: %w", err)
	}
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
