package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/bucketing"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/encryption"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
	redisrepo "github.com/cerkvenihaxel/ssc-api-sub001/internal/repository/redis"
)

const cleanupBatchSize = 100

// SessionRepository persists sessions in ScyllaDB. The primary table is
// partitioned by (user_bucket, user_id); sessions_by_id and
// sessions_by_device are lookup tables kept in step through logged batches.
// Client info is envelope-encrypted before it leaves the process.
type SessionRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
	enc     *encryption.Manager
	cache   *redisrepo.SessionCache
	logger  *zap.Logger
	now     func() time.Time
}

func NewSessionRepository(client *ScyllaClient, buckets *bucketing.Manager, enc *encryption.Manager, logger *zap.Logger) *SessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRepository{
		client:  client,
		buckets: buckets,
		enc:     enc,
		logger:  logger,
		now:     time.Now,
	}
}

// WithCache attaches a Redis read-through cache for session lookups.
func (r *SessionRepository) WithCache(cache *redisrepo.SessionCache) *SessionRepository {
	r.cache = cache
	return r
}

// WithClock overrides the time source. Test hook.
func (r *SessionRepository) WithClock(now func() time.Time) *SessionRepository {
	r.now = now
	return r
}

func (r *SessionRepository) Create(ctx context.Context, session model.UserSession) (model.UserSession, error) {
	now := r.now().UTC()
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

	clientInfo, err := r.encryptClientInfo(ctx, session.Client)
	if err != nil {
		return model.UserSession{}, err
	}

	bucket := r.buckets.UserBucket(session.UserID)

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
        INSERT INTO user_sessions (
            user_bucket, user_id, session_id, device_id, ip_address, user_agent,
            created_at, logout_at, is_active, expires_at, last_activity,
            fingerprint, client_info_enc
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bucket, session.UserID, session.SessionID, session.DeviceID,
		session.IPAddress, session.UserAgent, session.CreatedAt, nil,
		session.IsActive, session.ExpiresAt, session.LastActivity,
		session.Fingerprint, clientInfo)
	batch.Query(`
        INSERT INTO sessions_by_id (session_id, user_bucket, user_id, device_id)
        VALUES (?, ?, ?, ?)`,
		session.SessionID, bucket, session.UserID, session.DeviceID)
	batch.Query(`
        INSERT INTO sessions_by_device (device_id, session_id, user_bucket, user_id)
        VALUES (?, ?, ?, ?)`,
		session.DeviceID, session.SessionID, bucket, session.UserID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		r.logger.Error("failed to create session",
			zap.String("user_id", session.UserID), zap.Error(err))
		return model.UserSession{}, fmt.Errorf("failed to create session: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.StoreSession(ctx, session); err != nil {
			r.logger.Warn("failed to cache new session",
				zap.String("session_id", session.SessionID), zap.Error(err))
		}
	}

	return session, nil
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, sessionID string) (model.UserSession, error) {
	if r.cache != nil {
		if cached, ok, err := r.cache.GetSession(ctx, sessionID); err == nil && ok {
			return cached, nil
		}
	}

	bucket, userID, _, err := r.lookupPointer(ctx, sessionID)
	if err != nil {
		return model.UserSession{}, err
	}

	session, err := r.readSession(ctx, bucket, userID, sessionID)
	if err != nil {
		return model.UserSession{}, err
	}

	if r.cache != nil && session.IsValid(r.now()) {
		if err := r.cache.StoreSession(ctx, session); err != nil {
			r.logger.Warn("failed to refresh session cache",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return session, nil
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]model.UserSession, error) {
	bucket := r.buckets.UserBucket(userID)
	iter := r.client.Prepared.GetSessionsByUser.Bind(bucket, userID).WithContext(ctx).Iter()

	sessions, err := r.collectSessions(ctx, iter)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for user: %w", err)
	}

	active := sessions[:0]
	for _, session := range sessions {
		if session.IsActive && session.LogoutAt == nil {
			active = append(active, session)
		}
	}
	return active, nil
}

func (r *SessionRepository) RevokeActiveForDevice(ctx context.Context, deviceID, excludeSessionID string) (int, error) {
	iter := r.client.Prepared.GetSessionsByDevice.Bind(deviceID).WithContext(ctx).Iter()

	type pointer struct {
		sessionID string
		bucket    int
		userID    string
	}
	var pointers []pointer
	var p pointer
	for iter.Scan(&p.sessionID, &p.bucket, &p.userID) {
		pointers = append(pointers, p)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list sessions for device: %w", err)
	}

	count := 0
	for _, ptr := range pointers {
		if ptr.sessionID == excludeSessionID {
			continue
		}
		session, err := r.readSession(ctx, ptr.bucket, ptr.userID, ptr.sessionID)
		if err != nil {
			if err == model.ErrNotFound {
				continue
			}
			return count, err
		}
		if !session.IsActive {
			continue
		}
		if _, err := r.MarkLoggedOut(ctx, session); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (r *SessionRepository) RevokeActiveForUser(ctx context.Context, userID, excludeSessionID string) (int, error) {
	sessions, err := r.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, session := range sessions {
		if session.SessionID == excludeSessionID {
			continue
		}
		if _, err := r.MarkLoggedOut(ctx, session); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (r *SessionRepository) UpdateActivity(ctx context.Context, sessionID string, at time.Time) error {
	bucket, userID, _, err := r.lookupPointer(ctx, sessionID)
	if err != nil {
		return err
	}

	query := r.client.Prepared.UpdateSessionActivity.Bind(at.UTC(), bucket, userID, sessionID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}
	return nil
}

func (r *SessionRepository) MarkLoggedOut(ctx context.Context, session model.UserSession) (model.UserSession, error) {
	updated := session.LoggedOut(r.now())
	if err := r.writeState(ctx, updated); err != nil {
		return model.UserSession{}, err
	}
	return updated, nil
}

func (r *SessionRepository) MarkInactive(ctx context.Context, session model.UserSession) (model.UserSession, error) {
	updated := session.Inactivated()
	if err := r.writeState(ctx, updated); err != nil {
		return model.UserSession{}, err
	}
	return updated, nil
}

// SweepExpired flips still-active sessions past their expiry to inactive.
// Rows are retained for the audit window; PurgeOlderThan removes them later.
func (r *SessionRepository) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	iter := r.client.Query(`
        SELECT user_bucket, user_id, session_id FROM user_sessions
        WHERE is_active = true AND expires_at < ? ALLOW FILTERING`, now.UTC()).
		WithContext(ctx).Iter()

	var bucket int
	var userID, sessionID string
	count := 0

	batch := r.client.Batch(gocql.UnloggedBatch).WithContext(ctx)
	batchSize := 0
	for iter.Scan(&bucket, &userID, &sessionID) {
		batch.Query(`
            UPDATE user_sessions SET is_active = false
            WHERE user_bucket = ? AND user_id = ? AND session_id = ?`,
			bucket, userID, sessionID)
		batchSize++

		if batchSize >= cleanupBatchSize {
			if err := r.client.ExecuteBatch(batch); err != nil {
				iter.Close()
				return count, fmt.Errorf("failed to sweep expired sessions: %w", err)
			}
			count += batchSize
			batch = r.client.Batch(gocql.UnloggedBatch).WithContext(ctx)
			batchSize = 0
		}
	}
	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			iter.Close()
			return count, fmt.Errorf("failed to sweep expired sessions: %w", err)
		}
		count += batchSize
	}

	if err := iter.Close(); err != nil {
		return count, fmt.Errorf("failed to scan expired sessions: %w", err)
	}
	return count, nil
}

// PurgeOlderThan hard-deletes sessions created before the cutoff from all
// three tables.
func (r *SessionRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	iter := r.client.Query(`
        SELECT user_bucket, user_id, session_id, device_id FROM user_sessions
        WHERE created_at < ? ALLOW FILTERING`, cutoff.UTC()).
		WithContext(ctx).Iter()

	var bucket int
	var userID, sessionID, deviceID string
	count := 0

	batch := r.client.Batch(gocql.UnloggedBatch).WithContext(ctx)
	batchSize := 0
	for iter.Scan(&bucket, &userID, &sessionID, &deviceID) {
		batch.Query(`DELETE FROM user_sessions WHERE user_bucket = ? AND user_id = ? AND session_id = ?`,
			bucket, userID, sessionID)
		batch.Query(`DELETE FROM sessions_by_id WHERE session_id = ?`, sessionID)
		batch.Query(`DELETE FROM sessions_by_device WHERE device_id = ? AND session_id = ?`,
			deviceID, sessionID)
		batchSize++

		if batchSize >= cleanupBatchSize {
			if err := r.client.ExecuteBatch(batch); err != nil {
				iter.Close()
				return count, fmt.Errorf("failed to purge old sessions: %w", err)
			}
			count += batchSize
			batch = r.client.Batch(gocql.UnloggedBatch).WithContext(ctx)
			batchSize = 0
		}
	}
	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			iter.Close()
			return count, fmt.Errorf("failed to purge old sessions: %w", err)
		}
		count += batchSize
	}

	if err := iter.Close(); err != nil {
		return count, fmt.Errorf("failed to scan old sessions: %w", err)
	}
	return count, nil
}

func (r *SessionRepository) lookupPointer(ctx context.Context, sessionID string) (int, string, string, error) {
	var bucket int
	var userID, deviceID string

	query := r.client.Prepared.GetSessionPointer.Bind(sessionID).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID, &deviceID); err != nil {
		if err == gocql.ErrNotFound {
			return 0, "", "", model.ErrNotFound
		}
		return 0, "", "", fmt.Errorf("failed to resolve session pointer: %w", err)
	}
	return bucket, userID, deviceID, nil
}

func (r *SessionRepository) readSession(ctx context.Context, bucket int, userID, sessionID string) (model.UserSession, error) {
	query := r.client.Prepared.GetSession.Bind(bucket, userID, sessionID).WithContext(ctx)

	session, err := r.scanSession(ctx, query.Scan)
	if err != nil {
		if err == gocql.ErrNotFound {
			return model.UserSession{}, model.ErrNotFound
		}
		return model.UserSession{}, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) collectSessions(ctx context.Context, iter *gocql.Iter) ([]model.UserSession, error) {
	var sessions []model.UserSession
	for {
		session, err := r.scanSession(ctx, func(dest ...interface{}) error {
			if !iter.Scan(dest...) {
				return gocql.ErrNotFound
			}
			return nil
		})
		if err != nil {
			break
		}
		sessions = append(sessions, session)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SessionRepository) scanSession(ctx context.Context, scan func(dest ...interface{}) error) (model.UserSession, error) {
	var session model.UserSession
	var bucket int
	var logoutAt time.Time
	var clientInfo string

	err := scan(
		&bucket, &session.UserID, &session.SessionID, &session.DeviceID,
		&session.IPAddress, &session.UserAgent, &session.CreatedAt, &logoutAt,
		&session.IsActive, &session.ExpiresAt, &session.LastActivity,
		&session.Fingerprint, &clientInfo)
	if err != nil {
		return model.UserSession{}, err
	}

	if !logoutAt.IsZero() {
		session.LogoutAt = &logoutAt
	}
	session.Client = r.decryptClientInfo(ctx, session.SessionID, clientInfo)
	return session, nil
}

func (r *SessionRepository) writeState(ctx context.Context, session model.UserSession) error {
	bucket := r.buckets.UserBucket(session.UserID)

	query := r.client.Query(`
        UPDATE user_sessions SET is_active = ?, logout_at = ?
        WHERE user_bucket = ? AND user_id = ? AND session_id = ?`,
		session.IsActive, session.LogoutAt, bucket, session.UserID, session.SessionID).
		WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		r.logger.Error("failed to update session state",
			zap.String("session_id", session.SessionID), zap.Error(err))
		return fmt.Errorf("failed to update session: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.DropSession(ctx, session); err != nil {
			r.logger.Warn("failed to evict session from cache",
				zap.String("session_id", session.SessionID), zap.Error(err))
		}
	}
	return nil
}

func (r *SessionRepository) encryptClientInfo(ctx context.Context, info model.ClientInfo) (string, error) {
	plain, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal client info: %w", err)
	}

	encrypted, err := r.enc.EncryptField(ctx, string(plain))
	if err != nil {
		return "", fmt.Errorf("encrypt client info: %w", err)
	}

	payload, err := json.Marshal(encrypted)
	if err != nil {
		return "", fmt.Errorf("marshal encrypted client info: %w", err)
	}
	return string(payload), nil
}

// decryptClientInfo is best effort: session validity never depends on the
// client info column, so decryption failures degrade to an empty struct.
func (r *SessionRepository) decryptClientInfo(ctx context.Context, sessionID, raw string) model.ClientInfo {
	var info model.ClientInfo
	if raw == "" {
		return info
	}

	var encrypted encryption.EncryptedData
	if err := json.Unmarshal([]byte(raw), &encrypted); err != nil {
		r.logger.Warn("malformed client info payload", zap.String("session_id", sessionID))
		return info
	}

	plain, err := r.enc.DecryptField(ctx, &encrypted)
	if err != nil {
		r.logger.Warn("failed to decrypt client info",
			zap.String("session_id", sessionID), zap.Error(err))
		return info
	}

	if err := json.Unmarshal([]byte(plain), &info); err != nil {
		r.logger.Warn("malformed decrypted client info", zap.String("session_id", sessionID))
	}
	return info
}
