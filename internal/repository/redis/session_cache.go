// Package redis holds the hot-path caches in front of the durable stores.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/client"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

const (
	sessionDataPrefix  = "session_data:"
	activeDevicePrefix = "active_device:"
)

// SessionCache keeps validated sessions in Redis so token validation does
// not hit the durable store on every request. Entries expire with the
// session itself.
type SessionCache struct {
	client *client.RedisClient
	now    func() time.Time
}

func NewSessionCache(redisClient *client.RedisClient) *SessionCache {
	return &SessionCache{
		client: redisClient,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (c *SessionCache) WithClock(now func() time.Time) *SessionCache {
	c.now = now
	return c
}

// StoreSession caches the session and marks it as the active one for its
// device.
func (c *SessionCache) StoreSession(ctx context.Context, session model.UserSession) error {
	ttl := session.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, sessionDataPrefix+session.SessionID, payload, ttl)
	pipe.Set(ctx, activeDevicePrefix+session.DeviceID, session.SessionID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache session: %w", err)
	}
	return nil
}

// GetSession returns the cached session. The second return is false on a
// cache miss.
func (c *SessionCache) GetSession(ctx context.Context, sessionID string) (model.UserSession, bool, error) {
	raw, err := c.client.Get(ctx, sessionDataPrefix+sessionID)
	if err != nil {
		if errors.Is(err, client.ErrCacheMiss) {
			return model.UserSession{}, false, nil
		}
		return model.UserSession{}, false, err
	}

	var session model.UserSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		// A corrupt entry is treated as a miss; the durable store is
		// authoritative.
		_ = c.client.Del(ctx, sessionDataPrefix+sessionID)
		return model.UserSession{}, false, nil
	}
	return session, true, nil
}

// DropSession evicts the session and, if it is still the device's active
// session, the device pointer too.
func (c *SessionCache) DropSession(ctx context.Context, session model.UserSession) error {
	keys := []string{sessionDataPrefix + session.SessionID}

	current, err := c.client.Get(ctx, activeDevicePrefix+session.DeviceID)
	if err == nil && current == session.SessionID {
		keys = append(keys, activeDevicePrefix+session.DeviceID)
	}

	return c.client.Del(ctx, keys...)
}

// ActiveSessionForDevice returns the cached active session id for a device,
// or empty string when none is cached.
func (c *SessionCache) ActiveSessionForDevice(ctx context.Context, deviceID string) (string, error) {
	sessionID, err := c.client.Get(ctx, activeDevicePrefix+deviceID)
	if err != nil {
		if errors.Is(err, client.ErrCacheMiss) {
			return "", nil
		}
		return "", err
	}
	return sessionID, nil
}
