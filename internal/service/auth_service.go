package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/config"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/fingerprint"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/token"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/util"
)

// TokenSigner mints and verifies the access tokens handed to clients.
type TokenSigner interface {
	Sign(claims token.Claims) (string, time.Time, error)
	Verify(raw string) (token.Claims, error)
}

// NotificationSender delivers the login link to the user. Template and
// transport live outside the auth core.
type NotificationSender interface {
	SendLoginLink(ctx context.Context, email, link string, validity time.Duration) error
}

// RouteResolver maps a role name to its UI routing metadata. Pure lookup.
type RouteResolver interface {
	RoutesForRole(roleName string) model.RoleRoutes
}

// EventPublisher receives security events. Implementations must be side
// channels: publish failures are logged, never surfaced to callers.
type EventPublisher interface {
	Publish(ctx context.Context, event model.SecurityEvent) error
}

// LoginThrottle rate-limits login requests per email+IP.
type LoginThrottle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RequestContext carries the connection and client metadata of an inbound
// request, including the locale hints a client may submit alongside.
type RequestContext struct {
	IPAddress        string
	UserAgent        string
	Language         string
	Timezone         string
	ScreenResolution string
}

// LoginResult is the response to a login request. The message is generic on
// purpose: it never confirms delivery details.
type LoginResult struct {
	Message string `json:"message"`
}

// UserInfo is the profile slice returned after a verified login.
type UserInfo struct {
	UserID      string           `json:"user_id"`
	Email       string           `json:"email"`
	Name        string           `json:"name"`
	Role        model.Role       `json:"role"`
	Permissions []string         `json:"permissions"`
	Routes      model.RoleRoutes `json:"routes"`
}

// VerifyResult is the composed login payload: bearer token plus the session
// and profile metadata the UI needs.
type VerifyResult struct {
	AccessToken string   `json:"access_token"`
	SessionID   string   `json:"session_id"`
	ExpiresIn   int64    `json:"expires_in"`
	User        UserInfo `json:"user"`
}

// AuthService orchestrates magic-link login, session governance and token
// validation. All time arithmetic goes through the injected clock.
type AuthService struct {
	links    model.MagicLinkStore
	sessions model.SessionStore
	users    model.UserDirectory
	signer   TokenSigner
	mailer   NotificationSender
	routes   RouteResolver
	events   EventPublisher
	throttle LoginThrottle
	cfg      config.AuthConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewAuthService(
	cfg config.AuthConfig,
	links model.MagicLinkStore,
	sessions model.SessionStore,
	users model.UserDirectory,
	signer TokenSigner,
	mailer NotificationSender,
	routes RouteResolver,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		links:    links,
		sessions: sessions,
		users:    users,
		signer:   signer,
		mailer:   mailer,
		routes:   routes,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithEvents attaches a security-event sink.
func (s *AuthService) WithEvents(publisher EventPublisher) *AuthService {
	s.events = publisher
	return s
}

// WithThrottle attaches login-request rate limiting.
func (s *AuthService) WithThrottle(throttle LoginThrottle) *AuthService {
	s.throttle = throttle
	return s
}

// WithClock overrides the time source. Test hook.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// RequestLogin resolves the email, supersedes any outstanding magic links for
// the user, mints a fresh one and hands it to the notification sender.
func (s *AuthService) RequestLogin(ctx context.Context, email string, req RequestContext) (*LoginResult, error) {
	email = util.NormalizeEmail(email)

	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, email+"|"+req.IPAddress)
		if err != nil {
			s.logger.Warn("login throttle unavailable, allowing request", zap.Error(err))
		} else if !allowed {
			return nil, ErrTooManyRequests
		}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("resolve user by email: %w", err)
	}
	if !user.IsActiveUser() {
		return nil, fmt.Errorf("%w: user is not active", ErrUnauthorized)
	}

	active, err := s.links.FindActiveByUser(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("find active magic links: %w", err)
	}
	for _, prior := range active {
		if _, err := s.links.Invalidate(ctx, prior); err != nil {
			return nil, fmt.Errorf("invalidate prior magic link: %w", err)
		}
	}

	link, err := s.links.Create(ctx, user.UserID, req.IPAddress, req.UserAgent, s.cfg.MagicLinkValidity)
	if err != nil {
		return nil, fmt.Errorf("create magic link: %w", err)
	}

	loginURL := fmt.Sprintf("%s?token=%s", s.cfg.LoginLinkBaseURL, link.Token)
	if err := s.mailer.SendLoginLink(ctx, user.Email, loginURL, s.cfg.MagicLinkValidity); err != nil {
		return nil, fmt.Errorf("send login link: %w", err)
	}

	s.publish(ctx, model.SecurityEvent{
		EventType: model.EventLoginRequested,
		EventTime: s.now().UTC(),
		UserID:    user.UserID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	s.logger.Info("magic link issued",
		zap.String("user_id", user.UserID),
		zap.String("link_id", link.LinkID),
		zap.Time("expires_at", link.ExpiresAt))

	return &LoginResult{Message: "A login link has been sent to your email address."}, nil
}

// VerifyLogin redeems a magic-link token: it binds a new session to the
// caller's device, supersedes any prior session on that device, consumes the
// link and mints the access token.
func (s *AuthService) VerifyLogin(ctx context.Context, rawToken string, req RequestContext) (*VerifyResult, error) {
	link, err := s.links.FindByToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown magic link", ErrUnauthorized)
		}
		return nil, fmt.Errorf("find magic link: %w", err)
	}

	now := s.now()
	if link.IsExpired(now) {
		return nil, fmt.Errorf("%w: magic link expired", ErrUnauthorized)
	}
	if link.UsedAt != nil {
		return nil, fmt.Errorf("%w: magic link already used", ErrUnauthorized)
	}
	if !link.IsActive {
		return nil, fmt.Errorf("%w: magic link superseded", ErrUnauthorized)
	}

	user, err := s.users.FindByID(ctx, link.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("resolve link owner: %w", err)
	}
	if !user.IsActiveUser() {
		return nil, fmt.Errorf("%w: user is not active", ErrUnauthorized)
	}

	info := clientInfoFromRequest(req)
	fp := fingerprint.Compute(req.UserAgent, req.IPAddress, info)
	deviceID := fingerprint.DeviceID(fp, user.UserID)

	if _, err := s.sessions.RevokeActiveForDevice(ctx, deviceID, ""); err != nil {
		return nil, fmt.Errorf("revoke prior device sessions: %w", err)
	}

	session, err := s.sessions.Create(ctx, model.UserSession{
		UserID:      user.UserID,
		DeviceID:    deviceID,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		ExpiresAt:   now.UTC().Add(s.cfg.SessionLifetime),
		Fingerprint: fp,
		Client:      info,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if _, err := s.links.MarkUsed(ctx, link, req.IPAddress, req.UserAgent); err != nil {
		return nil, fmt.Errorf("mark magic link used: %w", err)
	}
	if err := s.users.UpdateLastLogin(ctx, user.UserID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.UserID), zap.Error(err))
	}

	var (
		role        model.Role
		permissions []string
		routes      model.RoleRoutes
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.users.GetUserRole(gctx, user.UserID)
		if err != nil {
			return fmt.Errorf("resolve role: %w", err)
		}
		role = r
		if s.routes != nil {
			routes = s.routes.RoutesForRole(r.Name)
		}
		return nil
	})
	g.Go(func() error {
		p, err := s.users.GetUserPermissions(gctx, user.UserID)
		if err != nil {
			return fmt.Errorf("resolve permissions: %w", err)
		}
		permissions = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.signer.Sign(token.Claims{
		UserID:    user.UserID,
		Email:     user.Email,
		RoleID:    role.RoleID,
		SessionID: session.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.publish(ctx, model.SecurityEvent{
		EventType: model.EventLoginVerified,
		EventTime: now.UTC(),
		UserID:    user.UserID,
		SessionID: session.SessionID,
		DeviceID:  deviceID,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	s.logger.Info("login verified",
		zap.String("user_id", user.UserID),
		zap.String("session_id", session.SessionID),
		zap.String("device_id", deviceID))

	return &VerifyResult{
		AccessToken: accessToken,
		SessionID:   session.SessionID,
		ExpiresIn:   int64(expiresAt.Sub(now).Seconds()),
		User: UserInfo{
			UserID:      user.UserID,
			Email:       user.Email,
			Name:        user.Name,
			Role:        role,
			Permissions: permissions,
			Routes:      routes,
		},
	}, nil
}

// Logout terminates a session. Idempotent: absent or already-invalid
// sessions are a silent no-op.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find session: %w", err)
	}
	if !session.IsValid(s.now()) {
		return nil
	}

	if _, err := s.sessions.MarkLoggedOut(ctx, session); err != nil {
		return fmt.Errorf("mark session logged out: %w", err)
	}

	s.publish(ctx, model.SecurityEvent{
		EventType: model.EventLogout,
		EventTime: s.now().UTC(),
		UserID:    session.UserID,
		SessionID: session.SessionID,
		DeviceID:  session.DeviceID,
	})
	s.logger.Info("session logged out",
		zap.String("user_id", session.UserID),
		zap.String("session_id", session.SessionID))
	return nil
}

// ValidateToken verifies the bearer token, re-checks the referenced session
// live, and optionally holds the caller's fingerprint against the one bound
// at login. A mismatch revokes the session before failing, so a caller can
// never observe success after tampering.
func (s *AuthService) ValidateToken(ctx context.Context, rawToken string, req *RequestContext) (model.User, error) {
	claims, err := s.signer.Verify(rawToken)
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
		return model.User{}, fmt.Errorf("resolve token user: %w", err)
	}
	if !user.IsActiveUser() {
		return model.User{}, fmt.Errorf("%w: user is not active", ErrUnauthorized)
	}

	session, err := s.sessions.GetSessionByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, fmt.Errorf("%w: unknown session", ErrUnauthorized)
		}
		return model.User{}, fmt.Errorf("resolve token session: %w", err)
	}

	now := s.now()
	if !session.IsValid(now) {
		return model.User{}, fmt.Errorf("%w: session no longer valid", ErrUnauthorized)
	}

	if req != nil && session.Fingerprint != "" {
		info := clientInfoFromRequest(*req)
		current := fingerprint.Compute(req.UserAgent, req.IPAddress, info)
		if !fingerprint.Compare(session.Fingerprint, current, s.tolerance()) {
			if _, err := s.sessions.MarkInactive(ctx, session); err != nil {
				s.logger.Error("failed to invalidate mismatched session",
					zap.String("session_id", session.SessionID), zap.Error(err))
			}
			s.publish(ctx, model.SecurityEvent{
				EventType: model.EventFingerprintMismatch,
				EventTime: now.UTC(),
				UserID:    session.UserID,
				SessionID: session.SessionID,
				DeviceID:  session.DeviceID,
				IPAddress: req.IPAddress,
				UserAgent: req.UserAgent,
				Details:   "session fingerprint mismatch",
			})
			s.logger.Warn("fingerprint mismatch, session revoked",
				zap.String("user_id", session.UserID),
				zap.String("session_id", session.SessionID))
			return model.User{}, fmt.Errorf("%w: fingerprint mismatch", ErrUnauthorized)
		}
	}

	if err := s.sessions.UpdateActivity(ctx, session.SessionID, now); err != nil {
		s.logger.Warn("failed to bump session activity",
			zap.String("session_id", session.SessionID), zap.Error(err))
	}

	return user, nil
}

// RevokeAllSessions logs out every active session of the user except the
// optionally excluded one.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID, excludeSessionID string) error {
	count, err := s.sessions.RevokeActiveForUser(ctx, userID, excludeSessionID)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}

	s.publish(ctx, model.SecurityEvent{
		EventType: model.EventSessionsRevoked,
		EventTime: s.now().UTC(),
		UserID:    userID,
		Details:   fmt.Sprintf("%d sessions revoked", count),
	})
	s.logger.Info("user sessions revoked",
		zap.String("user_id", userID),
		zap.Int("count", count))
	return nil
}

func (s *AuthService) tolerance() float64 {
	if s.cfg.FingerprintTolerance > 0 {
		return s.cfg.FingerprintTolerance
	}
	return fingerprint.DefaultTolerance
}

func (s *AuthService) publish(ctx context.Context, event model.SecurityEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish security event",
			zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func clientInfoFromRequest(req RequestContext) model.ClientInfo {
	info := fingerprint.ParseClientHints(req.UserAgent)
	info.Language = req.Language
	info.Timezone = req.Timezone
	info.ScreenResolution = req.ScreenResolution
	return info
}
