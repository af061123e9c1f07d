package service_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/config"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/repository/memory"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/service"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/token"
)

type fakeDirectory struct {
	mu        sync.Mutex
	users     map[string]model.User
	byEmail   map[string]string
	role      model.Role
	perms     []string
	lastLogin map[string]time.Time
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:     make(map[string]model.User),
		byEmail:   make(map[string]string),
		role:      model.Role{RoleID: "r-member", Name: "member"},
		perms:     []string{"profile:read"},
		lastLogin: make(map[string]time.Time),
	}
}

func (d *fakeDirectory) add(user model.User) {
	d.users[user.UserID] = user
	d.byEmail[user.Email] = user.UserID
}

func (d *fakeDirectory) FindByID(ctx context.Context, userID string) (model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[userID]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return user, nil
}

func (d *fakeDirectory) FindByEmail(ctx context.Context, email string) (model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byEmail[email]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return d.users[id], nil
}

func (d *fakeDirectory) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLogin[userID] = at
	return nil
}

func (d *fakeDirectory) GetUserRole(ctx context.Context, userID string) (model.Role, error) {
	return d.role, nil
}

func (d *fakeDirectory) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	return d.perms, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	links []string
	fail  error
}

func (m *fakeMailer) SendLoginLink(ctx context.Context, email, link string, validity time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.links = append(m.links, link)
	return nil
}

func (m *fakeMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		t.Fatalf("no login link was sent")
	}
	u, err := url.Parse(m.links[len(m.links)-1])
	if err != nil {
		t.Fatalf("parse login link: %v", err)
	}
	tok := u.Query().Get("token")
	if tok == "" {
		t.Fatalf("login link carries no token: %s", m.links[len(m.links)-1])
	}
	return tok
}

type denyAllThrottle struct{}

func (denyAllThrottle) Allow(ctx context.Context, key string) (bool, error) { return false, nil }

type harness struct {
	svc     *service.AuthService
	links   *memory.MagicLinkStore
	stores  *memory.SessionStore
	dir     *fakeDirectory
	mailer  *fakeMailer
	current time.Time
	mu      sync.Mutex
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = h.current.Add(d)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:     newFakeDirectory(),
		mailer:  &fakeMailer{},
		current: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.links = memory.NewMagicLinkStore().WithClock(h.clock)
	h.stores = memory.NewSessionStore().WithClock(h.clock)

	h.dir.add(model.User{
		UserID: "u-alice",
		Email:  "alice@example.com",
		Name:   "Alice",
		Status: model.UserStatusActive,
		RoleID: "r-member",
	})
	h.dir.add(model.User{
		UserID: "u-bob",
		Email:  "bob@example.com",
		Name:   "Bob",
		Status: model.UserStatusBlocked,
		RoleID: "r-member",
	})

	signer := token.NewManager("test-secret-0123456789abcdef", 24*time.Hour).WithClock(h.clock)

	cfg := config.AuthConfig{
		MagicLinkValidity:    15 * time.Minute,
		SessionLifetime:      24 * time.Hour,
		SessionRetentionDays: 30,
		FingerprintTolerance: 0.8,
		LoginLinkBaseURL:     "https://app.example.com/auth/verify",
	}

	h.svc = service.NewAuthService(cfg, h.links, h.stores, h.dir, signer, h.mailer, service.NewStaticRouteResolver(), nil).
		WithClock(h.clock)
	return h
}

var desktopChrome = service.RequestContext{
	IPAddress: "203.0.113.10",
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
	Language:  "en-US",
	Timezone:  "America/New_York",
}

func TestLoginFlowEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.RequestLogin(ctx, "Alice@Example.com ", desktopChrome); err != nil {
		t.Fatalf("request login: %v", err)
	}

	result, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("verify login: %v", err)
	}
	if result.AccessToken == "" || result.SessionID == "" {
		t.Fatalf("verify returned incomplete result: %+v", result)
	}
	if result.User.Email != "alice@example.com" {
		t.Fatalf("user email = %q", result.User.Email)
	}
	if result.User.Role.Name != "member" || len(result.User.Permissions) == 0 {
		t.Fatalf("role metadata missing: %+v", result.User)
	}
	if result.User.Routes.DefaultRoute != "/home" {
		t.Fatalf("default route = %q", result.User.Routes.DefaultRoute)
	}
	if result.ExpiresIn != int64((24 * time.Hour).Seconds()) {
		t.Fatalf("expires_in = %d", result.ExpiresIn)
	}

	user, err := h.svc.ValidateToken(ctx, result.AccessToken, &desktopChrome)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if user.UserID != "u-alice" {
		t.Fatalf("validated user = %q", user.UserID)
	}
	if _, ok := h.dir.lastLogin["u-alice"]; !ok {
		t.Fatalf("last login was not recorded")
	}
}

func TestSecondRequestSupersedesFirstLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome); err != nil {
		t.Fatalf("first request: %v", err)
	}
	firstToken := h.mailer.lastToken(t)

	if _, err := h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome); err != nil {
		t.Fatalf("second request: %v", err)
	}
	secondToken := h.mailer.lastToken(t)

	if _, err := h.svc.VerifyLogin(ctx, firstToken, desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("superseded link should be rejected, got %v", err)
	}
	if _, err := h.svc.VerifyLogin(ctx, secondToken, desktopChrome); err != nil {
		t.Fatalf("latest link should verify: %v", err)
	}
}

func TestUsedLinkCannotBeReplayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	tok := h.mailer.lastToken(t)

	if _, err := h.svc.VerifyLogin(ctx, tok, desktopChrome); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := h.svc.VerifyLogin(ctx, tok, desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("replay should be rejected, got %v", err)
	}
}

func TestExpiredLinkRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	tok := h.mailer.lastToken(t)

	h.advance(16 * time.Minute)

	if _, err := h.svc.VerifyLogin(ctx, tok, desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expired link should be rejected, got %v", err)
	}
}

func TestSameDeviceLoginReplacesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	first, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	second, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}

	if _, err := h.svc.ValidateToken(ctx, first.AccessToken, &desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("first session should be revoked after same-device login, got %v", err)
	}
	if _, err := h.svc.ValidateToken(ctx, second.AccessToken, &desktopChrome); err != nil {
		t.Fatalf("second session should be valid: %v", err)
	}

	active, _ := h.stores.ListActiveByUser(ctx, "u-alice")
	if len(active) != 1 || active[0].SessionID != second.SessionID {
		t.Fatalf("exactly the new session should be active, got %+v", active)
	}
}

func TestDifferentDevicesCoexist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	phone := desktopChrome
	phone.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Safari/604.1"
	phone.IPAddress = "198.51.100.7"

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	desktop, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("desktop verify: %v", err)
	}

	h.svc.RequestLogin(ctx, "alice@example.com", phone)
	if _, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), phone); err != nil {
		t.Fatalf("phone verify: %v", err)
	}

	if _, err := h.svc.ValidateToken(ctx, desktop.AccessToken, &desktopChrome); err != nil {
		t.Fatalf("desktop session must survive phone login: %v", err)
	}

	active, _ := h.stores.ListActiveByUser(ctx, "u-alice")
	if len(active) != 2 {
		t.Fatalf("active sessions = %d, want 2", len(active))
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	result, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := h.svc.Logout(ctx, result.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.svc.Logout(ctx, result.SessionID); err != nil {
		t.Fatalf("second logout should be a no-op: %v", err)
	}
	if err := h.svc.Logout(ctx, "never-existed"); err != nil {
		t.Fatalf("logout of unknown session should be a no-op: %v", err)
	}

	if _, err := h.svc.ValidateToken(ctx, result.AccessToken, &desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("token must be unusable after logout, got %v", err)
	}

	session, _ := h.stores.GetSessionByID(ctx, result.SessionID)
	if session.LogoutAt == nil {
		t.Fatalf("logout must record logoutAt")
	}
}

func TestFingerprintMismatchRevokesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	result, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	hijacked := desktopChrome
	hijacked.IPAddress = "192.0.2.99"
	hijacked.UserAgent = "curl/8.5.0"

	if _, err := h.svc.ValidateToken(ctx, result.AccessToken, &hijacked); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("mismatched fingerprint should be rejected, got %v", err)
	}

	// The session is gone for everyone, including the original device,
	// and the revocation is a security invalidation rather than a logout.
	if _, err := h.svc.ValidateToken(ctx, result.AccessToken, &desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("session should stay revoked after a mismatch, got %v", err)
	}
	session, _ := h.stores.GetSessionByID(ctx, result.SessionID)
	if session.IsActive {
		t.Fatalf("session should be inactive after mismatch")
	}
	if session.LogoutAt != nil {
		t.Fatalf("mismatch revocation must not set logoutAt")
	}
}

func TestValidateWithoutRequestContextSkipsFingerprint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	result, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := h.svc.ValidateToken(ctx, result.AccessToken, nil); err != nil {
		t.Fatalf("validation without request context should pass on token+session alone: %v", err)
	}
}

func TestRequestLoginRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.RequestLogin(ctx, "ghost@example.com", desktopChrome); !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("unknown email: got %v", err)
	}
	if _, err := h.svc.RequestLogin(ctx, "bob@example.com", desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("blocked user: got %v", err)
	}
	if len(h.mailer.links) != 0 {
		t.Fatalf("no link should have been sent")
	}
}

func TestRequestLoginThrottled(t *testing.T) {
	h := newHarness(t)
	h.svc.WithThrottle(denyAllThrottle{})

	if _, err := h.svc.RequestLogin(context.Background(), "alice@example.com", desktopChrome); !errors.Is(err, service.ErrTooManyRequests) {
		t.Fatalf("throttled request: got %v", err)
	}
}

func TestMailerFailurePropagates(t *testing.T) {
	h := newHarness(t)
	h.mailer.fail = errors.New("smtp unavailable")

	_, err := h.svc.RequestLogin(context.Background(), "alice@example.com", desktopChrome)
	if err == nil || !strings.Contains(err.Error(), "smtp unavailable") {
		t.Fatalf("delivery failure must propagate, got %v", err)
	}
}

func TestRevokeAllSessionsKeepsExcluded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	phone := desktopChrome
	phone.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Safari/604.1"

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	desktop, _ := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	h.svc.RequestLogin(ctx, "alice@example.com", phone)
	phoneSession, _ := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), phone)

	if err := h.svc.RevokeAllSessions(ctx, "u-alice", phoneSession.SessionID); err != nil {
		t.Fatalf("revoke all: %v", err)
	}

	if _, err := h.svc.ValidateToken(ctx, desktop.AccessToken, &desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("desktop session should be revoked, got %v", err)
	}
	if _, err := h.svc.ValidateToken(ctx, phoneSession.AccessToken, &phone); err != nil {
		t.Fatalf("excluded session must stay valid: %v", err)
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RequestLogin(ctx, "alice@example.com", desktopChrome)
	result, err := h.svc.VerifyLogin(ctx, h.mailer.lastToken(t), desktopChrome)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	h.advance(25 * time.Hour)

	if _, err := h.svc.ValidateToken(ctx, result.AccessToken, &desktopChrome); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("expired session should be rejected, got %v", err)
	}
}
