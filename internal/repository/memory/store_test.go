package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/repository/memory"
)

func TestMagicLinkLifecycle(t *testing.T) {
	current := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := memory.NewMagicLinkStore().WithClock(func() time.Time { return current })
	ctx := context.Background()

	link, err := store.Create(ctx, "u1", "10.0.0.1", "test-agent", 15*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(link.Token) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars (256 bits)", len(link.Token))
	}
	if !link.IsValid(current) {
		t.Fatalf("fresh link should be valid")
	}
	if !link.ExpiresAt.Equal(current.Add(15 * time.Minute)) {
		t.Fatalf("expiry = %v, want creation + 15m", link.ExpiresAt)
	}

	found, err := store.FindByToken(ctx, link.Token)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if found.LinkID != link.LinkID {
		t.Fatalf("lookup returned wrong link")
	}

	// Valid until the instant of expiry, invalid from then on.
	if !link.IsValid(current.Add(15*time.Minute - time.Second)) {
		t.Fatalf("link should be valid just before expiry")
	}
	if link.IsValid(current.Add(15 * time.Minute)) {
		t.Fatalf("link should be invalid at expiry")
	}

	used, err := store.MarkUsed(ctx, link, "10.0.0.2", "other-agent")
	if err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if used.UsedAt == nil || used.IsActive || used.UsedIP != "10.0.0.2" {
		t.Fatalf("mark used did not settle terminal state: %+v", used)
	}
	if used.IsValid(current) {
		t.Fatalf("used link must not be valid")
	}
}

func TestMagicLinkInvalidateIsNotUsed(t *testing.T) {
	store := memory.NewMagicLinkStore()
	ctx := context.Background()

	link, err := store.Create(ctx, "u1", "10.0.0.1", "test-agent", 15*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	invalidated, err := store.Invalidate(ctx, link)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if invalidated.IsActive {
		t.Fatalf("invalidated link should be inactive")
	}
	if invalidated.UsedAt != nil {
		t.Fatalf("invalidation must not set UsedAt")
	}
}

func TestFindActiveByUser(t *testing.T) {
	store := memory.NewMagicLinkStore()
	ctx := context.Background()

	l1, _ := store.Create(ctx, "u1", "ip", "ua", time.Minute)
	store.Create(ctx, "u1", "ip", "ua", time.Minute)
	store.Create(ctx, "u2", "ip", "ua", time.Minute)

	if _, err := store.Invalidate(ctx, l1); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	active, err := store.FindActiveByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active links for u1 = %d, want 1", len(active))
	}
}

func TestFindByTokenNotFound(t *testing.T) {
	store := memory.NewMagicLinkStore()
	if _, err := store.FindByToken(context.Background(), "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSessionDeviceRevocation(t *testing.T) {
	current := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := memory.NewSessionStore().WithClock(func() time.Time { return current })
	ctx := context.Background()

	s1, err := store.Create(ctx, model.UserSession{
		UserID:    "u1",
		DeviceID:  "dev-1",
		ExpiresAt: current.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create s1: %v", err)
	}

	count, err := store.RevokeActiveForDevice(ctx, "dev-1", "")
	if err != nil {
		t.Fatalf("revoke for device: %v", err)
	}
	if count != 1 {
		t.Fatalf("revoked = %d, want 1", count)
	}

	revoked, err := store.GetSessionByID(ctx, s1.SessionID)
	if err != nil {
		t.Fatalf("get s1: %v", err)
	}
	if revoked.IsActive || revoked.LogoutAt == nil {
		t.Fatalf("device revocation must clear active and set logoutAt: %+v", revoked)
	}

	s2, err := store.Create(ctx, model.UserSession{
		UserID:    "u1",
		DeviceID:  "dev-1",
		ExpiresAt: current.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create s2: %v", err)
	}

	active, err := store.ListActiveByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].SessionID != s2.SessionID {
		t.Fatalf("only s2 should remain active, got %+v", active)
	}
}

func TestRevokeForUserExcludesSession(t *testing.T) {
	current := time.Now().UTC()
	store := memory.NewSessionStore().WithClock(func() time.Time { return current })
	ctx := context.Background()

	store.Create(ctx, model.UserSession{UserID: "u1", DeviceID: "d1", ExpiresAt: current.Add(time.Hour)})
	keep, _ := store.Create(ctx, model.UserSession{UserID: "u1", DeviceID: "d2", ExpiresAt: current.Add(time.Hour)})

	count, err := store.RevokeActiveForUser(ctx, "u1", keep.SessionID)
	if err != nil {
		t.Fatalf("revoke for user: %v", err)
	}
	if count != 1 {
		t.Fatalf("revoked = %d, want 1", count)
	}

	kept, _ := store.GetSessionByID(ctx, keep.SessionID)
	if !kept.IsActive {
		t.Fatalf("excluded session must stay active")
	}
}

func TestMarkInactiveKeepsLogoutAtUnset(t *testing.T) {
	current := time.Now().UTC()
	store := memory.NewSessionStore().WithClock(func() time.Time { return current })
	ctx := context.Background()

	s1, _ := store.Create(ctx, model.UserSession{UserID: "u1", DeviceID: "d1", ExpiresAt: current.Add(time.Hour)})

	inactive, err := store.MarkInactive(ctx, s1)
	if err != nil {
		t.Fatalf("mark inactive: %v", err)
	}
	if inactive.IsActive {
		t.Fatalf("session should be inactive")
	}
	if inactive.LogoutAt != nil {
		t.Fatalf("security invalidation must not set logoutAt")
	}

	loggedOut, err := store.MarkLoggedOut(ctx, s1)
	if err != nil {
		t.Fatalf("mark logged out: %v", err)
	}
	if loggedOut.LogoutAt == nil {
		t.Fatalf("logout must set logoutAt")
	}
}

func TestSweepAndPurge(t *testing.T) {
	current := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := memory.NewSessionStore().WithClock(func() time.Time { return current })
	ctx := context.Background()

	expired, _ := store.Create(ctx, model.UserSession{UserID: "u1", DeviceID: "d1", ExpiresAt: current.Add(-time.Minute)})
	fresh, _ := store.Create(ctx, model.UserSession{UserID: "u1", DeviceID: "d2", ExpiresAt: current.Add(time.Hour)})
	ancient, _ := store.Create(ctx, model.UserSession{
		UserID:    "u1",
		DeviceID:  "d3",
		CreatedAt: current.Add(-45 * 24 * time.Hour),
		ExpiresAt: current.Add(-44 * 24 * time.Hour),
	})

	swept, err := store.SweepExpired(ctx, current)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2 (expired + ancient)", swept)
	}

	// Sweep marks inactive but never deletes.
	after, err := store.GetSessionByID(ctx, expired.SessionID)
	if err != nil {
		t.Fatalf("swept session should still exist: %v", err)
	}
	if after.IsActive {
		t.Fatalf("swept session should be inactive")
	}
	if after.LogoutAt != nil {
		t.Fatalf("sweep must not set logoutAt")
	}

	purged, err := store.PurgeOlderThan(ctx, current.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if _, err := store.GetSessionByID(ctx, ancient.SessionID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("purged session should be gone, got %v", err)
	}
	if _, err := store.GetSessionByID(ctx, fresh.SessionID); err != nil {
		t.Fatalf("fresh session must survive purge: %v", err)
	}
}
