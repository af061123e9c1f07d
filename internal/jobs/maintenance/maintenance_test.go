package maintenance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/jobs/maintenance"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/repository/memory"
)

func TestRunSweepsAndPurges(t *testing.T) {
	current := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	store := memory.NewSessionStore().WithClock(clock)
	ctx := context.Background()

	expired, _ := store.Create(ctx, model.UserSession{
		UserID: "u1", DeviceID: "d1",
		ExpiresAt: current.Add(-time.Hour),
	})
	fresh, _ := store.Create(ctx, model.UserSession{
		UserID: "u1", DeviceID: "d2",
		ExpiresAt: current.Add(time.Hour),
	})
	ancient, _ := store.Create(ctx, model.UserSession{
		UserID: "u2", DeviceID: "d3",
		CreatedAt: current.Add(-40 * 24 * time.Hour),
		ExpiresAt: current.Add(-39 * 24 * time.Hour),
	})

	job := maintenance.New(store, time.Hour, 30, nil).WithClock(clock)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Expired but within retention: swept inactive, row retained.
	after, err := store.GetSessionByID(ctx, expired.SessionID)
	if err != nil {
		t.Fatalf("swept session should remain: %v", err)
	}
	if after.IsActive {
		t.Fatalf("swept session should be inactive")
	}

	// Past retention: hard deleted.
	if _, err := store.GetSessionByID(ctx, ancient.SessionID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("ancient session should be purged, got %v", err)
	}

	live, err := store.GetSessionByID(ctx, fresh.SessionID)
	if err != nil {
		t.Fatalf("fresh session must survive: %v", err)
	}
	if !live.IsActive {
		t.Fatalf("fresh session must stay active")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	current := time.Now().UTC()
	store := memory.NewSessionStore().WithClock(func() time.Time { return current })
	ctx := context.Background()

	store.Create(ctx, model.UserSession{UserID: "u1", DeviceID: "d1", ExpiresAt: current.Add(-time.Minute)})

	job := maintenance.New(store, time.Hour, 30, nil).WithClock(func() time.Time { return current })
	if err := job.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

type failingStore struct {
	model.SessionStore
	mu     sync.Mutex
	purged bool
}

func (f *failingStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, errors.New("sweep backend down")
}

func (f *failingStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = true
	return 0, nil
}

func TestSweepFailureDoesNotSkipPurge(t *testing.T) {
	store := &failingStore{SessionStore: memory.NewSessionStore()}
	job := maintenance.New(store, time.Hour, 30, nil)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatalf("sweep failure should surface")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.purged {
		t.Fatalf("purge should still run after a sweep failure")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	store := memory.NewSessionStore()
	job := maintenance.New(store, 10*time.Millisecond, 30, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("maintenance loop did not stop on cancel")
	}
}
