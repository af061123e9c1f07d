package bucketing_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/bucketing"
)

func TestUserBucketIsStable(t *testing.T) {
	m := bucketing.NewManager(100, 50)

	first := m.UserBucket("u-alice")
	for i := 0; i < 10; i++ {
		if got := m.UserBucket("u-alice"); got != first {
			t.Fatalf("bucket changed between calls: %d != %d", got, first)
		}
	}
}

func TestBucketsStayInRange(t *testing.T) {
	m := bucketing.NewManager(100, 50)

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("user-%d", i)
		if b := m.UserBucket(key); b < 0 || b >= 100 {
			t.Fatalf("user bucket out of range: %d", b)
		}
		if b := m.EventBucket(key); b < 0 || b >= 50 {
			t.Fatalf("event bucket out of range: %d", b)
		}
	}
}

func TestBucketsSpread(t *testing.T) {
	m := bucketing.NewManager(100, 50)

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[m.UserBucket(fmt.Sprintf("user-%d", i))] = true
	}
	// 1000 keys over 100 buckets should touch most of them.
	if len(seen) < 80 {
		t.Fatalf("distribution too narrow: %d buckets used", len(seen))
	}
}

func TestDateBucket(t *testing.T) {
	m := bucketing.NewManager(100, 50)

	at := time.Date(2026, 3, 15, 23, 59, 0, 0, time.FixedZone("UTC+5", 5*3600))
	if got := m.DateBucket(at); got != "2026-03-15" {
		t.Fatalf("date bucket = %q", got)
	}
}
