// Package bucketing spreads hot partition keys across a fixed number of
// buckets so a single user or a single day never concentrates on one
// partition.
package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(userBuckets, eventBuckets int) *Manager {
	if userBuckets <= 0 {
		userBuckets = 100
	}
	if eventBuckets <= 0 {
		eventBuckets = 50
	}
	m := &Manager{
		userBuckets:  userBuckets,
		eventBuckets: eventBuckets,
	}
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return m
}

// UserBucket returns a stable bucket in [0, userBuckets) for the user id.
func (m *Manager) UserBucket(userID string) int {
	return m.bucket(userID, m.userBuckets)
}

// EventBucket returns a stable bucket in [0, eventBuckets) for the key.
func (m *Manager) EventBucket(key string) int {
	return m.bucket(key, m.eventBuckets)
}

// DateBucket returns the UTC day partition for event tables.
func (m *Manager) DateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (m *Manager) UserBuckets() int  { return m.userBuckets }
func (m *Manager) EventBuckets() int { return m.eventBuckets }

func (m *Manager) bucket(key string, numBuckets int) int {
	return int(m.sum(key) % uint64(numBuckets))
}

func (m *Manager) sum(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
