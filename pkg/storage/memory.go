package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory. It is safe for concurrent
// use. Use RedisStore when several forecaster instances share results.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	ttl       time.Duration
	now       func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL hides snapshots generated more than ttl ago and drops them on the
// next Put.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// NewMemoryStore creates an empty store. Without WithTTL snapshots never
// expire.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{snapshots: make(map[string]Snapshot), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) expired(snap Snapshot, now time.Time) bool {
	return s.ttl > 0 && now.Sub(snap.GeneratedAt) > s.ttl
}

// Put stores snapshot unless a newer one is already held under its name.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(snapshot.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for name, snap := range s.snapshots {
		if s.expired(snap, now) {
			delete(s.snapshots, name)
		}
	}
	if cur, ok := s.snapshots[snapshot.Name]; ok && snapshot.GeneratedAt.Before(cur.GeneratedAt) {
		return nil
	}
	s.snapshots[snapshot.Name] = snapshot
	return nil
}

// GetLatest returns the snapshot stored under name; found is false when
// there is none or it has expired.
func (s *MemoryStore) GetLatest(ctx context.Context, name string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[name]
	if !ok || s.expired(snap, s.now()) {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Len returns the number of live snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, snap := range s.snapshots {
		if !s.expired(snap, now) {
			n++
		}
	}
	return n
}
