// Package session provides the keyed store that intake sessions are read from
// and written through. Values are opaque byte slices; callers own the encoding.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrLockTaken = errors.New("session is locked by another request")
)

// Unlock releases a lock obtained with Store.Lock.
type Unlock func() error

// Store persists session payloads with a sliding TTL and serializes
// concurrent writers through Lock.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (Unlock, error)
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// memoryLock is a per-id lock. refs counts holders and waiters so the entry
// can be dropped once nobody uses it.
type memoryLock struct {
	ch   chan struct{}
	refs int
}

// SweepInterval is how often a MemoryStore evicts expired sessions.
const SweepInterval = time.Minute

// MemoryStore is a process-local Store. Locks are per-id channels so that a
// waiting caller can give up when its context is cancelled. Expired entries
// are evicted by a background sweep; call Close to stop it.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	entries  map[string]memoryEntry
	locks    map[string]*memoryLock
	onExpire func(id string, data []byte)
	done     chan struct{}
	closed   sync.Once
}

// NewMemoryStore returns a MemoryStore whose entries expire ttl after their
// last write. A zero ttl disables expiry and the sweep.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]*memoryLock),
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweepLoop(SweepInterval)
	}
	return s
}

// OnExpire registers fn to receive every session evicted by expiry, so the
// owner can release what the session refers to. fn runs without the store
// lock held.
func (s *MemoryStore) OnExpire(fn func(id string, data []byte)) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

// Close stops the sweep. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.closed.Do(func() { close(s.done) })
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts expired entries. Entries whose lock is held are left for the
// next pass.
func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	expired := make(map[string][]byte)
	for id, e := range s.entries {
		if _, busy := s.locks[id]; busy {
			continue
		}
		if e.expired(now) {
			expired[id] = e.data
			delete(s.entries, id)
		}
	}
	fn := s.onExpire
	s.mu.Unlock()

	s.notifyExpired(fn, expired)
}

func (s *MemoryStore) notifyExpired(fn func(string, []byte), expired map[string][]byte) {
	if fn == nil {
		return
	}
	for id, data := range expired {
		fn(id, data)
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if e.expired(s.now()) {
		delete(s.entries, id)
		fn := s.onExpire
		s.mu.Unlock()
		s.notifyExpired(fn, map[string][]byte{id: e.data})
		return nil, ErrNotFound
	}
	s.mu.Unlock()

	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, id string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	e := memoryEntry{data: buf}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[id] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, id string) (Unlock, error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &memoryLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.release(id, l)
		return nil, ErrLockTaken
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-l.ch
			s.release(id, l)
		})
		return nil
	}, nil
}

// release drops one reference to l and forgets it when unused.
func (s *MemoryStore) release(id string, l *memoryLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 && s.locks[id] == l {
		delete(s.locks, id)
	}
}

// lockCount returns the number of ids with a live lock.
func (s *MemoryStore) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
