package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client, time.Hour, 2*time.Second)
}

func newTestMemoryStore(t *testing.T, ttl time.Duration) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(ttl)
	t.Cleanup(s.Close)
	return s
}

func storesUnderTest(t *testing.T) map[string]Store {
	_, rs := newTestRedisStore(t)
	return map[string]Store{
		"memory": newTestMemoryStore(t, time.Hour),
		"redis":  rs,
	}
}

func TestStore_PutGetDelete(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Get(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := store.Put(ctx, "s-1", []byte(`{"stage":"capture"}`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := store.Get(ctx, "s-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `{"stage":"capture"}` {
				t.Errorf("unexpected payload %s", got)
			}

			if err := store.Delete(ctx, "s-1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestStore_LockSerializesWriters(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Put(ctx, "counter", []byte{0}); err != nil {
				t.Fatalf("Put: %v", err)
			}

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := store.Lock(ctx, "counter")
					if err != nil {
						t.Errorf("Lock: %v", err)
						return
					}
					defer unlock()
					b, _ := store.Get(ctx, "counter")
					b[0]++
					_ = store.Put(ctx, "counter", b)
				}()
			}
			wg.Wait()

			b, err := store.Get(ctx, "counter")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if b[0] != 10 {
				t.Errorf("expected 10 serialized increments, got %d", b[0])
			}
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := newTestMemoryStore(t, time.Minute)
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	_ = store.Put(ctx, "s-1", []byte("x"))

	now = now.Add(59 * time.Second)
	if _, err := store.Get(ctx, "s-1"); err != nil {
		t.Fatalf("expected entry before ttl, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after ttl, got %v", err)
	}
}

func TestMemoryStore_LockHonoursContext(t *testing.T) {
	store := newTestMemoryStore(t, 0)
	unlock, err := store.Lock(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := store.Lock(ctx, "s-1"); !errors.Is(err, ErrLockTaken) {
		t.Errorf("expected ErrLockTaken, got %v", err)
	}
}

func TestMemoryStore_SweepEvictsExpired(t *testing.T) {
	store := newTestMemoryStore(t, time.Minute)
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	var mu sync.Mutex
	expired := map[string]string{}
	store.OnExpire(func(id string, data []byte) {
		mu.Lock()
		expired[id] = string(data)
		mu.Unlock()
	})

	ctx := context.Background()
	_ = store.Put(ctx, "s-old", []byte("old"))
	now = now.Add(45 * time.Second)
	_ = store.Put(ctx, "s-new", []byte("new"))
	now = now.Add(30 * time.Second)

	store.sweep()

	if _, ok := store.entries["s-old"]; ok {
		t.Error("expected s-old to be evicted")
	}
	if _, ok := store.entries["s-new"]; !ok {
		t.Error("expected s-new to survive the sweep")
	}
	if len(expired) != 1 || expired["s-old"] != "old" {
		t.Errorf("expected one expiry callback for s-old, got %v", expired)
	}
}

func TestMemoryStore_SweepSkipsLockedSessions(t *testing.T) {
	store := newTestMemoryStore(t, time.Minute)
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	_ = store.Put(ctx, "s-1", []byte("x"))
	unlock, err := store.Lock(ctx, "s-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	now = now.Add(2 * time.Minute)
	store.sweep()
	if _, ok := store.entries["s-1"]; !ok {
		t.Fatal("expected a locked session to survive the sweep")
	}

	_ = unlock()
	store.sweep()
	if _, ok := store.entries["s-1"]; ok {
		t.Error("expected the session to be evicted once unlocked")
	}
}

func TestMemoryStore_LazyExpiryNotifies(t *testing.T) {
	store := newTestMemoryStore(t, time.Minute)
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	var got []string
	store.OnExpire(func(id string, _ []byte) { got = append(got, id) })

	ctx := context.Background()
	_ = store.Put(ctx, "s-1", []byte("x"))
	now = now.Add(2 * time.Minute)

	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(got) != 1 || got[0] != "s-1" {
		t.Errorf("expected one expiry callback, got %v", got)
	}
}

func TestMemoryStore_LocksArePruned(t *testing.T) {
	store := newTestMemoryStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id := "s-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		unlock, err := store.Lock(ctx, id)
		if err != nil {
			t.Fatalf("Lock %s: %v", id, err)
		}
		_ = unlock()
	}
	if n := store.lockCount(); n != 0 {
		t.Errorf("expected no retained locks, got %d", n)
	}

	unlock, err := store.Lock(ctx, "s-held")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := store.Lock(waitCtx, "s-held"); !errors.Is(err, ErrLockTaken) {
		t.Fatalf("expected ErrLockTaken, got %v", err)
	}
	if n := store.lockCount(); n != 1 {
		t.Errorf("expected the held lock only, got %d", n)
	}
	_ = unlock()
	_ = unlock()
	if n := store.lockCount(); n != 0 {
		t.Errorf("expected no retained locks after unlock, got %d", n)
	}
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	store.Close()
	store.Close()
}

func TestRedisStore_TTLApplied(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "s-1", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "s-1"); ttl != time.Hour {
		t.Errorf("expected 1h ttl, got %s", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRedisStore_Ping(t *testing.T) {
	_, store := newTestRedisStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
