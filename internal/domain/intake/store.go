package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mediscan/mediscan/internal/platform/session"
)

// errSkipSave aborts an update without writing and without failing.
var errSkipSave = errors.New("skip save")

// sessions reads and writes Session values through a session.Store.
type sessions struct {
	store session.Store
	now   func() time.Time
}

func (r sessions) get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r sessions) put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.store.Put(ctx, s.ID, raw); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// update loads the session under its lock, applies fn and saves the
// result. If fn fails nothing is written. fn may return errSkipSave to
// leave the session untouched without reporting an error.
func (r sessions) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	unlock, err := r.store.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	s, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		if errors.Is(err, errSkipSave) {
			return s, nil
		}
		return nil, err
	}
	s.UpdatedAt = r.now().UTC()
	if err := r.put(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r sessions) delete(ctx context.Context, id string) error {
	unlock, err := r.store.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock session %s: %w", id, err)
	}
	defer unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
