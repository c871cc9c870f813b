package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/cafe-backoffice/internal/errs"
	"github.com/and161185/cafe-backoffice/internal/model"
)

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// tokenLock is a one-slot semaphore shared by the waiters of one token.
type tokenLock struct {
	ch   chan struct{}
	refs int
}

// MemoryStore is an in-process Store for single-instance deployments and tests.
// Entries are copied through JSON so callers never share state with the store.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]memEntry
	locks map[string]*tokenLock
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore constructs an in-memory store with a sliding TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]memEntry),
		locks: make(map[string]*tokenLock),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Load returns the state for token.
func (s *MemoryStore) Load(_ context.Context, token string) (*model.SessionState, error) {
	s.mu.Lock()
	e, ok := s.data[token]
	if ok && s.ttl > 0 && !s.now().Before(e.expiresAt) {
		delete(s.data, token)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, errs.ErrNotFound
	}

	var st model.SessionState
	if err := json.Unmarshal(e.data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &st, nil
}

// Save writes state for token.
func (s *MemoryStore) Save(_ context.Context, token string, st *model.SessionState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[token] = memEntry{data: data, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Delete removes state for token.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
	return nil
}

// Lock blocks until token is free or ctx is done.
func (s *MemoryStore) Lock(ctx context.Context, token string) (Unlock, error) {
	s.mu.Lock()
	l, ok := s.locks[token]
	if !ok {
		l = &tokenLock{ch: make(chan struct{}, 1)}
		s.locks[token] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		s.release(token, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			s.release(token, l)
		})
	}, nil
}

func (s *MemoryStore) release(token string, l *tokenLock) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, token)
	}
	s.mu.Unlock()
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
