package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}

	locksMu sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
		locks:    make(map[string]*userLock),
	}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(s.Clone())
	return nil
}

func (m *MemoryStore) ListActiveByUser(ctx context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byUser[userID]
	out := make([]*Session, 0, len(ids))
	for id := range ids {
		if s, ok := m.sessions[id]; ok && s.Active {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, sessionID string, fn UpdateFunc) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.putLocked(next)
	return next.Clone(), nil
}

func (m *MemoryStore) Deactivate(ctx context.Context, sessionID string, state State, at time.Time) (bool, error) {
	var changed bool
	_, err := m.Update(ctx, sessionID, deactivateFunc(state, at, &changed))
	if err != nil {
		return false, err
	}
	return changed, nil
}

// LockUser blocks until the user's lock is free or ctx is done.
func (m *MemoryStore) LockUser(ctx context.Context, userID string) (func(), error) {
	m.locksMu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{ch: make(chan struct{}, 1)}
		m.locks[userID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.releaseRef(userID, l)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.releaseRef(userID, l)
		})
	}, nil
}

func (m *MemoryStore) releaseRef(userID string, l *userLock) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, userID)
	}
}

func (m *MemoryStore) putLocked(s *Session) {
	m.sessions[s.ID] = s
	ids, ok := m.byUser[s.UserID]
	if !ok {
		ids = make(map[string]struct{})
		m.byUser[s.UserID] = ids
	}
	if s.Active {
		ids[s.ID] = struct{}{}
	} else {
		delete(ids, s.ID)
	}
}
