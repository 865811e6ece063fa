// Package memstore is an in-memory session.Store, grounded on the
// official SDK's MemoryServerSessionStateStore: a mutex-guarded map keyed
// by session id, suitable for a single-instance deployment or tests.
package memstore

import (
	"context"
	"sync"

	"github.com/relaymcp/relay/idgen"
	"github.com/relaymcp/relay/session"
)

// Store is a session.Store backed by an in-process map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*session.Session)}
}

func (s *Store) Create(ctx context.Context, _ session.RequestMetadata) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := session.New(idgen.NewSessionID())
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string, _ session.RequestMetadata) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id string, _ session.RequestMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

var _ session.Store = (*Store)(nil)
