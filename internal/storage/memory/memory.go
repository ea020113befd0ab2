// Package memory provides an in-process implementation of the storage
// contracts. It backs tests and the offline simulate path.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ppiankov/lockwatch/internal/storage"
	"github.com/ppiankov/lockwatch/internal/subject"
)

// Store keeps credentials, session flags, and the monitoring flag in maps.
type Store struct {
	mu         sync.RWMutex
	creds      map[subject.ID]string
	sessions   map[subject.ID]bool
	monitoring bool
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store with monitoring off.
func New() *Store {
	return &Store{
		creds:    make(map[subject.ID]string),
		sessions: make(map[subject.ID]bool),
	}
}

func (s *Store) Put(ctx context.Context, id subject.ID, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[id] = secret
	return nil
}

func (s *Store) Get(ctx context.Context, id subject.ID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.creds[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	return secret, nil
}

// GetAll returns credentials ordered by subject.
func (s *Store) GetAll(ctx context.Context) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]storage.Credential, 0, len(s.creds))
	for id, secret := range s.creds {
		out = append(out, storage.Credential{Subject: id, Secret: secret})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id subject.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, id)
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = make(map[subject.ID]string)
	return nil
}

// BulkUpsert writes all records under one lock so readers never see a
// partial batch.
func (s *Store) BulkUpsert(ctx context.Context, creds []storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range creds {
		s.creds[c.Subject] = c.Secret
	}
	return nil
}

func (s *Store) IsAuthenticated(ctx context.Context, id subject.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id], nil
}

func (s *Store) SetAuthenticated(ctx context.Context, id subject.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = true
	return nil
}

// ResetAll swaps in a fresh map under the write lock. Every write is ordered
// either before or after the swap, which is the reset cut point.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[subject.ID]bool)
	return nil
}

func (s *Store) MonitoringEnabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitoring, nil
}

func (s *Store) SetMonitoring(ctx context.Context, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitoring = enabled
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
