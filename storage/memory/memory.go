// Package memory provides a thread-safe in-memory implementation of storage.KV.
package memory

import (
	"fmt"
	"maps"
	"sync"

	"github.com/jmcleod/labflow/storage"
)

// Store is a thread-safe in-memory implementation of storage.KV.
// Suitable for testing and for sessions that should not outlive the process.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ storage.KV = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return v, nil
}

func (s *Store) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Len reports the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (s *Store) Batch(fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := maps.Clone(s.data)
	if err := fn(&memoryTx{data: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

type memoryTx struct {
	data map[string]string
}

func (tx *memoryTx) Put(key, value string) error {
	tx.data[key] = value
	return nil
}

func (tx *memoryTx) Delete(key string) error {
	delete(tx.data, key)
	return nil
}
