// Package bbolt provides a BBolt-backed key-value store.
package bbolt

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/labflow/storage"
	"go.etcd.io/bbolt"
)

// DefaultBucket is the bucket used when none is configured.
const DefaultBucket = "labflow"

// DefaultOpenTimeout bounds the wait for the file lock when no options are
// given to NewStoreFromFile.
const DefaultOpenTimeout = time.Second

// ErrInUse is returned when another process holds the database file lock.
var ErrInUse = errors.New("database is in use by another process")

// Store implements storage.KV backed by a single bucket of a BBolt database.
type Store struct {
	db     *bbolt.DB
	bucket []byte
}

var _ storage.KV = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBucket overrides the bucket name.
func WithBucket(name string) Option {
	return func(s *Store) {
		s.bucket = []byte(name)
	}
}

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB, opts ...Option) *Store {
	s := &Store{db: db, bucket: []byte(DefaultBucket)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
// A nil options waits at most DefaultOpenTimeout for the file lock; a lock
// still held after the timeout yields ErrInUse.
func NewStoreFromFile(path string, options *bbolt.Options, opts ...Option) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: DefaultOpenTimeout}
	}
	db, err := bbolt.Open(path, 0600, options)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("opening %s: %w", path, ErrInUse)
	}
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db, opts...), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		// data is only valid inside the transaction.
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) Put(key, value string) error {
	return s.Batch(func(tx storage.Tx) error {
		return tx.Put(key, value)
	})
}

func (s *Store) Delete(key string) error {
	return s.Batch(func(tx storage.Tx) error {
		return tx.Delete(key)
	})
}

type boltTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltTx) Put(key, value string) error {
	return tx.bucket.Put([]byte(key), []byte(value))
}

func (tx *boltTx) Delete(key string) error {
	// bbolt treats a missing key as a no-op.
	return tx.bucket.Delete([]byte(key))
}

// Batch executes fn in a single read-write transaction. On error, all writes
// are rolled back.
func (s *Store) Batch(fn func(tx storage.Tx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return fn(&boltTx{bucket: b})
	})
}
