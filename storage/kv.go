// Package storage provides the durable key-value abstraction used to persist
// client session state between process runs.
package storage

import "errors"

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// Tx provides Put and Delete within an atomic batch.
type Tx interface {
	Put(key, value string) error
	Delete(key string) error
}

// KV is a string-keyed, string-valued durable store.
//
// Delete of a missing key is not an error, so callers can clear state
// without first checking for it.
type KV interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
	Batch(fn func(tx Tx) error) error
}
