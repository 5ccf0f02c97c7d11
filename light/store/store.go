package store

import "errors"

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("key not found")

// Store is a persistent key/value store the client caches its node lists
// and trust anchors in across restarts. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored under key.
	//
	// If there is no value, ErrNotFound is returned.
	Get(key []byte) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error
}
