package ports

import (
	"context"
	"time"
)

// UpdateFunc computes the next value of a key from its current value.
// Returning an error aborts the update and leaves the key untouched.
type UpdateFunc func(current string, exists bool) (next string, err error)

// Store is the key-value boundary every persistent component sits on.
// Get and Take return core.ErrKeyNotFound for absent or expired keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every live key starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Update atomically reads, transforms and writes key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	// Take atomically reads and removes key.
	Take(ctx context.Context, key string) (string, error)
}
