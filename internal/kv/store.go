package kv

import (
	"context"
	"time"
)

// Store is the atomic key-value contract the hot path depends on. Counters
// must be increment-and-read in a single operation; read-modify-write in
// application code is not an acceptable implementation.
type Store interface {
	// IncrementWindow atomically increments key and returns the new count.
	// The window TTL is set when the key is first created and left untouched
	// afterwards, giving fixed-window semantics.
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
