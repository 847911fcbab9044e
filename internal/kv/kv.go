// Package kv defines the durable key-value slot the tracker persists into.
// Local storage is two string entries: the serialized system document and the
// remembered profile identifier.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
