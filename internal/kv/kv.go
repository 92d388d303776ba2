// Package kv is the string key/value store behind the local backend and the
// room key/value API.
package kv

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("kv store closed")

type Store interface {
	// Get reports found=false without error for a missing key.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
