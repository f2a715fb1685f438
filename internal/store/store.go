// Package store is the key-value persistence layer behind the zero and
// interval cache. Keys are slash-separated names such as
// "zeros/negative/23"; values are opaque byte strings.
//
// Three backends are provided: an in-memory map for tests, a directory of
// files, and a single SQLite database. Any of them can be wrapped by Encoded
// to compress and checksum every value.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = os.ErrNotExist

// Store is a flat key-value namespace. Implementations are safe for
// concurrent use; Put replaces the whole value atomically.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Dir         string
	Compression Compression
}

// Open builds the configured backend and wraps it in the envelope codec.
func Open(opts Options) (Store, error) {
	var (
		inner Store
		err   error
	)
	switch opts.Backend {
	case BackendMemory:
		inner = NewMemory()
	case BackendLocal, "":
		inner, err = NewLocal(opts.Dir)
	case BackendSQLite:
		inner, err = NewSQLite(opts.Dir)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewEncoded(inner, opts.Compression), nil
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid store key %q", key)
	}
	return nil
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
