package store

import (
	"context"
	"fmt"
)

// Backend is a minimal key-value blob store. Put must replace the value for
// key atomically: after a failed Put, Get returns the previous value.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Backend kinds accepted by OpenBackend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// OpenBackend opens the backend named by kind rooted at path. For "file",
// path is a directory; for "sqlite", it is the database file.
func OpenBackend(kind, path string) (Backend, error) {
	switch kind {
	case "", BackendFile:
		return NewFileBackend(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
