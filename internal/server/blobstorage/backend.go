// Package blobstorage stores encrypted blob bytes under a two-level sharded
// layout keyed by blob uuid: ab/cd/abcd....
package blobstorage

import (
	"context"
	"io"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
)

// Backend is the physical store behind BlobService and the reconciler.
type Backend interface {
	// Locate returns a human readable location for id, for logs.
	Locate(id string) string
	Exists(ctx context.Context, id string) (bool, error)
	// Put moves the staged file into place for id. The staged file is
	// consumed on success.
	Put(ctx context.Context, id string, staged *os.File) error
	// Open returns the bytes for id; a missing blob yields an error matching
	// fs.ErrNotExist.
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Remove deletes the bytes for id. Removing a missing blob is not an error.
	Remove(ctx context.Context, id string) error
	// Walk calls fn for every stored blob whose name is a uuid.
	Walk(ctx context.Context, fn func(id string, modTime time.Time) error) error
	// PruneEmpty removes containers left empty by removals and returns how
	// many went away.
	PruneEmpty(ctx context.Context) (int, error)
}

// ShardKey returns the slash-separated relative key for id.
func ShardKey(id string) string {
	return path.Join(id[0:2], id[2:4], id)
}

// ValidID reports whether name is a canonical uuid string, the only names
// the backends ever create.
func ValidID(name string) bool {
	id, err := uuid.Parse(name)
	return err == nil && id.String() == name
}
