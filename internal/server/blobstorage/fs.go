package blobstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fredemmott/TempFiles/internal/filex"
	"github.com/fredemmott/TempFiles/internal/logging"
)

// FS keeps blobs in a directory tree under Root.
type FS struct {
	root   string
	logger logging.Logger
}

func NewFS(root string, logger logging.Logger) (*FS, error) {
	if err := filex.EnsureDir(root); err != nil {
		return nil, err
	}
	return &FS{root: filepath.Clean(root), logger: logger.With("module", "fs_storage")}, nil
}

// PathFor returns the sharded path of id below the root.
func (s *FS) PathFor(id string) string {
	return filex.ShardedPath(s.root, id)
}

func (s *FS) Locate(id string) string {
	return s.PathFor(id)
}

func (s *FS) Exists(_ context.Context, id string) (bool, error) {
	_, err := os.Lstat(s.PathFor(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Put syncs the staged file and moves it into place. The bytes are durable
// once Put returns.
func (s *FS) Put(_ context.Context, id string, staged *os.File) error {
	if err := staged.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", staged.Name(), err)
	}
	return filex.MoveFile(staged.Name(), s.PathFor(id))
}

func (s *FS) Open(_ context.Context, id string) (io.ReadCloser, error) {
	return os.Open(s.PathFor(id))
}

func (s *FS) Remove(_ context.Context, id string) error {
	err := os.Remove(s.PathFor(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Walk visits the blobs below the root. Unreadable directories, foreign file
// names and blobs outside their own shard are logged and skipped; only an
// unreadable root or a cancelled context stops the walk.
func (s *FS) Walk(ctx context.Context, fn func(id string, modTime time.Time) error) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.root {
				return fmt.Errorf("walk %s: %w", s.root, err)
			}
			s.logger.Warn(ctx, "skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		name := d.Name()
		if !ValidID(name) {
			s.logger.Debug(ctx, "ignoring foreign file", "path", p)
			return nil
		}
		if p != s.PathFor(name) {
			s.logger.Warn(ctx, "ignoring misplaced blob", "path", p, "expected", s.PathFor(name))
			return nil
		}
		info, err := d.Info()
		if err != nil {
			s.logger.Warn(ctx, "stat failed", "path", p, "error", err)
			return nil
		}
		return fn(name, info.ModTime())
	})
}

func (s *FS) PruneEmpty(ctx context.Context) (int, error) {
	return filex.RemoveEmptyDirs(s.root, func(path string, err error) {
		if err != nil {
			s.logger.Warn(ctx, "could not remove directory", "path", path, "error", err)
			return
		}
		s.logger.Info(ctx, "removed empty directory", "path", path)
	})
}
