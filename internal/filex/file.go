// Package filex contains filesystem helpers for the sharded blob tree.
package filex

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// ShardedPath returns root/ab/cd/<name> for a name starting with "abcd".
// Names shorter than four characters are placed directly under root.
func ShardedPath(root, name string) string {
	if len(name) < 4 {
		return filepath.Join(root, name)
	}
	return filepath.Join(root, name[0:2], name[2:4], name)
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// seams for testing the cross-device fallback and directory syncs
var (
	renameFile = os.Rename
	syncDir    = SyncDir
)

// SyncDir flushes the entries of dir, making a completed rename into it
// durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}

// MoveFile moves src to dst, creating dst's directory. When a plain rename is
// impossible because src and dst live on different devices, the content is
// copied to a temporary file beside dst, renamed into place, and src removed.
// Either way dst's directory is synced before MoveFile returns; src's content
// must already be on stable storage.
func MoveFile(src, dst string) error {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}

	err := renameFile(src, dst)
	if err == nil {
		return syncDir(filepath.Dir(dst))
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := WriteFileAtomic(dst, in); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", src, err)
	}
	return nil
}

// WriteFileAtomic streams r into a temporary file in dst's directory, syncs
// it, and renames it to dst.
func WriteFileAtomic(dst string, r io.Reader) (err error) {
	dir := filepath.Dir(dst)
	if err := EnsureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return fmt.Errorf("copy to %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename %s: %w", tmp.Name(), err)
	}
	return syncDir(dir)
}

// RemoveEmptyDirs removes, bottom-up, every directory below root that is
// empty or becomes empty once its children are removed. root itself is kept.
// report is called for every removal attempt; a failed removal leaves the
// parent in place and the walk continues. Only a failure to read root is
// returned.
func RemoveEmptyDirs(root string, report func(path string, err error)) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", root, err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		removed += pruneDir(filepath.Join(root, e.Name()), report)
	}
	return removed, nil
}

func pruneDir(dir string, report func(string, error)) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		report(dir, err)
		return 0
	}

	removed := 0
	remaining := len(entries)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := filepath.Join(dir, e.Name())
		n := pruneDir(child, report)
		removed += n
		if _, err := os.Stat(child); errors.Is(err, os.ErrNotExist) {
			remaining--
		}
	}

	if remaining > 0 {
		return removed
	}
	if err := os.Remove(dir); err != nil {
		report(dir, err)
		return removed
	}
	report(dir, nil)
	return removed + 1
}
