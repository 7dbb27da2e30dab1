package filex

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedPath(t *testing.T) {
	root := filepath.Join("srv", "uploads")
	id := "3fa85f64-5717-4562-b3fc-2c963f66afa6"

	assert.Equal(t, filepath.Join(root, "3f", "a8", id), ShardedPath(root, id))
	assert.Equal(t, filepath.Join(root, "ab"), ShardedPath(root, "ab"))
}

func TestEnsureDir_CreatesAndIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, EnsureDir(dir))
	require.NoError(t, EnsureDir(dir))

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	require.Error(t, EnsureDir(path))
}

func TestMoveFile_Rename(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "staged")
	dst := filepath.Join(tmp, "uploads", "ab", "cd", "abcd-blob")
	require.NoError(t, os.WriteFile(src, []byte("ciphertext"), 0o600))

	require.NoError(t, MoveFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", string(got))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestMoveFile_SyncsDestinationDir(t *testing.T) {
	orig := syncDir
	t.Cleanup(func() { syncDir = orig })
	var synced []string
	syncDir = func(dir string) error {
		synced = append(synced, dir)
		return orig(dir)
	}

	tmp := t.TempDir()
	src := filepath.Join(tmp, "staged")
	dst := filepath.Join(tmp, "uploads", "ab", "cd", "abcd-blob")
	require.NoError(t, os.WriteFile(src, []byte("ciphertext"), 0o600))

	require.NoError(t, MoveFile(src, dst))
	assert.Equal(t, []string{filepath.Dir(dst)}, synced)
}

func TestMoveFile_SyncErrorIsReturned(t *testing.T) {
	orig := syncDir
	t.Cleanup(func() { syncDir = orig })
	boom := errors.New("io error")
	syncDir = func(string) error { return boom }

	tmp := t.TempDir()
	src := filepath.Join(tmp, "staged")
	require.NoError(t, os.WriteFile(src, []byte("ciphertext"), 0o600))

	err := MoveFile(src, filepath.Join(tmp, "uploads", "abcd-blob"))
	assert.ErrorIs(t, err, boom)
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, SyncDir(dir))
	assert.Error(t, SyncDir(filepath.Join(dir, "missing")))
}

func TestMoveFile_CrossDeviceFallsBackToCopy(t *testing.T) {
	orig := renameFile
	t.Cleanup(func() { renameFile = orig })
	renameFile = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}

	tmp := t.TempDir()
	src := filepath.Join(tmp, "staged")
	dst := filepath.Join(tmp, "uploads", "ab", "cd", "abcd-blob")
	require.NoError(t, os.WriteFile(src, []byte("copied bytes"), 0o600))

	require.NoError(t, MoveFile(src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "copied bytes", string(got))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be removed after copy")

	leftovers, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, leftovers, 1, "no temp files left behind")
}

func TestMoveFile_OtherRenameErrorIsReturned(t *testing.T) {
	tmp := t.TempDir()
	err := MoveFile(filepath.Join(tmp, "missing"), filepath.Join(tmp, "out", "x"))
	require.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "ab", "cd", "abcd")

	require.NoError(t, WriteFileAtomic(dst, strings.NewReader("payload")))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestRemoveEmptyDirs_PostOrder(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "aa", "bb"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cc", "dd"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cc", "ee"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cc", "dd", "keep"), []byte("x"), 0o600))

	var removed []string
	n, err := RemoveEmptyDirs(root, func(path string, err error) {
		require.NoError(t, err)
		removed = append(removed, path)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		filepath.Join(root, "aa", "bb"),
		filepath.Join(root, "aa"),
		filepath.Join(root, "cc", "ee"),
	}, removed)

	_, err = os.Stat(root)
	assert.NoError(t, err, "root is never removed")
	_, err = os.Stat(filepath.Join(root, "cc", "dd", "keep"))
	assert.NoError(t, err)
}

func TestRemoveEmptyDirs_MissingRoot(t *testing.T) {
	_, err := RemoveEmptyDirs(filepath.Join(t.TempDir(), "nope"), func(string, error) {})
	require.Error(t, err)
}
