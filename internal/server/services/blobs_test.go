package services

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/blobstorage"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta() models.BlobMeta {
	return models.BlobMeta{
		Salt:              "c2FsdA",
		FilenameIV:        "aXYx",
		DataIV:            "aXYy",
		EncryptedFilename: "ZmlsZQ",
	}
}

func budget(n int64) *int64 { return &n }

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestBlobService_UploadListDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")
	owner := Owner{UserID: user.ID, CredentialID: cred.ID}

	staged := env.stage(t, "ciphertext")
	blob, err := env.blobs.Upload(ctx, owner, meta(), staged)
	require.NoError(t, err)
	assert.True(t, blobstorage.ValidID(blob.UUID))
	assert.Nil(t, blob.CredentialID)
	assert.FileExists(t, env.blobs.PathFor(blob.UUID))
	assert.NoFileExists(t, staged.Name())

	list, err := env.blobs.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, blob.UUID, list[0].UUID)
	assert.Equal(t, "ZmlsZQ", list[0].EncryptedFilename)

	for i := 0; i < 3; i++ {
		rc, final, err := env.blobs.Download(ctx, owner, blob.UUID)
		require.NoError(t, err)
		assert.False(t, final)
		assert.Equal(t, "ciphertext", readAll(t, rc))
	}
}

func TestBlobService_UploadRejectsBadMeta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")
	owner := Owner{UserID: user.ID, CredentialID: cred.ID}

	noSalt := meta()
	noSalt.Salt = ""
	_, err := env.blobs.Upload(ctx, owner, noSalt, env.stage(t, "x"))
	assert.ErrorIs(t, err, common.ErrBadRequest)

	zero := meta()
	zero.DownloadsRemaining = budget(0)
	_, err = env.blobs.Upload(ctx, owner, zero, env.stage(t, "x"))
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestBlobService_RowFailureLeavesOrphanFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.blobs.Upload(ctx, Owner{UserID: 999}, meta(), env.stage(t, "x"))
	assert.ErrorIs(t, err, common.ErrPersistence)

	var files int
	require.NoError(t, env.storage.Walk(ctx, func(string, time.Time) error {
		files++
		return nil
	}))
	assert.Equal(t, 1, files)
}

func TestBlobService_SingleDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")
	owner := Owner{UserID: user.ID, CredentialID: cred.ID}

	m := meta()
	m.DownloadsRemaining = budget(1)
	blob, err := env.blobs.Upload(ctx, owner, m, env.stage(t, "once"))
	require.NoError(t, err)

	rc, final, err := env.blobs.Download(ctx, owner, blob.UUID)
	require.NoError(t, err)
	assert.True(t, final)
	assert.Equal(t, "once", readAll(t, rc))

	_, _, err = env.blobs.Download(ctx, owner, blob.UUID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	list, err := env.blobs.List(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBlobService_ConcurrentDownloadsSpendBudgetOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")
	owner := Owner{UserID: user.ID, CredentialID: cred.ID}

	m := meta()
	m.DownloadsRemaining = budget(1)
	blob, err := env.blobs.Upload(ctx, owner, m, env.stage(t, "once"))
	require.NoError(t, err)

	const n = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		notFound  atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc, _, err := env.blobs.Download(ctx, owner, blob.UUID)
			switch {
			case err == nil:
				rc.Close()
				successes.Add(1)
			case errors.Is(err, common.ErrNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), notFound.Load())
}

func TestBlobService_ExpiredBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")
	owner := Owner{UserID: user.ID, CredentialID: cred.ID}

	m := meta()
	past := env.clock.Now().Add(-time.Minute)
	m.ExpiresAt = &past
	blob, err := env.blobs.Upload(ctx, owner, m, env.stage(t, "x"))
	require.NoError(t, err)

	_, _, err = env.blobs.Download(ctx, owner, blob.UUID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestBlobService_Ownership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceCred := env.enroll(t, "alice", "cred-1")
	bob, bobCred := env.enroll(t, "bob", "cred-2")
	owner := Owner{UserID: alice.ID, CredentialID: aliceCred.ID}
	intruder := Owner{UserID: bob.ID, CredentialID: bobCred.ID}

	blob, err := env.blobs.Upload(ctx, owner, meta(), env.stage(t, "x"))
	require.NoError(t, err)

	_, _, err = env.blobs.Download(ctx, intruder, blob.UUID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, env.blobs.Delete(ctx, intruder, blob.UUID), common.ErrNotFound)

	list, err := env.blobs.List(ctx, intruder)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, _, err = env.blobs.Download(ctx, owner, "../../etc/passwd")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, _, err = env.blobs.Download(ctx, owner, uuid.NewString())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestBlobService_CredentialBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")

	// a second passkey for the same user
	other, err := env.rm.Credentials(env.db).Create(ctx, &models.Credential{
		UserID: user.ID, CredentialID: []byte("cred-2"), PublicKey: []byte("{}"), CreatedAt: env.clock.Now(),
	})
	require.NoError(t, err)

	owner := Owner{UserID: user.ID, CredentialID: cred.ID}
	sibling := Owner{UserID: user.ID, CredentialID: other.ID}

	m := meta()
	m.BindToCredential = true
	blob, err := env.blobs.Upload(ctx, owner, m, env.stage(t, "e2ee"))
	require.NoError(t, err)
	require.NotNil(t, blob.CredentialID)
	assert.Equal(t, cred.ID, *blob.CredentialID)

	list, err := env.blobs.List(ctx, sibling)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, _, err = env.blobs.Download(ctx, sibling, blob.UUID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	rc, _, err := env.blobs.Download(ctx, owner, blob.UUID)
	require.NoError(t, err)
	assert.Equal(t, "e2ee", readAll(t, rc))
}

func TestBlobService_DeleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")
	owner := Owner{UserID: user.ID, CredentialID: cred.ID}

	blob, err := env.blobs.Upload(ctx, owner, meta(), env.stage(t, "x"))
	require.NoError(t, err)

	require.NoError(t, env.blobs.Delete(ctx, owner, blob.UUID))
	assert.NoFileExists(t, env.blobs.PathFor(blob.UUID))

	dead, err := env.rm.Blobs(env.db).ListDeadUUIDs(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, dead, "row is purged once the file is gone")

	assert.ErrorIs(t, env.blobs.Delete(ctx, owner, blob.UUID), common.ErrNotFound)
	_, _, err = env.blobs.Download(ctx, owner, blob.UUID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

// failingRemove wraps a backend whose Remove always fails.
type failingRemove struct {
	blobstorage.Backend
}

func (failingRemove) Remove(context.Context, string) error {
	return errors.New("device busy")
}

func TestBlobService_DeleteLeavesTombstoneWhenRemoveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user, cred := env.enroll(t, "alice", "cred-1")
	owner := Owner{UserID: user.ID, CredentialID: cred.ID}

	svc := NewBlobService(env.db, env.rm, failingRemove{env.storage}, env.clock.Now, logging.Discard())
	blob, err := svc.Upload(ctx, owner, meta(), env.stage(t, "x"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, owner, blob.UUID))
	assert.FileExists(t, env.blobs.PathFor(blob.UUID))

	dead, err := env.rm.Blobs(env.db).ListDeadUUIDs(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{blob.UUID}, dead)

	_, _, err = svc.Download(ctx, owner, blob.UUID)
	assert.ErrorIs(t, err, common.ErrNotFound, "tombstoned bytes are never served")
}

func TestBlobService_DeleteAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice, aliceCred := env.enroll(t, "alice", "cred-1")
	bob, bobCred := env.enroll(t, "bob", "cred-2")
	owner := Owner{UserID: alice.ID, CredentialID: aliceCred.ID}
	other := Owner{UserID: bob.ID, CredentialID: bobCred.ID}

	var ids []string
	for i := 0; i < 3; i++ {
		b, err := env.blobs.Upload(ctx, owner, meta(), env.stage(t, "x"))
		require.NoError(t, err)
		ids = append(ids, b.UUID)
	}
	kept, err := env.blobs.Upload(ctx, other, meta(), env.stage(t, "y"))
	require.NoError(t, err)

	n, err := env.blobs.DeleteAll(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, id := range ids {
		assert.NoFileExists(t, env.blobs.PathFor(id))
	}
	assert.FileExists(t, env.blobs.PathFor(kept.UUID))

	n, err = env.blobs.DeleteAll(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := env.blobs.List(ctx, other)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBlobService_PathFor(t *testing.T) {
	env := newTestEnv(t)
	id := "abcdef01-0000-4000-8000-000000000000"
	assert.Equal(t, env.storage.PathFor(id), env.blobs.PathFor(id))
	_, err := os.Stat(env.blobs.PathFor(id))
	assert.True(t, os.IsNotExist(err))
}
