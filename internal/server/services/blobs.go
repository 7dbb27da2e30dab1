package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/dbx"
	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/blobstorage"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/fredemmott/TempFiles/internal/server/repositories/repomanager"
	"github.com/fredemmott/TempFiles/internal/timex"
	"github.com/google/uuid"
)

// Owner identifies the session a blob operation runs for.
type Owner struct {
	UserID       int64
	CredentialID int64
}

// BlobService ties blob metadata rows to their stored bytes.
//
// Bytes are placed before the row is inserted, and rows are tombstoned before
// bytes are removed, so a crash leaves at worst an orphan file or a dead row
// for the reconciler.
type BlobService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	storage     blobstorage.Backend
	now         timex.Clock
	logger      logging.Logger
}

func NewBlobService(db *sql.DB, rm repomanager.RepositoryManager, storage blobstorage.Backend,
	clock timex.Clock, logger logging.Logger) *BlobService {
	return &BlobService{
		db:          db,
		repomanager: rm,
		storage:     storage,
		now:         clock.OrNow(),
		logger:      logger.With("module", "blobs"),
	}
}

// PathFor returns where the bytes of id are kept.
func (s *BlobService) PathFor(id string) string {
	return s.storage.Locate(id)
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %w", common.ErrStorage, err)
}

func (s *BlobService) List(ctx context.Context, owner Owner) ([]*models.Blob, error) {
	blobs, err := s.repomanager.Blobs(s.db).ListLive(ctx, owner.UserID, owner.CredentialID, s.now())
	if err != nil {
		return nil, persistence(err)
	}
	return blobs, nil
}

// Upload stores the staged ciphertext under a fresh uuid and records meta.
// On success the staged file has been consumed.
func (s *BlobService) Upload(ctx context.Context, owner Owner, meta models.BlobMeta, staged *os.File) (*models.Blob, error) {
	if meta.Salt == "" || meta.FilenameIV == "" || meta.DataIV == "" || meta.EncryptedFilename == "" {
		return nil, fmt.Errorf("%w: missing encryption parameters", common.ErrBadRequest)
	}
	if meta.DownloadsRemaining != nil && *meta.DownloadsRemaining < 1 {
		return nil, fmt.Errorf("%w: downloads_remaining must be positive", common.ErrBadRequest)
	}

	id := uuid.NewString()
	exists, err := s.storage.Exists(ctx, id)
	if err != nil {
		return nil, storageErr(err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s already exists", common.ErrBadRequest, id)
	}

	if err := s.storage.Put(ctx, id, staged); err != nil {
		return nil, storageErr(err)
	}

	salt := meta.Salt
	blob := &models.Blob{
		UUID:               id,
		UserID:             owner.UserID,
		Salt:               &salt,
		FilenameIV:         meta.FilenameIV,
		DataIV:             meta.DataIV,
		EncryptedFilename:  meta.EncryptedFilename,
		CreatedAt:          s.now(),
		DownloadsRemaining: meta.DownloadsRemaining,
		ExpiresAt:          meta.ExpiresAt,
	}
	if meta.BindToCredential {
		cred := owner.CredentialID
		blob.CredentialID = &cred
	}

	if err := s.repomanager.Blobs(s.db).Create(ctx, blob); err != nil {
		s.logger.Error(ctx, "blob stored without metadata row", "uuid", id, "path", s.PathFor(id), "error", err)
		return nil, persistence(err)
	}

	s.logger.Info(ctx, "blob uploaded", "uuid", id, "user_id", owner.UserID)
	return blob, nil
}

// Download spends one download of id and returns its bytes. isFinal is true
// when this download exhausted the budget.
func (s *BlobService) Download(ctx context.Context, owner Owner, id string) (rc io.ReadCloser, isFinal bool, err error) {
	if !blobstorage.ValidID(id) {
		return nil, false, common.ErrNotFound
	}

	rc, err = s.storage.Open(ctx, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, common.ErrNotFound
		}
		return nil, false, storageErr(err)
	}

	remaining, err := s.repomanager.Blobs(s.db).ConsumeDownload(ctx, id, owner.UserID, owner.CredentialID, s.now())
	if err != nil {
		rc.Close()
		return nil, false, notFoundOr(err)
	}

	isFinal = remaining != nil && *remaining == 0
	s.logger.Info(ctx, "blob downloaded", "uuid", id, "final", isFinal)
	return rc, isFinal, nil
}

// Delete tombstones id, then removes its bytes and row. A second delete of
// the same id reports ErrNotFound.
func (s *BlobService) Delete(ctx context.Context, owner Owner, id string) error {
	if !blobstorage.ValidID(id) {
		return common.ErrNotFound
	}

	if err := s.repomanager.Blobs(s.db).Tombstone(ctx, id, owner.UserID); err != nil {
		return notFoundOr(err)
	}

	s.reclaim(ctx, []string{id})
	return nil
}

// DeleteAll tombstones every blob of the owner in one transaction and then
// reclaims them. It returns how many were tombstoned.
func (s *BlobService) DeleteAll(ctx context.Context, owner Owner) (int, error) {
	var ids []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		ids, err = s.repomanager.Blobs(tx).TombstoneAll(ctx, owner.UserID)
		return err
	})
	if err != nil {
		return 0, persistence(err)
	}

	s.reclaim(ctx, ids)
	return len(ids), nil
}

// reclaim removes the bytes of tombstoned blobs and then their rows. Failures
// are left to the reconciler.
func (s *BlobService) reclaim(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.storage.Remove(ctx, id); err != nil {
			s.logger.Warn(ctx, "could not remove blob, leaving it to the reconciler", "uuid", id, "error", err)
			continue
		}
		if err := s.repomanager.Blobs(s.db).Purge(ctx, id); err != nil {
			s.logger.Warn(ctx, "could not purge blob row", "uuid", id, "error", err)
			continue
		}
		s.logger.Info(ctx, "blob deleted", "uuid", id)
	}
}
