// Package reconciler brings blob storage and blob metadata back into
// agreement. A sweep runs three passes in order: stored files with no live
// row are removed, empty directories are pruned, and dead rows (tombstoned,
// expired or exhausted) are deleted. A row is only deleted once its file is
// gone.
package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/blobstorage"
	"github.com/fredemmott/TempFiles/internal/server/repositories/repomanager"
	"github.com/fredemmott/TempFiles/internal/timex"
)

// Report summarises one sweep.
type Report struct {
	FilesRemoved int
	FilesFailed  int
	DirsRemoved  int
	RowsDeleted  int
	RowsFailed   int
}

type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	storage     blobstorage.Backend
	// grace protects row-less files younger than this from pass 1, so an
	// upload whose row is about to be inserted is not swept.
	grace  time.Duration
	now    timex.Clock
	logger logging.Logger
}

func New(db *sql.DB, rm repomanager.RepositoryManager, storage blobstorage.Backend,
	grace time.Duration, clock timex.Clock, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: rm,
		storage:     storage,
		grace:       grace,
		now:         clock.OrNow(),
		logger:      logger.With("module", "reconciler"),
	}
}

// RunOnce performs one sweep. Per-item failures are logged and counted; only
// failures that prevent a pass from running at all are returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	now := r.now()
	repo := r.repomanager.Blobs(r.db)

	live, err := repo.ListLiveUUIDs(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("%w: list live blobs: %w", common.ErrPersistence, err)
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
	}

	// listed before the walk: the grace window only covers files without
	// any row, whose upload may still be about to insert one
	dead, err := repo.ListDeadUUIDs(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("%w: list dead blobs: %w", common.ErrPersistence, err)
	}
	deadSet := make(map[string]struct{}, len(dead))
	for _, id := range dead {
		deadSet[id] = struct{}{}
	}

	// files that are still on disk; their rows must survive pass 3
	remaining := make(map[string]struct{})

	err = r.storage.Walk(ctx, func(id string, modTime time.Time) error {
		if _, ok := liveSet[id]; ok {
			return nil
		}
		if _, ok := deadSet[id]; !ok && r.grace > 0 && now.Sub(modTime) < r.grace {
			remaining[id] = struct{}{}
			return nil
		}
		if err := r.storage.Remove(ctx, id); err != nil {
			rep.FilesFailed++
			remaining[id] = struct{}{}
			r.logger.Warn(ctx, "could not remove file", "uuid", id, "path", r.storage.Locate(id), "error", err)
			return nil
		}
		rep.FilesRemoved++
		r.logger.Info(ctx, "removed file", "uuid", id, "path", r.storage.Locate(id))
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}

	rep.DirsRemoved, err = r.storage.PruneEmpty(ctx)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}

	for _, id := range dead {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, ok := remaining[id]; ok {
			continue
		}
		// files pass 1 never saw, e.g. in unreadable directories
		if exists, err := r.storage.Exists(ctx, id); err != nil || exists {
			if err != nil {
				r.logger.Warn(ctx, "could not check file, keeping row", "uuid", id, "error", err)
			}
			continue
		}
		if err := repo.DeleteDead(ctx, id, now); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			rep.RowsFailed++
			r.logger.Warn(ctx, "could not delete row", "uuid", id, "error", err)
			continue
		}
		rep.RowsDeleted++
	}

	r.logger.Info(ctx, "sweep finished",
		"files_removed", rep.FilesRemoved, "files_failed", rep.FilesFailed,
		"dirs_removed", rep.DirsRemoved,
		"rows_deleted", rep.RowsDeleted, "rows_failed", rep.RowsFailed)
	return rep, nil
}

// Run is RunOnce in the shape of a scheduled job.
func (r *Reconciler) Run(ctx context.Context) error {
	_, err := r.RunOnce(ctx)
	return err
}
