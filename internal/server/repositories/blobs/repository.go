package blobs

import (
	"context"
	"time"

	"github.com/fredemmott/TempFiles/internal/server/models"
)

// Repository persists blob metadata rows.
//
// A row is live while it is not tombstoned (salt NOT NULL), not expired and
// has budget left (downloads_remaining NULL or > 0). Any other row is dead.
type Repository interface {
	Create(ctx context.Context, blob *models.Blob) error
	// ListLive returns the caller's live blobs visible to credentialID.
	ListLive(ctx context.Context, userID, credentialID int64, now time.Time) ([]*models.Blob, error)
	// ConsumeDownload atomically spends one download and returns the budget
	// left afterwards (nil when unlimited).
	ConsumeDownload(ctx context.Context, id string, userID, credentialID int64, now time.Time) (*int64, error)
	Tombstone(ctx context.Context, id string, userID int64) error
	TombstoneAll(ctx context.Context, userID int64) ([]string, error)
	// Purge deletes a tombstoned row.
	Purge(ctx context.Context, id string) error
	ListLiveUUIDs(ctx context.Context, now time.Time) ([]string, error)
	ListDeadUUIDs(ctx context.Context, now time.Time) ([]string, error)
	DeleteDead(ctx context.Context, id string, now time.Time) error
}
