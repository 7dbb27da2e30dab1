package registrationtokens

import (
	"context"
	"time"

	"github.com/fredemmott/TempFiles/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.RegistrationToken) error
	// FindUser returns the owner of an unexpired token.
	FindUser(ctx context.Context, token string, now time.Time) (int64, error)
	Delete(ctx context.Context, token string) error
}
