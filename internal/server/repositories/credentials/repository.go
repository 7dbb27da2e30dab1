package credentials

import (
	"context"

	"github.com/fredemmott/TempFiles/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, cred *models.Credential) (*models.Credential, error)
	GetByUserAndCredentialID(ctx context.Context, userID int64, credentialID []byte) (*models.Credential, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Credential, error)
}
