package users

import (
	"context"

	"github.com/fredemmott/TempFiles/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUUID(ctx context.Context, uuid string) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	DeleteByUserName(ctx context.Context, userName string) error
}
