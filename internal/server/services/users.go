package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/dbx"
	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/fredemmott/TempFiles/internal/server/repositories/repomanager"
	"github.com/fredemmott/TempFiles/internal/timex"
	"github.com/google/uuid"
)

// Enrollment is a new user together with the token that lets them register
// their first passkey.
type Enrollment struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokenTTL    time.Duration
	now         timex.Clock
	logger      logging.Logger
}

func NewUserService(db *sql.DB, rm repomanager.RepositoryManager, tokenTTL time.Duration,
	clock timex.Clock, logger logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: rm,
		tokenTTL:    tokenTTL,
		now:         clock.OrNow(),
		logger:      logger.With("module", "users"),
	}
}

// AddUser creates userName and a registration token for it. With force, an
// existing user of that name is deleted first, together with its passkeys
// and blob rows.
func (s *UserService) AddUser(ctx context.Context, userName string, force bool) (*Enrollment, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return nil, fmt.Errorf("%w: empty user name", common.ErrBadRequest)
	}

	token, err := common.RandomToken(common.RegistrationTokenSize)
	if err != nil {
		return nil, err
	}

	now := s.now()
	enrollment := &Enrollment{Token: token, ExpiresAt: now.Add(s.tokenTTL)}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)

		if force {
			err := users.DeleteByUserName(ctx, userName)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			if err == nil {
				s.logger.Info(ctx, "replaced existing user", "username", userName)
			}
		}

		_, err := users.GetByUserName(ctx, userName)
		if err == nil {
			return fmt.Errorf("%w: user %q already exists", common.ErrBadRequest, userName)
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		user, err := users.Create(ctx, &models.User{
			UUID:      uuid.NewString(),
			UserName:  userName,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		enrollment.User = user

		return s.repomanager.RegistrationTokens(tx).Create(ctx, &models.RegistrationToken{
			Token:     token,
			UserID:    user.ID,
			ExpiresAt: enrollment.ExpiresAt,
		})
	})
	if err != nil {
		if errors.Is(err, common.ErrBadRequest) {
			return nil, err
		}
		return nil, persistence(err)
	}

	s.logger.Info(ctx, "user added", "username", userName, "uuid", enrollment.User.UUID)
	return enrollment, nil
}
