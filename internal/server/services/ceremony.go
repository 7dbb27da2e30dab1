package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/dbx"
	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/correlation"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/fredemmott/TempFiles/internal/server/repositories/repomanager"
	"github.com/fredemmott/TempFiles/internal/timex"
)

type pendingRegistration struct {
	userID int64
	state  []byte
}

type pendingLogin struct {
	state []byte
}

// RegistrationChallenge is returned by StartRegistration.
type RegistrationChallenge struct {
	ChallengeID string
	Challenge   json.RawMessage
	UserUUID    string
	UserName    string
}

// LoginChallenge is returned by StartLogin.
type LoginChallenge struct {
	ChallengeID string
	Challenge   json.RawMessage
}

// CeremonyService runs passkey registration and discoverable login. Pending
// ceremonies live in memory only and are single-use.
type CeremonyService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	verifier      CeremonyVerifier
	sessions      *SessionManager
	registrations *correlation.Store[string, pendingRegistration]
	logins        *correlation.Store[string, pendingLogin]
	ttl           time.Duration
	now           timex.Clock
	logger        logging.Logger
}

func NewCeremonyService(db *sql.DB, rm repomanager.RepositoryManager, verifier CeremonyVerifier,
	sessions *SessionManager, ttl time.Duration, clock timex.Clock, logger logging.Logger) *CeremonyService {
	return &CeremonyService{
		db:            db,
		repomanager:   rm,
		verifier:      verifier,
		sessions:      sessions,
		registrations: correlation.New[string, pendingRegistration](correlation.UUIDKey, clock),
		logins:        correlation.New[string, pendingLogin](correlation.UUIDKey, clock),
		ttl:           ttl,
		now:           clock.OrNow(),
		logger:        logger.With("module", "ceremony"),
	}
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", common.ErrPersistence, err)
}

// notFoundOr passes ErrNotFound through and classifies anything else as a
// persistence failure.
func notFoundOr(err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return common.ErrNotFound
	}
	return persistence(err)
}

func (s *CeremonyService) StartRegistration(ctx context.Context, token string) (*RegistrationChallenge, error) {
	userID, err := s.repomanager.RegistrationTokens(s.db).FindUser(ctx, token, s.now())
	if err != nil {
		return nil, notFoundOr(err)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err)
	}

	existing, err := s.repomanager.Credentials(s.db).ListByUser(ctx, user.ID)
	if err != nil {
		return nil, persistence(err)
	}

	challenge, state, err := s.verifier.BeginRegistration(user, existing)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	id, err := s.registrations.Insert(pendingRegistration{userID: user.ID, state: state}, s.ttl)
	if err != nil {
		return nil, err
	}

	return &RegistrationChallenge{
		ChallengeID: id,
		Challenge:   challenge,
		UserUUID:    user.UUID,
		UserName:    user.UserName,
	}, nil
}

// FinishRegistration consumes the pending ceremony whatever the outcome.
// Every mismatch between the ceremony, the token and its owner is reported
// as ErrNotFound.
func (s *CeremonyService) FinishRegistration(ctx context.Context, challengeID, token string, response []byte) (*models.Credential, error) {
	pending, ok := s.registrations.Take(challengeID)
	if !ok {
		return nil, common.ErrNotFound
	}

	userID, err := s.repomanager.RegistrationTokens(s.db).FindUser(ctx, token, s.now())
	if err != nil {
		return nil, notFoundOr(err)
	}
	if userID != pending.userID {
		return nil, common.ErrNotFound
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err)
	}

	cred, err := s.verifier.FinishRegistration(user, pending.state, response)
	if err != nil {
		s.logger.Info(ctx, "registration rejected", "user", user.UUID, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrVerification, err)
	}
	cred.UserID = user.ID
	cred.CreatedAt = s.now()

	var created *models.Credential
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RegistrationTokens(tx).Delete(ctx, token); err != nil {
			return err
		}
		created, err = s.repomanager.Credentials(tx).Create(ctx, cred)
		return err
	})
	if err != nil {
		return nil, notFoundOr(err)
	}

	s.logger.Info(ctx, "passkey registered", "user", user.UUID)
	return created, nil
}

func (s *CeremonyService) StartLogin(ctx context.Context) (*LoginChallenge, error) {
	challenge, state, err := s.verifier.BeginDiscoverableLogin()
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}

	id, err := s.logins.Insert(pendingLogin{state: state}, s.ttl)
	if err != nil {
		return nil, err
	}
	return &LoginChallenge{ChallengeID: id, Challenge: challenge}, nil
}

// FinishLogin verifies an assertion and opens a session. Authenticators that
// did not verify the user locally are refused with ErrNotFound.
func (s *CeremonyService) FinishLogin(ctx context.Context, challengeID string, response []byte) (*models.Session, error) {
	pending, ok := s.logins.Take(challengeID)
	if !ok {
		return nil, common.ErrNotFound
	}

	userUUID, credentialID, err := s.verifier.IdentifyDiscoverable(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrVerification, err)
	}

	user, err := s.repomanager.Users(s.db).GetByUUID(ctx, userUUID)
	if err != nil {
		return nil, notFoundOr(err)
	}
	cred, err := s.repomanager.Credentials(s.db).GetByUserAndCredentialID(ctx, user.ID, credentialID)
	if err != nil {
		return nil, notFoundOr(err)
	}

	verified, err := s.verifier.FinishDiscoverableLogin(user, cred, pending.state, response)
	if err != nil {
		s.logger.Info(ctx, "login rejected", "user", user.UUID, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrVerification, err)
	}
	if !verified {
		s.logger.Info(ctx, "login without user verification refused", "user", user.UUID)
		return nil, common.ErrNotFound
	}

	return s.sessions.Create(user.ID, cred.ID)
}

// Prune drops abandoned ceremonies.
func (s *CeremonyService) Prune() int {
	return s.registrations.Prune() + s.logins.Prune()
}

// Pending reports how many ceremonies are in flight.
func (s *CeremonyService) Pending() int {
	return s.registrations.Len() + s.logins.Len()
}
