// Package services holds the server's business logic: passkey ceremonies,
// sessions, blob lifecycle and user enrollment. Transport and storage are
// injected.
package services

import (
	"encoding/json"

	"github.com/fredemmott/TempFiles/internal/server/models"
)

// CeremonyVerifier performs the public-key half of the passkey ceremonies.
// Challenges and responses are opaque JSON; state is whatever the verifier
// needs to finish a ceremony it started.
type CeremonyVerifier interface {
	// BeginRegistration returns a creation challenge for user. existing
	// credentials are excluded so an authenticator is not registered twice.
	BeginRegistration(user *models.User, existing []*models.Credential) (challenge json.RawMessage, state []byte, err error)

	// FinishRegistration verifies response and returns the new credential
	// with CredentialID and PublicKey set.
	FinishRegistration(user *models.User, state, response []byte) (*models.Credential, error)

	// BeginDiscoverableLogin returns an assertion challenge not bound to a user.
	BeginDiscoverableLogin() (challenge json.RawMessage, state []byte, err error)

	// IdentifyDiscoverable extracts the user handle (the user's UUID) and the
	// credential id claimed by response, without verifying it.
	IdentifyDiscoverable(response []byte) (userUUID string, credentialID []byte, err error)

	// FinishDiscoverableLogin verifies response against cred and reports
	// whether the authenticator performed user verification.
	FinishDiscoverableLogin(user *models.User, cred *models.Credential, state, response []byte) (userVerified bool, err error)
}
