// Package passkey verifies WebAuthn registration and discoverable login
// ceremonies with go-webauthn.
package passkey

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

type webAuthn interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

var (
	parseCreation  = protocol.ParseCredentialCreationResponseBytes
	parseAssertion = protocol.ParseCredentialRequestResponseBytes
)

var ErrUserHandleMismatch = errors.New("passkey: response is not for this user")

// Verifier implements the ceremony verifier used by the ceremony service.
type Verifier struct {
	wa webAuthn
}

// New configures a relying party. origins are the full origins browsers will
// report, e.g. https://files.example.com.
func New(rpID, displayName string, origins []string) (*Verifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: displayName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config: %w", err)
	}
	return &Verifier{wa: wa}, nil
}

func (v *Verifier) BeginRegistration(user *models.User, existing []*models.Credential) (json.RawMessage, []byte, error) {
	pu, err := newUser(user, existing)
	if err != nil {
		return nil, nil, err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(pu.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(pu.credentials).CredentialDescriptors()))
	}

	creation, session, err := v.wa.BeginRegistration(pu, opts...)
	if err != nil {
		return nil, nil, err
	}
	return encode(creation, session)
}

func (v *Verifier) FinishRegistration(user *models.User, state, response []byte) (*models.Credential, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	parsed, err := parseCreation(response)
	if err != nil {
		return nil, err
	}

	cred, err := v.wa.CreateCredential(&passkeyUser{user: user}, session, parsed)
	if err != nil {
		return nil, err
	}

	material, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	return &models.Credential{CredentialID: cred.ID, PublicKey: material}, nil
}

func (v *Verifier) BeginDiscoverableLogin() (json.RawMessage, []byte, error) {
	assertion, session, err := v.wa.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationPreferred))
	if err != nil {
		return nil, nil, err
	}
	return encode(assertion, session)
}

func (v *Verifier) IdentifyDiscoverable(response []byte) (string, []byte, error) {
	parsed, err := parseAssertion(response)
	if err != nil {
		return "", nil, err
	}
	if len(parsed.Response.UserHandle) == 0 {
		return "", nil, errors.New("passkey: response has no user handle")
	}
	return string(parsed.Response.UserHandle), parsed.RawID, nil
}

func (v *Verifier) FinishDiscoverableLogin(user *models.User, cred *models.Credential, state, response []byte) (bool, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return false, fmt.Errorf("decode session: %w", err)
	}
	parsed, err := parseAssertion(response)
	if err != nil {
		return false, err
	}

	pu, err := newUser(user, []*models.Credential{cred})
	if err != nil {
		return false, err
	}
	handler := func(_, userHandle []byte) (webauthn.User, error) {
		if string(userHandle) != user.UUID {
			return nil, ErrUserHandleMismatch
		}
		return pu, nil
	}

	_, validated, err := v.wa.ValidatePasskeyLogin(handler, session, parsed)
	if err != nil {
		return false, err
	}
	return validated.Flags.UserVerified, nil
}

func encode(challenge any, session *webauthn.SessionData) (json.RawMessage, []byte, error) {
	c, err := json.Marshal(challenge)
	if err != nil {
		return nil, nil, fmt.Errorf("encode challenge: %w", err)
	}
	s, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode session: %w", err)
	}
	return c, s, nil
}
