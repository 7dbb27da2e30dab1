package passkey

import (
	"encoding/json"
	"fmt"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/go-webauthn/webauthn/webauthn"
)

// passkeyUser adapts a user and its stored passkeys to webauthn.User. The user
// handle is the user's public UUID.
type passkeyUser struct {
	user        *models.User
	credentials []webauthn.Credential
}

func newUser(u *models.User, stored []*models.Credential) (*passkeyUser, error) {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, s := range stored {
		var c webauthn.Credential
		if err := json.Unmarshal(s.PublicKey, &c); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", common.EncodeToken(s.CredentialID), err)
		}
		creds = append(creds, c)
	}
	return &passkeyUser{user: u, credentials: creds}, nil
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(u.user.UUID)
}

func (u *passkeyUser) WebAuthnName() string {
	return u.user.UserName
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.user.UserName
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
