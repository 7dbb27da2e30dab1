package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/server/correlation"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/fredemmott/TempFiles/internal/timex"
)

type sessionKey [sha256.Size]byte

type sessionEntry struct {
	secret  []byte
	session models.Session
}

// SessionManager keeps bearer sessions in memory with a sliding expiry.
//
// Sessions are keyed by the SHA-256 of the secret; the stored secret is then
// compared in constant time before the entry is returned.
type SessionManager struct {
	store *correlation.Store[sessionKey, sessionEntry]
	ttl   time.Duration
	now   timex.Clock
}

func NewSessionManager(ttl time.Duration, clock timex.Clock) *SessionManager {
	return &SessionManager{
		store: correlation.New[sessionKey, sessionEntry](nil, clock),
		ttl:   ttl,
		now:   clock.OrNow(),
	}
}

// Create opens a session. The returned Secret is the only copy handed out.
func (m *SessionManager) Create(userID, credentialID int64) (*models.Session, error) {
	raw, err := common.RandomBytes(common.SessionSecretSize)
	if err != nil {
		return nil, err
	}

	session := models.Session{
		UserID:       userID,
		CredentialID: credentialID,
		ExpiresAt:    m.now().Add(m.ttl),
	}
	m.store.InsertKey(keyFor(raw), sessionEntry{secret: raw, session: session}, m.ttl)

	session.Secret = common.EncodeToken(raw)
	return &session, nil
}

// Validate returns the session for secret and extends it by the window.
func (m *SessionManager) Validate(secret string) (*models.Session, error) {
	raw, err := common.DecodeToken(secret)
	if err != nil || len(raw) != common.SessionSecretSize {
		return nil, common.ErrInvalidSession
	}

	e, ok := m.store.PeekAndRefresh(keyFor(raw), m.ttl, matchSecret(raw))
	if !ok {
		return nil, common.ErrInvalidSession
	}

	session := e.session
	session.ExpiresAt = m.now().Add(m.ttl)
	return &session, nil
}

// Revoke ends the session for secret.
func (m *SessionManager) Revoke(secret string) error {
	raw, err := common.DecodeToken(secret)
	if err != nil || len(raw) != common.SessionSecretSize {
		return common.ErrInvalidSession
	}
	if _, ok := m.store.TakeIf(keyFor(raw), matchSecret(raw)); !ok {
		return common.ErrInvalidSession
	}
	return nil
}

// Prune drops expired sessions.
func (m *SessionManager) Prune() int {
	return m.store.Prune()
}

// Active reports the number of held sessions, including expired ones not yet
// pruned.
func (m *SessionManager) Active() int {
	return m.store.Len()
}

func matchSecret(raw []byte) func(sessionEntry) bool {
	return func(e sessionEntry) bool {
		return subtle.ConstantTimeCompare(e.secret, raw) == 1
	}
}

func keyFor(raw []byte) sessionKey {
	return sha256.Sum256(raw)
}
