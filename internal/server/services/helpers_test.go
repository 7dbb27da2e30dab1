package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/blobstorage"
	"github.com/fredemmott/TempFiles/internal/server/models"
	"github.com/fredemmott/TempFiles/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeResponse is the test stand-in for an authenticator response.
type fakeResponse struct {
	CredentialID string `json:"id"`
	UserUUID     string `json:"user"`
	UV           bool   `json:"uv"`
	Forged       bool   `json:"forged"`
}

func (r fakeResponse) bytes(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	return b
}

// fakeVerifier accepts any response that is not marked forged and whose
// state matches the ceremony it was started for.
type fakeVerifier struct{}

func (fakeVerifier) BeginRegistration(user *models.User, existing []*models.Credential) (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{"challenge":"abc"}}`), []byte("reg:" + user.UUID), nil
}

func (fakeVerifier) FinishRegistration(user *models.User, state, response []byte) (*models.Credential, error) {
	var r fakeResponse
	if err := json.Unmarshal(response, &r); err != nil {
		return nil, err
	}
	if r.Forged || string(state) != "reg:"+user.UUID {
		return nil, errors.New("signature mismatch")
	}
	return &models.Credential{CredentialID: []byte(r.CredentialID), PublicKey: []byte(`{"k":1}`)}, nil
}

func (fakeVerifier) BeginDiscoverableLogin() (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{"challenge":"xyz"}}`), []byte("login"), nil
}

func (fakeVerifier) IdentifyDiscoverable(response []byte) (string, []byte, error) {
	var r fakeResponse
	if err := json.Unmarshal(response, &r); err != nil {
		return "", nil, err
	}
	return r.UserUUID, []byte(r.CredentialID), nil
}

func (fakeVerifier) FinishDiscoverableLogin(user *models.User, cred *models.Credential, state, response []byte) (bool, error) {
	var r fakeResponse
	if err := json.Unmarshal(response, &r); err != nil {
		return false, err
	}
	if r.Forged || string(state) != "login" {
		return false, errors.New("signature mismatch")
	}
	return r.UV, nil
}

type testEnv struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	clock    *fakeClock
	storage  *blobstorage.FS
	staging  string
	sessions *SessionManager
	ceremony *CeremonyService
	blobs    *BlobService
	users    *UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	db, rm, err := repomanager.Open(ctx, repomanager.DriverSQLite,
		"file:"+filepath.Join(dir, "test.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logging.Discard()
	storage, err := blobstorage.NewFS(filepath.Join(dir, "uploads"), log)
	require.NoError(t, err)

	staging := filepath.Join(dir, "staging")
	require.NoError(t, os.MkdirAll(staging, 0o750))

	clock := newFakeClock()
	sessions := NewSessionManager(time.Hour, clock.Now)
	return &testEnv{
		db:       db,
		rm:       rm,
		clock:    clock,
		storage:  storage,
		staging:  staging,
		sessions: sessions,
		ceremony: NewCeremonyService(db, rm, fakeVerifier{}, sessions, 5*time.Minute, clock.Now, log),
		blobs:    NewBlobService(db, rm, storage, clock.Now, log),
		users:    NewUserService(db, rm, 7*24*time.Hour, clock.Now, log),
	}
}

// enroll adds a user and registers one passkey with the given credential id.
func (e *testEnv) enroll(t *testing.T, name, credentialID string) (*models.User, *models.Credential) {
	t.Helper()
	ctx := context.Background()

	en, err := e.users.AddUser(ctx, name, false)
	require.NoError(t, err)

	ch, err := e.ceremony.StartRegistration(ctx, en.Token)
	require.NoError(t, err)

	cred, err := e.ceremony.FinishRegistration(ctx, ch.ChallengeID, en.Token,
		fakeResponse{CredentialID: credentialID}.bytes(t))
	require.NoError(t, err)
	return en.User, cred
}

func (e *testEnv) stage(t *testing.T, content string) *os.File {
	t.Helper()
	f, err := os.CreateTemp(e.staging, "upload-*")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}
