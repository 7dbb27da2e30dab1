package services

import (
	"context"
	"testing"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_AddUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	en, err := env.users.AddUser(ctx, "  alice ", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", en.User.UserName)
	assert.NotEmpty(t, en.User.UUID)
	assert.Equal(t, env.clock.Now().Add(7*24*time.Hour), en.ExpiresAt)

	raw, err := common.DecodeToken(en.Token)
	require.NoError(t, err)
	assert.Len(t, raw, common.RegistrationTokenSize)

	_, err = env.users.AddUser(ctx, "alice", false)
	assert.ErrorIs(t, err, common.ErrBadRequest)

	_, err = env.users.AddUser(ctx, " ", false)
	assert.ErrorIs(t, err, common.ErrBadRequest)
}

func TestUserService_AddUserForceReplaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.users.AddUser(ctx, "alice", false)
	require.NoError(t, err)

	second, err := env.users.AddUser(ctx, "alice", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.User.UUID, second.User.UUID)

	_, err = env.ceremony.StartRegistration(ctx, first.Token)
	assert.ErrorIs(t, err, common.ErrNotFound, "old token went with the old user")
	_, err = env.ceremony.StartRegistration(ctx, second.Token)
	assert.NoError(t, err)

	// force on a fresh name just creates it
	_, err = env.users.AddUser(ctx, "bob", true)
	assert.NoError(t, err)
}
