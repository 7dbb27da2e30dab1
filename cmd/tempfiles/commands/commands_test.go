package commands

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fredemmott/TempFiles/internal/logging"
	"github.com/fredemmott/TempFiles/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabaseDSN = "file:" + filepath.Join(dir, "tempfiles.db") + "?_pragma=foreign_keys(1)"
	cfg.UploadRoot = filepath.Join(dir, "uploads")
	cfg.StagingDir = filepath.Join(dir, "staging")
	cfg.PrfSeedPath = filepath.Join(dir, "prf_seed.key")

	origLoad, origLogger := loadConfig, newLogger
	t.Cleanup(func() { loadConfig, newLogger = origLoad, origLogger })
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	newLogger = func(bool) logging.Logger { return logging.Discard() }
	return cfg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAddUser(t *testing.T) {
	useTestConfig(t)

	out, err := run(t, "add-user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "User:  alice")
	assert.Contains(t, out, "Token: ")

	_, err = run(t, "add-user", "alice")
	assert.Error(t, err)

	_, err = run(t, "add-user", "alice", "--force")
	assert.NoError(t, err)

	_, err = run(t, "add-user")
	assert.Error(t, err)
}

func TestAddUser_IgnoresConfigFlags(t *testing.T) {
	useTestConfig(t)

	out, err := run(t, "add-user", "-d", "ignored.db", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "User:  bob")
}

func TestInitAndPrune(t *testing.T) {
	cfg := useTestConfig(t)

	out, err := run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized.")
	assert.FileExists(t, cfg.PrfSeedPath)

	out, err = run(t, "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 files, 0 directories and 0 rows")
}

func TestConfigError(t *testing.T) {
	useTestConfig(t)
	loadConfig = func() (*config.Config, error) { return nil, errors.New("invalid config") }

	_, err := run(t, "prune")
	assert.EqualError(t, err, "invalid config")
}
