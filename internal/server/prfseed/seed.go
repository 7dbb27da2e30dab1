// Package prfseed manages the server's PRF seed. Clients evaluate the
// passkey PRF extension over a salt derived from it, so the seed must stay
// stable across restarts.
package prfseed

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fredemmott/TempFiles/internal/common"
	"golang.org/x/crypto/hkdf"
)

const (
	SeedSize = 32
	SaltSize = 32

	info = "tempfiles prf salt v1"
)

var ErrBadSeed = errors.New("prfseed: seed file has the wrong size")

// LoadOrCreate reads the seed at path, creating it with 0600 permissions on
// first use.
func LoadOrCreate(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != SeedSize {
			return nil, fmt.Errorf("%w: %s has %d bytes", ErrBadSeed, path, len(seed))
		}
		return seed, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	seed, err = common.RandomBytes(SeedSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return LoadOrCreate(path)
		}
		return nil, err
	}
	if _, err := f.Write(seed); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return seed, nil
}

// Salt derives the public PRF salt from seed.
func Salt(seed []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(info)), salt); err != nil {
		return nil, err
	}
	return salt, nil
}
