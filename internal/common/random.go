package common

import (
	"crypto/rand"
	"encoding/base64"
)

// RandomBytes returns size bytes read from the system CSPRNG.
func RandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomToken returns size random bytes encoded as unpadded base64url, the
// encoding used for every bearer value the server hands out.
func RandomToken(size int) (string, error) {
	b, err := RandomBytes(size)
	if err != nil {
		return "", err
	}
	return EncodeToken(b), nil
}

func EncodeToken(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeToken(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// WipeByteArray overwrites b with zeros. Nil is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
