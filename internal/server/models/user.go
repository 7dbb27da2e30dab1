// Package models holds the persisted and in-memory entities of the server.
package models

import "time"

// User is an account owner. UUID is the identifier exposed to clients and
// used as the WebAuthn user handle; ID never leaves the server.
type User struct {
	ID        int64
	UUID      string
	UserName  string
	CreatedAt time.Time
}

// Credential is a registered passkey. PublicKey holds the verifier's opaque
// serialized credential material.
type Credential struct {
	ID           int64
	UserID       int64
	CredentialID []byte
	PublicKey    []byte
	CreatedAt    time.Time
}

// RegistrationToken lets its owner register one passkey before ExpiresAt.
type RegistrationToken struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}

// Session is an authenticated bearer identity. Secret is only populated when
// the session is first created.
type Session struct {
	Secret       string
	UserID       int64
	CredentialID int64
	ExpiresAt    time.Time
}
