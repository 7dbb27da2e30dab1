package models

import "time"

// BlobMeta holds the client-supplied parameters of an encrypted upload. The
// crypto fields are passed through unread.
type BlobMeta struct {
	Salt              string
	FilenameIV        string
	DataIV            string
	EncryptedFilename string
	// BindToCredential restricts the blob to the uploading session's passkey.
	BindToCredential   bool
	DownloadsRemaining *int64
	ExpiresAt          *time.Time
}

// Blob is a metadata row. A nil Salt marks the row as tombstoned.
type Blob struct {
	UUID               string
	UserID             int64
	CredentialID       *int64
	Salt               *string
	FilenameIV         string
	DataIV             string
	EncryptedFilename  string
	CreatedAt          time.Time
	DownloadsRemaining *int64
	ExpiresAt          *time.Time
}

// Tombstoned reports whether the row has been logically deleted.
func (b *Blob) Tombstoned() bool {
	return b.Salt == nil
}

// Live reports whether the blob may still be downloaded at now.
func (b *Blob) Live(now time.Time) bool {
	if b.Tombstoned() {
		return false
	}
	if b.DownloadsRemaining != nil && *b.DownloadsRemaining < 1 {
		return false
	}
	if b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
		return false
	}
	return true
}
