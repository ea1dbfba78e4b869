// Package common defines shared constants and sentinel errors used across
// server and client layers of FileVault. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Session errors.
	ErrMissingSessionName    = errors.New("session_name is missing from request input")
	ErrSessionNotInitialized = errors.New("session is not initialized")
	ErrSessionExists         = errors.New("session already exists")
	ErrSessionExpired        = errors.New("session timed out")
	ErrInvalidToken          = errors.New("invalid token")

	// File store errors.
	ErrFileStoreExists       = errors.New("file store already exists")
	ErrFileStoreDNE          = errors.New("file store does not exist")
	ErrFailedToWriteMetadata = errors.New("failed to write metadata")
	ErrInvalidPassword       = errors.New("invalid password on session")
	ErrInvalidFileID         = errors.New("invalid file id")
	ErrInvalidTag            = errors.New("tag does not exist")

	// Request validation errors.
	ErrNoFile         = errors.New("no file attached")
	ErrNoJSONMetadata = errors.New("no json metadata attached")
	ErrInvalidRequest = errors.New("invalid request")

	// Upload and job errors.
	ErrFileUpload           = errors.New("file upload failed")
	ErrFileIsBeingEncrypted = errors.New("file is being encrypted")
	ErrFileIsBeingDecrypted = errors.New("file is being decrypted")
	ErrJobFailed            = errors.New("background job failed")
)

// InvalidFileID reports an unknown file id.
func InvalidFileID(id string) error {
	return fmt.Errorf("%w: %s", ErrInvalidFileID, id)
}

// InvalidTag reports a tag that is not part of the document.
func InvalidTag(tag string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTag, tag)
}

// SizeMismatch reports a finished upload whose size differs from the declared one.
func SizeMismatch(want, got int64) error {
	return fmt.Errorf("%w: size mismatch: declared %d bytes, received %d", ErrFileUpload, want, got)
}
