// Package common defines shared constants and sentinel errors used across
// the mediavault server. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
	ErrForbidden  = errors.New("forbidden")

	// Backend adapter errors. ErrBackendUnauthorized never leaves an adapter:
	// it is resolved by the one-shot refresh-and-retry rule.
	ErrBackendRequestFailed = errors.New("backend request failed")
	ErrBackendRateLimited   = errors.New("backend rate limited")
	ErrBackendUnauthorized  = errors.New("backend unauthorized")
	ErrUnsupportedOperation = errors.New("operation not supported by backend")
	ErrUnknownBackendKind   = errors.New("unknown backend kind")

	// Credential vault errors.
	ErrDecryptFailed = errors.New("failed to decrypt backend secret")

	// Registry errors.
	ErrBackendLimitReached      = errors.New("backend limit reached")
	ErrBackendNameTaken         = errors.New("backend name already taken")
	ErrBackendHasFiles          = errors.New("backend still holds files")
	ErrRoleAlreadyAssigned      = errors.New("role already assigned to another backend")
	ErrRoleStorageNotConfigured = errors.New("no storage configured for role")

	// Upload session errors.
	ErrUploadSessionNotFound = errors.New("upload session not found")
	ErrUploadSessionExpired  = errors.New("upload session expired")
	ErrUploadInvalid         = errors.New("uploaded file does not match session")

	// Source lifecycle errors.
	ErrSourceAlreadyExists = errors.New("source already exists")
	ErrSourceNotFound      = errors.New("source not found")

	// Job callback token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// UploadInvalidError reports what the session declared versus what the
// backend actually holds. It matches ErrUploadInvalid via errors.Is.
type UploadInvalidError struct {
	ExpectedName   string
	ExpectedSize   int64
	ExpectedFolder string
	ActualName     string
	ActualSize     int64
	ActualFolder   string
}

func (e *UploadInvalidError) Error() string {
	if e.ExpectedFolder != "" && e.ExpectedFolder != e.ActualFolder {
		return fmt.Sprintf("%s: expected a file in folder %q, got one in %q",
			ErrUploadInvalid, e.ExpectedFolder, e.ActualFolder)
	}
	return fmt.Sprintf("%s: expected %q (%d bytes), got %q (%d bytes)",
		ErrUploadInvalid, e.ExpectedName, e.ExpectedSize, e.ActualName, e.ActualSize)
}

func (e *UploadInvalidError) Unwrap() error { return ErrUploadInvalid }
