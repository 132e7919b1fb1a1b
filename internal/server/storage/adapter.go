// Package storage defines the uniform contract every storage backend adapter
// implements, plus the shared machinery adapters are built from: the
// authorized-call helper with its one-shot refresh-and-retry rule, the
// bounded retry budget for best-effort calls, the HTTP response mapper and
// the OAuth refresh call.
package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// UploadResult describes an object created by Adapter.Upload.
type UploadResult struct {
	RemotePath string
	Size       int64
	// URL is a public link to the object when the backend can produce one.
	URL string
}

// SessionRequest asks a backend for a client-direct resumable upload.
type SessionRequest struct {
	Filename string
	// Folder is the backend container the upload lands in; empty means the backend root.
	Folder   string
	Size     int64
	MimeType string
}

// UploadTarget is where a client sends the bytes of a resumable upload.
type UploadTarget struct {
	UploadURL string
	BackendID string
}

// RemoteFile is what a backend reports about a stored object.
type RemoteFile struct {
	ID   string
	Name string
	Size int64
	// Parent is the containing folder in the form CreateFolder returns it,
	// empty at the backend root.
	Parent string
}

// Adapter is implemented once per backend kind.
//
// Errors are reported with the sentinels of package common: ErrorNotFound,
// ErrBackendRateLimited, ErrBackendRequestFailed and ErrUnsupportedOperation.
// ErrBackendUnauthorized never escapes an adapter.
type Adapter interface {
	// Upload creates a remote object at targetPath ("<folder>/<name>" or "<name>").
	Upload(ctx context.Context, r io.Reader, targetPath, mimeType string) (*UploadResult, error)
	// Delete removes an object. A missing object is not an error.
	Delete(ctx context.Context, path string) error
	CreateUploadSession(ctx context.Context, req SessionRequest) (*UploadTarget, error)
	FindFile(ctx context.Context, idOrPath string) (*RemoteFile, error)
	// CreateFolder returns the id of a new container under parent (root when empty).
	CreateFolder(ctx context.Context, name, parent string) (string, error)
	// DeleteFolder removes a container and everything below it. A missing folder is not an error.
	DeleteFolder(ctx context.Context, id string) error
	// RefreshToken obtains a new token pair and persists it.
	RefreshToken(ctx context.Context) (*models.OAuthToken, error)
	// PublicURL builds a playback or display link for a stored object.
	PublicURL(path string) string
}

// TokenSaver persists refreshed tokens. Implementations also invalidate any
// cache keyed by the backend's role.
type TokenSaver interface {
	SaveToken(ctx context.Context, b *models.StorageBackend, t *models.OAuthToken) error
}

// KeyParent returns the prefix folder of an object key, "" for a top-level key.
func KeyParent(key string) string {
	dir := path.Dir(strings.TrimLeft(key, "/"))
	if dir == "." {
		return ""
	}
	return dir
}
