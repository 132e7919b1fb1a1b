// Package models defines server-side data models persisted in the database.
package models

import "time"

// BackendKind enumerates the supported storage providers.
type BackendKind string

const (
	KindGoogleDrive BackendKind = "gdrive"
	KindOneDrive    BackendKind = "onedrive"
	KindDropbox     BackendKind = "dropbox"
	KindImgur       BackendKind = "imgur"
	KindS3          BackendKind = "s3"
	KindGCS         BackendKind = "gcs"
)

// Role is the logical purpose a backend instance currently serves.
type Role string

const (
	RoleNone     Role = ""
	RoleSource   Role = "source"
	RolePoster   Role = "poster"
	RoleBackdrop Role = "backdrop"
	RoleSubtitle Role = "subtitle"
)

// IsImage reports whether the role is pinned to a single backend instance.
func (r Role) IsImage() bool {
	return r == RolePoster || r == RoleBackdrop || r == RoleSubtitle
}

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	return r == RoleSource || r.IsImage()
}

// StorageBackend is one registered storage instance and its credentials.
//
// ClientSecret is never persisted; it is filled in by the credential vault
// from EncryptedClientSecret and SecretDecrypted memoizes that for the
// lifetime of this in-memory value.
type StorageBackend struct {
	ID   string
	Kind BackendKind
	Name string
	Role Role

	ClientID              string
	EncryptedClientSecret []byte
	ClientSecret          string
	SecretDecrypted       bool

	AccessToken  string
	RefreshToken string
	// Expiry is nil exactly when AccessToken is empty.
	Expiry *time.Time

	RootFolderID   string
	RootFolderName string
	PublicURL      string

	UsedBytes      int64
	FileCount      int64
	SelectionCount int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenExpired reports whether the access token is missing or stale at now.
func (b *StorageBackend) TokenExpired(now time.Time) bool {
	return b.AccessToken == "" || b.Expiry == nil || !b.Expiry.After(now)
}

// ApplyToken copies a freshly issued token pair onto b. An empty refresh
// token keeps the current one, as most providers only rotate it occasionally.
func (b *StorageBackend) ApplyToken(t *OAuthToken) {
	b.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		b.RefreshToken = t.RefreshToken
	}
	expiry := t.Expiry
	b.Expiry = &expiry
}

// OAuthToken is the result of a token refresh.
type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}
