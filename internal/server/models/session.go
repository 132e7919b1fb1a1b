package models

import "time"

// UploadSession authorizes one client-direct upload to a backend. It is
// deleted on successful verification or reclaimed by the expiry sweep.
type UploadSession struct {
	ID        string
	Filename  string
	Size      int64
	MimeType  string
	UserID    string
	BackendID string
	Role      Role
	// MediaID is the movie or episode the uploaded source is for.
	MediaID string
	// FolderID is the remote folder created to contain this upload.
	FolderID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *UploadSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
