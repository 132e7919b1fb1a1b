package models

import "time"

// FileKind distinguishes an uploaded source from a transcoded rendition.
type FileKind string

const (
	FileSource FileKind = "SOURCE"
	FileStream FileKind = "STREAM"
	// FileImage marks an image verified through an upload session; it is not kept in stored_files.
	FileImage FileKind = "IMAGE"
)

// StoredFile is a source or rendition held by a storage backend.
type StoredFile struct {
	ID        string
	Kind      FileKind
	BackendID string
	// Path is the backend-specific object id or path.
	Path string
	// FolderID is the remote container the file lives in, if any.
	FolderID string
	Quality  string
	Codec    string
	Size     int64
	MimeType string
	MediaID  string
	// JobID is set on renditions to the job that produced them.
	JobID     string
	CreatedAt time.Time
}
