package models

// MediaKind distinguishes movies from episodes of a show.
type MediaKind string

const (
	MediaMovie   MediaKind = "movie"
	MediaEpisode MediaKind = "episode"
)

// SourceStatus tracks the processing state of an item's source.
type SourceStatus string

const (
	SourcePending    SourceStatus = "PENDING"
	SourceProcessing SourceStatus = "PROCESSING"
	SourceReady      SourceStatus = "READY"
	SourceDone       SourceStatus = "DONE"
)

// PublicStatus tracks whether the item is playable by the public.
type PublicStatus string

const (
	PublicPending    PublicStatus = "PENDING"
	PublicProcessing PublicStatus = "PROCESSING"
	PublicDone       PublicStatus = "DONE"
)

// MediaItem carries the processing-relevant fields of a movie or episode.
//
// SourceStatus is PENDING exactly when SourceFileID is empty. PublicStatus
// is DONE only if a rendition exists or ExternalStreamURL is set.
type MediaItem struct {
	ID                string
	Kind              MediaKind
	ShowID            string
	SourceFileID      string
	SourceStatus      SourceStatus
	PublicStatus      PublicStatus
	ExternalStreamURL string
	// UploaderID is the user who committed the current source.
	UploaderID string
}

// HasExternalStream reports whether the item is playable without owned renditions.
func (m *MediaItem) HasExternalStream() bool {
	return m.ExternalStreamURL != ""
}
