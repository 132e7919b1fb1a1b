package models

import "time"

// EventType names an outbound notification.
type EventType string

const (
	EventRenditionAdded       EventType = "rendition-added"
	EventSourceReady          EventType = "source-ready"
	EventProcessingSucceeded  EventType = "processing-succeeded"
	EventProcessingFailed     EventType = "processing-failed"
	EventRoleCacheInvalidated EventType = "storage-role-cache-invalidated"
)

// Event is delivered to collaborators when processing or storage state changes.
type Event struct {
	Type EventType
	// UserID addresses the event to a single user; empty means broadcast.
	UserID  string
	MediaID string
	Role    Role
	FileID  string
	Reason  string
	At      time.Time
}
