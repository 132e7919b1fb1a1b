package models

import "time"

// TranscodeJob is one codec's worth of work handed to the external worker pool.
type TranscodeJob struct {
	ID           string
	MediaID      string
	SourceFileID string
	Codec        string
	IsPrimary    bool
	// Params are the per-codec encode settings.
	Params map[string]string
	// Ladder lists the quality tiers to produce, highest first.
	Ladder []string
	// SourcePath and SourceBackendID tell the worker where to read the source.
	SourcePath      string
	SourceBackendID string
	// CallbackToken authenticates the worker's reports for this job.
	CallbackToken string
	UploaderID    string
	CreatedAt     time.Time
}

// OutcomeKind tags a job outcome.
type OutcomeKind string

const (
	OutcomeDone      OutcomeKind = "done"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// JobContext identifies which job and which source a worker report is about.
// Reports whose SourceFileID no longer matches the item's source are stale.
type JobContext struct {
	JobID        string
	MediaID      string
	SourceFileID string
}

// JobOutcome is the terminal report of a job.
type JobOutcome struct {
	JobContext
	Kind   OutcomeKind
	Reason string
}

// Rendition is one produced quality/codec variant reported by a worker.
type Rendition struct {
	BackendID string
	Path      string
	FolderID  string
	Quality   string
	Codec     string
	Size      int64
	MimeType  string
}
