// Package jobqueue hands transcode jobs to the external worker pool through a
// PostgreSQL outbox. Submissions and cancellations are written on the caller's
// DBTX so they commit or roll back with the state change that caused them.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// Payload is the message a worker receives for one job.
type Payload struct {
	JobID           string            `json:"job_id"`
	MediaID         string            `json:"media_id"`
	SourceFileID    string            `json:"source_file_id"`
	SourceBackendID string            `json:"source_backend_id"`
	SourcePath      string            `json:"source_path"`
	Codec           string            `json:"codec"`
	Primary         bool              `json:"primary"`
	Params          map[string]string `json:"params,omitempty"`
	Ladder          []string          `json:"ladder"`
	CallbackToken   string            `json:"callback_token"`
}

type Queue interface {
	// Submit enqueues all jobs as one batch.
	Submit(ctx context.Context, db dbx.DBTX, jobs []*models.TranscodeJob) error
	// Cancel files a single cancellation request covering every id.
	Cancel(ctx context.Context, db dbx.DBTX, jobIDs []string) error
}

type PostgresQueue struct {
	newID func() string
}

func NewPostgresQueue() *PostgresQueue {
	return &PostgresQueue{newID: common.NewID}
}

func payloadOf(j *models.TranscodeJob) Payload {
	return Payload{
		JobID:           j.ID,
		MediaID:         j.MediaID,
		SourceFileID:    j.SourceFileID,
		SourceBackendID: j.SourceBackendID,
		SourcePath:      j.SourcePath,
		Codec:           j.Codec,
		Primary:         j.IsPrimary,
		Params:          j.Params,
		Ladder:          j.Ladder,
		CallbackToken:   j.CallbackToken,
	}
}

func (q *PostgresQueue) Submit(ctx context.Context, db dbx.DBTX, jobs []*models.TranscodeJob) error {
	if len(jobs) == 0 {
		return nil
	}
	args := make([]any, 0, len(jobs)*2)
	for _, j := range jobs {
		body, err := json.Marshal(payloadOf(j))
		if err != nil {
			return fmt.Errorf("encode job %s: %w", j.ID, err)
		}
		args = append(args, j.ID, body)
	}
	query := "INSERT INTO transcode_queue (id, payload) VALUES " + dbx.Placeholders(1, len(jobs), 2)
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Cancel(ctx context.Context, db dbx.DBTX, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(jobIDs)
	if err != nil {
		return fmt.Errorf("encode job ids: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO transcode_cancellations (id, job_ids) VALUES ($1, $2)`,
		q.newID(), body)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Describe is a log-friendly summary of a batch.
func Describe(jobs []*models.TranscodeJob) string {
	codecs := make([]string, len(jobs))
	for i, j := range jobs {
		codecs[i] = j.Codec
	}
	return strings.Join(codecs, ",")
}
