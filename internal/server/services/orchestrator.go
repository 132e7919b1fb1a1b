package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/auth"
	"github.com/dmitrijs2005/mediavault/internal/server/events"
	"github.com/dmitrijs2005/mediavault/internal/server/jobqueue"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediavault/internal/server/transcode"
)

// Orchestrator drives the transcode lifecycle of media items: it commits
// sources, fans them out into per-codec jobs and folds worker reports back
// into item state.
//
// Worker reports carry the source id they were issued for. Every handler
// locks the item row and drops the report when that source is no longer
// current or the job has left the in-flight ledger.
type Orchestrator struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	queue       jobqueue.Queue
	opener      AdapterOpener
	events      events.Publisher
	settings    transcode.Settings
	jwtSecret   []byte
	tokenTTL    time.Duration
	log         logging.Logger
}

// NewOrchestrator wires the job queue, adapters and event publisher for source processing.
func NewOrchestrator(db *sql.DB, m repomanager.RepositoryManager, q jobqueue.Queue, opener AdapterOpener,
	pub events.Publisher, settings transcode.Settings, jwtSecret []byte, tokenTTL time.Duration, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		db:          db,
		repomanager: m,
		queue:       q,
		opener:      opener,
		events:      pub,
		settings:    settings,
		jwtSecret:   jwtSecret,
		tokenTTL:    tokenTTL,
		log:         log.With("module", "orchestrator"),
	}
}

// CommitSource records a verified source for its item and enqueues its jobs.
// It runs on the caller's transaction.
func (o *Orchestrator) CommitSource(ctx context.Context, tx dbx.DBTX, file *models.StoredFile, uploaderID string) ([]*models.TranscodeJob, error) {
	item, err := o.repomanager.Media(tx).GetForUpdate(ctx, file.MediaID)
	if err != nil {
		return nil, fmt.Errorf("error loading media %s: %w", file.MediaID, err)
	}
	if item.SourceFileID != "" {
		return nil, common.ErrSourceAlreadyExists
	}

	file.Kind = models.FileSource
	if err := o.repomanager.Files(tx).Create(ctx, file); err != nil {
		return nil, err
	}
	if err := o.repomanager.Media(tx).SetSource(ctx, item.ID, file.ID, uploaderID); err != nil {
		return nil, err
	}
	return o.EnqueueJobs(ctx, tx, file, uploaderID)
}

// EnqueueJobs creates one job per enabled codec in priority order, records
// them as in flight and submits them as a single batch.
func (o *Orchestrator) EnqueueJobs(ctx context.Context, tx dbx.DBTX, source *models.StoredFile, uploaderID string) ([]*models.TranscodeJob, error) {
	plan, err := o.settings.Plan()
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.TranscodeJob, 0, len(plan))
	for _, p := range plan {
		j := &models.TranscodeJob{
			ID:              common.NewID(),
			MediaID:         source.MediaID,
			SourceFileID:    source.ID,
			Codec:           p.Codec,
			IsPrimary:       p.Primary,
			Params:          p.Params,
			Ladder:          p.Ladder,
			SourcePath:      source.Path,
			SourceBackendID: source.BackendID,
			UploaderID:      uploaderID,
		}
		j.CallbackToken, err = auth.GenerateJobToken(models.JobContext{
			JobID: j.ID, MediaID: j.MediaID, SourceFileID: j.SourceFileID,
		}, o.jwtSecret, o.tokenTTL)
		if err != nil {
			return nil, fmt.Errorf("error generating job token: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := o.repomanager.Jobs(tx).Add(ctx, jobs); err != nil {
		return nil, err
	}
	if err := o.queue.Submit(ctx, tx, jobs); err != nil {
		return nil, err
	}

	o.log.Info(ctx, "transcode jobs enqueued", "media_id", source.MediaID,
		"source_file_id", source.ID, "codecs", jobqueue.Describe(jobs))
	return jobs, nil
}

// current locks the item and the job a report is about. It returns nil when
// the report is stale.
func (o *Orchestrator) current(ctx context.Context, tx dbx.DBTX, jc models.JobContext) (*models.MediaItem, *models.TranscodeJob, error) {
	item, err := o.repomanager.Media(tx).GetForUpdate(ctx, jc.MediaID)
	if errors.Is(err, common.ErrorNotFound) {
		o.log.Warn(ctx, "dropping report for unknown media", "job_id", jc.JobID, "media_id", jc.MediaID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if item.SourceFileID == "" || item.SourceFileID != jc.SourceFileID {
		o.log.Warn(ctx, "dropping stale report", "job_id", jc.JobID, "media_id", jc.MediaID,
			"source_file_id", jc.SourceFileID, "current_source", item.SourceFileID)
		return nil, nil, nil
	}
	job, err := o.repomanager.Jobs(tx).Get(ctx, jc.JobID)
	if errors.Is(err, common.ErrorNotFound) {
		o.log.Warn(ctx, "dropping report for job no longer in flight", "job_id", jc.JobID, "media_id", jc.MediaID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if job.MediaID != item.ID || job.SourceFileID != item.SourceFileID {
		o.log.Warn(ctx, "dropping report with mismatched job", "job_id", jc.JobID, "media_id", jc.MediaID)
		return nil, nil, nil
	}
	return item, job, nil
}

// ReportRendition records one produced rendition. The first rendition of a
// source makes the item public and fires source-ready exactly once. A nil
// file with a nil error means the report was stale and dropped.
func (o *Orchestrator) ReportRendition(ctx context.Context, jc models.JobContext, r models.Rendition) (*models.StoredFile, error) {
	var (
		file    *models.StoredFile
		item    *models.MediaItem
		flipped bool
	)

	err := dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var job *models.TranscodeJob
		var err error
		item, job, err = o.current(ctx, tx, jc)
		if err != nil || item == nil {
			return err
		}

		codec := r.Codec
		if codec == "" {
			codec = job.Codec
		}
		file = &models.StoredFile{
			ID:        common.NewID(),
			Kind:      models.FileStream,
			BackendID: r.BackendID,
			Path:      r.Path,
			FolderID:  r.FolderID,
			Quality:   r.Quality,
			Codec:     codec,
			Size:      r.Size,
			MimeType:  r.MimeType,
			MediaID:   item.ID,
			JobID:     job.ID,
		}
		if err := o.repomanager.Files(tx).Create(ctx, file); err != nil {
			return err
		}
		if err := o.repomanager.Backends(tx).AddUsage(ctx, r.BackendID, r.Size, 1); err != nil {
			return err
		}

		media := o.repomanager.Media(tx)
		if _, err := media.MarkReady(ctx, item.ID, item.SourceFileID); err != nil {
			return err
		}
		flipped, err = media.MarkPublic(ctx, item.ID, item.SourceFileID)
		if err != nil {
			return err
		}
		if flipped && item.Kind == models.MediaEpisode {
			return media.RecountPublicEpisodes(ctx, item.ShowID)
		}
		return nil
	})
	if err != nil || file == nil {
		return nil, err
	}

	o.events.Publish(ctx, models.Event{Type: models.EventRenditionAdded, UserID: item.UploaderID, MediaID: item.ID, FileID: file.ID})
	if flipped {
		o.log.Info(ctx, "source ready", "media_id", item.ID, "source_file_id", item.SourceFileID)
		o.events.Publish(ctx, models.Event{Type: models.EventSourceReady, MediaID: item.ID, FileID: item.SourceFileID})
	}
	return file, nil
}

// JobDone handles the done and cancelled outcomes of a job.
func (o *Orchestrator) JobDone(ctx context.Context, out models.JobOutcome) error {
	if out.Kind == models.OutcomeFailed {
		return o.JobFailed(ctx, out)
	}

	var (
		job     *models.TranscodeJob
		removed bool
	)
	err := dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		item, j, err := o.current(ctx, tx, out.JobContext)
		if err != nil || item == nil {
			return err
		}
		job = j

		removed, err = o.repomanager.Jobs(tx).Remove(ctx, job.ID)
		if err != nil || !removed {
			return err
		}
		if out.Kind == models.OutcomeDone {
			_, err = o.repomanager.Media(tx).MarkDone(ctx, item.ID, item.SourceFileID)
		}
		return err
	})
	if err != nil || !removed {
		return err
	}

	o.log.Info(ctx, "transcode job finished", "job_id", job.ID, "media_id", job.MediaID,
		"outcome", string(out.Kind), "primary", job.IsPrimary)
	if job.IsPrimary && out.Kind == models.OutcomeDone {
		o.events.Publish(ctx, models.Event{Type: models.EventProcessingSucceeded, UserID: job.UploaderID, MediaID: job.MediaID})
	}
	return nil
}

// JobFailed discards the item's source and renditions after a job failure,
// cancels the job's in-flight siblings with one request and returns the item
// to PENDING so a new source can be uploaded.
func (o *Orchestrator) JobFailed(ctx context.Context, out models.JobOutcome) error {
	var (
		job   *models.TranscodeJob
		files []*models.StoredFile
	)
	err := dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		item, j, err := o.current(ctx, tx, out.JobContext)
		if err != nil || item == nil {
			return err
		}
		job = j

		ids, err := o.repomanager.Jobs(tx).RemoveByMedia(ctx, item.ID)
		if err != nil {
			return err
		}
		siblings := slices.DeleteFunc(ids, func(id string) bool { return id == job.ID })
		if err := o.queue.Cancel(ctx, tx, siblings); err != nil {
			return err
		}

		files, err = o.dropSource(ctx, tx, item)
		return err
	})
	if err != nil || job == nil {
		return err
	}

	o.log.Warn(ctx, "transcode job failed", "job_id", job.ID, "media_id", job.MediaID, "reason", out.Reason)
	o.removeRemote(ctx, files)
	o.events.Publish(ctx, models.Event{Type: models.EventProcessingFailed, UserID: job.UploaderID, MediaID: job.MediaID, Reason: out.Reason})
	return nil
}

// CancelAll withdraws every in-flight job of the item with a single
// cancellation request and deletes its source and renditions.
func (o *Orchestrator) CancelAll(ctx context.Context, mediaID string) error {
	var files []*models.StoredFile
	err := dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		item, err := o.repomanager.Media(tx).GetForUpdate(ctx, mediaID)
		if err != nil {
			return err
		}

		ids, err := o.repomanager.Jobs(tx).RemoveByMedia(ctx, item.ID)
		if err != nil {
			return err
		}
		if err := o.queue.Cancel(ctx, tx, ids); err != nil {
			return err
		}
		if item.SourceFileID == "" {
			return nil
		}

		files, err = o.dropSource(ctx, tx, item)
		return err
	})
	if err != nil {
		return err
	}

	o.removeRemote(ctx, files)
	return nil
}

// DeleteSource is CancelAll for an item that must have a source.
func (o *Orchestrator) DeleteSource(ctx context.Context, mediaID string) error {
	item, err := o.repomanager.Media(o.db).Get(ctx, mediaID)
	if err != nil {
		return err
	}
	if item.SourceFileID == "" {
		return common.ErrSourceNotFound
	}
	o.log.Info(ctx, "deleting source", "media_id", mediaID, "source_file_id", item.SourceFileID)
	return o.CancelAll(ctx, mediaID)
}

// EncodeExistingSource re-runs transcoding from the committed source:
// in-flight jobs are cancelled, existing renditions dropped and a new batch
// enqueued.
func (o *Orchestrator) EncodeExistingSource(ctx context.Context, mediaID string) error {
	var streams []*models.StoredFile
	err := dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		media := o.repomanager.Media(tx)

		item, err := media.GetForUpdate(ctx, mediaID)
		if err != nil {
			return err
		}
		if item.SourceFileID == "" {
			return common.ErrSourceNotFound
		}
		source, err := o.repomanager.Files(tx).Get(ctx, item.SourceFileID)
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrSourceNotFound
		}
		if err != nil {
			return err
		}

		ids, err := o.repomanager.Jobs(tx).RemoveByMedia(ctx, item.ID)
		if err != nil {
			return err
		}
		if err := o.queue.Cancel(ctx, tx, ids); err != nil {
			return err
		}

		streams, err = o.repomanager.Files(tx).DeleteStreams(ctx, item.ID)
		if err != nil {
			return err
		}
		if err := o.releaseUsage(ctx, tx, streams); err != nil {
			return err
		}

		// Detach and reattach the same source to restart the status machine.
		if _, err := media.ResetSource(ctx, item.ID, source.ID); err != nil {
			return err
		}
		if err := media.SetSource(ctx, item.ID, source.ID, item.UploaderID); err != nil {
			return err
		}
		if item.Kind == models.MediaEpisode {
			if err := media.RecountPublicEpisodes(ctx, item.ShowID); err != nil {
				return err
			}
		}

		_, err = o.EnqueueJobs(ctx, tx, source, item.UploaderID)
		return err
	})
	if err != nil {
		return err
	}

	o.removeRemote(ctx, streams)
	return nil
}

// dropSource deletes the item's file records, releases their usage and
// resets the item to PENDING.
func (o *Orchestrator) dropSource(ctx context.Context, tx dbx.DBTX, item *models.MediaItem) ([]*models.StoredFile, error) {
	files, err := o.repomanager.Files(tx).DeleteByMedia(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if err := o.releaseUsage(ctx, tx, files); err != nil {
		return nil, err
	}

	media := o.repomanager.Media(tx)
	if _, err := media.ResetSource(ctx, item.ID, item.SourceFileID); err != nil {
		return nil, err
	}
	if item.Kind == models.MediaEpisode {
		if err := media.RecountPublicEpisodes(ctx, item.ShowID); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// releaseUsage applies one decrement per backend.
func (o *Orchestrator) releaseUsage(ctx context.Context, tx dbx.DBTX, files []*models.StoredFile) error {
	type delta struct{ bytes, files int64 }
	deltas := make(map[string]*delta)
	var order []string
	for _, f := range files {
		d, ok := deltas[f.BackendID]
		if !ok {
			d = &delta{}
			deltas[f.BackendID] = d
			order = append(order, f.BackendID)
		}
		d.bytes += f.Size
		d.files++
	}

	repo := o.repomanager.Backends(tx)
	for _, id := range order {
		if err := repo.AddUsage(ctx, id, -deltas[id].bytes, -deltas[id].files); err != nil {
			return err
		}
	}
	return nil
}

// removeRemote deletes the objects behind already-deleted records. Failures
// are logged; the records are gone either way.
func (o *Orchestrator) removeRemote(ctx context.Context, files []*models.StoredFile) {
	removeRemote(ctx, o.db, o.repomanager, o.opener, o.log, files)
}
