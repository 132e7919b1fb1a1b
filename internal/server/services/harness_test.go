package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/transcode"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t        *testing.T
	db       *sql.DB
	mock     sqlmock.Sqlmock
	st       *store
	opener   *fakeOpener
	queue    *fakeQueue
	pub      *fakePublisher
	cache    *RoleCache
	selector *Selector
	orch     *Orchestrator
	sessions *SessionManager
	registry *Registry
	images   *ImageService
}

var jwtSecret = []byte("job-secret")

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, mock := newSQLMockDB(t)
	h := &harness{
		t:      t,
		db:     db,
		mock:   mock,
		st:     newStore(),
		opener: newFakeOpener(),
		queue:  &fakeQueue{},
		pub:    &fakePublisher{},
		cache:  NewRoleCache(time.Hour),
	}
	m := fakeManager{h.st}
	settings := transcode.Settings{Codecs: transcode.H264 | transcode.HEVC | transcode.VP9, Profiles: transcode.DefaultProfiles()}

	h.selector = NewSelector(db, m, h.opener, h.cache)
	h.orch = NewOrchestrator(db, m, h.queue, h.opener, h.pub, settings, jwtSecret, time.Hour, nopLog)
	h.sessions = NewSessionManager(db, m, h.selector, h.opener, h.orch, 24*time.Hour, nopLog)
	h.registry = NewRegistry(db, m, plainSealer{}, h.opener, h.cache, h.pub, 3, nopLog)
	h.images = NewImageService(db, m, h.selector, nopLog)
	return h
}

func (h *harness) verify() {
	h.t.Helper()
	require.NoError(h.t, h.mock.ExpectationsWereMet())
}

// committed puts a movie with a committed source into the store and returns
// the source and its jobs.
func (h *harness) committed(mediaID string) (*models.StoredFile, []*models.TranscodeJob) {
	h.t.Helper()
	if _, ok := h.st.media[mediaID]; !ok {
		h.st.addMedia(&models.MediaItem{ID: mediaID, Kind: models.MediaMovie})
	}
	if _, ok := h.st.backends["src"]; !ok {
		h.st.addBackend(&models.StorageBackend{ID: "src", Kind: models.KindGoogleDrive, Name: "src", Role: models.RoleSource})
	}
	src := &models.StoredFile{
		ID: "file-" + mediaID, BackendID: "src", Path: "remote-" + mediaID,
		FolderID: "folder-" + mediaID, Size: 1000, MediaID: mediaID,
	}
	jobs, err := h.orch.CommitSource(context.Background(), h.db, src, "u1")
	require.NoError(h.t, err)
	require.NoError(h.t, h.st.backendsAddUsage("src", src.Size))
	return src, jobs
}

func (s *store) backendsAddUsage(id string, size int64) error {
	return fakeBackends{s}.AddUsage(context.Background(), id, size, 1)
}

func jobContext(j *models.TranscodeJob) models.JobContext {
	return models.JobContext{JobID: j.ID, MediaID: j.MediaID, SourceFileID: j.SourceFileID}
}
