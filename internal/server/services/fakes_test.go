package services

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"path"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/backends"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/files"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/media"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectCommits(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

// --- in-memory repositories ---

// store mimics the conditional SQL of the postgres repositories.
type store struct {
	mu sync.Mutex

	backends     map[string]*models.StorageBackend
	backendOrder []string
	sessions     map[string]*models.UploadSession
	files        map[string]*models.StoredFile
	fileOrder    []string
	media        map[string]*models.MediaItem
	shows        map[string]int
	jobs         map[string]*models.TranscodeJob
	jobOrder     []string

	// errs fails the named method, e.g. "Sessions.Delete".
	errs map[string]error
}

func newStore() *store {
	return &store{
		backends: map[string]*models.StorageBackend{},
		sessions: map[string]*models.UploadSession{},
		files:    map[string]*models.StoredFile{},
		media:    map[string]*models.MediaItem{},
		shows:    map[string]int{},
		jobs:     map[string]*models.TranscodeJob{},
		errs:     map[string]error{},
	}
}

func (s *store) err(name string) error { return s.errs[name] }

func (s *store) addBackend(b *models.StorageBackend) *models.StorageBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends[b.ID] = b
	s.backendOrder = append(s.backendOrder, b.ID)
	return b
}

func (s *store) backend(id string) models.StorageBackend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.backends[id]
}

func (s *store) addMedia(m *models.MediaItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.SourceStatus == "" {
		m.SourceStatus = models.SourcePending
	}
	if m.PublicStatus == "" {
		m.PublicStatus = models.PublicPending
	}
	s.media[m.ID] = m
}

func (s *store) item(id string) models.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.media[id]
}

func (s *store) filesOf(mediaID string, kind models.FileKind) []*models.StoredFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StoredFile
	for _, id := range s.fileOrder {
		if f, ok := s.files[id]; ok && f.MediaID == mediaID && (kind == "" || f.Kind == kind) {
			out = append(out, f)
		}
	}
	return out
}

func (s *store) jobsOf(mediaID string) []*models.TranscodeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TranscodeJob
	for _, id := range s.jobOrder {
		if j, ok := s.jobs[id]; ok && j.MediaID == mediaID {
			out = append(out, j)
		}
	}
	return out
}

type fakeManager struct{ s *store }

func (m fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m fakeManager) Backends(dbx.DBTX) backends.Repository      { return fakeBackends{m.s} }
func (m fakeManager) Sessions(dbx.DBTX) sessions.Repository      { return fakeSessions{m.s} }
func (m fakeManager) Files(dbx.DBTX) files.Repository            { return fakeFiles{m.s} }
func (m fakeManager) Media(dbx.DBTX) media.Repository            { return fakeMedia{m.s} }
func (m fakeManager) Jobs(dbx.DBTX) jobs.Repository              { return fakeJobs{m.s} }

type fakeBackends struct{ s *store }

func (r fakeBackends) Create(_ context.Context, b *models.StorageBackend) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.err("Backends.Create"); err != nil {
		return err
	}
	for _, o := range r.s.backends {
		if o.Name == b.Name {
			return common.ErrBackendNameTaken
		}
	}
	c := *b
	r.s.backends[b.ID] = &c
	r.s.backendOrder = append(r.s.backendOrder, b.ID)
	return nil
}

func (r fakeBackends) Get(_ context.Context, id string) (*models.StorageBackend, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.backends[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *b
	return &c, nil
}

func (r fakeBackends) list(match func(*models.StorageBackend) bool) []*models.StorageBackend {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.StorageBackend
	for _, id := range r.s.backendOrder {
		if b, ok := r.s.backends[id]; ok && match(b) {
			c := *b
			out = append(out, &c)
		}
	}
	return out
}

func (r fakeBackends) List(context.Context) ([]*models.StorageBackend, error) {
	return r.list(func(*models.StorageBackend) bool { return true }), nil
}

func (r fakeBackends) ListByRole(_ context.Context, role models.Role) ([]*models.StorageBackend, error) {
	return r.list(func(b *models.StorageBackend) bool { return b.Role == role }), nil
}

func (r fakeBackends) ListExpiring(_ context.Context, before time.Time) ([]*models.StorageBackend, error) {
	return r.list(func(b *models.StorageBackend) bool {
		return b.RefreshToken != "" && (b.Expiry == nil || b.Expiry.Before(before))
	}), nil
}

func (r fakeBackends) Count(context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.backends), nil
}

func (r fakeBackends) Update(_ context.Context, b *models.StorageBackend) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.backends[b.ID]
	if !ok {
		return common.ErrorNotFound
	}
	cur.Name, cur.ClientID, cur.EncryptedClientSecret = b.Name, b.ClientID, b.EncryptedClientSecret
	cur.RootFolderID, cur.RootFolderName, cur.PublicURL = b.RootFolderID, b.RootFolderName, b.PublicURL
	return nil
}

func (r fakeBackends) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.backends[id]
	if !ok {
		return common.ErrorNotFound
	}
	if b.FileCount > 0 {
		return common.ErrBackendHasFiles
	}
	delete(r.s.backends, id)
	return nil
}

func (r fakeBackends) SetRole(_ context.Context, id string, role models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if role.IsImage() {
		for _, o := range r.s.backends {
			if o.ID != id && o.Role == role {
				return common.ErrRoleAlreadyAssigned
			}
		}
	}
	b, ok := r.s.backends[id]
	if !ok {
		return common.ErrorNotFound
	}
	b.Role = role
	return nil
}

func (r fakeBackends) ClearRole(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.backends[id]
	if !ok {
		return common.ErrorNotFound
	}
	if b.FileCount > 0 {
		return common.ErrBackendHasFiles
	}
	b.Role = models.RoleNone
	return nil
}

func (r fakeBackends) SaveToken(_ context.Context, id string, t *models.OAuthToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.backends[id]
	if !ok {
		return common.ErrorNotFound
	}
	b.ApplyToken(t)
	return nil
}

func (r fakeBackends) AddUsage(_ context.Context, id string, bytes, n int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.err("Backends.AddUsage"); err != nil {
		return err
	}
	b, ok := r.s.backends[id]
	if !ok {
		return common.ErrorNotFound
	}
	b.UsedBytes = max(b.UsedBytes+bytes, 0)
	b.FileCount = max(b.FileCount+n, 0)
	return nil
}

func (r fakeBackends) IncrementSelection(_ context.Context, id string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.backends[id]
	if !ok {
		return 0, common.ErrorNotFound
	}
	b.SelectionCount++
	return b.SelectionCount, nil
}

type fakeSessions struct{ s *store }

func (r fakeSessions) Create(_ context.Context, us *models.UploadSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.err("Sessions.Create"); err != nil {
		return err
	}
	c := *us
	r.s.sessions[us.ID] = &c
	return nil
}

func (r fakeSessions) Get(_ context.Context, id string) (*models.UploadSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	us, ok := r.s.sessions[id]
	if !ok {
		return nil, common.ErrUploadSessionNotFound
	}
	c := *us
	return &c, nil
}

func (r fakeSessions) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.err("Sessions.Delete"); err != nil {
		return err
	}
	if _, ok := r.s.sessions[id]; !ok {
		return common.ErrUploadSessionNotFound
	}
	delete(r.s.sessions, id)
	return nil
}

func (r fakeSessions) ListExpired(_ context.Context, now time.Time) ([]*models.UploadSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.UploadSession
	for _, us := range r.s.sessions {
		if !us.ExpiresAt.After(now) {
			c := *us
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeFiles struct{ s *store }

func (r fakeFiles) Create(_ context.Context, f *models.StoredFile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.err("Files.Create"); err != nil {
		return err
	}
	c := *f
	r.s.files[f.ID] = &c
	r.s.fileOrder = append(r.s.fileOrder, f.ID)
	return nil
}

func (r fakeFiles) Get(_ context.Context, id string) (*models.StoredFile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *f
	return &c, nil
}

func (r fakeFiles) ListByMedia(_ context.Context, mediaID string) ([]*models.StoredFile, error) {
	return r.s.filesOf(mediaID, ""), nil
}

func (r fakeFiles) deleteWhere(mediaID string, kind models.FileKind) []*models.StoredFile {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.StoredFile
	for _, id := range r.s.fileOrder {
		f, ok := r.s.files[id]
		if ok && f.MediaID == mediaID && (kind == "" || f.Kind == kind) {
			out = append(out, f)
			delete(r.s.files, id)
		}
	}
	return out
}

func (r fakeFiles) DeleteByMedia(_ context.Context, mediaID string) ([]*models.StoredFile, error) {
	return r.deleteWhere(mediaID, ""), nil
}

func (r fakeFiles) DeleteStreams(_ context.Context, mediaID string) ([]*models.StoredFile, error) {
	return r.deleteWhere(mediaID, models.FileStream), nil
}

type fakeMedia struct{ s *store }

func (r fakeMedia) Get(_ context.Context, id string) (*models.MediaItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.media[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *m
	return &c, nil
}

func (r fakeMedia) GetForUpdate(ctx context.Context, id string) (*models.MediaItem, error) {
	return r.Get(ctx, id)
}

func (r fakeMedia) SetSource(_ context.Context, id, sourceFileID, uploaderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.s.media[id]
	if m == nil || m.SourceFileID != "" {
		return common.ErrSourceAlreadyExists
	}
	m.SourceFileID, m.SourceStatus, m.UploaderID = sourceFileID, models.SourceProcessing, uploaderID
	if !(m.PublicStatus == models.PublicDone && m.HasExternalStream()) {
		m.PublicStatus = models.PublicProcessing
	}
	return nil
}

func (r fakeMedia) with(id, src string, fn func(m *models.MediaItem) bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m := r.s.media[id]
	if m == nil || m.SourceFileID != src {
		return false, nil
	}
	return fn(m), nil
}

func (r fakeMedia) MarkReady(_ context.Context, id, src string) (bool, error) {
	return r.with(id, src, func(m *models.MediaItem) bool {
		if m.SourceStatus != models.SourceProcessing {
			return false
		}
		m.SourceStatus = models.SourceReady
		return true
	})
}

func (r fakeMedia) MarkPublic(_ context.Context, id, src string) (bool, error) {
	return r.with(id, src, func(m *models.MediaItem) bool {
		if m.PublicStatus == models.PublicDone {
			return false
		}
		m.PublicStatus = models.PublicDone
		return true
	})
}

func (r fakeMedia) MarkDone(_ context.Context, id, src string) (bool, error) {
	return r.with(id, src, func(m *models.MediaItem) bool {
		m.SourceStatus = models.SourceDone
		return true
	})
}

func (r fakeMedia) ResetSource(_ context.Context, id, src string) (bool, error) {
	return r.with(id, src, func(m *models.MediaItem) bool {
		m.SourceFileID, m.SourceStatus, m.UploaderID = "", models.SourcePending, ""
		m.PublicStatus = models.PublicPending
		if m.HasExternalStream() {
			m.PublicStatus = models.PublicDone
		}
		return true
	})
}

func (r fakeMedia) RecountPublicEpisodes(_ context.Context, showID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, m := range r.s.media {
		if m.Kind == models.MediaEpisode && m.ShowID == showID && m.PublicStatus == models.PublicDone {
			n++
		}
	}
	r.s.shows[showID] = n
	return nil
}

type fakeJobs struct{ s *store }

func (r fakeJobs) Add(_ context.Context, js []*models.TranscodeJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range js {
		c := *j
		r.s.jobs[j.ID] = &c
		r.s.jobOrder = append(r.s.jobOrder, j.ID)
	}
	return nil
}

func (r fakeJobs) Get(_ context.Context, id string) (*models.TranscodeJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *j
	return &c, nil
}

func (r fakeJobs) Remove(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.jobs[id]
	delete(r.s.jobs, id)
	return ok, nil
}

func (r fakeJobs) ListByMedia(_ context.Context, mediaID string) ([]*models.TranscodeJob, error) {
	return r.s.jobsOf(mediaID), nil
}

func (r fakeJobs) RemoveByMedia(_ context.Context, mediaID string) ([]string, error) {
	var ids []string
	for _, j := range r.s.jobsOf(mediaID) {
		ids = append(ids, j.ID)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		delete(r.s.jobs, id)
	}
	return ids, nil
}

// --- collaborators ---

type fakeAdapter struct {
	mu sync.Mutex

	remote         map[string]*storage.RemoteFile
	findErr        error
	sessionErr     error
	uploads        map[string][]byte
	deleted        []string
	folders        []string
	deletedFolders []string
	refreshErr     error
	refreshed      int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{remote: map[string]*storage.RemoteFile{}, uploads: map[string][]byte{}}
}

func (a *fakeAdapter) Upload(_ context.Context, r io.Reader, target, _ string) (*storage.UploadResult, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads[target] = buf.Bytes()
	return &storage.UploadResult{RemotePath: target, Size: n}, nil
}

func (a *fakeAdapter) Delete(_ context.Context, p string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, p)
	return nil
}

func (a *fakeAdapter) CreateUploadSession(_ context.Context, req storage.SessionRequest) (*storage.UploadTarget, error) {
	if a.sessionErr != nil {
		return nil, a.sessionErr
	}
	return &storage.UploadTarget{UploadURL: "https://upload.example/" + path.Join(req.Folder, req.Filename)}, nil
}

func (a *fakeAdapter) FindFile(_ context.Context, id string) (*storage.RemoteFile, error) {
	if a.findErr != nil {
		return nil, a.findErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.remote[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return f, nil
}

func (a *fakeAdapter) CreateFolder(_ context.Context, name, parent string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := path.Join(parent, name)
	a.folders = append(a.folders, id)
	return id, nil
}

func (a *fakeAdapter) DeleteFolder(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletedFolders = append(a.deletedFolders, id)
	return nil
}

func (a *fakeAdapter) RefreshToken(context.Context) (*models.OAuthToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	a.refreshed++
	return &models.OAuthToken{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}, nil
}

func (a *fakeAdapter) PublicURL(p string) string { return "https://cdn.example/" + p }

type fakeOpener struct {
	mu       sync.Mutex
	adapters map[string]*fakeAdapter
	opens    int
	opened   []*models.StorageBackend
	err      error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{adapters: map[string]*fakeAdapter{}}
}

func (o *fakeOpener) adapter(backendID string) *fakeAdapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.adapters[backendID]
	if !ok {
		a = newFakeAdapter()
		o.adapters[backendID] = a
	}
	return a
}

func (o *fakeOpener) Open(_ context.Context, b *models.StorageBackend) (storage.Adapter, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.mu.Lock()
	o.opens++
	o.opened = append(o.opened, b)
	o.mu.Unlock()
	return o.adapter(b.ID), nil
}

func (o *fakeOpener) Supports(kind models.BackendKind) bool { return kind != "ftp" }

type fakeQueue struct {
	mu        sync.Mutex
	submitted [][]*models.TranscodeJob
	cancels   [][]string
	err       error
}

func (q *fakeQueue) Submit(_ context.Context, _ dbx.DBTX, js []*models.TranscodeJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.submitted = append(q.submitted, js)
	return nil
}

func (q *fakeQueue) Cancel(_ context.Context, _ dbx.DBTX, ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(ids) > 0 {
		q.cancels = append(q.cancels, append([]string(nil), ids...))
	}
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *fakePublisher) Publish(_ context.Context, e models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePublisher) ofType(t models.EventType) []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type plainSealer struct{}

func (plainSealer) Encrypt(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return []byte("sealed:" + s), nil
}

var nopLog = logging.Nop()
