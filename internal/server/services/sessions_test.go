package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionHarness(t *testing.T) *harness {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "src", Kind: models.KindGoogleDrive, Name: "src", Role: models.RoleSource})
	h.st.addMedia(&models.MediaItem{ID: "m1", Kind: models.MediaMovie})
	return h
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "the-big-movie-2024-s1", folderName("The Big Movie (2024).mkv", "s1"))
	assert.Equal(t, "s1", folderName(".mkv", "s1"))
}

func TestCreateSession_Source(t *testing.T) {
	h := sessionHarness(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h.sessions.now = func() time.Time { return now }

	ticket, err := h.sessions.CreateSession(context.Background(), SessionRequest{
		UserID: "u1", Filename: "Movie.mp4", Size: 1000, MimeType: "video/mp4", MediaID: "m1",
	})
	require.NoError(t, err)
	assert.Equal(t, "src", ticket.BackendID)
	assert.Equal(t, now.Add(24*time.Hour), ticket.ExpiresAt)

	folder := "movie-" + ticket.SessionID
	assert.Equal(t, "https://upload.example/"+folder+"/Movie.mp4", ticket.UploadURL)
	assert.Equal(t, []string{folder}, h.opener.adapter("src").folders)

	s := h.st.sessions[ticket.SessionID]
	require.NotNil(t, s)
	assert.Equal(t, models.RoleSource, s.Role)
	assert.Equal(t, folder, s.FolderID)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, int64(1), h.st.backend("src").SelectionCount)
}

func TestCreateSession_Rejections(t *testing.T) {
	h := sessionHarness(t)
	ctx := context.Background()

	_, err := h.sessions.CreateSession(ctx, SessionRequest{UserID: "u1", Filename: "a.mp4", Size: 0, MediaID: "m1"})
	assert.Error(t, err)

	_, err = h.sessions.CreateSession(ctx, SessionRequest{UserID: "u1", Filename: "a.mp4", Size: 1})
	assert.ErrorContains(t, err, "media id is required")

	_, err = h.sessions.CreateSession(ctx, SessionRequest{UserID: "u1", Filename: "a.jpg", Size: 1, Role: models.RolePoster})
	assert.ErrorIs(t, err, common.ErrRoleStorageNotConfigured)

	h.st.media["m1"].SourceFileID = "existing"
	_, err = h.sessions.CreateSession(ctx, SessionRequest{UserID: "u1", Filename: "a.mp4", Size: 1, MediaID: "m1"})
	assert.ErrorIs(t, err, common.ErrSourceAlreadyExists)
}

func TestCreateSession_BackendFailureCleansFolder(t *testing.T) {
	h := sessionHarness(t)
	a := h.opener.adapter("src")
	a.sessionErr = common.ErrBackendRateLimited

	_, err := h.sessions.CreateSession(context.Background(), SessionRequest{UserID: "u1", Filename: "a.mp4", Size: 1, MediaID: "m1"})
	assert.ErrorIs(t, err, common.ErrBackendRateLimited)
	assert.Equal(t, a.folders, a.deletedFolders)
	assert.Empty(t, h.st.sessions)
}

func createSession(t *testing.T, h *harness) *models.UploadSession {
	t.Helper()
	ticket, err := h.sessions.CreateSession(context.Background(), SessionRequest{
		UserID: "u1", Filename: "movie.mp4", Size: 1000, MimeType: "video/mp4", MediaID: "m1",
	})
	require.NoError(t, err)
	return h.st.sessions[ticket.SessionID]
}

func TestVerifyAndCommit_SizeMismatch(t *testing.T) {
	h := sessionHarness(t)
	s := createSession(t, h)
	a := h.opener.adapter("src")
	a.remote["remote-1"] = &storage.RemoteFile{ID: "remote-1", Name: "movie.mp4", Size: 999, Parent: s.FolderID}

	_, err := h.sessions.VerifyAndCommit(context.Background(), s.ID, "remote-1", "u1")
	require.ErrorIs(t, err, common.ErrUploadInvalid)

	var invalid *common.UploadInvalidError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, int64(1000), invalid.ExpectedSize)
	assert.Equal(t, int64(999), invalid.ActualSize)

	assert.NotContains(t, h.st.sessions, s.ID)
	assert.Equal(t, []string{s.FolderID}, a.deletedFolders)
	assert.Empty(t, h.st.files)
	assert.Zero(t, h.st.backend("src").UsedBytes)
	assert.Equal(t, models.SourcePending, h.st.item("m1").SourceStatus)
	h.verify()
}

func TestVerifyAndCommit_NameMismatch(t *testing.T) {
	h := sessionHarness(t)
	s := createSession(t, h)
	h.opener.adapter("src").remote["r"] = &storage.RemoteFile{ID: "r", Name: "other.mp4", Size: 1000, Parent: s.FolderID}

	_, err := h.sessions.VerifyAndCommit(context.Background(), s.ID, "r", "u1")
	assert.ErrorIs(t, err, common.ErrUploadInvalid)
	assert.True(t, strings.Contains(err.Error(), `"other.mp4"`))
	assert.Empty(t, h.st.files)
}

func TestVerifyAndCommit_OutsideSessionFolder(t *testing.T) {
	h := sessionHarness(t)
	s := createSession(t, h)
	a := h.opener.adapter("src")
	a.remote["other/movie.mp4"] = &storage.RemoteFile{ID: "other/movie.mp4", Name: "movie.mp4", Size: 1000, Parent: "other"}

	_, err := h.sessions.VerifyAndCommit(context.Background(), s.ID, "other/movie.mp4", "u1")
	require.ErrorIs(t, err, common.ErrUploadInvalid)

	var invalid *common.UploadInvalidError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, s.FolderID, invalid.ExpectedFolder)
	assert.Equal(t, "other", invalid.ActualFolder)

	assert.NotContains(t, h.st.sessions, s.ID)
	assert.Equal(t, []string{s.FolderID}, a.deletedFolders)
	assert.Empty(t, a.deleted)
	assert.Empty(t, h.st.files)
	assert.Zero(t, h.st.backend("src").UsedBytes)
	assert.Empty(t, h.st.item("m1").SourceFileID)
	h.verify()
}

func TestVerifyAndCommit_Match(t *testing.T) {
	h := sessionHarness(t)
	s := createSession(t, h)
	h.opener.adapter("src").remote["remote-1"] = &storage.RemoteFile{ID: "remote-1", Name: "movie.mp4", Size: 1000, Parent: s.FolderID}
	expectCommits(h.mock, 1)

	f, err := h.sessions.VerifyAndCommit(context.Background(), s.ID, "remote-1", "u1")
	require.NoError(t, err)
	h.verify()

	assert.Equal(t, models.FileSource, f.Kind)
	assert.Equal(t, "remote-1", f.Path)
	assert.Equal(t, s.FolderID, f.FolderID)

	sources := h.st.filesOf("m1", models.FileSource)
	require.Len(t, sources, 1)
	assert.Equal(t, f.ID, sources[0].ID)

	b := h.st.backend("src")
	assert.Equal(t, int64(1000), b.UsedBytes)
	assert.Equal(t, int64(1), b.FileCount)
	assert.Empty(t, h.st.sessions)

	item := h.st.item("m1")
	assert.Equal(t, f.ID, item.SourceFileID)
	assert.Equal(t, "u1", item.UploaderID)
	assert.Len(t, h.st.jobsOf("m1"), 3)
	require.Len(t, h.queue.submitted, 1)
}

func TestVerifyAndCommit_RollbackKeepsSession(t *testing.T) {
	h := sessionHarness(t)
	s := createSession(t, h)
	h.opener.adapter("src").remote["r"] = &storage.RemoteFile{ID: "r", Name: "movie.mp4", Size: 1000, Parent: s.FolderID}
	h.st.errs["Sessions.Delete"] = assert.AnError
	h.mock.ExpectBegin()
	h.mock.ExpectRollback()

	_, err := h.sessions.VerifyAndCommit(context.Background(), s.ID, "r", "u1")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, h.st.sessions, s.ID)
	h.verify()
}

func TestVerifyAndCommit_Rejections(t *testing.T) {
	h := sessionHarness(t)
	s := createSession(t, h)
	ctx := context.Background()

	_, err := h.sessions.VerifyAndCommit(ctx, "nope", "r", "u1")
	assert.ErrorIs(t, err, common.ErrUploadSessionNotFound)

	_, err = h.sessions.VerifyAndCommit(ctx, s.ID, "r", "intruder")
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = h.sessions.VerifyAndCommit(ctx, s.ID, "missing-remote", "u1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Contains(t, h.st.sessions, s.ID)

	h.sessions.now = func() time.Time { return s.ExpiresAt.Add(time.Second) }
	_, err = h.sessions.VerifyAndCommit(ctx, s.ID, "r", "u1")
	assert.ErrorIs(t, err, common.ErrUploadSessionExpired)
}

func TestVerifyAndCommit_ImageSession(t *testing.T) {
	h := newHarness(t)
	h.st.addBackend(&models.StorageBackend{ID: "img", Kind: models.KindDropbox, Name: "img", Role: models.RoleBackdrop})

	ticket, err := h.sessions.CreateSession(context.Background(), SessionRequest{
		UserID: "u1", Filename: "wide.png", Size: 10, MimeType: "image/png", Role: models.RoleBackdrop,
	})
	require.NoError(t, err)
	h.opener.adapter("img").remote["r"] = &storage.RemoteFile{ID: "r", Name: "wide.png", Size: 10,
		Parent: h.st.sessions[ticket.SessionID].FolderID}
	expectCommits(h.mock, 1)

	f, err := h.sessions.VerifyAndCommit(context.Background(), ticket.SessionID, "r", "u1")
	require.NoError(t, err)
	h.verify()

	assert.Equal(t, models.FileImage, f.Kind)
	assert.Empty(t, h.st.files)
	assert.Empty(t, h.queue.submitted)
	assert.Equal(t, int64(10), h.st.backend("img").UsedBytes)
}

func TestSweep(t *testing.T) {
	h := sessionHarness(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h.sessions.now = func() time.Time { return now }
	h.st.sessions["old-1"] = &models.UploadSession{ID: "old-1", BackendID: "src", FolderID: "f1", ExpiresAt: now.Add(-time.Hour)}
	h.st.sessions["old-2"] = &models.UploadSession{ID: "old-2", BackendID: "src", FolderID: "f2", ExpiresAt: now}
	h.st.sessions["live"] = &models.UploadSession{ID: "live", BackendID: "src", FolderID: "f3", ExpiresAt: now.Add(time.Hour)}
	h.st.sessions["orphan"] = &models.UploadSession{ID: "orphan", BackendID: "gone", FolderID: "f4", ExpiresAt: now.Add(-time.Hour)}

	n, err := h.sessions.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"f1", "f2"}, h.opener.adapter("src").deletedFolders)
	assert.Len(t, h.st.sessions, 1)
	assert.Contains(t, h.st.sessions, "live")
}
