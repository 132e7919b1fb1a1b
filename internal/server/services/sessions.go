package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/gosimple/slug"
)

// SessionRequest asks for a client-direct upload.
type SessionRequest struct {
	UserID   string
	Filename string
	Size     int64
	MimeType string
	Role     models.Role
	// MediaID is the item a source upload is for. Required for the source role.
	MediaID string
}

// SessionTicket is what the client needs to perform the upload.
type SessionTicket struct {
	SessionID string
	UploadURL string
	BackendID string
	ExpiresAt time.Time
}

// SessionManager runs the resumable upload protocol: create a session that
// points the client at a backend, then verify what arrived and commit it.
type SessionManager struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	selector     *Selector
	opener       AdapterOpener
	orchestrator *Orchestrator
	ttl          time.Duration
	now          func() time.Time
	log          logging.Logger
}

// NewSessionManager returns a manager that opens upload sessions on backends picked by selector.
func NewSessionManager(db *sql.DB, m repomanager.RepositoryManager, selector *Selector, opener AdapterOpener,
	orchestrator *Orchestrator, ttl time.Duration, log logging.Logger) *SessionManager {
	if ttl <= 0 {
		ttl = common.DefaultSessionTTL
	}
	return &SessionManager{
		db:           db,
		repomanager:  m,
		selector:     selector,
		opener:       opener,
		orchestrator: orchestrator,
		ttl:          ttl,
		now:          time.Now,
		log:          log.With("module", "sessions"),
	}
}

// folderName names the remote folder of a session after the upload.
func folderName(filename, sessionID string) string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	if s := slug.Make(base); s != "" {
		return s + "-" + sessionID
	}
	return sessionID
}

func (m *SessionManager) CreateSession(ctx context.Context, req SessionRequest) (*SessionTicket, error) {
	if req.Role == models.RoleNone {
		req.Role = models.RoleSource
	}
	if strings.TrimSpace(req.Filename) == "" || req.Size <= 0 {
		return nil, errors.New("filename and a positive size are required")
	}
	if req.Role == models.RoleSource {
		if req.MediaID == "" {
			return nil, errors.New("media id is required for source uploads")
		}
		item, err := m.repomanager.Media(m.db).Get(ctx, req.MediaID)
		if err != nil {
			return nil, err
		}
		if item.SourceFileID != "" {
			return nil, common.ErrSourceAlreadyExists
		}
	}

	b, adapter, err := m.selector.Select(ctx, req.Role)
	if err != nil {
		return nil, err
	}

	s := &models.UploadSession{
		ID:        common.NewID(),
		Filename:  req.Filename,
		Size:      req.Size,
		MimeType:  req.MimeType,
		UserID:    req.UserID,
		BackendID: b.ID,
		Role:      req.Role,
		MediaID:   req.MediaID,
	}

	s.FolderID, err = adapter.CreateFolder(ctx, folderName(req.Filename, s.ID), "")
	if err != nil {
		return nil, fmt.Errorf("error creating upload folder: %w", err)
	}

	target, err := adapter.CreateUploadSession(ctx, storage.SessionRequest{
		Filename: req.Filename,
		Folder:   s.FolderID,
		Size:     req.Size,
		MimeType: req.MimeType,
	})
	if err != nil {
		m.discardFolder(ctx, adapter, s)
		return nil, err
	}

	s.CreatedAt = m.now()
	s.ExpiresAt = s.CreatedAt.Add(m.ttl)
	if err := m.repomanager.Sessions(m.db).Create(ctx, s); err != nil {
		m.discardFolder(ctx, adapter, s)
		return nil, err
	}

	m.log.Info(ctx, "upload session created", "session_id", s.ID, "backend_id", b.ID,
		"role", string(s.Role), "media_id", s.MediaID, "size", s.Size)
	return &SessionTicket{SessionID: s.ID, UploadURL: target.UploadURL, BackendID: b.ID, ExpiresAt: s.ExpiresAt}, nil
}

// VerifyAndCommit checks the uploaded file against the session. A mismatch
// deletes the session and its remote folder. A match commits the source,
// enqueues its jobs, accounts its size and deletes the session in one
// transaction. Image uploads are verified and accounted but not tracked as
// stored files.
func (m *SessionManager) VerifyAndCommit(ctx context.Context, sessionID, remoteFileID, userID string) (*models.StoredFile, error) {
	s, err := m.repomanager.Sessions(m.db).Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, common.ErrForbidden
	}
	if s.Expired(m.now()) {
		return nil, common.ErrUploadSessionExpired
	}

	b, err := m.repomanager.Backends(m.db).Get(ctx, s.BackendID)
	if err != nil {
		return nil, fmt.Errorf("error loading backend %s: %w", s.BackendID, err)
	}
	adapter, err := m.opener.Open(ctx, b)
	if err != nil {
		return nil, err
	}

	remote, err := adapter.FindFile(ctx, remoteFileID)
	if err != nil {
		return nil, err
	}

	// The file must sit in the session's own folder.
	if remote.Name != s.Filename || remote.Size != s.Size || (s.FolderID != "" && remote.Parent != s.FolderID) {
		m.log.Warn(ctx, "uploaded file does not match session", "session_id", s.ID,
			"expected_name", s.Filename, "expected_size", s.Size, "expected_folder", s.FolderID,
			"actual_name", remote.Name, "actual_size", remote.Size, "actual_folder", remote.Parent)
		m.discardFolder(ctx, adapter, s)
		if err := m.repomanager.Sessions(m.db).Delete(ctx, s.ID); err != nil && !errors.Is(err, common.ErrUploadSessionNotFound) {
			m.log.Warn(ctx, "failed to delete rejected session", "session_id", s.ID, "error", err)
		}
		return nil, &common.UploadInvalidError{
			ExpectedName: s.Filename, ExpectedSize: s.Size, ExpectedFolder: s.FolderID,
			ActualName: remote.Name, ActualSize: remote.Size, ActualFolder: remote.Parent,
		}
	}

	file := &models.StoredFile{
		ID:        common.NewID(),
		Kind:      models.FileSource,
		BackendID: b.ID,
		Path:      remote.ID,
		FolderID:  s.FolderID,
		Size:      remote.Size,
		MimeType:  s.MimeType,
		MediaID:   s.MediaID,
	}
	if s.Role != models.RoleSource {
		file.Kind = models.FileImage
	}

	err = dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if s.Role == models.RoleSource {
			if _, err := m.orchestrator.CommitSource(ctx, tx, file, s.UserID); err != nil {
				return err
			}
		}
		if err := m.repomanager.Backends(tx).AddUsage(ctx, b.ID, file.Size, 1); err != nil {
			return err
		}
		return m.repomanager.Sessions(tx).Delete(ctx, s.ID)
	})
	if err != nil {
		return nil, err
	}

	m.log.Info(ctx, "upload committed", "session_id", s.ID, "file_id", file.ID, "media_id", s.MediaID, "size", file.Size)
	return file, nil
}

// Sweep reclaims expired sessions and best-effort deletes their remote folders.
func (m *SessionManager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.repomanager.Sessions(m.db).ListExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range expired {
		if err := m.repomanager.Sessions(m.db).Delete(ctx, s.ID); err != nil {
			if !errors.Is(err, common.ErrUploadSessionNotFound) {
				m.log.Warn(ctx, "failed to delete expired session", "session_id", s.ID, "error", err)
			}
			continue
		}
		n++

		b, err := m.repomanager.Backends(m.db).Get(ctx, s.BackendID)
		if err != nil {
			m.log.Warn(ctx, "expired session folder left behind", "session_id", s.ID, "backend_id", s.BackendID, "error", err)
			continue
		}
		adapter, err := m.opener.Open(ctx, b)
		if err != nil {
			m.log.Warn(ctx, "expired session folder left behind", "session_id", s.ID, "backend_id", s.BackendID, "error", err)
			continue
		}
		m.discardFolder(ctx, adapter, s)
	}

	m.log.Info(ctx, "upload sessions swept", "expired", len(expired), "deleted", n)
	return n, nil
}

func (m *SessionManager) discardFolder(ctx context.Context, a storage.Adapter, s *models.UploadSession) {
	if s.FolderID == "" {
		return
	}
	if err := a.DeleteFolder(ctx, s.FolderID); err != nil {
		m.log.Warn(ctx, "failed to delete session folder", "session_id", s.ID, "folder_id", s.FolderID, "error", err)
	}
}
