// Package gdrive implements the storage adapter for Google Drive using the
// generated drive/v3 client. Resumable session creation goes through the raw
// upload endpoint because the client library only drives uploads itself.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	uploadURL  = "https://www.googleapis.com/upload/drive/v3/files"
	folderMime = "application/vnd.google-apps.folder"
)

var scopes = []string{drive.DriveFileScope}

// newDriveService is a seam for tests.
var newDriveService = func(ctx context.Context, client *http.Client, endpoint string) (*drive.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return drive.NewService(ctx, opts...)
}

type Adapter struct {
	backend   *models.StorageBackend
	auth      *storage.Authorizer
	client    *storage.HTTPClient
	base      *http.Client
	retry     storage.RetryPolicy
	log       logging.Logger
	endpoint  string
	uploadURL string
}

func New(_ context.Context, b *models.StorageBackend, deps storage.Deps) (storage.Adapter, error) {
	log := deps.Logger(b)
	base := deps.HTTP
	if base == nil {
		base = http.DefaultClient
	}
	a := &Adapter{
		backend:   b,
		client:    storage.NewHTTPClient(base, nil, log),
		base:      base,
		retry:     deps.Retry,
		log:       log,
		uploadURL: uploadURL,
	}
	endpoint := endpoints.Google
	if u := deps.Endpoint(models.KindGoogleDrive, ""); u != "" {
		a.endpoint = u + "/drive/v3/"
		a.uploadURL = u + "/upload/drive/v3/files"
		endpoint.TokenURL = u + "/token"
	}
	a.auth = storage.NewAuthorizer(b, storage.OAuthRefresher(base, endpoint, scopes...), deps)
	return a, nil
}

// service builds a drive client that sends the given access token.
func (a *Adapter) service(ctx context.Context, token string) (*drive.Service, error) {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   a.base.Transport,
		},
		Timeout: a.base.Timeout,
	}
	svc, err := newDriveService(ctx, client, a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return svc, nil
}

func (a *Adapter) mapErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &storage.StatusError{Body: err.Error(), Transient: true, Err: common.ErrBackendRequestFailed}
	}
	se := &storage.StatusError{Status: gerr.Code, Body: gerr.Message}
	switch {
	case gerr.Code == http.StatusUnauthorized:
		se.Err = common.ErrBackendUnauthorized
	case gerr.Code == http.StatusNotFound:
		se.Err = common.ErrorNotFound
	case gerr.Code == http.StatusTooManyRequests, rateLimitReason(gerr):
		se.Err = common.ErrBackendRateLimited
	default:
		a.log.Warn(ctx, "backend request failed", "op", op, "status", gerr.Code)
		se.Err = common.ErrBackendRequestFailed
		se.Transient = gerr.Code >= 500
	}
	return se
}

// rateLimitReason recognizes Drive's 403 quota errors.
func rateLimitReason(e *googleapi.Error) bool {
	if e.Code != http.StatusForbidden {
		return false
	}
	for _, item := range e.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

func (a *Adapter) parent(folder string) string {
	if folder != "" {
		return folder
	}
	if a.backend.RootFolderID != "" {
		return a.backend.RootFolderID
	}
	return "root"
}

func (a *Adapter) Upload(ctx context.Context, r io.Reader, targetPath, mimeType string) (*storage.UploadResult, error) {
	dir, name := path.Split(targetPath)
	parent := a.parent(strings.Trim(dir, "/"))
	attempt := 0
	f, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (*drive.File, error) {
		if attempt > 0 && !storage.Rewind(r) {
			return nil, fmt.Errorf("%w: upload body cannot be replayed", common.ErrBackendRequestFailed)
		}
		attempt++
		svc, err := a.service(ctx, token)
		if err != nil {
			return nil, err
		}
		f, err := svc.Files.Create(&drive.File{Name: name, Parents: []string{parent}, MimeType: mimeType}).
			Media(r, googleapi.ContentType(mimeType)).
			Fields("id, size").
			Context(ctx).Do()
		return f, a.mapErr(ctx, "upload", err)
	})
	if err != nil {
		return nil, err
	}
	return &storage.UploadResult{RemotePath: f.Id, Size: f.Size}, nil
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	_, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (struct{}, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, a.mapErr(ctx, "delete", svc.Files.Delete(id).Context(ctx).Do())
	})
	return storage.IgnoreNotFound(err)
}

// CreateUploadSession opens a resumable upload and returns its session URI.
func (a *Adapter) CreateUploadSession(ctx context.Context, sr storage.SessionRequest) (*storage.UploadTarget, error) {
	meta := map[string]any{"name": sr.Filename, "parents": []string{a.parent(sr.Folder)}}
	if sr.MimeType != "" {
		meta["mimeType"] = sr.MimeType
	}
	location, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (string, error) {
		body, err := storage.JSONBody(meta)
		if err != nil {
			return "", err
		}
		req, err := http.NewRequest(http.MethodPost, a.uploadURL+"?uploadType=resumable", body)
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		if sr.MimeType != "" {
			req.Header.Set("X-Upload-Content-Type", sr.MimeType)
		}
		if sr.Size > 0 {
			req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(sr.Size, 10))
		}
		resp, err := a.client.Send(ctx, req, token)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", fmt.Errorf("%w: resumable session without location", common.ErrBackendRequestFailed)
		}
		return loc, nil
	})
	if err != nil {
		return nil, err
	}
	return &storage.UploadTarget{UploadURL: location, BackendID: a.backend.ID}, nil
}

func (a *Adapter) FindFile(ctx context.Context, id string) (*storage.RemoteFile, error) {
	f, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (*drive.File, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return nil, err
		}
		f, err := svc.Files.Get(id).Fields("id, name, size, parents").Context(ctx).Do()
		return f, a.mapErr(ctx, "find", err)
	})
	if err != nil {
		return nil, err
	}
	rf := &storage.RemoteFile{ID: f.Id, Name: f.Name, Size: f.Size}
	if len(f.Parents) > 0 {
		rf.Parent = f.Parents[0]
	}
	return rf, nil
}

func (a *Adapter) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	f, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (*drive.File, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return nil, err
		}
		f, err := svc.Files.Create(&drive.File{Name: name, MimeType: folderMime, Parents: []string{a.parent(parent)}}).
			Fields("id").Context(ctx).Do()
		return f, a.mapErr(ctx, "create folder", err)
	})
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

// DeleteFolder deletes the folder; Drive removes its descendants with it.
func (a *Adapter) DeleteFolder(ctx context.Context, id string) error {
	return a.Delete(ctx, id)
}

func (a *Adapter) RefreshToken(ctx context.Context) (*models.OAuthToken, error) {
	return a.auth.Refresh(ctx)
}

func (a *Adapter) PublicURL(id string) string {
	if a.backend.PublicURL != "" {
		return strings.TrimRight(a.backend.PublicURL, "/") + "/" + id
	}
	return "https://drive.google.com/uc?export=download&id=" + id
}
