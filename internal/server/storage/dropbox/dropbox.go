// Package dropbox implements the storage adapter for Dropbox over its HTTP API.
package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"golang.org/x/oauth2"
)

const (
	apiURL     = "https://api.dropboxapi.com/2"
	contentURL = "https://content.dropboxapi.com/2"

	// uploadLinkDuration is the lifetime requested for temporary upload links (max allowed by Dropbox).
	uploadLinkDuration = 4 * time.Hour
)

var tokenEndpoint = oauth2.Endpoint{
	AuthURL:  "https://www.dropbox.com/oauth2/authorize",
	TokenURL: "https://api.dropboxapi.com/oauth2/token",
}

type Adapter struct {
	backend    *models.StorageBackend
	auth       *storage.Authorizer
	client     *storage.HTTPClient
	retry      storage.RetryPolicy
	log        logging.Logger
	apiURL     string
	contentURL string
}

// New is a storage.Factory.
func New(_ context.Context, b *models.StorageBackend, deps storage.Deps) (storage.Adapter, error) {
	log := deps.Logger(b)
	base := deps.Endpoint(models.KindDropbox, "")
	a := &Adapter{
		backend:    b,
		client:     storage.NewHTTPClient(deps.HTTP, classify, log),
		retry:      deps.Retry,
		log:        log,
		apiURL:     apiURL,
		contentURL: contentURL,
	}
	endpoint := tokenEndpoint
	if base != "" {
		a.apiURL = base + "/2"
		a.contentURL = base + "/content/2"
		endpoint.TokenURL = base + "/oauth2/token"
	}
	a.auth = storage.NewAuthorizer(b, storage.OAuthRefresher(deps.HTTP, endpoint), deps)
	return a, nil
}

// classify recognizes Dropbox endpoint-specific errors, which arrive as 409
// with an error_summary such as "path_lookup/not_found/..".
func classify(status int, body []byte) error {
	if status != http.StatusConflict && status != http.StatusUnauthorized {
		return nil
	}
	var e struct {
		Summary string `json:"error_summary"`
	}
	_ = json.Unmarshal(body, &e)
	switch {
	case strings.Contains(e.Summary, "not_found"):
		return common.ErrorNotFound
	case strings.Contains(e.Summary, "too_many_write_operations"), strings.Contains(e.Summary, "too_many_requests"):
		return common.ErrBackendRateLimited
	case strings.HasPrefix(e.Summary, "expired_access_token"), strings.HasPrefix(e.Summary, "invalid_access_token"):
		return common.ErrBackendUnauthorized
	}
	return nil
}

type metadata struct {
	Tag         string `json:".tag"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
	Size        int64  `json:"size"`
}

func (a *Adapter) abs(p string) string {
	if strings.HasPrefix(p, "id:") || strings.HasPrefix(p, "/") {
		return p
	}
	return path.Join("/", a.backend.RootFolderID, p)
}

func (a *Adapter) rpc(ctx context.Context, token, endpoint string, in, out any) error {
	body, err := storage.JSONBody(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, a.apiURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.client.JSON(ctx, req, token, out)
}

func (a *Adapter) Upload(ctx context.Context, r io.Reader, targetPath, mimeType string) (*storage.UploadResult, error) {
	arg, err := json.Marshal(map[string]any{"path": a.abs(targetPath), "mode": "add", "autorename": true})
	if err != nil {
		return nil, err
	}
	attempt := 0
	md, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (*metadata, error) {
		if attempt > 0 && !storage.Rewind(r) {
			return nil, fmt.Errorf("%w: upload body cannot be replayed", common.ErrBackendRequestFailed)
		}
		attempt++
		req, err := http.NewRequest(http.MethodPost, a.contentURL+"/files/upload", r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Dropbox-API-Arg", string(arg))
		var md metadata
		return &md, a.client.JSON(ctx, req, token, &md)
	})
	if err != nil {
		return nil, err
	}
	return &storage.UploadResult{RemotePath: md.ID, Size: md.Size}, nil
}

func (a *Adapter) Delete(ctx context.Context, p string) error {
	_, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, a.rpc(ctx, token, "/files/delete_v2", map[string]string{"path": a.abs(p)}, nil)
	})
	return storage.IgnoreNotFound(err)
}

func (a *Adapter) CreateUploadSession(ctx context.Context, sr storage.SessionRequest) (*storage.UploadTarget, error) {
	in := map[string]any{
		"commit_info": map[string]any{
			"path":       path.Join(a.abs(sr.Folder), sr.Filename),
			"mode":       "add",
			"autorename": true,
		},
		"duration": uploadLinkDuration.Seconds(),
	}
	var out struct {
		Link string `json:"link"`
	}
	_, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, a.rpc(ctx, token, "/files/get_temporary_upload_link", in, &out)
	})
	if err != nil {
		return nil, err
	}
	return &storage.UploadTarget{UploadURL: out.Link, BackendID: a.backend.ID}, nil
}

func (a *Adapter) FindFile(ctx context.Context, idOrPath string) (*storage.RemoteFile, error) {
	md, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (*metadata, error) {
		var md metadata
		return &md, a.rpc(ctx, token, "/files/get_metadata", map[string]string{"path": a.abs(idOrPath)}, &md)
	})
	if err != nil {
		return nil, err
	}
	return &storage.RemoteFile{ID: md.ID, Name: md.Name, Size: md.Size, Parent: path.Dir(md.PathLower)}, nil
}

// CreateFolder returns the lower-cased path, which later calls accept in place of an id.
func (a *Adapter) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	var out struct {
		Metadata metadata `json:"metadata"`
	}
	in := map[string]any{"path": path.Join(a.abs(parent), name), "autorename": true}
	_, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, a.rpc(ctx, token, "/files/create_folder_v2", in, &out)
	})
	if err != nil {
		return "", err
	}
	return out.Metadata.PathLower, nil
}

// DeleteFolder relies on delete_v2 removing folders recursively.
func (a *Adapter) DeleteFolder(ctx context.Context, id string) error {
	return a.Delete(ctx, id)
}

func (a *Adapter) RefreshToken(ctx context.Context) (*models.OAuthToken, error) {
	return a.auth.Refresh(ctx)
}

func (a *Adapter) PublicURL(p string) string {
	if a.backend.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(a.backend.PublicURL, "/") + "/" + strings.TrimLeft(p, "/")
}
