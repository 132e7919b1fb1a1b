// Package onedrive implements the storage adapter for OneDrive through Microsoft Graph.
package onedrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"golang.org/x/oauth2/endpoints"
)

const graphURL = "https://graph.microsoft.com/v1.0"

var scopes = []string{"offline_access", "Files.ReadWrite.All"}

type Adapter struct {
	backend *models.StorageBackend
	auth    *storage.Authorizer
	client  *storage.HTTPClient
	retry   storage.RetryPolicy
	baseURL string
}

func New(_ context.Context, b *models.StorageBackend, deps storage.Deps) (storage.Adapter, error) {
	endpoint := endpoints.AzureAD("common")
	base := deps.Endpoint(models.KindOneDrive, "")
	baseURL := graphURL
	if base != "" {
		baseURL = base + "/v1.0"
		endpoint.TokenURL = base + "/oauth2/v2.0/token"
	}
	return &Adapter{
		backend: b,
		auth:    storage.NewAuthorizer(b, storage.OAuthRefresher(deps.HTTP, endpoint, scopes...), deps),
		client:  storage.NewHTTPClient(deps.HTTP, nil, deps.Logger(b)),
		retry:   deps.Retry,
		baseURL: baseURL,
	}, nil
}

type driveItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Size            int64  `json:"size"`
	ParentReference struct {
		ID string `json:"id"`
	} `json:"parentReference"`
}

func (a *Adapter) parent(id string) string {
	switch {
	case id != "":
		return id
	case a.backend.RootFolderID != "":
		return a.backend.RootFolderID
	default:
		return "root"
	}
}

func (a *Adapter) itemURL(id string) string {
	return a.baseURL + "/me/drive/items/" + url.PathEscape(id)
}

// childURL addresses "<name>" under folder using Graph path syntax.
func (a *Adapter) childURL(folder, name, action string) string {
	return a.itemURL(a.parent(folder)) + ":/" + url.PathEscape(name) + ":/" + action
}

func (a *Adapter) call(ctx context.Context, token, method, u string, body any, out any) error {
	var r io.Reader
	if body != nil {
		var err error
		if r, err = storage.JSONBody(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.client.JSON(ctx, req, token, out)
}

// Upload uses the simple PUT upload, suited to images and subtitles.
func (a *Adapter) Upload(ctx context.Context, r io.Reader, targetPath, mimeType string) (*storage.UploadResult, error) {
	dir, name := path.Split(targetPath)
	u := a.childURL(strings.Trim(dir, "/"), name, "content")
	attempt := 0
	item, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (*driveItem, error) {
		if attempt > 0 && !storage.Rewind(r) {
			return nil, fmt.Errorf("%w: upload body cannot be replayed", common.ErrBackendRequestFailed)
		}
		attempt++
		req, err := http.NewRequest(http.MethodPut, u, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mimeType)
		var item driveItem
		return &item, a.client.JSON(ctx, req, token, &item)
	})
	if err != nil {
		return nil, err
	}
	return &storage.UploadResult{RemotePath: item.ID, Size: item.Size}, nil
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	_, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, a.call(ctx, token, http.MethodDelete, a.itemURL(id), nil, nil)
	})
	return storage.IgnoreNotFound(err)
}

func (a *Adapter) CreateUploadSession(ctx context.Context, sr storage.SessionRequest) (*storage.UploadTarget, error) {
	in := map[string]any{
		"item": map[string]any{
			"@microsoft.graph.conflictBehavior": "rename",
			"name":                              sr.Filename,
		},
	}
	var out struct {
		UploadURL string `json:"uploadUrl"`
	}
	_, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, a.call(ctx, token, http.MethodPost, a.childURL(sr.Folder, sr.Filename, "createUploadSession"), in, &out)
	})
	if err != nil {
		return nil, err
	}
	return &storage.UploadTarget{UploadURL: out.UploadURL, BackendID: a.backend.ID}, nil
}

func (a *Adapter) FindFile(ctx context.Context, id string) (*storage.RemoteFile, error) {
	item, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (*driveItem, error) {
		var item driveItem
		return &item, a.call(ctx, token, http.MethodGet, a.itemURL(id), nil, &item)
	})
	if err != nil {
		return nil, err
	}
	return &storage.RemoteFile{ID: item.ID, Name: item.Name, Size: item.Size, Parent: item.ParentReference.ID}, nil
}

func (a *Adapter) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	in := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "rename",
	}
	item, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (*driveItem, error) {
		var item driveItem
		return &item, a.call(ctx, token, http.MethodPost, a.itemURL(a.parent(parent))+"/children", in, &item)
	})
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

// DeleteFolder deletes the folder item; Graph removes its children with it.
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
	return a.itemURL(id) + "/content"
}
