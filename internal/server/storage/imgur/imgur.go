// Package imgur implements the storage adapter for the Imgur image host.
// Albums stand in for folders; resumable uploads are not available.
package imgur

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"golang.org/x/oauth2"
)

const baseURL = "https://api.imgur.com"

type Adapter struct {
	backend *models.StorageBackend
	auth    *storage.Authorizer
	client  *storage.HTTPClient
	retry   storage.RetryPolicy
	baseURL string
}

func New(_ context.Context, b *models.StorageBackend, deps storage.Deps) (storage.Adapter, error) {
	base := deps.Endpoint(models.KindImgur, baseURL)
	endpoint := oauth2.Endpoint{
		AuthURL:  base + "/oauth2/authorize",
		TokenURL: base + "/oauth2/token",
	}
	return &Adapter{
		backend: b,
		auth:    storage.NewAuthorizer(b, storage.OAuthRefresher(deps.HTTP, endpoint), deps),
		client:  storage.NewHTTPClient(deps.HTTP, classify, deps.Logger(b)),
		retry:   deps.Retry,
		baseURL: base,
	}, nil
}

// classify catches the upload quota errors Imgur reports as 400s.
func classify(status int, body []byte) error {
	if status == http.StatusBadRequest && bytes.Contains(bytes.ToLower(body), []byte("rate limit")) {
		return common.ErrBackendRateLimited
	}
	return nil
}

type envelope[T any] struct {
	Data    T    `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

type image struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link string `json:"link"`
	Size int64  `json:"size"`
}

type album struct {
	ID string `json:"id"`
}

func (a *Adapter) Upload(ctx context.Context, r io.Reader, targetPath, mimeType string) (*storage.UploadResult, error) {
	// the body is buffered once so the auth retry can resend it
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	albumID, name := path.Split(targetPath)
	albumID = strings.Trim(albumID, "/")

	img, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (*image, error) {
		body, contentType, err := multipartBody(data, name, mimeType, albumID)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, a.baseURL+"/3/image", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		var out envelope[image]
		return &out.Data, a.client.JSON(ctx, req, token, &out)
	})
	if err != nil {
		return nil, err
	}
	size := img.Size
	if size == 0 {
		size = int64(len(data))
	}
	return &storage.UploadResult{RemotePath: img.ID, Size: size, URL: img.Link}, nil
}

func multipartBody(data []byte, name, mimeType, albumID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, name))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	fields := map[string]string{"type": "file", "name": name}
	if albumID != "" {
		fields["album"] = albumID
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (a *Adapter) delete(ctx context.Context, u string) error {
	_, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (struct{}, error) {
		req, err := http.NewRequest(http.MethodDelete, u, nil)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, a.client.JSON(ctx, req, token, nil)
	})
	return storage.IgnoreNotFound(err)
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	return a.delete(ctx, a.baseURL+"/3/image/"+id)
}

func (a *Adapter) CreateUploadSession(context.Context, storage.SessionRequest) (*storage.UploadTarget, error) {
	return nil, fmt.Errorf("%w: imgur has no resumable uploads", common.ErrUnsupportedOperation)
}

func (a *Adapter) FindFile(ctx context.Context, id string) (*storage.RemoteFile, error) {
	img, err := storage.WithRetry(ctx, a.retry, a.auth.Begin(), func(ctx context.Context, token string) (*image, error) {
		req, err := http.NewRequest(http.MethodGet, a.baseURL+"/3/image/"+id, nil)
		if err != nil {
			return nil, err
		}
		var out envelope[image]
		return &out.Data, a.client.JSON(ctx, req, token, &out)
	})
	if err != nil {
		return nil, err
	}
	return &storage.RemoteFile{ID: img.ID, Name: img.Name, Size: img.Size}, nil
}

// CreateFolder creates an album; parent is ignored since albums do not nest.
func (a *Adapter) CreateFolder(ctx context.Context, name, _ string) (string, error) {
	al, err := storage.Do(ctx, a.auth, func(ctx context.Context, token string) (*album, error) {
		body, err := storage.JSONBody(map[string]string{"title": name, "privacy": "hidden"})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, a.baseURL+"/3/album", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		var out envelope[album]
		return &out.Data, a.client.JSON(ctx, req, token, &out)
	})
	if err != nil {
		return "", err
	}
	return al.ID, nil
}

// DeleteFolder deletes the album. Images inside it are kept by Imgur and
// are removed through Delete by their owners.
func (a *Adapter) DeleteFolder(ctx context.Context, id string) error {
	return a.delete(ctx, a.baseURL+"/3/album/"+id)
}

func (a *Adapter) RefreshToken(ctx context.Context) (*models.OAuthToken, error) {
	return a.auth.Refresh(ctx)
}

func (a *Adapter) PublicURL(id string) string {
	if a.backend.PublicURL != "" {
		return strings.TrimRight(a.backend.PublicURL, "/") + "/" + id
	}
	return "https://i.imgur.com/" + id
}
