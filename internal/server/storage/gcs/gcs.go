// Package gcs implements the blob-store adapter over Google Cloud Storage.
// ClientSecret holds the service account JSON, RootFolderID is the bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const uploadURLExpiry = 24 * time.Hour

var (
	newClient = func(ctx context.Context, opts ...option.ClientOption) (*gcs.Client, error) {
		return gcs.NewClient(ctx, opts...)
	}

	signedURL = func(b *gcs.BucketHandle, object string, opts *gcs.SignedURLOptions) (string, error) {
		return b.SignedURL(object, opts)
	}
)

type Adapter struct {
	backend *models.StorageBackend
	client  *gcs.Client
	bucket  string
	retry   storage.RetryPolicy
	log     logging.Logger
}

func New(ctx context.Context, b *models.StorageBackend, deps storage.Deps) (storage.Adapter, error) {
	var opts []option.ClientOption
	if endpoint := deps.Endpoint(models.KindGCS, ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
		if deps.HTTP != nil {
			opts = append(opts, option.WithHTTPClient(deps.HTTP))
		}
	} else if b.ClientSecret != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(b.ClientSecret)))
	}
	client, err := newClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &Adapter{
		backend: b,
		client:  client,
		bucket:  b.RootFolderID,
		retry:   deps.Retry,
		log:     deps.Logger(b),
	}, nil
}

func key(p string) string {
	return strings.TrimLeft(p, "/")
}

func (a *Adapter) mapErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return &storage.StatusError{Status: http.StatusNotFound, Body: err.Error(), Err: common.ErrorNotFound}
	}
	status := 0
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		status = gerr.Code
	}
	if status == http.StatusTooManyRequests {
		return &storage.StatusError{Status: status, Body: err.Error(), Err: common.ErrBackendRateLimited}
	}
	a.log.Warn(ctx, "backend request failed", "op", op, "status", status, "error", err)
	return &storage.StatusError{Status: status, Body: err.Error(), Transient: status == 0 || status >= 500, Err: common.ErrBackendRequestFailed}
}

func (a *Adapter) object(p string) *gcs.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(key(p))
}

func (a *Adapter) Upload(ctx context.Context, r io.Reader, targetPath, mimeType string) (*storage.UploadResult, error) {
	w := a.object(targetPath).NewWriter(ctx)
	w.ContentType = mimeType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return nil, a.mapErr(ctx, "upload", err)
	}
	if err := w.Close(); err != nil {
		return nil, a.mapErr(ctx, "upload", err)
	}
	k := key(targetPath)
	return &storage.UploadResult{RemotePath: k, Size: w.Attrs().Size, URL: a.PublicURL(k)}, nil
}

func (a *Adapter) Delete(ctx context.Context, p string) error {
	err := a.retry.Run(ctx, func(ctx context.Context) error {
		return a.mapErr(ctx, "delete", a.object(p).Delete(ctx))
	})
	return storage.IgnoreNotFound(err)
}

// CreateUploadSession signs a V4 PUT URL; it needs a service account key.
func (a *Adapter) CreateUploadSession(_ context.Context, sr storage.SessionRequest) (*storage.UploadTarget, error) {
	u, err := signedURL(a.client.Bucket(a.bucket), key(path.Join(sr.Folder, sr.Filename)), &gcs.SignedURLOptions{
		Scheme:      gcs.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: sr.MimeType,
		Expires:     time.Now().Add(uploadURLExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sign url: %v", common.ErrBackendRequestFailed, err)
	}
	return &storage.UploadTarget{UploadURL: u, BackendID: a.backend.ID}, nil
}

func (a *Adapter) FindFile(ctx context.Context, p string) (*storage.RemoteFile, error) {
	var attrs *gcs.ObjectAttrs
	err := a.retry.Run(ctx, func(ctx context.Context) error {
		var err error
		attrs, err = a.object(p).Attrs(ctx)
		return a.mapErr(ctx, "find", err)
	})
	if err != nil {
		return nil, err
	}
	return &storage.RemoteFile{ID: attrs.Name, Name: path.Base(attrs.Name), Size: attrs.Size, Parent: storage.KeyParent(attrs.Name)}, nil
}

func (a *Adapter) CreateFolder(_ context.Context, name, parent string) (string, error) {
	return key(path.Join(parent, name)), nil
}

func (a *Adapter) DeleteFolder(ctx context.Context, prefix string) error {
	prefix = strings.TrimSuffix(key(prefix), "/") + "/"
	it := a.client.Bucket(a.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return a.mapErr(ctx, "list", err)
		}
		if err := a.Delete(ctx, attrs.Name); err != nil {
			return err
		}
	}
}

func (a *Adapter) RefreshToken(context.Context) (*models.OAuthToken, error) {
	return nil, fmt.Errorf("%w: gcs uses service account credentials", common.ErrUnsupportedOperation)
}

func (a *Adapter) PublicURL(k string) string {
	k = key(k)
	if a.backend.PublicURL != "" {
		return strings.TrimRight(a.backend.PublicURL, "/") + "/" + k
	}
	return "https://storage.googleapis.com/" + a.bucket + "/" + k
}
