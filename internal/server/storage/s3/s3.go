// Package s3 implements the blob-store adapter over S3-compatible object
// storage. The backend record maps onto S3 as follows: ClientID and
// ClientSecret are the static access key pair, RootFolderID is the bucket and
// RootFolderName the region. Folders are key prefixes.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

const (
	defaultRegion = "us-east-1"
	// uploadURLExpiry covers the whole upload session window.
	uploadURLExpiry = 24 * time.Hour
	deleteBatch     = 1000
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

type Adapter struct {
	backend  *models.StorageBackend
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	region   string
	endpoint string
	retry    storage.RetryPolicy
	log      logging.Logger
}

// New builds the adapter. S3 has no root folder with a display name, so the
// backend's RootFolderName holds the bucket region (us-east-1 when empty).
func New(ctx context.Context, b *models.StorageBackend, deps storage.Deps) (storage.Adapter, error) {
	region := b.RootFolderName
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(b.ClientID, b.ClientSecret, "")),
		// the adapter applies its own retry budget
		config.WithRetryMaxAttempts(1),
	}
	if deps.HTTP != nil {
		opts = append(opts, config.WithHTTPClient(httpClient(deps.HTTP)))
	}
	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	endpoint := deps.Endpoint(models.KindS3, "")
	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Adapter{
		backend:  b,
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   b.RootFolderID,
		region:   region,
		endpoint: endpoint,
		retry:    deps.Retry,
		log:      deps.Logger(b),
	}, nil
}

// httpClient builds an SDK client with the shared client's timeout. The SDK
// can only apply AWS_CA_BUNDLE to its own buildable client.
func httpClient(c *http.Client) *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().WithTimeout(c.Timeout)
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
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return &storage.StatusError{Status: http.StatusNotFound, Body: apiErr.ErrorMessage(), Err: common.ErrorNotFound}
		case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
			return &storage.StatusError{Status: http.StatusServiceUnavailable, Body: apiErr.ErrorMessage(), Err: common.ErrBackendRateLimited}
		}
	}
	status := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	if status == http.StatusNotFound {
		return &storage.StatusError{Status: status, Body: err.Error(), Err: common.ErrorNotFound}
	}
	a.log.Warn(ctx, "backend request failed", "op", op, "status", status, "error", err)
	return &storage.StatusError{Status: status, Body: err.Error(), Transient: status == 0 || status >= 500, Err: common.ErrBackendRequestFailed}
}

func (a *Adapter) Upload(ctx context.Context, r io.Reader, targetPath, mimeType string) (*storage.UploadResult, error) {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("size upload: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	k := key(targetPath)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(k),
		Body:          body,
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, a.mapErr(ctx, "upload", err)
	}
	return &storage.UploadResult{RemotePath: k, Size: size, URL: a.PublicURL(k)}, nil
}

func (a *Adapter) Delete(ctx context.Context, p string) error {
	err := a.retry.Run(ctx, func(ctx context.Context) error {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key(p))})
		return a.mapErr(ctx, "delete", err)
	})
	return storage.IgnoreNotFound(err)
}

// CreateUploadSession presigns a PUT for the object the client will upload.
func (a *Adapter) CreateUploadSession(ctx context.Context, sr storage.SessionRequest) (*storage.UploadTarget, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key(path.Join(sr.Folder, sr.Filename))),
	}
	if sr.MimeType != "" {
		in.ContentType = aws.String(sr.MimeType)
	}
	req, err := presignPutObject(a.presign, ctx, in, s3.WithPresignExpires(uploadURLExpiry))
	if err != nil {
		return nil, fmt.Errorf("%w: presign: %v", common.ErrBackendRequestFailed, err)
	}
	return &storage.UploadTarget{UploadURL: req.URL, BackendID: a.backend.ID}, nil
}

func (a *Adapter) FindFile(ctx context.Context, p string) (*storage.RemoteFile, error) {
	k := key(p)
	var out *s3.HeadObjectOutput
	err := a.retry.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(k)})
		return a.mapErr(ctx, "find", err)
	})
	if err != nil {
		return nil, err
	}
	return &storage.RemoteFile{ID: k, Name: path.Base(k), Size: aws.ToInt64(out.ContentLength), Parent: storage.KeyParent(k)}, nil
}

// CreateFolder only computes the prefix; S3 has no folder objects.
func (a *Adapter) CreateFolder(_ context.Context, name, parent string) (string, error) {
	return key(path.Join(parent, name)), nil
}

// DeleteFolder removes every object under the prefix.
func (a *Adapter) DeleteFolder(ctx context.Context, prefix string) error {
	prefix = strings.TrimSuffix(key(prefix), "/") + "/"
	pages := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return storage.IgnoreNotFound(a.mapErr(ctx, "list", err))
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		for start := 0; start < len(ids); start += deleteBatch {
			end := min(start+deleteBatch, len(ids))
			err := a.retry.Run(ctx, func(ctx context.Context) error {
				_, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
					Bucket: aws.String(a.bucket),
					Delete: &types.Delete{Objects: ids[start:end], Quiet: aws.Bool(true)},
				})
				return a.mapErr(ctx, "delete folder", err)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) RefreshToken(context.Context) (*models.OAuthToken, error) {
	return nil, fmt.Errorf("%w: s3 uses static keys", common.ErrUnsupportedOperation)
}

func (a *Adapter) PublicURL(k string) string {
	k = key(k)
	switch {
	case a.backend.PublicURL != "":
		return strings.TrimRight(a.backend.PublicURL, "/") + "/" + k
	case a.endpoint != "":
		return strings.TrimRight(a.endpoint, "/") + "/" + a.bucket + "/" + k
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, k)
	}
}
