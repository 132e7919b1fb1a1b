package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
	"github.com/gosimple/slug"
)

// ImageResult describes an uploaded poster, backdrop or subtitle.
type ImageResult struct {
	BackendID string
	Path      string
	URL       string
	Size      int64
}

// ImageRef identifies an uploaded image for deletion.
type ImageRef struct {
	Path string
	Size int64
}

// ImageService uploads images to the backend pinned to their role.
type ImageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	selector    *Selector
	log         logging.Logger
}

func NewImageService(db *sql.DB, m repomanager.RepositoryManager, selector *Selector, log logging.Logger) *ImageService {
	return &ImageService{db: db, repomanager: m, selector: selector, log: log.With("module", "images")}
}

func imagePath(role models.Role, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	name := slug.Make(strings.TrimSuffix(filename, path.Ext(filename)))
	if name == "" {
		name = "image"
	}
	return path.Join(string(role), common.NewID()+"-"+name+ext)
}

func (s *ImageService) UploadImage(ctx context.Context, role models.Role, localPath, filename, mimeType string) (*ImageResult, error) {
	if !role.IsImage() {
		return nil, fmt.Errorf("invalid image role %q", role)
	}

	b, adapter, err := s.selector.SelectImage(ctx, role)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("error opening image: %w", err)
	}
	defer f.Close()

	res, err := adapter.Upload(ctx, f, imagePath(role, filename), mimeType)
	if err != nil {
		return nil, err
	}

	if err := s.repomanager.Backends(s.db).AddUsage(ctx, b.ID, res.Size, 1); err != nil {
		s.log.Warn(ctx, "failed to account image upload", "backend_id", b.ID, "path", res.RemotePath, "error", err)
	}

	url := res.URL
	if url == "" {
		url = adapter.PublicURL(res.RemotePath)
	}
	s.log.Info(ctx, "image uploaded", "role", string(role), "backend_id", b.ID, "path", res.RemotePath, "size", res.Size)
	return &ImageResult{BackendID: b.ID, Path: res.RemotePath, URL: url, Size: res.Size}, nil
}

func (s *ImageService) DeleteImage(ctx context.Context, role models.Role, ref ImageRef) error {
	if !role.IsImage() {
		return fmt.Errorf("invalid image role %q", role)
	}

	b, adapter, err := s.selector.SelectImage(ctx, role)
	if err != nil {
		return err
	}
	if err := adapter.Delete(ctx, ref.Path); err != nil {
		return err
	}
	return s.repomanager.Backends(s.db).AddUsage(ctx, b.ID, -ref.Size, -1)
}
