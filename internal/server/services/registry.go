package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/dbx"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/events"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediavault/internal/server/vault"
)

// BackendInput describes a backend to register.
type BackendInput struct {
	Kind           models.BackendKind
	Name           string
	Role           models.Role
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	RootFolderID   string
	RootFolderName string
	PublicURL      string
}

// BackendPatch changes the editable fields of a backend; nil fields are kept.
type BackendPatch struct {
	Name           *string
	ClientID       *string
	ClientSecret   *string
	RootFolderID   *string
	RootFolderName *string
	PublicURL      *string
}

// UsageStats aggregates the counters of all registered backends.
type UsageStats struct {
	Backends  int
	UsedBytes int64
	Files     int64
	ByRole    map[models.Role]int64
}

// Registry manages registered storage backends. It also persists refreshed
// tokens for adapters, so it satisfies storage.TokenSaver.
type Registry struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sealer      SecretSealer
	opener      AdapterOpener
	cache       *RoleCache
	events      events.Publisher
	maxBackends int
	log         logging.Logger
}

func NewRegistry(db *sql.DB, m repomanager.RepositoryManager, sealer SecretSealer, opener AdapterOpener,
	cache *RoleCache, pub events.Publisher, maxBackends int, log logging.Logger) *Registry {
	return &Registry{
		db:          db,
		repomanager: m,
		sealer:      sealer,
		opener:      opener,
		cache:       cache,
		events:      pub,
		maxBackends: maxBackends,
		log:         log.With("module", "registry"),
	}
}

func (r *Registry) Register(ctx context.Context, in BackendInput) (*models.StorageBackend, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("backend name is required")
	}
	if !r.opener.Supports(in.Kind) {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownBackendKind, in.Kind)
	}
	if in.Role != models.RoleNone && !in.Role.Valid() {
		return nil, fmt.Errorf("invalid role %q", in.Role)
	}

	secret, err := r.sealer.Encrypt(in.ClientSecret)
	if err != nil {
		return nil, err
	}

	b := &models.StorageBackend{
		ID:                    common.NewID(),
		Kind:                  in.Kind,
		Name:                  name,
		ClientID:              in.ClientID,
		EncryptedClientSecret: secret,
		RefreshToken:          in.RefreshToken,
		RootFolderID:          in.RootFolderID,
		RootFolderName:        in.RootFolderName,
		PublicURL:             in.PublicURL,
	}

	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.repomanager.Backends(tx)

		n, err := repo.Count(ctx)
		if err != nil {
			return fmt.Errorf("error counting backends: %w", err)
		}
		if r.maxBackends > 0 && n >= r.maxBackends {
			return common.ErrBackendLimitReached
		}

		if err := repo.Create(ctx, b); err != nil {
			return err
		}
		if in.Role != models.RoleNone {
			if err := repo.SetRole(ctx, b.ID, in.Role); err != nil {
				return err
			}
			b.Role = in.Role
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info(ctx, "backend registered", "backend_id", b.ID, "kind", string(b.Kind), "role", string(b.Role))
	r.invalidate(ctx, b.Role)
	return b, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.StorageBackend, error) {
	return r.repomanager.Backends(r.db).Get(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*models.StorageBackend, error) {
	return r.repomanager.Backends(r.db).List(ctx)
}

func (r *Registry) Update(ctx context.Context, id string, p BackendPatch) (*models.StorageBackend, error) {
	repo := r.repomanager.Backends(r.db)

	b, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, errors.New("backend name is required")
		}
		b.Name = name
	}
	if p.ClientID != nil {
		b.ClientID = *p.ClientID
	}
	if p.ClientSecret != nil {
		secret, err := r.sealer.Encrypt(*p.ClientSecret)
		if err != nil {
			return nil, err
		}
		b.EncryptedClientSecret = secret
		vault.Forget(b)
	}
	if p.RootFolderID != nil {
		b.RootFolderID = *p.RootFolderID
	}
	if p.RootFolderName != nil {
		b.RootFolderName = *p.RootFolderName
	}
	if p.PublicURL != nil {
		b.PublicURL = *p.PublicURL
	}

	if err := repo.Update(ctx, b); err != nil {
		return nil, err
	}
	r.invalidate(ctx, b.Role)
	return b, nil
}

// Delete removes a backend that holds no files.
func (r *Registry) Delete(ctx context.Context, id string) error {
	repo := r.repomanager.Backends(r.db)

	b, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, id); err != nil {
		return err
	}

	r.log.Info(ctx, "backend deleted", "backend_id", id)
	r.invalidate(ctx, b.Role)
	return nil
}

// AssignRole designates the backend for role. A backend serves at most one
// role, so a different current role is cleared first under the same rules
// as ClearRole.
func (r *Registry) AssignRole(ctx context.Context, id string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	var previous models.Role
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.repomanager.Backends(tx)

		b, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		previous = b.Role
		if previous == role {
			return nil
		}
		if previous != models.RoleNone {
			if err := repo.ClearRole(ctx, id); err != nil {
				return err
			}
		}
		return repo.SetRole(ctx, id, role)
	})
	if err != nil {
		return err
	}

	if previous != role {
		r.log.Info(ctx, "backend role assigned", "backend_id", id, "role", string(role), "previous", string(previous))
		r.invalidate(ctx, previous)
		r.invalidate(ctx, role)
	}
	return nil
}

// ClearRole retires the backend from its role. It fails with
// ErrBackendHasFiles while the backend still holds files.
func (r *Registry) ClearRole(ctx context.Context, id string) error {
	repo := r.repomanager.Backends(r.db)

	b, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if b.Role == models.RoleNone {
		return nil
	}
	if err := repo.ClearRole(ctx, id); err != nil {
		return err
	}

	r.log.Info(ctx, "backend role cleared", "backend_id", id, "role", string(b.Role))
	r.invalidate(ctx, b.Role)
	return nil
}

// SaveToken persists a refreshed token pair and drops cached resolutions of the backend's role.
func (r *Registry) SaveToken(ctx context.Context, b *models.StorageBackend, t *models.OAuthToken) error {
	if err := r.repomanager.Backends(r.db).SaveToken(ctx, b.ID, t); err != nil {
		return err
	}
	r.invalidate(ctx, b.Role)
	return nil
}

func (r *Registry) Stats(ctx context.Context) (*UsageStats, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	s := &UsageStats{Backends: len(list), ByRole: make(map[models.Role]int64)}
	for _, b := range list {
		s.UsedBytes += b.UsedBytes
		s.Files += b.FileCount
		s.ByRole[b.Role] += b.UsedBytes
	}
	return s, nil
}

func (r *Registry) invalidate(ctx context.Context, role models.Role) {
	if role == models.RoleNone {
		return
	}
	r.cache.Invalidate(role)
	r.events.Publish(ctx, models.Event{Type: models.EventRoleCacheInvalidated, Role: role})
}
