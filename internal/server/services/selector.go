package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

// Selector picks the backend a new upload goes to.
//
// Source uploads are balanced over the source pool: the least-selected
// backend wins and its counter is bumped. The read and the increment are
// separate statements, so concurrent callers may pick the same backend.
// Image uploads go to the single backend holding the role.
type Selector struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	opener      AdapterOpener
	cache       *RoleCache
}

// NewSelector returns a selector backed by the role cache.
func NewSelector(db *sql.DB, m repomanager.RepositoryManager, opener AdapterOpener, cache *RoleCache) *Selector {
	return &Selector{db: db, repomanager: m, opener: opener, cache: cache}
}

// Select resolves the backend and adapter for a new upload in role.
func (s *Selector) Select(ctx context.Context, role models.Role) (*models.StorageBackend, storage.Adapter, error) {
	switch {
	case role == models.RoleSource:
		b, err := s.SelectSource(ctx)
		if err != nil {
			return nil, nil, err
		}
		a, err := s.opener.Open(ctx, b)
		if err != nil {
			return nil, nil, err
		}
		return b, a, nil
	case role.IsImage():
		return s.SelectImage(ctx, role)
	default:
		return nil, nil, fmt.Errorf("invalid role %q", role)
	}
}

func (s *Selector) SelectSource(ctx context.Context) (*models.StorageBackend, error) {
	repo := s.repomanager.Backends(s.db)

	pool, err := repo.ListByRole(ctx, models.RoleSource)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: %s", common.ErrRoleStorageNotConfigured, models.RoleSource)
	}

	pick := pool[0]
	for _, b := range pool[1:] {
		if b.SelectionCount < pick.SelectionCount {
			pick = b
		}
	}

	n, err := repo.IncrementSelection(ctx, pick.ID)
	if err != nil {
		return nil, err
	}
	pick.SelectionCount = n
	return pick, nil
}

func (s *Selector) SelectImage(ctx context.Context, role models.Role) (*models.StorageBackend, storage.Adapter, error) {
	if b, a, ok := s.cache.Get(role); ok {
		return b, a, nil
	}

	list, err := s.repomanager.Backends(s.db).ListByRole(ctx, role)
	if err != nil {
		return nil, nil, err
	}
	if len(list) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrRoleStorageNotConfigured, role)
	}

	b := list[0]
	a, err := s.opener.Open(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	s.cache.Put(role, b, a)
	return b, a, nil
}
