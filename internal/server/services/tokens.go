package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/mediavault/internal/server/vault"
)

// TokenRefresher proactively refreshes the tokens of idle backends so the
// next real request does not pay for the refresh.
type TokenRefresher struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	opener      AdapterOpener
	leadTime    time.Duration
	now         func() time.Time
	log         logging.Logger
}

func NewTokenRefresher(db *sql.DB, m repomanager.RepositoryManager, opener AdapterOpener, leadTime time.Duration, log logging.Logger) *TokenRefresher {
	return &TokenRefresher{db: db, repomanager: m, opener: opener, leadTime: leadTime, now: time.Now,
		log: log.With("module", "token-refresher")}
}

// RefreshExpiring refreshes every backend whose token is missing or expires
// within the lead time and returns how many were refreshed.
func (r *TokenRefresher) RefreshExpiring(ctx context.Context) (int, error) {
	list, err := r.repomanager.Backends(r.db).ListExpiring(ctx, r.now().Add(r.leadTime))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, b := range list {
		adapter, err := r.opener.Open(ctx, b)
		if err != nil {
			r.log.Warn(ctx, "token refresh skipped", "backend_id", b.ID, "error", err)
			continue
		}
		_, err = adapter.RefreshToken(ctx)
		// Drop the plaintext secret with the adapter.
		vault.Forget(b)
		if err != nil {
			if !errors.Is(err, common.ErrUnsupportedOperation) {
				r.log.Warn(ctx, "token refresh failed", "backend_id", b.ID, "kind", string(b.Kind), "error", err)
			}
			continue
		}
		n++
	}
	return n, nil
}
