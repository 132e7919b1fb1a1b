package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// RefreshFunc performs the provider-specific token refresh for a backend.
type RefreshFunc func(ctx context.Context, b *models.StorageBackend) (*models.OAuthToken, error)

// Authorizer owns the token state of one adapter instance.
type Authorizer struct {
	mu       sync.Mutex
	backend  *models.StorageBackend
	refresh  RefreshFunc
	saver    TokenSaver
	leadTime time.Duration
	now      func() time.Time
	log      logging.Logger
}

// NewAuthorizer wraps the backend's stored tokens and refreshes them through refresh.
func NewAuthorizer(b *models.StorageBackend, refresh RefreshFunc, deps Deps) *Authorizer {
	return &Authorizer{
		backend:  b,
		refresh:  refresh,
		saver:    deps.Saver,
		leadTime: deps.LeadTime,
		now:      deps.clock(),
		log:      deps.logger().With("backend_id", b.ID, "kind", string(b.Kind)),
	}
}

// Refresh obtains a new token, applies it to the backend and persists it.
// Concurrent callers on different instances are not coordinated; the last
// saved pair wins.
func (a *Authorizer) Refresh(ctx context.Context) (*models.OAuthToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshLocked(ctx)
}

func (a *Authorizer) refreshLocked(ctx context.Context) (*models.OAuthToken, error) {
	if a.refresh == nil {
		return nil, common.ErrUnsupportedOperation
	}
	t, err := a.refresh(ctx, a.backend)
	if err != nil {
		if errors.Is(err, common.ErrBackendUnauthorized) {
			return nil, fmt.Errorf("%w: token refresh rejected: %v", common.ErrBackendRequestFailed, err)
		}
		return nil, err
	}
	a.backend.ApplyToken(t)
	if a.saver != nil {
		if err := a.saver.SaveToken(ctx, a.backend, t); err != nil {
			return nil, fmt.Errorf("save token: %w", err)
		}
	}
	a.log.Info(ctx, "backend token refreshed", "expiry", t.Expiry)
	return t, nil
}

// token returns a usable access token, refreshing first when it is missing
// or expires within the lead time.
func (a *Authorizer) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refresh != nil && a.backend.TokenExpired(a.now().Add(a.leadTime)) {
		if _, err := a.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return a.backend.AccessToken, nil
}

// Operation scopes the one-shot refresh-and-retry rule: across all calls
// made through it, at most one refresh is triggered by an authorization
// failure.
type Operation struct {
	auth      *Authorizer
	refreshed bool
}

// Begin starts a new logical operation.
func (a *Authorizer) Begin() *Operation {
	return &Operation{auth: a}
}

// Refreshed reports whether the operation already spent its auth retry.
func (op *Operation) Refreshed() bool { return op.refreshed }

// Call runs fn with a valid access token. On the first authorization failure
// in the operation the token is refreshed and fn is retried once; any further
// authorization failure is fatal and reported as ErrBackendRequestFailed.
func Call[T any](ctx context.Context, op *Operation, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	token, err := op.auth.token(ctx)
	if err != nil {
		return zero, err
	}

	v, err := fn(ctx, token)
	if !errors.Is(err, common.ErrBackendUnauthorized) {
		return v, err
	}
	if op.refreshed || op.auth.refresh == nil {
		return zero, unauthorizedTwice(err)
	}

	op.refreshed = true
	if _, err := op.auth.Refresh(ctx); err != nil {
		return zero, err
	}

	v, err = fn(ctx, op.auth.currentToken())
	if errors.Is(err, common.ErrBackendUnauthorized) {
		return zero, unauthorizedTwice(err)
	}
	return v, err
}

// Do runs fn as a single-call operation.
func Do[T any](ctx context.Context, a *Authorizer, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	return Call(ctx, a.Begin(), fn)
}

// Exec is Call for calls without a result.
func Exec(ctx context.Context, op *Operation, fn func(ctx context.Context, token string) error) error {
	_, err := Call(ctx, op, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, fn(ctx, token)
	})
	return err
}

func (a *Authorizer) currentToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend.AccessToken
}

func unauthorizedTwice(err error) error {
	return fmt.Errorf("%w: unauthorized after token refresh: %v", common.ErrBackendRequestFailed, err)
}
