package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
)

// Deps are the shared collaborators handed to every adapter.
type Deps struct {
	HTTP     *http.Client
	Log      logging.Logger
	Retry    RetryPolicy
	Saver    TokenSaver
	LeadTime time.Duration
	Now      func() time.Time
	// Endpoints overrides provider base URLs per kind (tests, S3-compatible stores).
	Endpoints map[models.BackendKind]string
}

func (d Deps) clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

func (d Deps) logger() logging.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logging.Nop()
}

// Logger returns the configured logger tagged for backend b.
func (d Deps) Logger(b *models.StorageBackend) logging.Logger {
	return d.logger().With("module", "storage", "backend_id", b.ID, "kind", string(b.Kind))
}

// Endpoint returns the override for kind, or def.
func (d Deps) Endpoint(kind models.BackendKind, def string) string {
	if u, ok := d.Endpoints[kind]; ok && u != "" {
		return u
	}
	return def
}

// Factory builds an adapter for a backend whose secret is already decrypted.
type Factory func(ctx context.Context, b *models.StorageBackend, deps Deps) (Adapter, error)

// Decrypter fills in a backend's client secret.
type Decrypter interface {
	Decrypt(b *models.StorageBackend) error
}

// Opener turns StorageBackend records into live adapters.
type Opener struct {
	factories map[models.BackendKind]Factory
	vault     Decrypter
	deps      Deps
}

func NewOpener(factories map[models.BackendKind]Factory, vault Decrypter, deps Deps) *Opener {
	if deps.Retry.Attempts == 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	return &Opener{factories: factories, vault: vault, deps: deps}
}

// SetSaver wires the token persister after construction.
func (o *Opener) SetSaver(s TokenSaver) { o.deps.Saver = s }

// Open decrypts b (once per in-memory value) and builds its adapter.
func (o *Opener) Open(ctx context.Context, b *models.StorageBackend) (Adapter, error) {
	f, ok := o.factories[b.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownBackendKind, b.Kind)
	}
	if o.vault != nil {
		if err := o.vault.Decrypt(b); err != nil {
			return nil, err
		}
	}
	return f(ctx, b, o.deps)
}

// Supports reports whether kind has a registered factory.
func (o *Opener) Supports(kind models.BackendKind) bool {
	_, ok := o.factories[kind]
	return ok
}
