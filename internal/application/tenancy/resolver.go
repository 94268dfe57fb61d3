package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/logger"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"go.uber.org/zap"
)

// Outcome classifies how a request key resolved
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	// OutcomeAbsent means the request carried no key
	OutcomeAbsent Outcome = "absent"
	// OutcomeUnknown covers malformed keys, misses and inactive tenants.
	// Callers must not tell it apart from OutcomeAbsent on the wire.
	OutcomeUnknown Outcome = "unknown"
)

// Resolution is the result of resolving one request key
type Resolution struct {
	Tenant  *tenancy.Tenant
	Scope   *partition.Scope
	Outcome Outcome
}

// PartitionSet reports whether a tenant partition was bound
func (r Resolution) PartitionSet() bool {
	return r.Scope != nil
}

// Binder binds a request context to a tenant's partition
type Binder interface {
	Bind(ctx context.Context, t *tenancy.Tenant) (*partition.Scope, error)
}

// Resolver maps a request key to a tenant and binds its partition
type Resolver struct {
	directory tenancy.Directory
	binder    Binder
	logger    *zap.Logger
}

// NewResolver creates a resolver over a (usually cached) directory
func NewResolver(directory tenancy.Directory, binder Binder, logger *zap.Logger) *Resolver {
	return &Resolver{directory: directory, binder: binder, logger: logger}
}

// Resolve looks key up and, on a hit, binds the tenant's partition to ctx
// before returning. ctx must have been prepared with partition.WithRequest.
//
// A missing, malformed, unknown or inactive key is not an error. Directory
// failures are, and wrap partition.ErrBindingFailed so no outage can
// downgrade a tenant request to the shared partition.
func (r *Resolver) Resolve(ctx context.Context, key string) (Resolution, error) {
	key = tenancy.NormalizeKey(key)
	if key == "" {
		return Resolution{Outcome: OutcomeAbsent}, nil
	}
	log := r.logger.With(zap.String("request_id", logger.GetRequestID(ctx)))

	if !tenancy.ValidKey(key) {
		log.Debug("Malformed tenant key", zap.Int("key_length", len(key)))
		return Resolution{Outcome: OutcomeUnknown}, nil
	}

	t, err := r.directory.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantNotFound) {
			log.Debug("Unknown tenant key", zap.String("tenant_key", key))
			return Resolution{Outcome: OutcomeUnknown}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		return Resolution{}, fmt.Errorf("%w: directory lookup: %w", partition.ErrBindingFailed, err)
	}
	if !t.IsActive {
		log.Warn("Request for inactive tenant",
			zap.String("tenant_key", key),
			zap.String("tenant_id", t.ID.String()))
		return Resolution{Outcome: OutcomeUnknown}, nil
	}

	scope, err := r.binder.Bind(ctx, t)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Tenant: t, Scope: scope, Outcome: OutcomeResolved}, nil
}
