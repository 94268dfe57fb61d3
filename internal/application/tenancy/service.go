package tenancy

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/subscription"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"go.uber.org/zap"
)

// DirectoryInvalidator drops cached directory entries of a tenant
type DirectoryInvalidator interface {
	Invalidate(ctx context.Context, id snowflake.ID, keys ...string)
}

// InvalidationBroadcaster tells other instances to drop cached entries
type InvalidationBroadcaster interface {
	Publish(ctx context.Context, id snowflake.ID, keys ...string) error
}

// TokenRevoker rejects every access token issued to a tenant's principals so far
type TokenRevoker interface {
	RevokeTenantTokens(ctx context.Context, tenantID snowflake.ID, ttl time.Duration) error
}

// ServiceConfig holds lifecycle defaults
type ServiceConfig struct {
	TrialDays       int
	GracePeriodDays int
	// TokenTTL bounds how long a tenant token revocation must be remembered
	TokenTTL time.Duration
}

// Service runs tenant lifecycle operations. Every mutation is persisted
// through the repository, drops the tenant from directory caches and
// publishes the resulting lifecycle events.
type Service struct {
	repo        tenancy.Repository
	ids         shared.IDGenerator
	events      shared.EventPublisher
	cfg         ServiceConfig
	invalidator DirectoryInvalidator
	broadcaster InvalidationBroadcaster
	revoker     TokenRevoker
	logger      *zap.Logger
	now         func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithInvalidator drops local cache entries after each mutation
func WithInvalidator(inv DirectoryInvalidator) ServiceOption {
	return func(s *Service) { s.invalidator = inv }
}

// WithBroadcaster announces each mutation to other instances
func WithBroadcaster(b InvalidationBroadcaster) ServiceOption {
	return func(s *Service) { s.broadcaster = b }
}

// WithTokenRevoker revokes tokens of deactivated and deleted tenants
func WithTokenRevoker(r TokenRevoker) ServiceOption {
	return func(s *Service) { s.revoker = r }
}

// WithServiceClock overrides the time source
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a lifecycle service
func NewService(
	repo tenancy.Repository,
	ids shared.IDGenerator,
	events shared.EventPublisher,
	cfg ServiceConfig,
	logger *zap.Logger,
	opts ...ServiceOption,
) *Service {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = tenancy.DefaultTrialDays
	}
	if cfg.GracePeriodDays < 0 || cfg.GracePeriodDays > tenancy.MaxGracePeriodDays {
		cfg.GracePeriodDays = tenancy.DefaultGracePeriodDays
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	s := &Service{
		repo:   repo,
		ids:    ids,
		events: events,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create onboards a tenant: the record, its subdomain mapping plus any
// extra domains, and its partition are stored atomically.
func (s *Service) Create(ctx context.Context, input CreateTenantInput) (*TenantDTO, error) {
	now := s.now()
	t, err := tenancy.NewTenant(s.ids.Generate(), input.Subdomain, input.Name, input.ContactEmail, now)
	if err != nil {
		return nil, err
	}
	t.GracePeriodDays = s.cfg.GracePeriodDays
	if input.StartTrial {
		if err := t.StartTrial(now, s.cfg.TrialDays); err != nil {
			return nil, err
		}
	}

	primary, err := tenancy.NewDomainMapping(s.ids.Generate(), t.ID, t.Subdomain, true, now)
	if err != nil {
		return nil, err
	}
	domains := []*tenancy.DomainMapping{primary}
	seen := map[string]struct{}{primary.Domain: {}}
	for _, raw := range input.Domains {
		d, err := tenancy.NewDomainMapping(s.ids.Generate(), t.ID, raw, false, now)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[d.Domain]; dup {
			continue
		}
		seen[d.Domain] = struct{}{}
		domains = append(domains, d)
	}

	if err := s.repo.Create(ctx, t, domains); err != nil {
		s.logFailure("Failed to create tenant", err, zap.String("subdomain", t.Subdomain))
		return nil, err
	}

	s.logger.Info("Tenant created",
		zap.String("tenant_id", t.ID.String()),
		zap.String("subdomain", t.Subdomain),
		zap.String("partition", t.PartitionKey),
		zap.Int("domains", len(domains)))

	s.publish(ctx, t)
	return ToTenantDTO(t), nil
}

// Get returns a tenant by id
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*TenantDTO, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToTenantDTO(t), nil
}

// GetByKey returns the tenant owning a domain mapping key
func (s *Service) GetByKey(ctx context.Context, key string) (*TenantDTO, error) {
	t, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return ToTenantDTO(t), nil
}

// List returns a page of tenants
func (s *Service) List(ctx context.Context, filter TenantFilter) (*TenantListResult, error) {
	lf := filter.ToListFilter()
	tenants, total, err := s.repo.List(ctx, lf)
	if err != nil {
		s.logFailure("Failed to list tenants", err)
		return nil, err
	}
	items := make([]TenantDTO, len(tenants))
	for i, t := range tenants {
		items[i] = *ToTenantDTO(t)
	}
	result := shared.NewPaginated(items, total, lf.Page, lf.PageSize)
	return &result, nil
}

// SubscriptionStatus evaluates a tenant's billing state now
func (s *Service) SubscriptionStatus(ctx context.Context, id snowflake.ID) (*SubscriptionStatusDTO, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToSubscriptionStatusDTO(t, subscription.Evaluate(t, s.now())), nil
}

// StartTrial starts the trial clock with the configured length
func (s *Service) StartTrial(ctx context.Context, id snowflake.ID) (*TenantDTO, error) {
	return s.mutate(ctx, id, "start_trial", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return true, t.StartTrial(now, s.cfg.TrialDays)
	})
}

// Upgrade activates a paid plan for one billing cycle
func (s *Service) Upgrade(ctx context.Context, id snowflake.ID, plan tenancy.Plan, cycle tenancy.BillingCycle) (*TenantDTO, error) {
	return s.mutate(ctx, id, "upgrade", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return true, t.Upgrade(plan, cycle, now)
	})
}

// SetBypass toggles subscription enforcement. Operator only.
func (s *Service) SetBypass(ctx context.Context, id snowflake.ID, enabled bool) (*TenantDTO, error) {
	return s.mutate(ctx, id, "set_bypass", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return t.SetBypass(enabled, now), nil
	})
}

// SetGracePeriod changes the tenant's grace period
func (s *Service) SetGracePeriod(ctx context.Context, id snowflake.ID, days int) (*TenantDTO, error) {
	return s.mutate(ctx, id, "set_grace_period", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return true, t.SetGracePeriod(days, now)
	})
}

// Suspend blocks the tenant until reactivated
func (s *Service) Suspend(ctx context.Context, id snowflake.ID, reason string) (*TenantDTO, error) {
	return s.mutate(ctx, id, "suspend", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return true, t.Suspend(reason, now)
	})
}

// Cancel ends the tenant's subscription
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*TenantDTO, error) {
	return s.mutate(ctx, id, "cancel", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return true, t.Cancel(now)
	})
}

// Reactivate restores a suspended, cancelled or deactivated tenant
func (s *Service) Reactivate(ctx context.Context, id snowflake.ID) (*TenantDTO, error) {
	return s.mutate(ctx, id, "reactivate", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return true, t.Reactivate(now)
	})
}

// Deactivate soft-deletes the tenant and revokes its principals' tokens
func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) (*TenantDTO, error) {
	dto, err := s.mutate(ctx, id, "deactivate", func(t *tenancy.Tenant, now time.Time) (bool, error) {
		return true, t.Deactivate(now)
	})
	if err != nil {
		return nil, err
	}
	s.revokeTokens(ctx, id)
	return dto, nil
}

// Delete removes the tenant, its mappings and its partition. A tenant with
// members is only removed when force is set.
func (s *Service) Delete(ctx context.Context, id snowflake.ID, force bool) error {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	keys := s.keysOf(ctx, id)
	t.AddDomainEvent(tenancy.NewTenantDeletedEvent(t, s.now()))

	if err := s.repo.Delete(ctx, t, force); err != nil {
		t.ClearDomainEvents()
		s.logFailure("Failed to delete tenant", err, zap.String("tenant_id", id.String()))
		return err
	}

	s.logger.Warn("Tenant deleted",
		zap.String("tenant_id", id.String()),
		zap.String("subdomain", t.Subdomain),
		zap.String("partition", t.PartitionKey),
		zap.Bool("force", force))

	s.revokeTokens(ctx, id)
	s.invalidate(ctx, id, keys)
	s.publish(ctx, t)
	return nil
}

// Domains lists the keys mapped to a tenant
func (s *Service) Domains(ctx context.Context, id snowflake.ID) ([]DomainDTO, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, err
	}
	mappings, err := s.repo.Domains(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]DomainDTO, len(mappings))
	for i, m := range mappings {
		out[i] = ToDomainDTO(m)
	}
	return out, nil
}

// AddDomain maps another key to the tenant
func (s *Service) AddDomain(ctx context.Context, id snowflake.ID, domain string, primary bool) (*DomainDTO, error) {
	m, err := tenancy.NewDomainMapping(s.ids.Generate(), id, domain, primary, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.AddDomain(ctx, m); err != nil {
		return nil, err
	}
	s.invalidate(ctx, id, []string{m.Domain})
	dto := ToDomainDTO(m)
	return &dto, nil
}

// SetPrimaryDomain makes an existing mapping the tenant's primary one
func (s *Service) SetPrimaryDomain(ctx context.Context, id snowflake.ID, domain string) error {
	if err := s.repo.SetPrimaryDomain(ctx, id, domain); err != nil {
		return err
	}
	s.invalidate(ctx, id, s.keysOf(ctx, id))
	return nil
}

// AddMember records a principal whose home is tenantID
func (s *Service) AddMember(ctx context.Context, tenantID snowflake.ID, email string, role tenancy.Role) error {
	if !role.IsValid() || role == tenancy.RoleSuperAdmin {
		return shared.NewDomainError("INVALID_ROLE", "Members must be admin or member")
	}
	if _, err := s.repo.FindByID(ctx, tenantID); err != nil {
		return err
	}
	home := tenantID
	return s.repo.AddMember(ctx, &tenancy.Member{
		ID:       s.ids.Generate(),
		TenantID: &home,
		Email:    email,
		Role:     role,
	})
}

// mutate loads the tenant from the durable store, applies fn and persists
// the result. fn reports whether anything changed.
func (s *Service) mutate(ctx context.Context, id snowflake.ID, op string, fn func(*tenancy.Tenant, time.Time) (bool, error)) (*TenantDTO, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := fn(t, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return ToTenantDTO(t), nil
	}
	if err := s.repo.Save(ctx, t); err != nil {
		s.logFailure("Failed to save tenant", err, zap.String("tenant_id", id.String()), zap.String("operation", op))
		return nil, err
	}

	s.logger.Info("Tenant updated",
		zap.String("tenant_id", id.String()),
		zap.String("operation", op),
		zap.String("plan", string(t.Plan)),
		zap.String("status", string(t.SubscriptionStatus)),
		zap.Bool("bypass", t.BypassSubscriptionCheck),
		zap.Bool("active", t.IsActive))

	s.invalidate(ctx, id, s.keysOf(ctx, id))
	s.publish(ctx, t)
	return ToTenantDTO(t), nil
}

func (s *Service) keysOf(ctx context.Context, id snowflake.ID) []string {
	mappings, err := s.repo.Domains(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to list tenant domains for invalidation", zap.String("tenant_id", id.String()), zap.Error(err))
		return nil
	}
	keys := make([]string, len(mappings))
	for i, m := range mappings {
		keys[i] = m.Domain
	}
	return keys
}

func (s *Service) invalidate(ctx context.Context, id snowflake.ID, keys []string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, id, keys...)
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Publish(ctx, id, keys...); err != nil {
			s.logger.Warn("Failed to broadcast directory invalidation", zap.String("tenant_id", id.String()), zap.Error(err))
		}
	}
}

func (s *Service) revokeTokens(ctx context.Context, id snowflake.ID) {
	if s.revoker == nil {
		return
	}
	if err := s.revoker.RevokeTenantTokens(ctx, id, s.cfg.TokenTTL); err != nil {
		s.logger.Error("Failed to revoke tenant tokens", zap.String("tenant_id", id.String()), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, t *tenancy.Tenant) {
	events := t.GetDomainEvents()
	t.ClearDomainEvents()
	if len(events) == 0 || s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		s.logger.Error("Failed to publish lifecycle events", zap.String("tenant_id", t.ID.String()), zap.Error(err))
	}
}

// logFailure logs unexpected errors; domain errors are the caller's concern
func (s *Service) logFailure(msg string, err error, fields ...zap.Field) {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return
	}
	s.logger.Error(msg, append(fields, zap.Error(err))...)
}
