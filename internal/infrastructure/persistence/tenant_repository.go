package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/faithflows/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTenantRepository implements tenancy.Repository using GORM.
// All tables live in the shared partition; tenant partitions are created and
// dropped through the configured strategy inside the same transaction.
type GormTenantRepository struct {
	db          *gorm.DB
	strategy    partition.Strategy
	outboxSaver shared.OutboxEventSaver // optional, for transactional outbox pattern
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB, strategy partition.Strategy) *GormTenantRepository {
	return &GormTenantRepository{db: db, strategy: strategy}
}

// SetOutboxEventSaver makes Create, Save and Delete write the tenant's
// pending lifecycle events to the outbox in the same transaction. Stored
// events are cleared from the aggregate once the transaction commits.
func (r *GormTenantRepository) SetOutboxEventSaver(saver shared.OutboxEventSaver) {
	r.outboxSaver = saver
}

func (r *GormTenantRepository) saveEvents(ctx context.Context, tx *gorm.DB, t *tenancy.Tenant) error {
	if r.outboxSaver == nil {
		return nil
	}
	events := t.GetDomainEvents()
	if len(events) == 0 {
		return nil
	}
	if err := r.outboxSaver.SaveEvents(ctx, tx, events...); err != nil {
		return fmt.Errorf("failed to save events to outbox: %w", err)
	}
	return nil
}

func (r *GormTenantRepository) committed(t *tenancy.Tenant) {
	if r.outboxSaver != nil {
		t.ClearDomainEvents()
	}
}

// FindByKey finds the tenant owning the domain mapping key
func (r *GormTenantRepository) FindByKey(ctx context.Context, key string) (*tenancy.Tenant, error) {
	key = tenancy.NormalizeKey(key)
	if key == "" {
		return nil, tenancy.ErrTenantNotFound
	}
	var model models.TenantModel
	if err := r.db.WithContext(ctx).
		Joins("JOIN tenant_domains ON tenant_domains.tenant_id = tenants.id").
		Where("tenant_domains.domain = ?", key).
		First(&model).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// FindByID finds a tenant by its ID
func (r *GormTenantRepository) FindByID(ctx context.Context, id snowflake.ID) (*tenancy.Tenant, error) {
	var model models.TenantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", int64(id)).Error; err != nil {
		return nil, notFound(err)
	}
	return model.ToDomain(), nil
}

// List finds all tenants matching the filter and the total before paging
func (r *GormTenantRepository) List(ctx context.Context, filter tenancy.ListFilter) ([]*tenancy.Tenant, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.TenantModel{})

	if !filter.IncludeGone {
		query = query.Where("is_active = ?", true)
	}
	if filter.Plan != "" {
		query = query.Where("plan = ?", filter.Plan)
	}
	if filter.Status != "" {
		query = query.Where("subscription_status = ?", filter.Status)
	}
	if filter.BypassOnly {
		query = query.Where("bypass_subscription_check = ?", true)
	}
	if filter.Search != "" {
		keyword := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR subdomain LIKE ?", keyword, keyword)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Clauses(tenantOrder(filter.OrderBy, filter.OrderDir))

	limit := filter.PageSize
	if limit <= 0 {
		limit = 20
	}
	query = query.Offset(filter.Offset()).Limit(limit)

	var tenantModels []models.TenantModel
	if err := query.Find(&tenantModels).Error; err != nil {
		return nil, 0, err
	}
	return toDomainTenants(tenantModels), total, nil
}

// ListEndingBefore returns active tenants whose trial or paid period ended before t
func (r *GormTenantRepository) ListEndingBefore(ctx context.Context, t time.Time) ([]*tenancy.Tenant, error) {
	var tenantModels []models.TenantModel
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND bypass_subscription_check = ?", true, false).
		Where("subscription_status = ?", tenancy.SubscriptionActive).
		Where("(plan = ? AND trial_end_date < ?) OR subscription_end_date < ?", tenancy.PlanTrial, t, t).
		Order("id").
		Find(&tenantModels).Error; err != nil {
		return nil, err
	}
	return toDomainTenants(tenantModels), nil
}

// Create stores the tenant and its mappings and provisions its partition,
// all in one transaction
func (r *GormTenantRepository) Create(ctx context.Context, t *tenancy.Tenant, domains []*tenancy.DomainMapping) error {
	if len(domains) == 0 {
		return tenancy.ErrNoDomainMapping
	}
	primaries := 0
	for _, d := range domains {
		if d.IsPrimary {
			primaries++
		}
	}
	if primaries != 1 {
		return tenancy.ErrMultiplePrimaryKeys
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(models.TenantModelFromDomain(t)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return tenancy.ErrSubdomainTaken
			}
			return err
		}
		for _, d := range domains {
			if err := tx.Create(models.DomainModelFromDomain(d)).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return tenancy.ErrDomainTaken
				}
				return err
			}
		}
		if err := r.strategy.Provision(tx, t); err != nil {
			return fmt.Errorf("provision partition %s: %w", t.PartitionKey, err)
		}
		return r.saveEvents(ctx, tx, t)
	})
	if err != nil {
		return err
	}
	t.MarkPersisted()
	r.committed(t)
	return nil
}

// Save persists lifecycle changes with optimistic locking
func (r *GormTenantRepository) Save(ctx context.Context, t *tenancy.Tenant) error {
	model := models.TenantModelFromDomain(t)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.TenantModel{}).
			Where("id = ? AND version = ?", model.ID, t.PersistedVersion()).
			Updates(map[string]any{
				"name":                      model.Name,
				"contact_email":             model.ContactEmail,
				"plan":                      model.Plan,
				"subscription_status":       model.SubscriptionStatus,
				"trial_started_at":          model.TrialStartedAt,
				"trial_end_date":            model.TrialEndDate,
				"subscription_start_date":   model.SubscriptionStartDate,
				"subscription_end_date":     model.SubscriptionEndDate,
				"grace_period_days":         model.GracePeriodDays,
				"bypass_subscription_check": model.BypassSubscriptionCheck,
				"is_active":                 model.IsActive,
				"version":                   model.Version,
				"updated_at":                model.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.TenantModel{}).Where("id = ?", model.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return tenancy.ErrTenantNotFound
			}
			return shared.ErrConcurrencyConflict
		}
		return r.saveEvents(ctx, tx, t)
	})
	if err != nil {
		return err
	}
	t.MarkPersisted()
	r.committed(t)
	return nil
}

// Delete removes the tenant, its mappings, its member records and its
// partition in one transaction
func (r *GormTenantRepository) Delete(ctx context.Context, t *tenancy.Tenant, force bool) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.TenantModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", int64(t.ID)).Error; err != nil {
			return notFound(err)
		}
		if !force {
			members, err := countMembers(tx, model.ID)
			if err != nil {
				return err
			}
			if members > 0 {
				return tenancy.ErrTenantHasMembers
			}
		}

		if err := r.strategy.Drop(tx, model.ToDomain()); err != nil {
			return fmt.Errorf("drop partition %s: %w", t.PartitionKey, err)
		}
		if err := tx.Where("tenant_id = ?", model.ID).Delete(&models.MemberModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", model.ID).Delete(&models.DomainModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.TenantModel{}, "id = ?", model.ID).Error; err != nil {
			return err
		}
		return r.saveEvents(ctx, tx, t)
	})
	if err != nil {
		return err
	}
	r.committed(t)
	return nil
}

// Domains lists a tenant's mappings, primary first
func (r *GormTenantRepository) Domains(ctx context.Context, tenantID snowflake.ID) ([]*tenancy.DomainMapping, error) {
	var rows []models.DomainModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", int64(tenantID)).
		Order("is_primary DESC, domain").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*tenancy.DomainMapping, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// AddDomain maps another key to a tenant. A primary mapping demotes the
// previous primary in the same transaction.
func (r *GormTenantRepository) AddDomain(ctx context.Context, d *tenancy.DomainMapping) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.TenantModel{}).Where("id = ?", int64(d.TenantID)).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return tenancy.ErrTenantNotFound
		}
		if d.IsPrimary {
			if err := demotePrimary(tx, d.TenantID); err != nil {
				return err
			}
		}
		if err := tx.Create(models.DomainModelFromDomain(d)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return tenancy.ErrDomainTaken
			}
			return err
		}
		return nil
	})
}

// SetPrimaryDomain makes domain the tenant's only primary mapping
func (r *GormTenantRepository) SetPrimaryDomain(ctx context.Context, tenantID snowflake.ID, domain string) error {
	domain = tenancy.NormalizeKey(domain)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.DomainModel
		if err := tx.Where("tenant_id = ? AND domain = ?", int64(tenantID), domain).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tenancy.ErrDomainNotFound
			}
			return err
		}
		if err := demotePrimary(tx, tenantID); err != nil {
			return err
		}
		return tx.Model(&models.DomainModel{}).Where("id = ?", row.ID).Update("is_primary", true).Error
	})
}

// AddMember records a principal in the directory
func (r *GormTenantRepository) AddMember(ctx context.Context, m *tenancy.Member) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.TenantID != nil {
			// holds the tenant row so a concurrent unforced Delete sees this member
			var model models.TenantModel
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&model, "id = ?", int64(*m.TenantID)).Error; err != nil {
				return notFound(err)
			}
		}
		return tx.Create(models.MemberModelFromDomain(m)).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

func countMembers(tx *gorm.DB, tenantID int64) (int64, error) {
	var count int64
	err := tx.Model(&models.MemberModel{}).Where("tenant_id = ?", tenantID).Count(&count).Error
	return count, err
}

func demotePrimary(tx *gorm.DB, tenantID snowflake.ID) error {
	return tx.Model(&models.DomainModel{}).
		Where("tenant_id = ? AND is_primary = ?", int64(tenantID), true).
		Update("is_primary", false).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tenancy.ErrTenantNotFound
	}
	return err
}

func toDomainTenants(rows []models.TenantModel) []*tenancy.Tenant {
	out := make([]*tenancy.Tenant, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}
