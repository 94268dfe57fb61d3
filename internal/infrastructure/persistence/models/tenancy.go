package models

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/tenancy"
)

// TenantModel is the persistence model for the Tenant aggregate
type TenantModel struct {
	AggregateModel
	Subdomain               string                     `gorm:"type:varchar(63);not null;uniqueIndex"`
	Name                    string                     `gorm:"type:varchar(200);not null"`
	ContactEmail            string                     `gorm:"type:varchar(254)"`
	PartitionKey            string                     `gorm:"type:varchar(63);not null;uniqueIndex"`
	Plan                    tenancy.Plan               `gorm:"type:varchar(20);not null;default:'trial'"`
	SubscriptionStatus      tenancy.SubscriptionStatus `gorm:"type:varchar(20);not null;default:'active';index"`
	TrialStartedAt          *time.Time
	TrialEndDate            *time.Time `gorm:"index"`
	SubscriptionStartDate   *time.Time
	SubscriptionEndDate     *time.Time `gorm:"index"`
	GracePeriodDays         int        `gorm:"not null;default:7"`
	BypassSubscriptionCheck bool       `gorm:"not null;default:false"`
	IsActive                bool       `gorm:"not null;default:true;index"`
}

// TableName returns the table name for GORM
func (TenantModel) TableName() string {
	return "tenants"
}

// ToDomain converts the persistence model to a domain Tenant
func (m *TenantModel) ToDomain() *tenancy.Tenant {
	t := &tenancy.Tenant{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: m.BaseModel.ToDomain(),
			Version:    m.Version,
		},
		Subdomain:               m.Subdomain,
		Name:                    m.Name,
		ContactEmail:            m.ContactEmail,
		PartitionKey:            m.PartitionKey,
		Plan:                    m.Plan,
		SubscriptionStatus:      m.SubscriptionStatus,
		TrialStartedAt:          m.TrialStartedAt,
		TrialEndDate:            m.TrialEndDate,
		SubscriptionStartDate:   m.SubscriptionStartDate,
		SubscriptionEndDate:     m.SubscriptionEndDate,
		GracePeriodDays:         m.GracePeriodDays,
		BypassSubscriptionCheck: m.BypassSubscriptionCheck,
		IsActive:                m.IsActive,
	}
	t.MarkPersisted()
	return t
}

// FromDomain populates the persistence model from a domain Tenant
func (m *TenantModel) FromDomain(t *tenancy.Tenant) {
	m.FromDomainAggregateRoot(t.BaseAggregateRoot)
	m.Subdomain = t.Subdomain
	m.Name = t.Name
	m.ContactEmail = t.ContactEmail
	m.PartitionKey = t.PartitionKey
	m.Plan = t.Plan
	m.SubscriptionStatus = t.SubscriptionStatus
	m.TrialStartedAt = t.TrialStartedAt
	m.TrialEndDate = t.TrialEndDate
	m.SubscriptionStartDate = t.SubscriptionStartDate
	m.SubscriptionEndDate = t.SubscriptionEndDate
	m.GracePeriodDays = t.GracePeriodDays
	m.BypassSubscriptionCheck = t.BypassSubscriptionCheck
	m.IsActive = t.IsActive
}

// TenantModelFromDomain creates a new persistence model from a domain Tenant
func TenantModelFromDomain(t *tenancy.Tenant) *TenantModel {
	m := &TenantModel{}
	m.FromDomain(t)
	return m
}

// DomainModel is the persistence model for a domain mapping
type DomainModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false"`
	TenantID  int64     `gorm:"not null;index"`
	Domain    string    `gorm:"type:varchar(253);not null;uniqueIndex"`
	IsPrimary bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DomainModel) TableName() string {
	return "tenant_domains"
}

// ToDomain converts the persistence model to a domain mapping
func (m *DomainModel) ToDomain() *tenancy.DomainMapping {
	return &tenancy.DomainMapping{
		ID:        snowflake.ID(m.ID),
		TenantID:  snowflake.ID(m.TenantID),
		Domain:    m.Domain,
		IsPrimary: m.IsPrimary,
		CreatedAt: m.CreatedAt,
	}
}

// DomainModelFromDomain creates a persistence model from a domain mapping
func DomainModelFromDomain(d *tenancy.DomainMapping) *DomainModel {
	return &DomainModel{
		ID:        int64(d.ID),
		TenantID:  int64(d.TenantID),
		Domain:    d.Domain,
		IsPrimary: d.IsPrimary,
		CreatedAt: d.CreatedAt,
	}
}

// MemberModel is the directory's record of a principal. A null tenant id
// marks a superadmin.
type MemberModel struct {
	ID       int64        `gorm:"primaryKey;autoIncrement:false"`
	TenantID *int64       `gorm:"index"`
	Email    string       `gorm:"type:varchar(254);not null;uniqueIndex"`
	Role     tenancy.Role `gorm:"type:varchar(20);not null"`
}

// TableName returns the table name for GORM
func (MemberModel) TableName() string {
	return "tenant_members"
}

// MemberModelFromDomain creates a persistence model from a domain member
func MemberModelFromDomain(m *tenancy.Member) *MemberModel {
	out := &MemberModel{ID: int64(m.ID), Email: m.Email, Role: m.Role}
	if m.TenantID != nil {
		id := int64(*m.TenantID)
		out.TenantID = &id
	}
	return out
}

// AllModels returns every directory model, for AutoMigrate
func AllModels() []any {
	return []any{&TenantModel{}, &DomainModel{}, &MemberModel{}, &OutboxEntryModel{}}
}
