package handler

import tenancyapp "github.com/faithflows/backend/internal/application/tenancy"

// =====================
// Tenant Request DTOs
// =====================

// CreateTenantRequest represents the request body for onboarding a tenant
type CreateTenantRequest struct {
	Subdomain    string   `json:"subdomain" binding:"required,min=3,max=63,subdomain"`
	Name         string   `json:"name" binding:"required,min=1,max=200"`
	ContactEmail string   `json:"contact_email" binding:"omitempty,email,max=254"`
	Domains      []string `json:"domains" binding:"omitempty,max=10,dive,hostname_rfc1123"`
	StartTrial   *bool    `json:"start_trial"`
}

// UpgradeSubscriptionRequest represents the request body for activating a paid plan
type UpgradeSubscriptionRequest struct {
	Plan     string `json:"plan" binding:"required,oneof=basic standard premium enterprise"`
	Duration string `json:"duration" binding:"omitempty,oneof=monthly yearly"`
}

// SetBypassRequest toggles subscription enforcement for a tenant
type SetBypassRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetGracePeriodRequest changes a tenant's grace period
type SetGracePeriodRequest struct {
	Days *int `json:"days" binding:"required,min=0,max=90"`
}

// SuspendTenantRequest represents the request body for suspending a tenant
type SuspendTenantRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// AddDomainRequest maps another hostname to a tenant
type AddDomainRequest struct {
	Domain  string `json:"domain" binding:"required,max=253,hostname_rfc1123"`
	Primary bool   `json:"primary"`
}

// SetPrimaryDomainRequest selects the primary mapping of a tenant
type SetPrimaryDomainRequest struct {
	Domain string `json:"domain" binding:"required,max=253"`
}

// AddMemberRequest records a principal whose home is the tenant
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email,max=254"`
	Role  string `json:"role" binding:"required,oneof=admin member"`
}

// TenantListQuery represents query parameters for listing tenants
type TenantListQuery struct {
	Keyword     string `form:"keyword" binding:"omitempty,max=100"`
	Status      string `form:"status" binding:"omitempty,oneof=active suspended cancelled"`
	Plan        string `form:"plan" binding:"omitempty,oneof=trial basic standard premium enterprise"`
	BypassOnly  bool   `form:"bypass_only"`
	IncludeGone bool   `form:"include_inactive"`
	Page        int    `form:"page" binding:"omitempty,min=1"`
	PageSize    int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	SortBy      string `form:"sort_by" binding:"omitempty,oneof=subdomain name plan subscription_status trial_end_date subscription_end_date created_at updated_at"`
	SortDir     string `form:"sort_dir" binding:"omitempty,oneof=asc desc"`
}

func (q TenantListQuery) toFilter() tenancyapp.TenantFilter {
	return tenancyapp.TenantFilter{
		Page:        q.Page,
		PageSize:    q.PageSize,
		SortBy:      q.SortBy,
		SortDir:     q.SortDir,
		Keyword:     q.Keyword,
		Status:      q.Status,
		Plan:        q.Plan,
		BypassOnly:  q.BypassOnly,
		IncludeGone: q.IncludeGone,
	}
}
