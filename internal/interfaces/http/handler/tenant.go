package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/domain/subscription"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/faithflows/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// TenantHandler serves the tenant of the current request and the
// operator tenant administration API
type TenantHandler struct {
	BaseHandler
	service *tenancyapp.Service
	now     func() time.Time
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(service *tenancyapp.Service) *TenantHandler {
	return &TenantHandler{
		service: service,
		now:     time.Now,
	}
}

// Current godoc
// @ID           getCurrentTenant
// @Summary      Get the current tenant
// @Description  Returns the tenant resolved for this request
// @Tags         tenant
// @Produce      json
// @Param        X-Tenant-Subdomain header string true "Tenant subdomain"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /tenant/current [get]
func (h *TenantHandler) Current(c *gin.Context) {
	t := middleware.CurrentTenant(c)
	if t == nil {
		h.ErrorWithCode(c, dto.ErrCodeTenantRequired, "Organization not specified")
		return
	}
	h.Success(c, tenancyapp.ToTenantDTO(t))
}

// SubscriptionStatus godoc
// @ID           getSubscriptionStatus
// @Summary      Get the subscription status of the current tenant
// @Description  Returns the billing state, remaining days and any warning for the resolved tenant
// @Tags         subscription
// @Produce      json
// @Param        X-Tenant-Subdomain header string true "Tenant subdomain"
// @Success      200 {object} APIResponse[tenancyapp.SubscriptionStatusDTO]
// @Failure      400 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /subscription/status [get]
func (h *TenantHandler) SubscriptionStatus(c *gin.Context) {
	t := middleware.CurrentTenant(c)
	if t == nil {
		h.ErrorWithCode(c, dto.ErrCodeTenantRequired, "Organization not specified")
		return
	}
	v, ok := middleware.CurrentSubscription(c)
	if !ok {
		v = subscription.Evaluate(t, h.now())
	}
	h.Success(c, tenancyapp.ToSubscriptionStatusDTO(t, v))
}

// Create godoc
// @ID           createTenant
// @Summary      Create a tenant
// @Description  Onboard a tenant with its subdomain, optional extra domains and its data partition
// @Tags         admin-tenants
// @Accept       json
// @Produce      json
// @Param        request body CreateTenantRequest true "Tenant creation request"
// @Success      201 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants [post]
func (h *TenantHandler) Create(c *gin.Context) {
	var req CreateTenantRequest
	if !h.bindJSON(c, &req) {
		return
	}

	input := tenancyapp.CreateTenantInput{
		Subdomain:    req.Subdomain,
		Name:         req.Name,
		ContactEmail: req.ContactEmail,
		Domains:      req.Domains,
		StartTrial:   req.StartTrial == nil || *req.StartTrial,
	}

	t, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, t)
}

// List godoc
// @ID           listTenants
// @Summary      List tenants
// @Tags         admin-tenants
// @Produce      json
// @Param        keyword query string false "Search keyword"
// @Param        status query string false "Subscription status" Enums(active, suspended, cancelled)
// @Param        plan query string false "Plan" Enums(trial, basic, standard, premium, enterprise)
// @Param        bypass_only query bool false "Only tenants with subscription checks bypassed"
// @Param        include_inactive query bool false "Include deactivated tenants"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Items per page" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]tenancyapp.TenantDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants [get]
func (h *TenantHandler) List(c *gin.Context) {
	var query TenantListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	result, err := h.service.List(c.Request.Context(), query.toFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Items, result.Total, result.Page, result.PageSize)
}

// Get godoc
// @ID           getTenant
// @Summary      Get a tenant by ID
// @Tags         admin-tenants
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id} [get]
func (h *TenantHandler) Get(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	t, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, t)
}

// GetSubscription godoc
// @ID           getTenantSubscription
// @Summary      Get a tenant's subscription status
// @Tags         admin-tenants
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Success      200 {object} APIResponse[tenancyapp.SubscriptionStatusDTO]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/subscription [get]
func (h *TenantHandler) GetSubscription(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	status, err := h.service.SubscriptionStatus(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, status)
}

// StartTrial godoc
// @ID           startTenantTrial
// @Summary      Start a tenant's free trial
// @Tags         admin-tenants
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/trial [post]
func (h *TenantHandler) StartTrial(c *gin.Context) {
	h.mutate(c, h.service.StartTrial)
}

// Upgrade godoc
// @ID           upgradeTenantSubscription
// @Summary      Activate a paid plan
// @Description  Starts a monthly (30 days) or yearly (365 days) subscription period and clears the trial
// @Tags         admin-tenants
// @Accept       json
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Param        request body UpgradeSubscriptionRequest true "Plan and billing cycle"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/upgrade [post]
func (h *TenantHandler) Upgrade(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	var req UpgradeSubscriptionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	cycle := tenancy.BillingCycle(req.Duration)
	if cycle == "" {
		cycle = tenancy.CycleMonthly
	}

	t, err := h.service.Upgrade(c.Request.Context(), id, tenancy.Plan(req.Plan), cycle)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, t)
}

// SetBypass godoc
// @ID           setTenantBypass
// @Summary      Toggle subscription enforcement
// @Tags         admin-tenants
// @Accept       json
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Param        request body SetBypassRequest true "Bypass flag"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/bypass [put]
func (h *TenantHandler) SetBypass(c *gin.Context) {
	var req SetBypassRequest
	h.mutateWith(c, &req, func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error) {
		return h.service.SetBypass(ctx, id, *req.Enabled)
	})
}

// SetGracePeriod godoc
// @ID           setTenantGracePeriod
// @Summary      Change a tenant's grace period
// @Tags         admin-tenants
// @Accept       json
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Param        request body SetGracePeriodRequest true "Grace period in days"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/grace-period [put]
func (h *TenantHandler) SetGracePeriod(c *gin.Context) {
	var req SetGracePeriodRequest
	h.mutateWith(c, &req, func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error) {
		return h.service.SetGracePeriod(ctx, id, *req.Days)
	})
}

// Suspend godoc
// @ID           suspendTenant
// @Summary      Suspend a tenant
// @Tags         admin-tenants
// @Accept       json
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Param        request body SuspendTenantRequest false "Suspension reason"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/suspend [post]
func (h *TenantHandler) Suspend(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	var req SuspendTenantRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}

	t, err := h.service.Suspend(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, t)
}

// Cancel godoc
// @ID           cancelTenant
// @Summary      Cancel a tenant's subscription
// @Tags         admin-tenants
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/cancel [post]
func (h *TenantHandler) Cancel(c *gin.Context) {
	h.mutate(c, h.service.Cancel)
}

// Reactivate godoc
// @ID           reactivateTenant
// @Summary      Reactivate a suspended, cancelled or deactivated tenant
// @Tags         admin-tenants
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/reactivate [post]
func (h *TenantHandler) Reactivate(c *gin.Context) {
	h.mutate(c, h.service.Reactivate)
}

// Deactivate godoc
// @ID           deactivateTenant
// @Summary      Deactivate a tenant
// @Description  Soft-deletes the tenant and revokes every token issued to its members
// @Tags         admin-tenants
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Success      200 {object} APIResponse[tenancyapp.TenantDTO]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/deactivate [post]
func (h *TenantHandler) Deactivate(c *gin.Context) {
	h.mutate(c, h.service.Deactivate)
}

// Delete godoc
// @ID           deleteTenant
// @Summary      Delete a tenant
// @Description  Removes the tenant, its domain mappings and its data partition
// @Tags         admin-tenants
// @Param        id path string true "Tenant ID"
// @Param        force query bool false "Delete even when members remain"
// @Success      204
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id} [delete]
func (h *TenantHandler) Delete(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))

	if err := h.service.Delete(c.Request.Context(), id, force); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// ListDomains godoc
// @ID           listTenantDomains
// @Summary      List the domains mapped to a tenant
// @Tags         admin-tenants
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Success      200 {object} APIResponse[[]tenancyapp.DomainDTO]
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/domains [get]
func (h *TenantHandler) ListDomains(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	domains, err := h.service.Domains(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, domains)
}

// AddDomain godoc
// @ID           addTenantDomain
// @Summary      Map another domain to a tenant
// @Tags         admin-tenants
// @Accept       json
// @Produce      json
// @Param        id path string true "Tenant ID"
// @Param        request body AddDomainRequest true "Domain mapping"
// @Success      201 {object} APIResponse[tenancyapp.DomainDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/domains [post]
func (h *TenantHandler) AddDomain(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	var req AddDomainRequest
	if !h.bindJSON(c, &req) {
		return
	}

	d, err := h.service.AddDomain(c.Request.Context(), id, req.Domain, req.Primary)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, d)
}

// SetPrimaryDomain godoc
// @ID           setTenantPrimaryDomain
// @Summary      Make a mapped domain the tenant's primary one
// @Tags         admin-tenants
// @Accept       json
// @Param        id path string true "Tenant ID"
// @Param        request body SetPrimaryDomainRequest true "Domain"
// @Success      204
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/domains/primary [put]
func (h *TenantHandler) SetPrimaryDomain(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	var req SetPrimaryDomainRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.service.SetPrimaryDomain(c.Request.Context(), id, req.Domain); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// AddMember godoc
// @ID           addTenantMember
// @Summary      Add a member to a tenant
// @Tags         admin-tenants
// @Accept       json
// @Param        id path string true "Tenant ID"
// @Param        request body AddMemberRequest true "Member"
// @Success      204
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/tenants/{id}/members [post]
func (h *TenantHandler) AddMember(c *gin.Context) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	var req AddMemberRequest
	if !h.bindJSON(c, &req) {
		return
	}

	if err := h.service.AddMember(c.Request.Context(), id, req.Email, tenancy.Role(req.Role)); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

type tenantOp func(ctx context.Context, id snowflake.ID) (*tenancyapp.TenantDTO, error)

func (h *TenantHandler) mutate(c *gin.Context, op tenantOp) {
	id, ok := parseTenantID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	t, err := op(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, t)
}

// mutateWith binds req before running op
func (h *TenantHandler) mutateWith(c *gin.Context, req any, op tenantOp) {
	if _, ok := parseTenantID(c, "id"); !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	if !h.bindJSON(c, req) {
		return
	}
	h.mutate(c, op)
}
