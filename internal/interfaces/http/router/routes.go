package router

import (
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/interfaces/http/handler"
	"github.com/faithflows/backend/internal/interfaces/http/middleware"
)

// Handlers bundles the handlers served under the versioned API prefix
type Handlers struct {
	Tenant  *handler.TenantHandler
	Payment *handler.PaymentWebhookHandler
	System  *handler.SystemHandler
	// Outbox is nil when lifecycle events bypass the outbox
	Outbox *handler.OutboxHandler
}

// Groups returns the route groups of the API. Tenant-scoped routes need a
// resolved tenant; administration needs the manage-tenants capability.
func Groups(h Handlers) []RouteRegistrar {
	groups := []RouteRegistrar{
		TenantGroup(h.Tenant),
		AdminGroup(h),
	}
	if h.Payment != nil {
		groups = append(groups, BillingGroup(h.Payment))
	}
	if h.System != nil {
		groups = append(groups, NewDomainGroup("system", "").GET("/ping", h.System.Ping))
	}
	return groups
}

// TenantGroup serves the tenant the request resolved to
func TenantGroup(h *handler.TenantHandler) *DomainGroup {
	return NewDomainGroup("tenant", "").
		Use(middleware.RequireTenant()).
		GET("/tenant/current", h.Current).
		GET("/subscription/status", h.SubscriptionStatus)
}

// AdminGroup serves the operator API
func AdminGroup(handlers Handlers) *DomainGroup {
	h := handlers.Tenant
	admin := NewDomainGroup("admin", "/admin").
		Use(middleware.RequireAuth(), middleware.RequireCapability(tenancy.CapManageTenants))

	admin.Group("tenants", "/tenants").
		POST("", h.Create).
		GET("", h.List).
		GET("/:id", h.Get).
		DELETE("/:id", h.Delete).
		GET("/:id/subscription", h.GetSubscription).
		POST("/:id/trial", h.StartTrial).
		POST("/:id/upgrade", h.Upgrade).
		PUT("/:id/bypass", h.SetBypass).
		PUT("/:id/grace-period", h.SetGracePeriod).
		POST("/:id/suspend", h.Suspend).
		POST("/:id/cancel", h.Cancel).
		POST("/:id/reactivate", h.Reactivate).
		POST("/:id/deactivate", h.Deactivate).
		GET("/:id/domains", h.ListDomains).
		POST("/:id/domains", h.AddDomain).
		PUT("/:id/domains/primary", h.SetPrimaryDomain).
		POST("/:id/members", h.AddMember)

	if handlers.System != nil {
		admin.GET("/system/info", handlers.System.GetSystemInfo)
	}
	if o := handlers.Outbox; o != nil {
		admin.Group("outbox", "/outbox").
			GET("/stats", o.Stats).
			GET("/dead", o.DeadLetters).
			POST("/dead/retry-all", o.RetryAll).
			GET("/:id", o.Get).
			POST("/:id/retry", o.Retry)
	}
	return admin
}

// BillingGroup serves the payment provider callback; it authenticates by
// signature and must be listed among the public routes
func BillingGroup(h *handler.PaymentWebhookHandler) *DomainGroup {
	return NewDomainGroup("billing", "/billing").
		POST("/subscription-payment/webhook", h.HandlePaymentWebhook)
}
