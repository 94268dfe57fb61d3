package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func reply(body string) gin.HandlerFunc {
	return func(c *gin.Context) { c.String(http.StatusOK, body) }
}

func TestNewRouter_Defaults(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "/api/v1", r.BasePath())
	assert.Empty(t, r.registrars)

	assert.Equal(t, "/api/v2", NewRouter(gin.New(), WithAPIVersion("v2")).BasePath())
}

func TestRouter_SetupMountsGroupsUnderBasePath(t *testing.T) {
	engine := gin.New()
	tenant := NewDomainGroup("tenant", "").GET("/tenant/current", reply("current"))
	billing := NewDomainGroup("billing", "/billing").POST("/subscription-payment/webhook", reply("ack"))

	NewRouter(engine).Register(tenant).Register(billing).Setup()

	w := serve(engine, http.MethodGet, "/api/v1/tenant/current")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "current", w.Body.String())

	w = serve(engine, http.MethodPost, "/api/v1/billing/subscription-payment/webhook")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ack", w.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(engine, http.MethodGet, "/tenant/current").Code)
}

func TestDomainGroup_Methods(t *testing.T) {
	engine := gin.New()
	tenants := NewDomainGroup("tenants", "/tenants").
		GET("/:id", reply("get")).
		POST("/:id/suspend", reply("suspend")).
		PUT("/:id/bypass", reply("bypass")).
		DELETE("/:id", reply("delete"))
	tenants.RegisterRoutes(engine.Group("/api/v1"))

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/v1/tenants/42", "get"},
		{http.MethodPost, "/api/v1/tenants/42/suspend", "suspend"},
		{http.MethodPut, "/api/v1/tenants/42/bypass", "bypass"},
		{http.MethodDelete, "/api/v1/tenants/42", "delete"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(engine, tt.method, tt.path)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.body, w.Body.String())
		})
	}
	assert.Equal(t, "tenants", tenants.Name())
	assert.Equal(t, "/tenants", tenants.Prefix())
}

func TestDomainGroup_SubgroupsInheritGuards(t *testing.T) {
	engine := gin.New()
	var order []string
	deny := func(c *gin.Context) {
		order = append(order, "guard")
		if c.GetHeader("X-Operator") == "" {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}

	admin := NewDomainGroup("admin", "/admin").Use(deny)
	admin.Group("outbox", "/outbox").Use(func(c *gin.Context) {
		order = append(order, "outbox")
		c.Next()
	}).GET("/stats", reply("stats"))
	admin.RegisterRoutes(engine.Group("/api/v1"))

	w := serve(engine, http.MethodGet, "/api/v1/admin/outbox/stats")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{"guard"}, order, "subgroup middleware never runs for a denied request")

	order = nil
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/outbox/stats", nil)
	req.Header.Set("X-Operator", "ops@example.org")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"guard", "outbox"}, order)
}

func TestDomainGroup_MiddlewareStaysInsideGroup(t *testing.T) {
	engine := gin.New()
	tenant := NewDomainGroup("tenant", "/tenant").
		Use(func(c *gin.Context) { c.AbortWithStatus(http.StatusBadRequest) }).
		GET("/current", reply("current"))
	system := NewDomainGroup("system", "").GET("/ping", reply("pong"))

	NewRouter(engine).Register(tenant, system).Setup()

	assert.Equal(t, http.StatusBadRequest, serve(engine, http.MethodGet, "/api/v1/tenant/current").Code)
	w := serve(engine, http.MethodGet, "/api/v1/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}
