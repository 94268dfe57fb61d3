package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/faithflows/backend/internal/infrastructure/persistence"
	"github.com/faithflows/backend/internal/infrastructure/persistence/models"
	"github.com/faithflows/backend/internal/interfaces/http/dto"
	"github.com/faithflows/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error { return nil }

func newTenantService(t *testing.T) (*tenancyapp.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, (&persistence.Database{DB: db}).AutoMigrate(models.AllModels()...))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := persistence.NewGormTenantRepository(db, partition.NewColumnStrategy(db, "tenant_id"))
	svc := tenancyapp.NewService(repo, node, nopPublisher{}, tenancyapp.ServiceConfig{TrialDays: 30}, zap.NewNop(),
		tenancyapp.WithServiceClock(func() time.Time { return testNow }))
	return svc, db
}

func performRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Data    T    `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.True(t, resp.Success, w.Body.String())
	return resp.Data
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*gin.Context)
		expectedID string
	}{
		{
			name:       "from context",
			setup:      func(c *gin.Context) { c.Set(middleware.RequestIDKey, "ctx-request-id") },
			expectedID: "ctx-request-id",
		},
		{
			name:       "from header when context empty",
			setup:      func(c *gin.Context) { c.Request.Header.Set(middleware.RequestIDHeader, "header-request-id") },
			expectedID: "header-request-id",
		},
		{
			name:       "empty when not set",
			setup:      func(c *gin.Context) {},
			expectedID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(c)
			assert.Equal(t, tt.expectedID, getRequestID(c))
		})
	}
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"tenant not found", tenancy.ErrTenantNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"wrapped subdomain taken", fmt.Errorf("create: %w", tenancy.ErrSubdomainTaken), http.StatusConflict, dto.ErrCodeAlreadyExists},
		{"members remain", tenancy.ErrTenantHasMembers, http.StatusConflict, dto.ErrCodeConflict},
		{"invalid state", shared.ErrInvalidState, http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
		{"partition down", fmt.Errorf("bind: %w", partition.ErrBindingFailed), http.StatusServiceUnavailable, dto.ErrCodeUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Set(middleware.RequestIDKey, "req-1")

			(&BaseHandler{}).HandleError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, "req-1", resp.Error.RequestID)
		})
	}

	t.Run("cancelled request", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		(&BaseHandler{}).HandleError(c, context.Canceled)
		assert.Equal(t, middleware.StatusClientClosedRequest, w.Code)
	})

	t.Run("nil is a no-op", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		(&BaseHandler{}).HandleError(c, nil)
		assert.False(t, c.Writer.Written())
	})
}

func TestBaseHandler_BindJSON(t *testing.T) {
	type payload struct {
		Subdomain string `json:"subdomain" binding:"required,subdomain"`
	}
	h := &BaseHandler{}
	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var p payload
		if !h.bindJSON(c, &p) {
			return
		}
		h.Success(c, p)
	})

	w := performRequest(r, http.MethodPost, "/", `{"subdomain":"grace"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(r, http.MethodPost, "/", `{"subdomain":"Not Valid"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "Must be an unreserved subdomain of 3 to 63 lowercase letters, digits and inner hyphens", resp.Error.Details[0].Message)

	w = performRequest(r, http.MethodPost, "/", `{"subdomain":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeBadRequest, decodeResponse(t, w).Error.Code)
}
