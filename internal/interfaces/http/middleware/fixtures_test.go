package middleware

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	tenancyapp "github.com/faithflows/backend/internal/application/tenancy"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/auth"
	"github.com/faithflows/backend/internal/infrastructure/config"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var fixedNow = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

// note is a partitioned row used to observe isolation end to end
type note struct {
	ID       uint  `gorm:"primaryKey"`
	TenantID int64 `gorm:"index;not null"`
	Body     string
}

type memDirectory struct {
	mu    sync.RWMutex
	byKey map[string]*tenancy.Tenant
	err   error
}

func (d *memDirectory) FindByKey(ctx context.Context, key string) (*tenancy.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.err != nil {
		return nil, d.err
	}
	if t, ok := d.byKey[key]; ok {
		return t, nil
	}
	return nil, tenancy.ErrTenantNotFound
}

func (d *memDirectory) FindByID(ctx context.Context, id snowflake.ID) (*tenancy.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, t := range d.byKey {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, tenancy.ErrTenantNotFound
}

func (d *memDirectory) fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func newTenant(t *testing.T, id int64, subdomain string) *tenancy.Tenant {
	t.Helper()
	tn, err := tenancy.NewTenant(snowflake.ID(id), subdomain, strings.ToUpper(subdomain[:1])+subdomain[1:], "", fixedNow)
	require.NoError(t, err)
	tn.ClearDomainEvents()
	return tn
}

type tenancyEnv struct {
	db        *gorm.DB
	manager   *partition.Manager
	directory *memDirectory
	resolver  *tenancyapp.Resolver
}

func newTenancyEnv(t *testing.T, tenants ...*tenancy.Tenant) *tenancyEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&note{}))

	manager := partition.NewManager(db, partition.NewColumnStrategy(db, "tenant_id", "notes"))
	dir := &memDirectory{byKey: map[string]*tenancy.Tenant{}}
	for _, tn := range tenants {
		dir.byKey[tn.Subdomain] = tn
	}
	return &tenancyEnv{
		db:        db,
		manager:   manager,
		directory: dir,
		resolver:  tenancyapp.NewResolver(dir, manager, zap.NewNop()),
	}
}

func newJWTService() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:                "middleware-test-secret-0123456789abcdef",
		AccessTokenExpiration: time.Hour,
		Issuer:                "tenantd-test",
	})
}

func issueToken(t *testing.T, svc *auth.JWTService, role tenancy.Role, home *tenancy.Tenant) string {
	t.Helper()
	var homeID *snowflake.ID
	if home != nil {
		id := home.ID
		homeID = &id
	}
	p, err := tenancy.NewPrincipal("user-"+string(role), string(role)+"@example.org", role, homeID)
	require.NoError(t, err)
	token, _, err := svc.GenerateAccessToken(p)
	require.NoError(t, err)
	return token
}
