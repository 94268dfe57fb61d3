package persistence

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/faithflows/backend/internal/infrastructure/config"
	"github.com/faithflows/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockDatabase creates a Database instance with a mocked SQL connection
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	require.NoError(t, err)

	return &Database{DB: gormDB}, mock, mockDB
}

func TestNewDatabase_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         "file:newdb?mode=memory&cache=shared",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		LogLevel:     "silent",
	}

	db, err := NewDatabase(cfg, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	assert.True(t, db.DB.Migrator().HasTable("tenants"))
	assert.True(t, db.DB.Migrator().HasTable("tenant_domains"))
	assert.True(t, db.DB.Migrator().HasTable("tenant_members"))

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MaxOpenConnections)
}

func TestDatabase_Ping(t *testing.T) {
	t.Run("successful ping", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing()
		assert.NoError(t, db.Ping())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed ping", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
		assert.ErrorIs(t, db.Ping(), sql.ErrConnDone)
	})
}

func TestDatabase_Close(t *testing.T) {
	db, mock, _ := newMockDatabase(t)
	mock.ExpectClose()

	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDialector(t *testing.T) {
	pg, ok := newDialector(&config.DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432}).(*postgres.Dialector)
	require.True(t, ok)
	assert.True(t, pg.PreferSimpleProtocol, "partitioned connections never prepare statements")

	assert.Equal(t, "sqlite", newDialector(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}).Name())
}
