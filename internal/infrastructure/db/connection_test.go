package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled)
	assert.NoError(t, config.Validate())
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://swing@localhost/swingrun?sslmode=disable")
	t.Setenv("PG_ENABLED", "true")
	t.Setenv("PG_MAX_OPEN_CONNS", "20")
	t.Setenv("PG_QUERY_TIMEOUT", "5s")
	t.Setenv("PG_MAX_IDLE_CONNS", "not-a-number")

	config := DefaultConfig()
	config.ApplyEnvOverrides()

	assert.True(t, config.Enabled)
	assert.Equal(t, "postgres://swing@localhost/swingrun?sslmode=disable", config.DSN)
	assert.Equal(t, 20, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns, "unparsable values are ignored")
	assert.Equal(t, 5*time.Second, config.QueryTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing dsn", func(c *Config) { c.Enabled = true }, "DSN is required"},
		{"no open conns", func(c *Config) { c.MaxOpenConns = 0 }, "max_open_conns"},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 50 }, "cannot exceed"},
		{"no timeout", func(c *Config) { c.QueryTimeout = 0 }, "query_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	require.NotNil(t, manager.Repository())
	assert.NotNil(t, manager.Repository().Positions)
	assert.NotNil(t, manager.Repository().Exits)
	assert.NoError(t, manager.Close())

	healthCheck := manager.Health().Health(context.Background())
	assert.True(t, healthCheck.Healthy)
	assert.Contains(t, healthCheck.Errors[0], "disabled")
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestNewManager_InvalidDSN(t *testing.T) {
	_, err := NewManager(Config{Enabled: true, DSN: "invalid://dsn/format"})
	assert.Error(t, err)
}

func TestManagerWithDB_Health(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), Config{})
	assert.True(t, manager.IsEnabled())

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM positions`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	healthCheck := manager.Health().Health(context.Background())
	assert.True(t, healthCheck.Healthy)
	assert.Empty(t, healthCheck.Errors)
	assert.Equal(t, 4, healthCheck.OpenPositions)
	assert.Contains(t, healthCheck.ConnectionPool, "in_use")

	mock.ExpectPing().WillReturnError(sqlmock.ErrCancelled)
	healthCheck = manager.Health().Health(context.Background())
	assert.False(t, healthCheck.Healthy)
	require.Len(t, healthCheck.Errors, 1)
	assert.Contains(t, healthCheck.Errors[0], "ping failed")

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM positions`).
		WillReturnError(errors.New(`relation "positions" does not exist`))
	healthCheck = manager.Health().Health(context.Background())
	assert.False(t, healthCheck.Healthy)
	require.Len(t, healthCheck.Errors, 1)
	assert.Contains(t, healthCheck.Errors[0], "positions table")

	assert.NoError(t, mock.ExpectationsWereMet())
}
