package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/swingrun/internal/persistence"
	"github.com/sawpanic/swingrun/internal/persistence/memory"
	"github.com/sawpanic/swingrun/internal/persistence/postgres"
)

// Manager manages the database connection and repository instances. When
// disabled it hands out the in-memory repository instead.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *persistence.Repository
	health *healthChecker
}

// NewManager creates a new database manager with the given configuration
func NewManager(config Config) (*Manager, error) {
	if !config.Enabled {
		log.Debug().Msg("Database persistence disabled, using in-memory repositories")
		return &Manager{
			config: config,
			repos:  memory.NewRepository(),
			health: &healthChecker{enabled: false},
		}, nil
	}

	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required when enabled")
	}
	config.ApplyDefaults()

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return NewManagerWithDB(db, config), nil
}

// NewManagerWithDB wraps an already-open connection
func NewManagerWithDB(db *sqlx.DB, config Config) *Manager {
	config.ApplyDefaults()
	config.Enabled = true
	return &Manager{
		db:     db,
		config: config,
		repos: &persistence.Repository{
			Positions: postgres.NewPositionsRepo(db, config.QueryTimeout),
			Exits:     postgres.NewExitLedger(db, config.QueryTimeout),
		},
		health: &healthChecker{enabled: true, db: db, timeout: config.QueryTimeout},
	}
}

// Repository returns the repositories: Postgres when enabled, memory otherwise
func (m *Manager) Repository() *persistence.Repository {
	return m.repos
}

// Health reports on the positions store
func (m *Manager) Health() persistence.RepositoryHealth {
	return m.health
}

// IsEnabled reports whether positions and exits live in Postgres
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled && m.db != nil
}

func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

const countOpenPositions = `SELECT COUNT(*) FROM positions`

// healthChecker pings Postgres and counts the open book, which also proves
// the schema is in place
type healthChecker struct {
	enabled bool
	db      *sqlx.DB
	timeout time.Duration
}

func (h *healthChecker) Health(ctx context.Context) persistence.HealthCheck {
	hc := persistence.HealthCheck{Healthy: true, LastCheck: time.Now()}
	if !h.enabled {
		hc.Errors = []string{"Database persistence disabled"}
		return hc
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		hc.Healthy = false
		hc.Errors = append(hc.Errors, fmt.Sprintf("ping failed: %v", err))
	} else if err := h.db.GetContext(ctx, &hc.OpenPositions, countOpenPositions); err != nil {
		hc.Healthy = false
		hc.Errors = append(hc.Errors, fmt.Sprintf("positions table: %v", err))
	}

	stats := h.db.Stats()
	hc.ConnectionPool = map[string]int{
		"open":   stats.OpenConnections,
		"in_use": stats.InUse,
		"idle":   stats.Idle,
	}
	hc.ResponseTimeMS = time.Since(start).Milliseconds()
	return hc
}
