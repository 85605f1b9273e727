// Package domain defines the core interfaces and types for readmit.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for persisting runs and their tables.
// All methods require datasetID; runs of different datasets never mix.
type Repository interface {
	// Run lifecycle
	CreateRun(ctx context.Context, datasetID string, run *Run) error
	CompleteRun(ctx context.Context, datasetID string, run *Run, tables *Tables) error
	FailRun(ctx context.Context, datasetID string, runID string, reason string) error
	GetRun(ctx context.Context, datasetID string, runID string) (*Run, error)
	ListRuns(ctx context.Context, datasetID string) ([]*Run, error)

	// Processed tables
	GetKPI(ctx context.Context, datasetID string, runID string) (*KPISnapshot, error)
	ListDiagnosisSummary(ctx context.Context, datasetID string, runID string) ([]DiagnosisSummary, error)
	ListHospitalSummary(ctx context.Context, datasetID string, runID string) ([]HospitalSummary, error)
	ListRiskScores(ctx context.Context, datasetID string, runID string, tier RiskTier) ([]RiskRecord, error)
	GetRiskScore(ctx context.Context, datasetID string, runID string, memberID string) (*RiskRecord, error)
	ListInterventionResults(ctx context.Context, datasetID string, runID string) ([]InterventionResult, error)

	// Intervention scenario configuration
	SaveScenario(ctx context.Context, datasetID string, scenario *Intervention) error
	ListScenarios(ctx context.Context, datasetID string) ([]Intervention, error)
	DeleteScenario(ctx context.Context, datasetID string, name string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" (lib/pq) or "pgx"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
