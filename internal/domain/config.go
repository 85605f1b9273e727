package domain

import "time"

// Config holds the complete readmit configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Profile selects the default backing services
	Profile Profile `json:"profile" mapstructure:"profile"`

	// Pipeline settings for batch builds
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// PipelineConfig holds settings for building the analytics tables.
type PipelineConfig struct {
	RawDir  string `json:"rawDir" mapstructure:"raw_dir"`
	OutDir  string `json:"outDir" mapstructure:"out_dir"`
	AsOf    string `json:"asOf" mapstructure:"as_of"` // YYYY-MM-DD, empty = latest admit date
	Workers int    `json:"workers" mapstructure:"workers"`

	// EDCodes is the procedure-code allowlist for emergency visits.
	EDCodes []string `json:"edCodes" mapstructure:"ed_codes"`

	// EDExpression, when set, is a CEL expression that replaces the allowlist.
	EDExpression string `json:"edExpression" mapstructure:"ed_expression"`

	// ScenarioFile is a YAML or JSON list of interventions.
	ScenarioFile string `json:"scenarioFile" mapstructure:"scenario_file"`

	// Formats lists the export formats: "csv", "parquet".
	Formats []string `json:"formats" mapstructure:"formats"`

	// IncludeAudit also writes admissions_enriched and readmissions_events.
	IncludeAudit bool `json:"includeAudit" mapstructure:"include_audit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// Profile represents a deployment profile.
type Profile string

const (
	// ProfileLocal uses SQLite, an in-process cache and channels.
	ProfileLocal Profile = "local"

	// ProfileCluster uses PostgreSQL, Redis and NATS.
	ProfileCluster Profile = "cluster"
)

// DefaultConfig returns the configuration for a single-node local install.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Profile: ProfileLocal,
		Pipeline: PipelineConfig{
			RawDir:       "data/raw",
			OutDir:       "data/processed",
			Workers:      4,
			EDCodes:      []string{"A0427", "99214"},
			Formats:      []string{"csv"},
			IncludeAudit: true,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./readmit.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "readmit",
		},
	}
}

// ClusterConfig returns a configuration for a multi-node deployment.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileCluster
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "readmit",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   200,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
