// Package config loads the readmit configuration from defaults, an optional
// readmit.yaml file and READMIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/export"
)

// EnvPrefix is the prefix of every environment override, e.g. READMIT_SERVER_PORT.
const EnvPrefix = "READMIT"

// Load resolves the configuration. The profile (READMIT_PROFILE or the file's
// "profile" key) picks the base defaults; file values override them and
// environment variables override both. An explicit path must exist; without
// one, ./readmit.yaml is read when present.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("readmit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	base, err := forProfile(domain.Profile(v.GetString("profile")))
	if err != nil {
		return nil, err
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func forProfile(p domain.Profile) (*domain.Config, error) {
	switch p {
	case "", domain.ProfileLocal:
		return domain.DefaultConfig(), nil
	case domain.ProfileCluster:
		return domain.ClusterConfig(), nil
	default:
		return nil, fmt.Errorf("unknown profile %q", p)
	}
}

// setDefaults registers every key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("profile", string(c.Profile))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("pipeline.raw_dir", c.Pipeline.RawDir)
	v.SetDefault("pipeline.out_dir", c.Pipeline.OutDir)
	v.SetDefault("pipeline.as_of", c.Pipeline.AsOf)
	v.SetDefault("pipeline.workers", c.Pipeline.Workers)
	v.SetDefault("pipeline.ed_codes", c.Pipeline.EDCodes)
	v.SetDefault("pipeline.ed_expression", c.Pipeline.EDExpression)
	v.SetDefault("pipeline.scenario_file", c.Pipeline.ScenarioFile)
	v.SetDefault("pipeline.formats", c.Pipeline.Formats)
	v.SetDefault("pipeline.include_audit", c.Pipeline.IncludeAudit)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("eventbus.type", c.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
}

// Validate rejects settings the components cannot start with.
func Validate(c *domain.Config) error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative, got %d", c.Pipeline.Workers)
	}
	for _, f := range c.Pipeline.Formats {
		switch f {
		case export.FormatCSV, export.FormatParquet:
		default:
			return fmt.Errorf("pipeline.formats: unsupported format %q", f)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
