package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/slipstream/searchd/internal/indexer/cardigann"
	"github.com/slipstream/searchd/internal/indexer/interceptor"
	"github.com/slipstream/searchd/internal/indexer/parser"
	"github.com/slipstream/searchd/internal/indexer/ratelimit"
	"github.com/slipstream/searchd/internal/indexer/search"
	"github.com/slipstream/searchd/internal/indexer/status"
	"github.com/slipstream/searchd/internal/indexer/transport"
	"github.com/slipstream/searchd/internal/indexer/types"
	"github.com/slipstream/searchd/internal/logger"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig              `mapstructure:"server"`
	Database    DatabaseConfig            `mapstructure:"database"`
	Logging     logger.Config             `mapstructure:"logging"`
	Search      SearchConfig              `mapstructure:"search"`
	Definitions DefinitionsConfig         `mapstructure:"definitions"`
	Status      StatusConfig              `mapstructure:"status"`
	RateLimit   ratelimit.Config          `mapstructure:"ratelimit"`
	Solver      interceptor.SolverConfig  `mapstructure:"solver"`
	HTTP        transport.Config          `mapstructure:"http"`
	Indexers    []types.IndexerDefinition `mapstructure:"indexers"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Per-client search budget of the HTTP API.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SearchConfig holds aggregator and adapter settings.
type SearchConfig struct {
	search.Config `mapstructure:",squash"`
	MaxPages      int               `mapstructure:"max_pages"`
	SizePolicy    parser.SizePolicy `mapstructure:"size_policy"`
}

// DefinitionsConfig holds the definition catalog settings.
type DefinitionsConfig struct {
	cardigann.ManagerConfig `mapstructure:",squash"`
	RefreshCron             string `mapstructure:"refresh_cron"`
	Watch                   bool   `mapstructure:"watch"`
}

// StatusConfig holds the indexer status tracker settings.
type StatusConfig struct {
	status.Policy `mapstructure:",squash"`
	RepairCron    string `mapstructure:"repair_cron"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              9797,
			RequestsPerMinute: 30,
			Burst:             10,
		},
		Database: DatabaseConfig{
			Path: "./data/searchd.db",
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Search: SearchConfig{
			Config:   search.DefaultConfig(),
			MaxPages: 3,
		},
		Definitions: DefinitionsConfig{
			ManagerConfig: cardigann.DefaultManagerConfig(),
			RefreshCron:   "0 */6 * * *",
			Watch:         true,
		},
		Status: StatusConfig{
			Policy:     status.DefaultPolicy(),
			RepairCron: "*/15 * * * *",
		},
		RateLimit: ratelimit.DefaultConfig(),
		Solver:    interceptor.DefaultSolverConfig(),
		HTTP:      transport.DefaultConfig(),
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > .env > config file > defaults
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.searchd")
	}

	v.SetEnvPrefix("SEARCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides resolve even
// when the config file does not mention them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.requests_per_minute", d.Server.RequestsPerMinute)
	v.SetDefault("server.burst", d.Server.Burst)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.default_sort", d.Search.DefaultSort)
	v.SetDefault("search.max_pages", d.Search.MaxPages)
	v.SetDefault("search.size_policy.allow_zero", d.Search.SizePolicy.AllowZero)
	v.SetDefault("search.size_policy.default_size", d.Search.SizePolicy.DefaultSize)

	repo := d.Definitions.Repository
	v.SetDefault("definitions.repository.base_url", repo.BaseURL)
	v.SetDefault("definitions.repository.branch", repo.Branch)
	v.SetDefault("definitions.repository.version", repo.Version)
	v.SetDefault("definitions.repository.request_timeout", repo.RequestTimeout)
	v.SetDefault("definitions.repository.user_agent", repo.UserAgent)
	v.SetDefault("definitions.repository.attempts", repo.Attempts)
	v.SetDefault("definitions.cache.dir", d.Definitions.Cache.DefinitionsDir)
	v.SetDefault("definitions.cache.custom_dir", d.Definitions.Cache.CustomDir)
	v.SetDefault("definitions.auto_update", d.Definitions.AutoUpdate)
	v.SetDefault("definitions.update_interval", d.Definitions.UpdateInterval)
	v.SetDefault("definitions.refresh_cron", d.Definitions.RefreshCron)
	v.SetDefault("definitions.watch", d.Definitions.Watch)

	v.SetDefault("status.escalate_on_protection", d.Status.EscalateProtection)
	v.SetDefault("status.escalate_on_auth", d.Status.EscalateAuth)
	v.SetDefault("status.repair_cron", d.Status.RepairCron)

	v.SetDefault("ratelimit.min_interval", d.RateLimit.MinInterval)
	v.SetDefault("ratelimit.hourly_query_limit", d.RateLimit.HourlyQueryLimit)

	v.SetDefault("solver.url", d.Solver.URL)
	v.SetDefault("solver.max_timeout", d.Solver.MaxTimeout)
	v.SetDefault("solver.tags", d.Solver.Tags)

	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("http.request_timeout", d.HTTP.RequestTimeout)
	v.SetDefault("http.max_body_size", d.HTTP.MaxBodySize)
	v.SetDefault("http.retries", d.HTTP.Retries)
	v.SetDefault("http.retry_backoff", d.HTTP.RetryBackoff)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Search.Timeout <= 0 {
		errs = append(errs, errors.New("search.timeout must be positive"))
	}
	if _, err := search.ParseSort(c.Search.DefaultSort); err != nil {
		errs = append(errs, fmt.Errorf("search.default_sort: %w", err))
	}
	if c.Search.MaxPages < 1 {
		errs = append(errs, errors.New("search.max_pages must be at least 1"))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}
	if c.RateLimit.MinInterval < 0 || c.RateLimit.HourlyQueryLimit < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}

	seen := make(map[int64]bool, len(c.Indexers))
	for _, ix := range c.Indexers {
		switch {
		case ix.ID <= 0:
			errs = append(errs, fmt.Errorf("indexer %q: id must be positive", ix.Name))
		case seen[ix.ID]:
			errs = append(errs, fmt.Errorf("indexer %q: duplicate id %d", ix.Name, ix.ID))
		}
		seen[ix.ID] = true
	}
	return errors.Join(errs...)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
