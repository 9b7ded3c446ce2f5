package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the reconciliation engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (the database
// password) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8084"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`

	// PresetsPath points at a YAML file of scoring/tolerance presets that
	// are seeded as global matching configs on startup. Empty disables seeding.
	PresetsPath string `yaml:"presets_path" env:"PRESETS_PATH" env-default:"presets.yaml"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"recon"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"recon_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL renders the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// EngineConfig holds matching-engine execution settings.
type EngineConfig struct {
	// MaxConcurrentTasks bounds how many reconciliation tasks run at once.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" env:"ENGINE_MAX_CONCURRENT_TASKS" env-default:"4"`

	// MaxSubsetEvaluations is the combinatorial safety bound per stage.
	// A stage whose group-size limits would exceed it is skipped with a warning.
	MaxSubsetEvaluations int `yaml:"max_subset_evaluations" env:"ENGINE_MAX_SUBSET_EVALUATIONS" env-default:"200000"`

	// CandidatePageSize is the page size for candidate store reads.
	CandidatePageSize int `yaml:"candidate_page_size" env:"ENGINE_CANDIDATE_PAGE_SIZE" env-default:"500"`

	// DefaultTimeBudget is the soft per-task time budget applied when a
	// config or pipeline does not carry its own.
	DefaultTimeBudget time.Duration `yaml:"default_time_budget" env:"ENGINE_DEFAULT_TIME_BUDGET" env-default:"5m"`
}

// Validate rejects engine settings that would make runs degenerate.
func (e EngineConfig) Validate() error {
	if e.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be at least 1, got %d", e.MaxConcurrentTasks)
	}
	if e.MaxSubsetEvaluations < 1 {
		return fmt.Errorf("max_subset_evaluations must be at least 1, got %d", e.MaxSubsetEvaluations)
	}
	if e.CandidatePageSize < 1 {
		return fmt.Errorf("candidate_page_size must be at least 1, got %d", e.CandidatePageSize)
	}
	return nil
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	return cfg, nil
}
