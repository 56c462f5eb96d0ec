/*
config.go - Server configuration

PURPOSE:
  Loads settings from defaults, an optional config file, a .env file and
  BUDGET_* environment variables, in increasing order of precedence.

KEYS (env form in parentheses):
  server.port            (BUDGET_SERVER_PORT)            8080
  server.cors_origins    (BUDGET_SERVER_CORS_ORIGINS)    localhost dashboard origins
  database.path          (BUDGET_DATABASE_PATH)          budget.db, ":memory:" allowed
  log.level              (BUDGET_LOG_LEVEL)              info
  log.pretty             (BUDGET_LOG_PRETTY)             false
  matrix.months          (BUDGET_MATRIX_MONTHS)          12
  baseline.filter_policy (BUDGET_BASELINE_FILTER_POLICY) lenient
  scheduler.enabled      (BUDGET_SCHEDULER_ENABLED)      true
  scheduler.kpi_schedule (BUDGET_SCHEDULER_KPI_SCHEDULE) "0 6 * * *"
  scheduler.timezone     (BUDGET_SCHEDULER_TIMEZONE)     UTC

SEE ALSO:
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/warp/budget-engine/baseline"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/matrix"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "BUDGET"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Matrix    MatrixConfig    `mapstructure:"matrix"`
	Baseline  BaselineConfig  `mapstructure:"baseline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MatrixConfig struct {
	Months int `mapstructure:"months"`
}

type BaselineConfig struct {
	FilterPolicy string `mapstructure:"filter_policy"`
}

type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	KPISchedule string `mapstructure:"kpi_schedule"`
	Timezone    string `mapstructure:"timezone"`
}

// SetDefaults registers every key so that environment variables bind even
// when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.path", "budget.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("matrix.months", 12)
	v.SetDefault("baseline.filter_policy", string(baseline.DefaultPolicy))
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.kpi_schedule", "0 6 * * *")
	v.SetDefault("scheduler.timezone", "UTC")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (when present), then the config file at path (when not
// empty), then the environment.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, budget.InvalidArgument("config", "server.port", fmt.Sprintf("%d out of range", c.Server.Port)))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, budget.InvalidArgument("config", "database.path", "empty"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, budget.InvalidArgument("config", "log.level", err.Error()))
	}
	if c.Matrix.Months < 1 || c.Matrix.Months > matrix.MaxMonthsToShow {
		errs = append(errs, budget.InvalidArgument("config", "matrix.months",
			fmt.Sprintf("must be between 1 and %d", matrix.MaxMonthsToShow)))
	}
	if _, err := baseline.ParsePolicy(c.Baseline.FilterPolicy); err != nil {
		errs = append(errs, budget.InvalidArgument("config", "baseline.filter_policy", err.Error()))
	}
	return errors.Join(errs...)
}

// Policy is the parsed filter policy. Validate has already rejected bad
// values.
func (c *Config) Policy() baseline.FilterPolicy {
	p, _ := baseline.ParsePolicy(c.Baseline.FilterPolicy)
	return p
}

// LogLevel is the parsed log level, info when unparsable.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
