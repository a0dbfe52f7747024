package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment      string           `mapstructure:"environment"`
	LogLevel         string           `mapstructure:"log_level"`
	Log              LogConfig        `mapstructure:"log"`
	HTTP             HTTPConfig       `mapstructure:"http"`
	Database         DatabaseConfig   `mapstructure:"database"`
	Events           EventsConfig     `mapstructure:"events"`
	Validation       ValidationConfig `mapstructure:"validation"`
	Oracle           OracleConfig     `mapstructure:"oracle"`
	Scheduler        SchedConfig      `mapstructure:"scheduler"`
	Notifier         NotifierConfig   `mapstructure:"notifier"`
	Security         SecurityConfig   `mapstructure:"security"`
	DestinationsFile string           `mapstructure:"destinations_file"`
}

// LogConfig holds log file rotation settings
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// HTTPConfig holds the command API listener settings
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver     string         `mapstructure:"driver"`
	URL        string         `mapstructure:"url"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	MaxConns   int            `mapstructure:"max_conns"`
	MinConns   int            `mapstructure:"min_conns"`
	Timeout    time.Duration  `mapstructure:"timeout"`
	Embedded   EmbeddedConfig `mapstructure:"embedded"`
}

// EmbeddedConfig configures the bundled Postgres used for local runs
type EmbeddedConfig struct {
	Port        uint32 `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Database    string `mapstructure:"database"`
	RuntimePath string `mapstructure:"runtime_path"`
	DataPath    string `mapstructure:"data_path"`
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverEmbedded = "embedded"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// EventsConfig holds default phase durations
type EventsConfig struct {
	SubmissionDuration time.Duration `mapstructure:"submission_duration"`
	VotingDuration     time.Duration `mapstructure:"voting_duration"`
	TieBreakDuration   time.Duration `mapstructure:"tiebreak_duration"`
	Representatives    int           `mapstructure:"representatives"`
}

// ValidationConfig holds candidate name rules
type ValidationConfig struct {
	MinLength     int      `mapstructure:"min_length"`
	MaxLength     int      `mapstructure:"max_length"`
	ReservedNames []string `mapstructure:"reserved_names"`
}

// OracleConfig points at the metrics backend listing names in use
type OracleConfig struct {
	URL         string        `mapstructure:"url"`
	Query       string        `mapstructure:"query"`
	Label       string        `mapstructure:"label"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	StaticNames []string      `mapstructure:"static_names"`
}

// SchedConfig holds scheduler related configuration
type SchedConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// NotifierConfig holds announcement delivery settings
type NotifierConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	QueueSize  int           `mapstructure:"queue_size"`
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SecurityConfig holds admin token settings. An empty secret leaves the
// admin routes open.
type SecurityConfig struct {
	AdminSecret string        `mapstructure:"admin_secret"`
	Issuer      string        `mapstructure:"issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, rely on defaults and env vars
		}
	}

	v.SetEnvPrefix("NAMING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("log.output_path", "logs/naming.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.shutdown_timeout", "30s")

	v.SetDefault("destinations_file", "")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "data/naming.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.embedded.port", 5433)
	v.SetDefault("database.embedded.username", "naming")
	v.SetDefault("database.embedded.password", "naming")
	v.SetDefault("database.embedded.database", "naming")
	v.SetDefault("database.embedded.runtime_path", "data/pg-runtime")
	v.SetDefault("database.embedded.data_path", "data/pg-data")

	v.SetDefault("events.submission_duration", "60m")
	v.SetDefault("events.voting_duration", "30m")
	v.SetDefault("events.tiebreak_duration", "15m")
	v.SetDefault("events.representatives", 5)

	v.SetDefault("validation.min_length", 3)
	v.SetDefault("validation.max_length", 20)
	v.SetDefault("validation.reserved_names", []string{
		"sakura", "cherry", "bamboo", "maple", "pine", "palm", "cedar",
	})

	v.SetDefault("oracle.url", "https://metrics.pyro.host")
	v.SetDefault("oracle.query", "node_uname_info")
	v.SetDefault("oracle.label", "nodename")
	v.SetDefault("oracle.timeout", "5s")
	v.SetDefault("oracle.cache_ttl", "30s")
	v.SetDefault("oracle.static_names", []string{})

	v.SetDefault("scheduler.max_concurrent", 10)
	v.SetDefault("scheduler.retry_attempts", 5)
	v.SetDefault("scheduler.retry_delay", "1s")
	v.SetDefault("scheduler.max_retry_delay", "30s")
	v.SetDefault("scheduler.sweep_schedule", "@every 1m")

	v.SetDefault("notifier.webhook_url", "")
	v.SetDefault("notifier.queue_size", 256)
	v.SetDefault("notifier.workers", 2)
	v.SetDefault("notifier.timeout", "10s")

	v.SetDefault("security.admin_secret", "")
	v.SetDefault("security.issuer", "naming_events")
	v.SetDefault("security.token_ttl", "24h")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateHTTP(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := c.validateEvents(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}
	if err := c.validateValidation(); err != nil {
		return fmt.Errorf("validation config: %w", err)
	}
	if err := c.validateOracle(); err != nil {
		return fmt.Errorf("oracle config: %w", err)
	}
	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	if err := c.validateNotifier(); err != nil {
		return fmt.Errorf("notifier config: %w", err)
	}
	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database URL cannot be empty")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite_path cannot be empty")
		}
	case DriverEmbedded:
		if c.Database.Embedded.Port == 0 {
			return fmt.Errorf("embedded port must be positive")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown driver %q", c.Database.Driver)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("min_conns must be between 0 and max_conns")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.SubmissionDuration <= 0 || c.Events.VotingDuration <= 0 || c.Events.TieBreakDuration <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	if c.Events.Representatives < 0 {
		return fmt.Errorf("representatives cannot be negative")
	}
	return nil
}

func (c *Config) validateValidation() error {
	if c.Validation.MinLength <= 0 {
		return fmt.Errorf("min_length must be positive")
	}
	if c.Validation.MaxLength < c.Validation.MinLength {
		return fmt.Errorf("max_length (%d) cannot be less than min_length (%d)",
			c.Validation.MaxLength, c.Validation.MinLength)
	}
	return nil
}

func (c *Config) validateOracle() error {
	if c.Oracle.URL != "" {
		if c.Oracle.Query == "" || c.Oracle.Label == "" {
			return fmt.Errorf("query and label cannot be empty")
		}
		if c.Oracle.Timeout <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
	}
	if c.Oracle.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl cannot be negative")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if c.Scheduler.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Scheduler.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep_schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) validateNotifier() error {
	if c.Notifier.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.Notifier.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.AdminSecret == "" {
		return nil
	}
	if len(c.Security.AdminSecret) < 16 {
		return fmt.Errorf("admin_secret must be at least 16 bytes")
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive")
	}
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
