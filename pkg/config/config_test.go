package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := []byte(`
environment: production
log_level: debug
database:
  driver: postgres
  url: postgres://naming@localhost:5432/naming
  max_conns: 20
events:
  submission_duration: 1m
  voting_duration: 2m
  tiebreak_duration: 30s
validation:
  reserved_names: [oak]
scheduler:
  max_concurrent: 5
  retry_attempts: 3
  sweep_schedule: "@every 30s"
`)

	err := os.WriteFile(configPath, configContent, 0644)
	require.NoError(t, err)

	t.Run("LoadValidConfig", func(t *testing.T) {
		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "production", cfg.Environment)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, DriverPostgres, cfg.Database.Driver)
		assert.Equal(t, 20, cfg.Database.MaxConns)
		assert.Equal(t, time.Minute, cfg.Events.SubmissionDuration)
		assert.Equal(t, 2*time.Minute, cfg.Events.VotingDuration)
		assert.Equal(t, 30*time.Second, cfg.Events.TieBreakDuration)
		assert.Equal(t, []string{"oak"}, cfg.Validation.ReservedNames)
		assert.Equal(t, "@every 30s", cfg.Scheduler.SweepSchedule)
	})

	t.Run("EnvironmentOverride", func(t *testing.T) {
		t.Setenv("NAMING_LOG_LEVEL", "error")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.LogLevel)
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		invalidPath := filepath.Join(tmpDir, "invalid.yaml")
		err := os.WriteFile(invalidPath, []byte("invalid: [yaml: syntax"), 0644)
		require.NoError(t, err)

		cfg, err := Load(invalidPath)
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("DefaultValues", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.yaml"))
		require.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "development", cfg.Environment)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, DriverSQLite, cfg.Database.Driver)
		assert.Equal(t, 60*time.Minute, cfg.Events.SubmissionDuration)
		assert.Equal(t, 30*time.Minute, cfg.Events.VotingDuration)
		assert.Equal(t, 15*time.Minute, cfg.Events.TieBreakDuration)
		assert.Equal(t, 3, cfg.Validation.MinLength)
		assert.Equal(t, 20, cfg.Validation.MaxLength)
		assert.ElementsMatch(t,
			[]string{"sakura", "cherry", "bamboo", "maple", "pine", "palm", "cedar"},
			cfg.Validation.ReservedNames)
		assert.Equal(t, "node_uname_info", cfg.Oracle.Query)
		assert.Equal(t, 5*time.Second, cfg.Oracle.Timeout)
		assert.Empty(t, cfg.Security.AdminSecret)
		assert.Equal(t, 24*time.Hour, cfg.Security.TokenTTL)
	})
}

func validConfig() *Config {
	return &Config{
		Environment: "test",
		LogLevel:    "info",
		HTTP:        HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Driver:   DriverMemory,
			MaxConns: 10,
			MinConns: 1,
			Timeout:  time.Second,
		},
		Events: EventsConfig{
			SubmissionDuration: time.Hour,
			VotingDuration:     30 * time.Minute,
			TieBreakDuration:   15 * time.Minute,
			Representatives:    5,
		},
		Validation: ValidationConfig{MinLength: 3, MaxLength: 20},
		Oracle:     OracleConfig{},
		Scheduler: SchedConfig{
			MaxConcurrent: 4,
			RetryAttempts: 3,
			SweepSchedule: "@every 1m",
		},
		Notifier: NotifierConfig{QueueSize: 16, Workers: 1},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name         string
		modifyConfig func(*Config)
		wantErr      bool
		errSubstr    string
	}{
		{
			name:         "ValidConfig",
			modifyConfig: func(c *Config) {},
			wantErr:      false,
		},
		{
			name: "UnknownDriver",
			modifyConfig: func(c *Config) {
				c.Database.Driver = "mysql"
			},
			wantErr:   true,
			errSubstr: "unknown driver",
		},
		{
			name: "PostgresWithoutURL",
			modifyConfig: func(c *Config) {
				c.Database.Driver = DriverPostgres
			},
			wantErr:   true,
			errSubstr: "database URL cannot be empty",
		},
		{
			name: "ZeroDuration",
			modifyConfig: func(c *Config) {
				c.Events.VotingDuration = 0
			},
			wantErr:   true,
			errSubstr: "durations must be positive",
		},
		{
			name: "InvertedLengths",
			modifyConfig: func(c *Config) {
				c.Validation.MaxLength = 2
			},
			wantErr:   true,
			errSubstr: "max_length",
		},
		{
			name: "OracleWithoutQuery",
			modifyConfig: func(c *Config) {
				c.Oracle.URL = "http://prometheus:9090"
			},
			wantErr:   true,
			errSubstr: "query and label",
		},
		{
			name: "NegativeRetries",
			modifyConfig: func(c *Config) {
				c.Scheduler.RetryAttempts = -1
			},
			wantErr:   true,
			errSubstr: "cannot be negative",
		},
		{
			name: "BadSweepSchedule",
			modifyConfig: func(c *Config) {
				c.Scheduler.SweepSchedule = "whenever"
			},
			wantErr:   true,
			errSubstr: "sweep_schedule",
		},
		{
			name: "ShortAdminSecret",
			modifyConfig: func(c *Config) {
				c.Security.AdminSecret = "short"
			},
			wantErr:   true,
			errSubstr: "admin_secret",
		},
		{
			name: "AdminSecretWithoutTTL",
			modifyConfig: func(c *Config) {
				c.Security.AdminSecret = "0123456789abcdef"
			},
			wantErr:   true,
			errSubstr: "token_ttl",
		},
		{
			name: "NoWorkers",
			modifyConfig: func(c *Config) {
				c.Notifier.Workers = 0
			},
			wantErr:   true,
			errSubstr: "workers must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modifyConfig(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errSubstr != "" {
					assert.Contains(t, err.Error(), tt.errSubstr)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  string
		wantLevel string
	}{
		{name: "Debug", logLevel: "debug", wantLevel: "debug"},
		{name: "Warn", logLevel: "WARN", wantLevel: "warn"},
		{name: "Error", logLevel: "error", wantLevel: "error"},
		{name: "Invalid", logLevel: "invalid", wantLevel: "info"},
		{name: "Empty", logLevel: "", wantLevel: "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			assert.Equal(t, tt.wantLevel, cfg.GetLogLevel().String())
		})
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	envVars := map[string]string{
		"NAMING_ENVIRONMENT":              "production",
		"NAMING_DATABASE_DRIVER":          "memory",
		"NAMING_EVENTS_VOTING_DURATION":   "45m",
		"NAMING_SCHEDULER_RETRY_ATTEMPTS": "7",
		"NAMING_NOTIFIER_WEBHOOK_URL":     "http://hooks.local/naming",
		"NAMING_VALIDATION_MAX_LENGTH":    "12",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 45*time.Minute, cfg.Events.VotingDuration)
	assert.Equal(t, 7, cfg.Scheduler.RetryAttempts)
	assert.Equal(t, "http://hooks.local/naming", cfg.Notifier.WebhookURL)
	assert.Equal(t, 12, cfg.Validation.MaxLength)
}
