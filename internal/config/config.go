package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	// Embedded zone database for minimal container images
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Environment variable holding an optional config file path
const ConfigPathEnv = "ARCHIVER_CONFIG"

// Config holds all configuration for the archiver
type Config struct {
	// Database
	DatabaseURL            string
	DBReconnectInterval    time.Duration
	DBReconnectMaxAttempts int

	// Storage
	StoragePath    string
	RawMessagePath string
	MaxFilesPerDir int

	// Parsing
	Timezone     string
	SentinelDate time.Time
	ThrowOutSpam bool

	// Servers
	HTTPPort            int
	SMTPIntakeAddr      string
	SMTPIntakeMailboxID uint
	SMTPDomain          string
	SMTPMaxMessageSize  int64
	SMTPTLSCert         string
	SMTPTLSKey          string

	// Scheduler
	SchedulerTick          time.Duration
	SchedulerMaxConcurrent int
	CycleTimeout           time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Security
	AllowedOrigins    string
	APIKey            string
	RateLimitRequests float64
	RateLimitBurst    int
	AppEnv            string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("STORAGE_PATH", "./storage")
	v.SetDefault("RAW_MESSAGE_PATH", "./eml")
	v.SetDefault("STORAGE_MAX_FILES_PER_DIR", 10000)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("SENTINEL_DATE", "1971-01-01T00:00:00Z")
	v.SetDefault("THROW_OUT_SPAM", false)
	v.SetDefault("DB_RECONNECT_INTERVAL", "5s")
	v.SetDefault("DB_RECONNECT_MAX_ATTEMPTS", 0)
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("SMTP_INTAKE_ADDR", "")
	v.SetDefault("SMTP_INTAKE_MAILBOX_ID", 0)
	v.SetDefault("SMTP_DOMAIN", "localhost")
	v.SetDefault("SMTP_MAX_MESSAGE_SIZE", 25*1024*1024)
	v.SetDefault("SMTP_TLS_CERT", "")
	v.SetDefault("SMTP_TLS_KEY", "")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("API_KEY", "")
	v.SetDefault("RATE_LIMIT_REQUESTS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("SCHEDULER_TICK", "10s")
	v.SetDefault("SCHEDULER_MAX_CONCURRENT", 4)
	v.SetDefault("CYCLE_TIMEOUT", "30m")
}

// Load reads configuration from the environment, optionally layered over a
// config file. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:            v.GetString("DATABASE_URL"),
		DBReconnectInterval:    v.GetDuration("DB_RECONNECT_INTERVAL"),
		DBReconnectMaxAttempts: v.GetInt("DB_RECONNECT_MAX_ATTEMPTS"),
		StoragePath:            v.GetString("STORAGE_PATH"),
		RawMessagePath:         v.GetString("RAW_MESSAGE_PATH"),
		MaxFilesPerDir:         v.GetInt("STORAGE_MAX_FILES_PER_DIR"),
		Timezone:               v.GetString("TIMEZONE"),
		ThrowOutSpam:           v.GetBool("THROW_OUT_SPAM"),
		HTTPPort:               v.GetInt("HTTP_PORT"),
		SMTPIntakeAddr:         v.GetString("SMTP_INTAKE_ADDR"),
		SMTPIntakeMailboxID:    v.GetUint("SMTP_INTAKE_MAILBOX_ID"),
		SMTPDomain:             v.GetString("SMTP_DOMAIN"),
		SMTPMaxMessageSize:     v.GetInt64("SMTP_MAX_MESSAGE_SIZE"),
		SMTPTLSCert:            v.GetString("SMTP_TLS_CERT"),
		SMTPTLSKey:             v.GetString("SMTP_TLS_KEY"),
		LogLevel:               strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:              strings.ToLower(v.GetString("LOG_FORMAT")),
		AllowedOrigins:         v.GetString("ALLOWED_ORIGINS"),
		APIKey:                 v.GetString("API_KEY"),
		RateLimitRequests:      v.GetFloat64("RATE_LIMIT_REQUESTS"),
		RateLimitBurst:         v.GetInt("RATE_LIMIT_BURST"),
		SchedulerTick:          v.GetDuration("SCHEDULER_TICK"),
		SchedulerMaxConcurrent: v.GetInt("SCHEDULER_MAX_CONCURRENT"),
		CycleTimeout:           v.GetDuration("CYCLE_TIMEOUT"),
		AppEnv:                 v.GetString("APP_ENV"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	sentinel, err := time.Parse(time.RFC3339, v.GetString("SENTINEL_DATE"))
	if err != nil {
		return nil, fmt.Errorf("SENTINEL_DATE must be an RFC 3339 timestamp: %w", err)
	}
	cfg.SentinelDate = sentinel

	return cfg, nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsProduction() {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTPPort must be between 1 and 65535")
	}
	if c.StoragePath == "" {
		return fmt.Errorf("StoragePath cannot be empty")
	}
	if c.MaxFilesPerDir < 1 {
		return fmt.Errorf("STORAGE_MAX_FILES_PER_DIR must be at least 1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known location: %w", c.Timezone, err)
	}
	if c.DBReconnectInterval <= 0 {
		return fmt.Errorf("DB_RECONNECT_INTERVAL must be positive")
	}
	if c.DBReconnectMaxAttempts < 0 {
		return fmt.Errorf("DB_RECONNECT_MAX_ATTEMPTS cannot be negative")
	}
	if c.SMTPIntakeAddr != "" && c.SMTPIntakeMailboxID == 0 {
		return fmt.Errorf("SMTP_INTAKE_MAILBOX_ID is required when SMTP_INTAKE_ADDR is set")
	}
	if (c.SMTPTLSCert == "") != (c.SMTPTLSKey == "") {
		return fmt.Errorf("SMTP_TLS_CERT and SMTP_TLS_KEY must be set together")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_BURST must be positive")
	}
	if c.SchedulerTick <= 0 || c.SchedulerMaxConcurrent < 1 {
		return fmt.Errorf("SCHEDULER_TICK and SCHEDULER_MAX_CONCURRENT must be positive")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.AllowedOrigins == "" {
		return fmt.Errorf("ALLOWED_ORIGINS is required in production")
	}

	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}

	return nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Location returns the timezone dates are normalised to
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("http_port", c.HTTPPort),
		slog.String("smtp_intake_addr", c.SMTPIntakeAddr),
		slog.String("storage_path", c.StoragePath),
		slog.String("raw_message_path", c.RawMessagePath),
		slog.Int("max_files_per_dir", c.MaxFilesPerDir),
		slog.String("timezone", c.Timezone),
		slog.Time("sentinel_date", c.SentinelDate),
		slog.Bool("throw_out_spam", c.ThrowOutSpam),
		slog.Duration("db_reconnect_interval", c.DBReconnectInterval),
		slog.Int("db_reconnect_max_attempts", c.DBReconnectMaxAttempts),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("allowed_origins_set", c.AllowedOrigins != ""),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.Duration("scheduler_tick", c.SchedulerTick),
		slog.Int("scheduler_max_concurrent", c.SchedulerMaxConcurrent),
	)
}
