// Package config loads service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" validate:"min=1,max=65535"`
	GRPCPort        int           `yaml:"grpc_port" validate:"min=1,max=65535,nefield=HTTPPort"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// AdminToken guards the admin routes; empty disables them
	AdminToken string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" validate:"oneof=postgres memory"`
	Host            string        `yaml:"host" validate:"required_if=Driver postgres"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	User            string        `yaml:"user" validate:"required_if=Driver postgres"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name" validate:"required_if=Driver postgres"`
	SSLMode         string        `yaml:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns        int32         `yaml:"max_conns" validate:"min=1"`
	MinConns        int32         `yaml:"min_conns" validate:"min=0,ltefield=MaxConns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// DSN renders the libpq keyword/value connection string with every value quoted
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSN(d.Host), d.Port, quoteDSN(d.User), quoteDSN(d.Password), quoteDSN(d.Name), quoteDSN(d.SSLMode))
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteDSN(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

type SessionConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl" validate:"gt=0"`
}

type ForwarderConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	LoginPath      string        `yaml:"login_path" validate:"startswith=/"`
	SubmissionPath string        `yaml:"submission_path" validate:"startswith=/"`
	LinkField      string        `yaml:"link_field" validate:"required"`
}

type DialogConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"min=0"`
}

type SecurityConfig struct {
	// SecretKey seals tenant secrets at rest; empty stores them unsealed
	SecretKey string `yaml:"secret_key" validate:"omitempty,len=32"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format     string `yaml:"format" validate:"oneof=console json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Session   SessionConfig   `yaml:"session"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Dialog    DialogConfig    `yaml:"dialog"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads path (a missing file means defaults), applies environment
// overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvironmentOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8081
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "admin"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "link_forwarding"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MaxConnLifetime == 0 {
		cfg.Database.MaxConnLifetime = time.Hour
	}
	if cfg.Database.MaxConnIdleTime == 0 {
		cfg.Database.MaxConnIdleTime = 30 * time.Minute
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.Session.TokenTTL == 0 {
		cfg.Session.TokenTTL = 30 * time.Minute
	}

	if cfg.Forwarder.Timeout == 0 {
		cfg.Forwarder.Timeout = 10 * time.Second
	}
	if cfg.Forwarder.LoginPath == "" {
		cfg.Forwarder.LoginPath = "/login"
	}
	if cfg.Forwarder.SubmissionPath == "" {
		cfg.Forwarder.SubmissionPath = "/tasks/add_via_extension"
	}
	if cfg.Forwarder.LinkField == "" {
		cfg.Forwarder.LinkField = "youtube_url"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if port := os.Getenv("SERVER_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.HTTPPort = p
		}
	}
	if port := os.Getenv("SERVER_GRPC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.GRPCPort = p
		}
	}
	if token := os.Getenv("ADMIN_TOKEN"); token != "" {
		cfg.Server.AdminToken = token
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if dbName := os.Getenv("DATABASE_NAME"); dbName != "" {
		cfg.Database.Name = dbName
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	if key := os.Getenv("SECRET_KEY"); key != "" {
		cfg.Security.SecretKey = key
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.Logging.File = logFile
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags above
func (c *Config) Validate() error {
	return validate.Struct(c)
}
