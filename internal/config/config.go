package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Features   FeatureConfig    `yaml:"features"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Automation AutomationConfig `yaml:"automation"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Reports    ReportsConfig    `yaml:"reports"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	LogLevel   string           `yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the relational / time-series store endpoints.
// The primary and (optional) read replica share credentials; the replica
// differs only by host.
type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	ReadReplicaHost string `yaml:"read_replica_host"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// DSN returns the primary connection string.
func (c DatabaseConfig) DSN() string {
	return c.dsnFor(c.Host)
}

// ReplicaDSN returns the read-replica connection string, empty when no
// replica is configured.
func (c DatabaseConfig) ReplicaDSN() string {
	if c.ReadReplicaHost == "" {
		return ""
	}
	return c.dsnFor(c.ReadReplicaHost)
}

func (c DatabaseConfig) dsnFor(host string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig holds the cache endpoint
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Enabled  bool   `yaml:"enabled"`
}

// Addr returns host:port for the redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds edge authentication settings. The core never reads
// the JWT secret; it is consumed by the session middleware only.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// FeatureConfig gates the HTTP surface per subsystem. Disabled features
// leave the core handlers unreachable; the core itself is not gated.
type FeatureConfig struct {
	Matchmaking    bool `yaml:"matchmaking"`
	IOBookings     bool `yaml:"io_bookings"`
	DealPipeline   bool `yaml:"deal_pipeline"`
	AutomationJobs bool `yaml:"automation_jobs"`
	Monetization   bool `yaml:"monetization"`
	Orchestration  bool `yaml:"orchestration"`
}

// SchedulerConfig holds the smart scheduler budget and loop settings.
type SchedulerConfig struct {
	MaxConcurrent     int     `yaml:"max_concurrent"`
	CPUBudget         float64 `yaml:"cpu_budget"`
	MemoryBudgetMB    int     `yaml:"memory_budget_mb"`
	ConcurrentBudget  int     `yaml:"concurrent_budget"`
	LoopIntervalSecs  int     `yaml:"loop_interval_seconds"`
	ErrorBackoffSecs  int     `yaml:"error_backoff_seconds"`
}

// LoopInterval returns the idle sleep between scheduler iterations.
func (c SchedulerConfig) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalSecs) * time.Second
}

// ErrorBackoff returns the sleep applied after a loop-level error.
func (c SchedulerConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffSecs) * time.Second
}

// AutomationConfig holds the automation jobs settings.
type AutomationConfig struct {
	Enabled             bool `yaml:"enabled"`
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
}

// CatalogConfig holds the RSS catalog sync settings.
type CatalogConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	MaxConcurrent   int  `yaml:"max_concurrent"`
}

// Interval returns the catalog poll interval as a duration.
func (c CatalogConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ReportsConfig holds the report export target.
type ReportsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	AWSProfile string `yaml:"aws_profile"`
}

// GetAWSProfile returns the AWS profile, with environment override.
// On ECS/Lambda the default credential chain (IAM role) is used.
func (c ReportsConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// TrackingConfig holds tracking URL generation settings.
type TrackingConfig struct {
	VanityURLBase string `yaml:"vanity_url_base"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Scheduler.MaxConcurrent == 0 {
		cfg.Scheduler.MaxConcurrent = 5
	}
	if cfg.Scheduler.CPUBudget == 0 {
		cfg.Scheduler.CPUBudget = 4.0
	}
	if cfg.Scheduler.MemoryBudgetMB == 0 {
		cfg.Scheduler.MemoryBudgetMB = 4096
	}
	if cfg.Scheduler.ConcurrentBudget == 0 {
		cfg.Scheduler.ConcurrentBudget = 10
	}
	if cfg.Scheduler.LoopIntervalSecs == 0 {
		cfg.Scheduler.LoopIntervalSecs = 1
	}
	if cfg.Scheduler.ErrorBackoffSecs == 0 {
		cfg.Scheduler.ErrorBackoffSecs = 5
	}
	if cfg.Automation.TickIntervalSeconds == 0 {
		cfg.Automation.TickIntervalSeconds = 60
	}
	if cfg.Catalog.IntervalMinutes == 0 {
		cfg.Catalog.IntervalMinutes = 30
	}
	if cfg.Catalog.MaxConcurrent == 0 {
		cfg.Catalog.MaxConcurrent = 5
	}
	if cfg.Reports.S3Region == "" {
		cfg.Reports.S3Region = "us-east-1"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets
// can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_READ_REPLICA_HOST"); v != "" {
		cfg.Database.ReadReplicaHost = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("VANITY_URL_BASE"); v != "" {
		cfg.Tracking.VanityURLBase = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Feature gates
	applyGate := func(env string, target *bool) {
		if v := os.Getenv(env); v != "" {
			*target = v == "true" || v == "1"
		}
	}
	applyGate("ENABLE_MATCHMAKING", &cfg.Features.Matchmaking)
	applyGate("ENABLE_IO_BOOKINGS", &cfg.Features.IOBookings)
	applyGate("ENABLE_DEAL_PIPELINE", &cfg.Features.DealPipeline)
	applyGate("ENABLE_AUTOMATION_JOBS", &cfg.Features.AutomationJobs)
	applyGate("ENABLE_MONETIZATION", &cfg.Features.Monetization)
	applyGate("ENABLE_ORCHESTRATION", &cfg.Features.Orchestration)

	return cfg, nil
}
