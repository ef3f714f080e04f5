package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	IMAP     IMAPConfig     `yaml:"imap"`
	SES      SESConfig      `yaml:"ses"`
	Bedrock  BedrockConfig  `yaml:"bedrock"`
	Polling  PollingConfig  `yaml:"polling"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds the optional Redis connection used for the mailbox
// poller single-flight lock. Empty Addr disables Redis; the lock falls
// back to Postgres advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// IMAPConfig holds the monitored inbox credentials
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Address  string `yaml:"address"` // the outreach address prospects reply to
}

// SESConfig holds AWS SES credentials for outbound delivery
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromName  string `yaml:"from_name"`
	FromEmail string `yaml:"from_email"`
}

// BedrockConfig holds AWS Bedrock settings for the classifier and drafters
type BedrockConfig struct {
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
}

// PollingConfig holds worker poll intervals
type PollingConfig struct {
	OrchestratorSeconds int `yaml:"orchestrator_seconds"`
	TimerSeconds        int `yaml:"timer_seconds"`
	MailboxSeconds      int `yaml:"mailbox_seconds"`
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
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.IMAP.Port == 0 {
		cfg.IMAP.Port = 993
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Polling.OrchestratorSeconds == 0 {
		cfg.Polling.OrchestratorSeconds = 10
	}
	if cfg.Polling.TimerSeconds == 0 {
		cfg.Polling.TimerSeconds = 60
	}
	if cfg.Polling.MailboxSeconds == 0 {
		cfg.Polling.MailboxSeconds = 30
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if host := os.Getenv("IMAP_HOST"); host != "" {
		cfg.IMAP.Host = host
	}
	if port := os.Getenv("IMAP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid IMAP_PORT %q: %w", port, err)
		}
		cfg.IMAP.Port = p
	}
	if username := os.Getenv("IMAP_USERNAME"); username != "" {
		cfg.IMAP.Username = username
	}
	if password := os.Getenv("IMAP_PASSWORD"); password != "" {
		cfg.IMAP.Password = password
	}
	if address := os.Getenv("OUTREACH_ADDRESS"); address != "" {
		cfg.IMAP.Address = address
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if region := os.Getenv("AWS_BEDROCK_REGION"); region != "" {
		cfg.Bedrock.Region = region
	}
	if model := os.Getenv("AWS_BEDROCK_MODEL_ID"); model != "" {
		cfg.Bedrock.ModelID = model
	}

	return cfg, nil
}
