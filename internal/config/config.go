package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	Risk     RiskConfig     `yaml:"risk"`
	Login    LoginConfig    `yaml:"login"`
	Geo      GeoConfig      `yaml:"geo"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	AdminToken     string          `yaml:"admin_token"`
}

// RateLimitConfig holds per-IP request limits
type RateLimitConfig struct {
	Max        int `yaml:"max"`
	Expiration int `yaml:"expiration"` // seconds
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds the fast store connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SessionConfig holds session lifecycle settings
type SessionConfig struct {
	Lifetime      string `yaml:"lifetime"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	TouchTimeout  string `yaml:"touch_timeout"`
}

// MaxRiskScore is the score a known-bad network receives and the ceiling for thresholds
const MaxRiskScore = 100

// RiskWeights are the additive points contributed by each risk factor.
// TrustedDevice is applied as a reduction.
type RiskWeights struct {
	TrustedDevice    int `yaml:"trusted_device"`
	NewDevice        int `yaml:"new_device"`
	NewLocation      int `yaml:"new_location"`
	Velocity         int `yaml:"velocity"`
	UnusualTime      int `yaml:"unusual_time"`
	MaliciousNetwork int `yaml:"malicious_network"`
}

// RiskConfig holds risk scoring settings
type RiskConfig struct {
	Weights           RiskWeights `yaml:"weights"`
	ConfirmThreshold  int         `yaml:"confirm_threshold"`
	MFAThreshold      int         `yaml:"mfa_threshold"`
	BlockThreshold    int         `yaml:"block_threshold"`
	VelocityWindow    string      `yaml:"velocity_window"`
	VelocityLimit     int         `yaml:"velocity_limit"`
	UnusualHoursStart int         `yaml:"unusual_hours_start"`
	UnusualHoursEnd   int         `yaml:"unusual_hours_end"`
	Blocklist         []string    `yaml:"blocklist"`
}

// LoginConfig holds new-login confirmation settings
type LoginConfig struct {
	ChallengeTTL   string `yaml:"challenge_ttl"`
	ConfirmBaseURL string `yaml:"confirm_base_url"`
}

// GeoConfig holds geolocation lookup settings
type GeoConfig struct {
	DatabasePath string `yaml:"database_path"`
	CacheTTL     string `yaml:"cache_ttl"`
}

// RabbitMQConfig holds the notification broker settings
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	EmailQueue string `yaml:"email_queue"`
}

// KafkaConfig holds the security event stream settings
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// WorkerConfig holds background job schedules
type WorkerConfig struct {
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file, fills defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero values with the service defaults
func (c *Config) ApplyDefaults() {
	if c.Session.Lifetime == "" {
		c.Session.Lifetime = "24h"
	}
	if c.Session.MaxConcurrent == 0 {
		c.Session.MaxConcurrent = 5
	}
	if c.Session.TouchTimeout == "" {
		c.Session.TouchTimeout = "5s"
	}

	w := &c.Risk.Weights
	if *w == (RiskWeights{}) {
		*w = RiskWeights{
			TrustedDevice:    30,
			NewDevice:        25,
			NewLocation:      20,
			Velocity:         20,
			UnusualTime:      10,
			MaliciousNetwork: 100,
		}
	}
	if c.Risk.ConfirmThreshold == 0 && c.Risk.MFAThreshold == 0 && c.Risk.BlockThreshold == 0 {
		c.Risk.ConfirmThreshold = 30
		c.Risk.MFAThreshold = 50
		c.Risk.BlockThreshold = 80
	}
	if c.Risk.VelocityWindow == "" {
		c.Risk.VelocityWindow = "15m"
	}
	if c.Risk.VelocityLimit == 0 {
		c.Risk.VelocityLimit = 5
	}
	if c.Risk.UnusualHoursStart == 0 && c.Risk.UnusualHoursEnd == 0 {
		c.Risk.UnusualHoursStart = 2
		c.Risk.UnusualHoursEnd = 6
	}

	if c.Login.ChallengeTTL == "" {
		c.Login.ChallengeTTL = "15m"
	}
	if c.Geo.CacheTTL == "" {
		c.Geo.CacheTTL = "24h"
	}
	if c.RabbitMQ.EmailQueue == "" {
		c.RabbitMQ.EmailQueue = "email_jobs"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "loginguard.security"
	}
	if c.Worker.CleanupSchedule == "" {
		c.Worker.CleanupSchedule = "@every 5m"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks invariants the services rely on
func (c *Config) Validate() error {
	if c.Session.MaxConcurrent < 1 {
		return errors.New("session.max_concurrent must be at least 1")
	}
	if c.Session.LifetimeDuration() <= 0 {
		return errors.New("session.lifetime must be a positive duration")
	}
	r := c.Risk
	if r.ConfirmThreshold < 0 || r.ConfirmThreshold > r.MFAThreshold ||
		r.MFAThreshold > r.BlockThreshold || r.BlockThreshold > MaxRiskScore {
		return fmt.Errorf("risk thresholds must satisfy 0 <= confirm <= mfa <= block <= %d (got %d, %d, %d)",
			MaxRiskScore, r.ConfirmThreshold, r.MFAThreshold, r.BlockThreshold)
	}
	if r.UnusualHoursStart < 0 || r.UnusualHoursStart > 23 || r.UnusualHoursEnd < 0 || r.UnusualHoursEnd > 24 {
		return errors.New("risk unusual hours must be within 0-24")
	}
	return nil
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the Redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LifetimeDuration parses Lifetime. Returns 24h if unset or invalid.
func (s *SessionConfig) LifetimeDuration() time.Duration {
	return parseDuration(s.Lifetime, 24*time.Hour)
}

// TouchTimeoutDuration parses TouchTimeout. Returns 5s if unset or invalid.
func (s *SessionConfig) TouchTimeoutDuration() time.Duration {
	return parseDuration(s.TouchTimeout, 5*time.Second)
}

// VelocityWindowDuration parses VelocityWindow. Returns 15m if unset or invalid.
func (r *RiskConfig) VelocityWindowDuration() time.Duration {
	return parseDuration(r.VelocityWindow, 15*time.Minute)
}

// ChallengeTTLDuration parses ChallengeTTL. Returns 15m if unset or invalid.
func (l *LoginConfig) ChallengeTTLDuration() time.Duration {
	return parseDuration(l.ChallengeTTL, 15*time.Minute)
}

// CacheTTLDuration parses CacheTTL. Returns 24h if unset or invalid.
func (g *GeoConfig) CacheTTLDuration() time.Duration {
	return parseDuration(g.CacheTTL, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// quoteDSNValue quotes a DSN value if it contains spaces or special characters.
// Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := false
	for _, r := range value {
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':'
		if !safe {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}
