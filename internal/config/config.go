package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"slotbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig             `yaml:"app"`
	Database    DatabaseConfig        `yaml:"database"`
	Redis       RedisConfig           `yaml:"redis"`
	Kafka       KafkaConfig           `yaml:"kafka"`
	Telegram    TelegramConfig        `yaml:"telegram"`
	API         APIConfig             `yaml:"api"`
	Payment     PaymentConfig         `yaml:"payment"`
	Booking     BookingConfig         `yaml:"booking"`
	Worker      WorkerConfig          `yaml:"worker"`
	Backup      BackupConfig          `yaml:"backup"`
	Monitoring  MonitoringConfig      `yaml:"monitoring"`
	Logging     LoggingConfig         `yaml:"logging"`
	PromoCodes  []models.DiscountRule `yaml:"promo_codes"`
	CatalogPath string                `yaml:"catalog_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	EventTTL time.Duration `yaml:"event_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIGRPCConfig struct {
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`

	// BookingsPerHour caps booking creation per actor across instances.
	BookingsPerHour int `yaml:"bookings_per_hour"`
}

type PaymentConfig struct {
	BaseURL          string        `yaml:"base_url"`
	SecretKey        string        `yaml:"secret_key"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`
	Timeout          time.Duration `yaml:"timeout"`
}

type BookingConfig struct {
	ReferencePrefix   string        `yaml:"reference_prefix"`
	HoldTTL           time.Duration `yaml:"hold_ttl"`
	ReferenceRetries  int           `yaml:"reference_retries"`
	ServiceFeePercent float64       `yaml:"service_fee_percent"`
	TaxPercent        float64       `yaml:"tax_percent"`
	ChildPriceRatio   float64       `yaml:"child_price_ratio"`
	DefaultCurrency   string        `yaml:"default_currency"`
	Timezone          string        `yaml:"timezone"`
}

// Location resolves Timezone, falling back to UTC when it cannot be loaded.
func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type WorkerConfig struct {
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	ReconcileAfter time.Duration `yaml:"reconcile_after"`
	BatchSize      int           `yaml:"batch_size"`
	QueueSize      int           `yaml:"queue_size"`
	Retry          RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        float64       `yaml:"jitter"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
	Caller   bool   `yaml:"caller"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment wins over it.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse expands environment variables in raw YAML and builds a validated Config.
func Parse(data []byte) (*Config, error) {
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for pgx driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.API.Auth.JWTSecret == "" {
		return errors.New("api auth jwt_secret is required")
	}
	if c.Payment.WebhookSecret == "" {
		return errors.New("payment webhook_secret is required")
	}

	if !strings.HasPrefix(c.Payment.BaseURL, "http://") && !strings.HasPrefix(c.Payment.BaseURL, "https://") {
		return fmt.Errorf("payment base_url %q must be an http(s) url", c.Payment.BaseURL)
	}

	if _, ok := models.ParseCurrency(c.Booking.DefaultCurrency); !ok {
		return fmt.Errorf("unsupported default currency %q", c.Booking.DefaultCurrency)
	}
	if c.Booking.ServiceFeePercent < 0 || c.Booking.TaxPercent < 0 {
		return errors.New("booking fee and tax percentages must not be negative")
	}
	if c.Booking.ChildPriceRatio <= 0 || c.Booking.ChildPriceRatio > 1 {
		return fmt.Errorf("booking child_price_ratio %v must be in (0, 1]", c.Booking.ChildPriceRatio)
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking timezone: %w", err)
	}
	if c.Worker.Retry.Jitter < 0 || c.Worker.Retry.Jitter > 1 {
		return fmt.Errorf("worker retry jitter %v must be in [0, 1]", c.Worker.Retry.Jitter)
	}

	return ValidatePromoCodes(c.PromoCodes)
}

func ValidatePromoCodes(rules []models.DiscountRule) error {
	seen := make(map[string]bool)
	for _, rule := range rules {
		code := strings.ToUpper(strings.TrimSpace(rule.Code))
		if code == "" {
			return errors.New("promo code with empty code")
		}
		if seen[code] {
			return fmt.Errorf("duplicate promo code: %s", code)
		}
		if rule.PercentOff < 0 || rule.PercentOff > 100 {
			return fmt.Errorf("promo code %s: percent_off out of range", code)
		}
		if rule.AmountOff.IDR < 0 || rule.AmountOff.USD < 0 {
			return fmt.Errorf("promo code %s: amount_off must not be negative", code)
		}
		seen[code] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "slotbook"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Redis.EventTTL == 0 {
		c.Redis.EventTTL = 72 * time.Hour
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "slotbook.events"
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.API.HTTP.ShutdownTimeout == 0 {
		c.API.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.API.Auth.Issuer == "" {
		c.API.Auth.Issuer = "slotbook"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.API.RateLimit.BookingsPerHour == 0 {
		c.API.RateLimit.BookingsPerHour = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 10 * time.Second
	}
	if c.Payment.WebhookTolerance == 0 {
		c.Payment.WebhookTolerance = 5 * time.Minute
	}

	if c.Booking.ReferencePrefix == "" {
		c.Booking.ReferencePrefix = "BK"
	}
	if c.Booking.HoldTTL == 0 {
		c.Booking.HoldTTL = 30 * time.Minute
	}
	if c.Booking.ReferenceRetries == 0 {
		c.Booking.ReferenceRetries = 5
	}
	if c.Booking.ServiceFeePercent == 0 {
		c.Booking.ServiceFeePercent = 5
	}
	if c.Booking.ChildPriceRatio == 0 {
		c.Booking.ChildPriceRatio = 0.7
	}
	if c.Booking.DefaultCurrency == "" {
		c.Booking.DefaultCurrency = string(models.CurrencyIDR)
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "Asia/Jakarta"
	}

	if c.Worker.SweepInterval == 0 {
		c.Worker.SweepInterval = time.Minute
	}
	if c.Worker.ReconcileAfter == 0 {
		c.Worker.ReconcileAfter = 15 * time.Minute
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 100
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 256
	}
	if c.Worker.Retry.MaxRetries == 0 {
		c.Worker.Retry.MaxRetries = 5
	}
	if c.Worker.Retry.InitialDelay == 0 {
		c.Worker.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Worker.Retry.MaxDelay == 0 {
		c.Worker.Retry.MaxDelay = 30 * time.Second
	}
	if c.Worker.Retry.BackoffFactor == 0 {
		c.Worker.Retry.BackoffFactor = 2
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
}
