package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Termination policy names accepted by COLLECTOR_POLICY
const (
	PolicyBoundedBatch      = "bounded-batch"
	PolicyDuplicateSentinel = "duplicate-sentinel"
)

// Config holds all configuration for the ingestion service
type Config struct {
	Host     string
	Port     string
	LogLevel string

	Feed      FeedConfig
	Collector CollectorConfig
	Health    HealthConfig
	Database  DatabaseConfig
	MinIO     MinIOConfig
	RabbitMQ  RabbitMQConfig
}

// FeedConfig holds upstream feed settings
type FeedConfig struct {
	Enabled       bool
	BaseURL       string
	ServiceKey    string
	LostPath      string
	FoundPath     string
	Timeout       time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	RatePerSecond float64
	ResponseType  string
}

// CollectorConfig holds paging and scheduling settings for collection runs
type CollectorConfig struct {
	PageSize     int
	LookbackDays int
	MaxPages     int
	Policy       string
	Interval     time.Duration
	// RunOnStart runs one collection of every kind right after startup
	RunOnStart bool
}

// HealthConfig holds feed health monitor settings
type HealthConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// MinIOConfig holds image mirror settings. An empty endpoint disables mirroring.
type MinIOConfig struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

// RabbitMQConfig holds broker settings. An empty URL disables events and remote triggers.
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// Load reads .env (if present) and the environment into a Config
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only
func FromEnv() *Config {
	return &Config{
		Host:     getEnv("SERVER_HOST", "0.0.0.0"),
		Port:     getEnv("SERVER_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Feed: FeedConfig{
			Enabled:       getEnvBool("FEED_ENABLED", true),
			BaseURL:       strings.TrimSuffix(getEnv("FEED_BASE_URL", "http://apis.data.go.kr/1320000"), "/"),
			ServiceKey:    os.Getenv("FEED_SERVICE_KEY"),
			LostPath:      getEnv("FEED_LOST_PATH", "/LostGoodsInfoInqireService/getLostGoodsInfoAccToClAreaPd"),
			FoundPath:     getEnv("FEED_FOUND_PATH", "/LosfundInfoInqireService/getLosfundInfoAccToClAreaPd"),
			Timeout:       getEnvDuration("FEED_TIMEOUT", 30*time.Second),
			MaxAttempts:   getEnvInt("FEED_MAX_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("FEED_RETRY_DELAY", time.Second),
			RatePerSecond: getEnvFloat("FEED_RATE_PER_SECOND", 5),
			ResponseType:  strings.ToLower(getEnv("FEED_RESPONSE_TYPE", "xml")),
		},
		Collector: CollectorConfig{
			PageSize:     getEnvInt("COLLECTOR_PAGE_SIZE", 100),
			LookbackDays: getEnvInt("COLLECTOR_LOOKBACK_DAYS", 7),
			MaxPages:     getEnvInt("COLLECTOR_MAX_PAGES", 10),
			Policy:       getEnv("COLLECTOR_POLICY", PolicyBoundedBatch),
			Interval:     getEnvDuration("COLLECT_INTERVAL", 12*time.Hour),
			RunOnStart:   getEnvBool("COLLECT_ON_START", false),
		},
		Health: HealthConfig{
			Interval:   getEnvDuration("HEALTH_INTERVAL", 5*time.Minute),
			StaleAfter: getEnvDuration("HEALTH_STALE_AFTER", 15*time.Minute),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "findit"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:       os.Getenv("MINIO_ENDPOINT"),
			PublicEndpoint: os.Getenv("MINIO_PUBLIC_ENDPOINT"),
			AccessKey:      getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:      getEnv("MINIO_SECRET_KEY", "minioadmin123"),
			Bucket:         getEnv("MINIO_BUCKET_NAME", "findit-item-images"),
			UseSSL:         getEnvBool("MINIO_USE_SSL", false),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      os.Getenv("RABBITMQ_URL"),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "findit.events"),
			Queue:    getEnv("RABBITMQ_QUEUE", "q.findit.collect"),
		},
	}
}

// Validate checks the settings the service cannot start without.
// A disabled feed with no service key is legal.
func (c *Config) Validate() error {
	var errs []error

	if c.Feed.Enabled {
		if c.Feed.ServiceKey == "" {
			errs = append(errs, errors.New("FEED_SERVICE_KEY is required when the feed is enabled"))
		}
		if c.Feed.BaseURL == "" {
			errs = append(errs, errors.New("FEED_BASE_URL is required when the feed is enabled"))
		}
	}
	if c.Feed.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("FEED_MAX_ATTEMPTS must be positive, got %d", c.Feed.MaxAttempts))
	}
	if c.Feed.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("FEED_RATE_PER_SECOND must not be negative, got %g", c.Feed.RatePerSecond))
	}
	if c.Feed.ResponseType != "xml" && c.Feed.ResponseType != "json" {
		errs = append(errs, fmt.Errorf("FEED_RESPONSE_TYPE must be xml or json, got %q", c.Feed.ResponseType))
	}
	if c.Collector.PageSize < 1 {
		errs = append(errs, fmt.Errorf("COLLECTOR_PAGE_SIZE must be positive, got %d", c.Collector.PageSize))
	}
	if c.Collector.LookbackDays < 1 {
		errs = append(errs, fmt.Errorf("COLLECTOR_LOOKBACK_DAYS must be positive, got %d", c.Collector.LookbackDays))
	}
	if c.Collector.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("COLLECTOR_MAX_PAGES must be positive, got %d", c.Collector.MaxPages))
	}
	switch c.Collector.Policy {
	case PolicyBoundedBatch, PolicyDuplicateSentinel:
	default:
		errs = append(errs, fmt.Errorf("unknown COLLECTOR_POLICY %q", c.Collector.Policy))
	}
	if c.Collector.Interval <= 0 {
		errs = append(errs, errors.New("COLLECT_INTERVAL must be positive"))
	}
	if c.Health.Interval <= 0 || c.Health.StaleAfter <= 0 {
		errs = append(errs, errors.New("HEALTH_INTERVAL and HEALTH_STALE_AFTER must be positive"))
	}

	return errors.Join(errs...)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer, using default")
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid number, using default")
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid boolean, using default")
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go durations ("5m") or plain milliseconds ("300000")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration, using default")
	return defaultValue
}
