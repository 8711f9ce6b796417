package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"routedesk/internal/model"
	"routedesk/internal/route"
)

// Config holds application configuration. Values come from defaults, then an
// optional YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	DatabaseURL string        `yaml:"database_url"`
	DBMigrate   bool          `yaml:"db_migrate"`
	SQLitePath  string        `yaml:"sqlite_path"`
	RedisURL    string        `yaml:"redis_url"`
	StoreRedis  bool          `yaml:"store_redis"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`

	EstimatorURL     string        `yaml:"estimator_url"`
	EstimatorAPIKey  string        `yaml:"estimator_api_key"`
	EstimatorTimeout time.Duration `yaml:"estimator_timeout"`
	EstimatorRPS     float64       `yaml:"estimator_rps"`
	GeocoderURL      string        `yaml:"geocoder_url"`

	DepotLat  float64 `yaml:"depot_lat"`
	DepotLng  float64 `yaml:"depot_lng"`
	StartTime string  `yaml:"start_time"`

	RateRPS      float64  `yaml:"rate_rps"`
	RateBurst    int      `yaml:"rate_burst"`
	AllowOrigins []string `yaml:"allow_origins"`

	WebhookURLs        []string `yaml:"webhook_urls"`
	WebhookSecret      string   `yaml:"webhook_secret"`
	WebhookMaxAttempts int      `yaml:"webhook_max_attempts"`

	RefreshSchedule string `yaml:"refresh_schedule"`
}

func defaults() *Config {
	return &Config{
		Port:               8080,
		LogLevel:           "info",
		DBMigrate:          true,
		EstimatorTimeout:   20 * time.Second,
		GeocoderURL:        "https://nominatim.openstreetmap.org",
		DepotLat:           40.7128,
		DepotLng:           -74.0060,
		StartTime:          "09:00 AM",
		RateRPS:            20,
		RateBurst:          40,
		AllowOrigins:       []string{"*"},
		WebhookMaxAttempts: 10,
		RefreshSchedule:    "*/15 * * * *",
	}
}

// Load reads configuration from .env, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogPretty = getEnvAsBool("LOG_PRETTY", c.LogPretty)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.DBMigrate = getEnvAsBool("DB_MIGRATE", c.DBMigrate)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.StoreRedis = getEnvAsBool("STORE_REDIS", c.StoreRedis)
	c.SnapshotTTL = getEnvAsDuration("SNAPSHOT_TTL", c.SnapshotTTL)

	c.EstimatorURL = getEnv("ESTIMATOR_URL", c.EstimatorURL)
	c.EstimatorAPIKey = getEnv("ESTIMATOR_API_KEY", c.EstimatorAPIKey)
	c.EstimatorTimeout = getEnvAsDuration("ESTIMATOR_TIMEOUT", c.EstimatorTimeout)
	c.EstimatorRPS = getEnvAsFloat("ESTIMATOR_RPS", c.EstimatorRPS)
	c.GeocoderURL = getEnv("GEOCODER_URL", c.GeocoderURL)

	c.DepotLat = getEnvAsFloat("DEPOT_LAT", c.DepotLat)
	c.DepotLng = getEnvAsFloat("DEPOT_LNG", c.DepotLng)
	c.StartTime = getEnv("START_TIME", c.StartTime)

	c.RateRPS = getEnvAsFloat("RATE_RPS", c.RateRPS)
	c.RateBurst = getEnvAsInt("RATE_BURST", c.RateBurst)
	c.AllowOrigins = getEnvAsList("ALLOW_ORIGINS", c.AllowOrigins)

	c.WebhookURLs = getEnvAsList("WEBHOOK_URLS", c.WebhookURLs)
	c.WebhookSecret = getEnv("WEBHOOK_SECRET", c.WebhookSecret)
	c.WebhookMaxAttempts = getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", c.WebhookMaxAttempts)

	c.RefreshSchedule = getEnv("REFRESH_SCHEDULE", c.RefreshSchedule)
}

// Validate checks ranges and formats
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if _, err := model.NewCoordinate(c.DepotLat, c.DepotLng); err != nil {
		return fmt.Errorf("DEPOT_LAT/DEPOT_LNG: %w", err)
	}
	if _, err := route.ParseClock(c.StartTime); err != nil {
		return fmt.Errorf("START_TIME: %w", err)
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return fmt.Errorf("RATE_RPS and RATE_BURST must not be negative")
	}
	if c.EstimatorRPS < 0 {
		return fmt.Errorf("ESTIMATOR_RPS must not be negative")
	}
	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// Depot is the configured default route origin.
func (c *Config) Depot() model.Coordinate {
	return model.Coordinate{Lat: c.DepotLat, Lng: c.DepotLng}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
