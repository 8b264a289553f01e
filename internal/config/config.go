package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics"`
	Aggregation AggregationConfig `json:"aggregation"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

// MetricsConfig is the listen address of the Prometheus scrape endpoint.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// AggregationConfig carries the tunables of the correlation pipeline.
// Duration fields are plain strings ("10s", "1m") parsed at wiring time.
type AggregationConfig struct {
	ScanInterval       string `json:"scanInterval"`
	MaxConcurrentRules int    `json:"maxConcurrentRules"`
	RulesFile          string `json:"rulesFile"`

	EnableWindowTracking bool `json:"enableWindowTracking"`
	EnableSmartSchedule  bool `json:"enableSmartSchedule"`

	FixedBufferMultiplier float64 `json:"fixedBufferMultiplier"`
	SlidingStateTTLSec    int     `json:"slidingStateTTLSec"`
	ProcessedTTLSec       int     `json:"processedTTLSec"`
	SessionMaxDurationSec int     `json:"sessionMaxDurationSec"`
	SessionMaxEvents      int     `json:"sessionMaxEvents"`

	DefaultMinEventCount int `json:"defaultMinEventCount"`
	DefaultAlertLevel    int `json:"defaultAlertLevel"`
	MaxQueryResults      int `json:"maxQueryResults"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "correlate"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		Aggregation: AggregationConfig{
			ScanInterval:          getEnv("AGG_SCAN_INTERVAL", "1m"),
			MaxConcurrentRules:    getEnvInt("AGG_MAX_CONCURRENT_RULES", 10),
			RulesFile:             getEnv("AGG_RULES_FILE", ""),
			EnableWindowTracking:  getEnvBool("AGG_ENABLE_WINDOW_TRACKING", true),
			EnableSmartSchedule:   getEnvBool("AGG_ENABLE_SMART_SCHEDULING", true),
			FixedBufferMultiplier: getEnvFloat("AGG_FIXED_BUFFER_MULTIPLIER", 2.0),
			SlidingStateTTLSec:    getEnvInt("AGG_SLIDING_STATE_TTL", 3600),
			ProcessedTTLSec:       getEnvInt("AGG_PROCESSED_TTL", 86400),
			SessionMaxDurationSec: getEnvInt("AGG_SESSION_MAX_DURATION", 7200),
			SessionMaxEvents:      getEnvInt("AGG_SESSION_MAX_EVENTS", 1000),
			DefaultMinEventCount:  getEnvInt("AGG_DEFAULT_MIN_EVENT_COUNT", 1),
			DefaultAlertLevel:     getEnvInt("AGG_DEFAULT_ALERT_LEVEL", 5),
			MaxQueryResults:       getEnvInt("AGG_MAX_QUERY_RESULTS", 10000),
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Aggregation.ScanInterval == "" {
		cfg.Aggregation.ScanInterval = "1m"
	}
	if cfg.Aggregation.MaxConcurrentRules <= 0 {
		cfg.Aggregation.MaxConcurrentRules = 10
	}
	if cfg.Aggregation.FixedBufferMultiplier < 2 {
		// below 2 the previous complete window can fall out of the lookback
		cfg.Aggregation.FixedBufferMultiplier = 2.0
	}
	if cfg.Aggregation.SlidingStateTTLSec <= 0 {
		cfg.Aggregation.SlidingStateTTLSec = 3600
	}
	if cfg.Aggregation.ProcessedTTLSec <= 0 {
		cfg.Aggregation.ProcessedTTLSec = 86400
	}
	if cfg.Aggregation.SessionMaxDurationSec <= 0 {
		cfg.Aggregation.SessionMaxDurationSec = 7200
	}
	if cfg.Aggregation.SessionMaxEvents <= 0 {
		cfg.Aggregation.SessionMaxEvents = 1000
	}
	if cfg.Aggregation.DefaultMinEventCount <= 0 {
		cfg.Aggregation.DefaultMinEventCount = 1
	}
	if cfg.Aggregation.DefaultAlertLevel <= 0 {
		cfg.Aggregation.DefaultAlertLevel = 5
	}
	if cfg.Aggregation.MaxQueryResults <= 0 {
		cfg.Aggregation.MaxQueryResults = 10000
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
