package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	InFlightNone   = "none"
	InFlightMemory = "memory"
	InFlightRedis  = "redis"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers []string

	// Pickup
	Pickup PickupConfig
}

// PickupConfig holds the tunables of the pickup loop. Values may come from
// PICKUP_CONFIG_FILE and are overridden by the matching environment variables.
type PickupConfig struct {
	Interval      time.Duration `yaml:"interval"`
	PageSize      int           `yaml:"page_size"`
	Workers       int           `yaml:"workers"`
	DispatchTopic string        `yaml:"dispatch_topic"`
	ReplyTopic    string        `yaml:"reply_topic"`
	ReplyTimeout  time.Duration `yaml:"reply_timeout"`
	InFlightMode  string        `yaml:"inflight_mode"`
	InFlightTTL   time.Duration `yaml:"inflight_ttl"`
	ReportTopic   string        `yaml:"report_topic"`
}

func DefaultPickup() PickupConfig {
	return PickupConfig{
		Interval:      10 * time.Second,
		PageSize:      100,
		Workers:       4,
		DispatchTopic: "logic.widedata.dispatch",
		ReplyTopic:    "logic.widedata.dispatch.reply",
		ReplyTimeout:  30 * time.Second,
		InFlightMode:  InFlightNone,
		InFlightTTL:   5 * time.Minute,
	}
}

// Load reads the environment on top of the optional PICKUP_CONFIG_FILE. An
// unreadable or malformed file is an error rather than a silent fallback.
func Load() (*Config, error) {
	pickup := DefaultPickup()
	if path := os.Getenv("PICKUP_CONFIG_FILE"); path != "" {
		fromFile, err := LoadPickupFile(path, pickup)
		if err != nil {
			return nil, err
		}
		pickup = fromFile
	}

	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8090"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "crawler"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "crawler123"),
		PostgresDB:       getEnv("POSTGRES_DB", "crawler"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),

		Pickup: PickupConfig{
			Interval:      getDuration("PICKUP_INTERVAL", pickup.Interval),
			PageSize:      getIntEnv("PICKUP_PAGE_SIZE", pickup.PageSize),
			Workers:       getIntEnv("PICKUP_WORKERS", pickup.Workers),
			DispatchTopic: getEnv("PICKUP_DISPATCH_TOPIC", pickup.DispatchTopic),
			ReplyTopic:    getEnv("PICKUP_REPLY_TOPIC", pickup.ReplyTopic),
			ReplyTimeout:  getDuration("PICKUP_REPLY_TIMEOUT", pickup.ReplyTimeout),
			InFlightMode:  strings.ToLower(getEnv("PICKUP_INFLIGHT_MODE", pickup.InFlightMode)),
			InFlightTTL:   getDuration("PICKUP_INFLIGHT_TTL", pickup.InFlightTTL),
			ReportTopic:   getEnv("PICKUP_REPORT_TOPIC", pickup.ReportTopic),
		},
	}, nil
}

// LoadPickupFile reads a YAML file on top of base. Keys missing from the file
// keep the value from base.
func LoadPickupFile(path string, base PickupConfig) (PickupConfig, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return base, fmt.Errorf("reading pickup config: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return base, fmt.Errorf("parsing pickup config: %w", err)
	}
	return cfg, nil
}

func (p PickupConfig) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("pickup interval must be positive, got %s", p.Interval)
	}
	if p.PageSize <= 0 {
		return fmt.Errorf("pickup page size must be positive, got %d", p.PageSize)
	}
	if p.Workers <= 0 {
		return fmt.Errorf("pickup workers must be positive, got %d", p.Workers)
	}
	if strings.TrimSpace(p.DispatchTopic) == "" {
		return fmt.Errorf("pickup dispatch topic is required")
	}
	if p.ReplyTimeout <= 0 {
		return fmt.Errorf("pickup reply timeout must be positive, got %s", p.ReplyTimeout)
	}
	if p.InFlightMode == InFlightRedis && p.InFlightTTL < p.ReplyTimeout {
		return fmt.Errorf("redis inflight ttl %s must not be shorter than the reply timeout %s", p.InFlightTTL, p.ReplyTimeout)
	}
	switch p.InFlightMode {
	case InFlightNone, InFlightMemory, InFlightRedis:
	default:
		return fmt.Errorf("unknown inflight mode %q", p.InFlightMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
