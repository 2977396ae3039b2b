package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppPort       string
	LogLevel      string
	MigrationsDir string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string

	SearchDebounceMS      string
	FlashPageSizeValue    string
	CatalogRefreshSeconds string

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaInstanceID        string
	KafkaChangeTopic       string
	KafkaTopicPartitions   string
	KafkaDLQPartitions     string
	KafkaReplicationFactor string
	EventDrivenEnabled     string
}

func Load() *Config {
	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "db/migrations"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "offerdb"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),

		SearchDebounceMS:      getEnv("SEARCH_DEBOUNCE_MS", "300"),
		FlashPageSizeValue:    getEnv("FLASH_PAGE_SIZE", "12"),
		CatalogRefreshSeconds: getEnv("CATALOG_REFRESH_SECONDS", "300"),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "offer-feed"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "offer-feed-changes"),
		KafkaInstanceID:        instanceID,
		KafkaChangeTopic:       getEnv("KAFKA_CHANGE_TOPIC", "offers.preference.changes"),
		KafkaTopicPartitions:   getEnv("KAFKA_TOPIC_PARTITIONS", "3"),
		KafkaDLQPartitions:     getEnv("KAFKA_DLQ_PARTITIONS", "1"),
		KafkaReplicationFactor: getEnv("KAFKA_REPLICATION_FACTOR", "1"),
		EventDrivenEnabled:     getEnv("EVENT_DRIVEN_ENABLED", "true"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) EventDriven() bool {
	return c.EventDrivenEnabled == "true"
}

func (c *Config) Brokers() []string {
	return strings.Split(c.KafkaBrokers, ",")
}

// ConsumerGroupID is unique per instance: every instance must see every
// change, since sessions live in process memory.
func (c *Config) ConsumerGroupID() string {
	return c.KafkaGroupID + "-" + c.KafkaInstanceID
}

func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(parseInt(c.SearchDebounceMS, 300)) * time.Millisecond
}

func (c *Config) FlashPageSize() int {
	return parseInt(c.FlashPageSizeValue, 12)
}

func (c *Config) CatalogRefreshInterval() time.Duration {
	return time.Duration(parseInt(c.CatalogRefreshSeconds, 300)) * time.Second
}

func (c *Config) TopicPartitions() int {
	return parseInt(c.KafkaTopicPartitions, 3)
}

func (c *Config) DLQPartitions() int {
	return parseInt(c.KafkaDLQPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	value := parseInt(c.KafkaReplicationFactor, 1)
	return int16(value)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
