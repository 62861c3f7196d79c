package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends for snapshots and provenance.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config captures process level configuration.
type Config struct {
	Addr          string
	PolicyPath    string
	JWTSigningKey string
	JWTIssuer     string
	LogLevel      string
	LogFormat     string

	StoreBackend string
	SQLitePath   string
	SnapshotTTL  time.Duration

	// CheckpointDir receives models exported after an allowed release. Empty
	// disables export.
	CheckpointDir string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	// ArchiveDatabaseURL is where the audit sink archives consumed events.
	ArchiveDatabaseURL string
}

// PostgresConfig configures the snapshot and audit database. An empty URL
// keeps audit events in memory.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the redis snapshot backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ArchiveGroup string
	RelayEvery   time.Duration
	RelayBatch   int
	Partitions   int32
	Replications int16
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:          getenv("SAFEMODEL_ADDR", ":8080"),
		PolicyPath:    os.Getenv("SAFEMODEL_POLICY"),
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:     getenv("JWT_ISSUER", "safemodel"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFormat:     getenv("LOG_FORMAT", "json"),
		StoreBackend:  getenv("SNAPSHOT_STORE", StoreMemory),
		SQLitePath:    getenv("SQLITE_PATH", "data/snapshots.db"),
		CheckpointDir: os.Getenv("CHECKPOINT_DIR"),
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Kafka: KafkaConfig{
			Topic:        getenv("KAFKA_AUDIT_TOPIC", "safemodel.audit"),
			ArchiveGroup: getenv("KAFKA_ARCHIVE_GROUP", "safemodel-audit-archive"),
		},
		ArchiveDatabaseURL: os.Getenv("ARCHIVE_DATABASE_URL"),
	}
	if cfg.JWTSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for b := range strings.SplitSeq(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}

	var err error
	if cfg.SnapshotTTL, err = durationEnv("SNAPSHOT_TTL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Postgres.MaxOpenConns, err = intEnv("DATABASE_MAX_OPEN_CONNS", 10); err != nil {
		return Config{}, err
	}
	if cfg.Postgres.MaxIdleConns, err = intEnv("DATABASE_MAX_IDLE_CONNS", 5); err != nil {
		return Config{}, err
	}
	if cfg.Postgres.ConnMaxLifetime, err = durationEnv("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Redis.PoolSize, err = intEnv("REDIS_POOL_SIZE", 10); err != nil {
		return Config{}, err
	}
	if cfg.Redis.MinIdleConns, err = intEnv("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Config{}, err
	}
	if cfg.Redis.DialTimeout, err = durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Redis.ReadTimeout, err = durationEnv("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Redis.WriteTimeout, err = durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Kafka.RelayEvery, err = durationEnv("KAFKA_RELAY_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Kafka.RelayBatch, err = intEnv("KAFKA_RELAY_BATCH", 100); err != nil {
		return Config{}, err
	}
	partitions, err := intEnv("KAFKA_AUDIT_PARTITIONS", 1)
	if err != nil {
		return Config{}, err
	}
	replicas, err := intEnv("KAFKA_AUDIT_REPLICATION", 1)
	if err != nil {
		return Config{}, err
	}
	cfg.Kafka.Partitions = int32(partitions)
	cfg.Kafka.Replications = int16(replicas)

	return cfg, cfg.Validate()
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown snapshot store %q", c.StoreBackend)
	}
	if len(c.Kafka.Brokers) > 0 && c.Postgres.URL == "" {
		return fmt.Errorf("DATABASE_URL is required to relay audit events to kafka")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
