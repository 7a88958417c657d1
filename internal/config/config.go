package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Credential CredentialConfig
	Gate       GateConfig
	Metrics    MetricsConfig
	Kafka      KafkaConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// RateLimitPerGate caps scans per scanned_by within RateLimitWindow.
	// Zero disables the limit.
	RateLimitPerGate int
	RateLimitWindow  time.Duration
	IdempotencyTTL   time.Duration
}

type StorageConfig struct {
	Driver string
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int32
}

// DSN renders the connection URL understood by pgx.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisConfig is optional: an empty Addr runs the instance without Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type CredentialConfig struct {
	// Keys is "version:hexkey" pairs separated by commas.
	Keys          string
	ActiveVersion uint8
}

type GateConfig struct {
	MaxInFlightPerEvent int64
	LockTimeout         time.Duration
	// LockBackend is GATE_LOCK_BACKEND: "local" (FIFO within one process) or
	// "redis" (shared across instances; waiters poll, so they are not served
	// in submission order).
	LockBackend string
	LockLease   time.Duration
}

type MetricsConfig struct {
	Counter  string
	CacheTTL time.Duration
}

// KafkaConfig is optional: no brokers disables the record stream.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type LogConfig struct {
	Format string
	Level  string
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var (
		cfg Config
		err error
	)

	cfg.Server.Host = getEnv("SERVER_HOST", "localhost")
	if cfg.Server.Port, err = getInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Server.ShutdownTimeout, err = getDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Server.RateLimitPerGate, err = getInt("CHECKIN_RATE_LIMIT", 600); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Server.RateLimitWindow, err = getDuration("CHECKIN_RATE_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Server.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 2*time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Storage.Driver = strings.ToLower(getEnv("STORAGE_DRIVER", StoragePostgres))
	switch cfg.Storage.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return nil, fmt.Errorf("%s: invalid STORAGE_DRIVER %q", op, cfg.Storage.Driver)
	}

	if cfg.Storage.Driver == StoragePostgres {
		if cfg.Postgres, err = loadPostgres(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Credential.Keys = os.Getenv("CREDENTIAL_KEYS")
	if cfg.Credential.Keys == "" {
		return nil, fmt.Errorf("%s: missing CREDENTIAL_KEYS", op)
	}
	active, err := getInt("CREDENTIAL_ACTIVE_VERSION", 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if active < 0 || active > 255 {
		return nil, fmt.Errorf("%s: CREDENTIAL_ACTIVE_VERSION out of range: %d", op, active)
	}
	cfg.Credential.ActiveVersion = uint8(active)

	maxInFlight, err := getInt("GATE_MAX_INFLIGHT_PER_EVENT", 256)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.Gate.MaxInFlightPerEvent = int64(maxInFlight)
	if cfg.Gate.LockTimeout, err = getDuration("GATE_LOCK_TIMEOUT", 3*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Gate.LockLease, err = getDuration("GATE_LOCK_LEASE", 10*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.Gate.LockBackend = strings.ToLower(getEnv("GATE_LOCK_BACKEND", BackendLocal))
	switch cfg.Gate.LockBackend {
	case BackendLocal:
	case BackendRedis:
		if !cfg.Redis.Enabled() {
			return nil, fmt.Errorf("%s: GATE_LOCK_BACKEND=redis requires REDIS_ADDR", op)
		}
	default:
		return nil, fmt.Errorf("%s: invalid GATE_LOCK_BACKEND %q", op, cfg.Gate.LockBackend)
	}

	cfg.Metrics.Counter = strings.ToLower(getEnv("METRICS_COUNTER", BackendMemory))
	switch cfg.Metrics.Counter {
	case BackendMemory:
	case BackendRedis:
		if !cfg.Redis.Enabled() {
			return nil, fmt.Errorf("%s: METRICS_COUNTER=redis requires REDIS_ADDR", op)
		}
	default:
		return nil, fmt.Errorf("%s: invalid METRICS_COUNTER %q", op, cfg.Metrics.Counter)
	}
	if cfg.Metrics.CacheTTL, err = getDuration("METRICS_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
		}
	}
	cfg.Kafka.Topic = getEnv("KAFKA_CHECKIN_TOPIC", "tixgate.checkins.recorded")
	if cfg.Kafka.WriteTimeout, err = getDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Log.Format = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	cfg.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", "info"))

	return &cfg, nil
}

func loadPostgres() (PostgresConfig, error) {
	port, err := getInt("POSTGRES_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}

	maxConns, err := getInt("POSTGRES_MAX_CONNS", 0)
	if err != nil {
		return PostgresConfig{}, err
	}

	c := PostgresConfig{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Name:     os.Getenv("POSTGRES_DB"),
		Host:     getEnv("POSTGRES_HOST", "localhost"),
		Port:     port,
		SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		MaxConns: int32(maxConns),
	}

	switch {
	case c.User == "":
		return c, fmt.Errorf("missing POSTGRES_USER")
	case c.Password == "":
		return c, fmt.Errorf("missing POSTGRES_PASSWORD")
	case c.Name == "":
		return c, fmt.Errorf("missing POSTGRES_DB")
	}

	return c, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
