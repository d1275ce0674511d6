package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for the notification server
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Stream   StreamConfig
	Client   ClientConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	Port           int
	Env            string
	LogLevel       string
	Storage        string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
	MinConns int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret           string
	AccessExpiration time.Duration
}

// StreamConfig holds server-side stream settings
type StreamConfig struct {
	KeepaliveInterval time.Duration
	HubBuffer         int
	BatchSize         int
	FlushInterval     time.Duration
	WorkerCount       int
	QueueSize         int
	StatsInterval     time.Duration
}

// ClientConfig holds the settings of the notification client
type ClientConfig struct {
	APIURL       string
	AccessToken  string
	RetryDelay   time.Duration
	PollInterval time.Duration
	PageSize     int
	ReadTimeout  time.Duration
}

// Load reads configuration from the environment, after merging an optional
// .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	var (
		config = &Config{}
		errs   []error
		p      = parser{errs: &errs}
	)

	config.App = AppConfig{
		Port:           p.getInt("APP_PORT", 8080),
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Storage:        getEnv("NOTIFY_STORAGE", StoragePostgres),
		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS"),
	}

	config.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     p.getInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "tunelog_notify"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		MaxConns: p.getInt("DB_MAX_CONNS", 25),
		MinConns: p.getInt("DB_MIN_CONNS", 5),
	}

	config.JWT = JWTConfig{
		Secret:           getEnv("JWT_SECRET_KEY", ""),
		AccessExpiration: p.getDuration("JWT_ACCESS_EXPIRATION_TIME", time.Hour),
	}

	config.Stream = StreamConfig{
		KeepaliveInterval: p.getDuration("STREAM_KEEPALIVE_INTERVAL", 30*time.Second),
		HubBuffer:         p.getInt("STREAM_HUB_BUFFER", 32),
		BatchSize:         p.getInt("NOTIFY_BATCH_SIZE", 100),
		FlushInterval:     p.getDuration("NOTIFY_FLUSH_INTERVAL", 5*time.Second),
		WorkerCount:       p.getInt("NOTIFY_WORKER_COUNT", 2),
		QueueSize:         p.getInt("NOTIFY_QUEUE_SIZE", 1000),
		StatsInterval:     p.getDuration("STREAM_STATS_INTERVAL", 5*time.Minute),
	}

	config.Client = ClientConfig{
		APIURL:       strings.TrimRight(getEnv("NOTIFY_API_URL", "http://localhost:8080"), "/"),
		AccessToken:  getEnv("NOTIFY_ACCESS_TOKEN", ""),
		RetryDelay:   p.getDuration("NOTIFY_RETRY_DELAY", 3*time.Second),
		PollInterval: p.getDuration("NOTIFY_POLL_INTERVAL", 60*time.Second),
		PageSize:     p.getInt("NOTIFY_PAGE_SIZE", 20),
		ReadTimeout:  p.getDuration("NOTIFY_READ_TIMEOUT", 90*time.Second),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings the server needs
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	switch c.App.Storage {
	case StoragePostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported NOTIFY_STORAGE %q", c.App.Storage)
	}
	if c.Stream.KeepaliveInterval <= 0 {
		return fmt.Errorf("STREAM_KEEPALIVE_INTERVAL must be positive")
	}
	if c.Stream.StatsInterval <= 0 {
		return fmt.Errorf("STREAM_STATS_INTERVAL must be positive")
	}
	return nil
}

// ValidateClient checks the settings the notification client needs
func (c *Config) ValidateClient() error {
	if c.Client.APIURL == "" {
		return fmt.Errorf("NOTIFY_API_URL is required")
	}
	if c.Client.RetryDelay <= 0 {
		return fmt.Errorf("NOTIFY_RETRY_DELAY must be positive")
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("NOTIFY_POLL_INTERVAL must be positive")
	}
	if c.Client.PageSize <= 0 {
		return fmt.Errorf("NOTIFY_PAGE_SIZE must be positive")
	}
	return nil
}

// StreamURL returns the absolute URL of the notification stream
func (c *Config) StreamURL() string {
	return c.Client.APIURL + "/api/v1/notifications/stream"
}

// LogLevel converts App.LogLevel to a slog level, defaulting to info
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.App.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type parser struct {
	errs *[]error
}

func (p parser) getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func (p parser) getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(env string) []string {
	value := getEnv(env, "")
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
