package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// StorageDriver выбирает реализацию репозиториев.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Переменные окружения, из которых читается конфигурация.
const (
	envStorageDriver       = "REFUNDS_STORAGE_DRIVER"
	envPostgresDSN         = "REFUNDS_POSTGRES_DSN"
	envPostgresAutoMigrate = "REFUNDS_POSTGRES_AUTO_MIGRATE"
	envRefundMaxRetries    = "REFUNDS_REFUND_MAX_RETRIES"
	envLogLevel            = "REFUNDS_LOG_LEVEL"
)

// Config описывает настройки запуска.
type Config struct {
	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	RefundMaxRetries    int
	LogLevel            string
}

// DefaultConfig возвращает конфигурацию для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		RefundMaxRetries:    3,
		LogLevel:            "info",
	}
}

// LoadConfigFromEnv накладывает переменные окружения на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(getenv(envStorageDriver)); v != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	if v := strings.TrimSpace(getenv(envPostgresDSN)); v != "" {
		cfg.PostgresDSN = v
	}
	if v := strings.TrimSpace(getenv(envPostgresAutoMigrate)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envPostgresAutoMigrate, err)
		}
		cfg.PostgresAutoMigrate = b
	}
	if v := strings.TrimSpace(getenv(envRefundMaxRetries)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", envRefundMaxRetries, err)
		}
		cfg.RefundMaxRetries = n
	}
	if v := strings.TrimSpace(getenv(envLogLevel)); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("%s is required for storage driver %q", envPostgresDSN, c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.RefundMaxRetries <= 0 {
		return fmt.Errorf("refund max retries must be positive, got %d", c.RefundMaxRetries)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// NewLogger настраивает формат и уровень логирования по конфигурации.
func NewLogger(cfg Config) *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
