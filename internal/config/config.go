package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         int
	Host         string
	CarCapacity  int
	MotoCapacity int
	CarRate      float64
	MotoRate     float64
	ReadBuffer   int
	ReadTimeout  time.Duration

	AdminAddr   string
	Environment string
	LogLevel    string

	OTelEnabled     bool
	OTelServiceName string
	OTelEndpoint    string

	AMQPURL   string
	AMQPQueue string

	ReportSchedule string
}

// Load reads the configuration from the environment. The named files are
// loaded first with godotenv; with no names, a .env in the working directory
// is used when present. Variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{
		Host:            getEnv("PARKING_HOST", ""),
		AdminAddr:       getEnv("ADMIN_ADDR", ":8081"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "parqueadero"),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPQueue:       getEnv("AMQP_QUEUE", "parking-events"),
		ReportSchedule:  getEnv("REPORT_SCHEDULE", "@every 1m"),
	}

	var err error
	if cfg.Port, err = getEnvInt("PARKING_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.CarCapacity, err = getEnvInt("PARKING_CAR_CAPACITY", 20); err != nil {
		return nil, err
	}
	if cfg.MotoCapacity, err = getEnvInt("PARKING_MOTO_CAPACITY", 30); err != nil {
		return nil, err
	}
	if cfg.CarRate, err = getEnvFloat("PARKING_CAR_RATE", 3000); err != nil {
		return nil, err
	}
	if cfg.MotoRate, err = getEnvFloat("PARKING_MOTO_RATE", 2000); err != nil {
		return nil, err
	}
	if cfg.ReadBuffer, err = getEnvInt("PARKING_READ_BUFFER", 1024); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = getEnvDuration("PARKING_READ_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.OTelEnabled, err = getEnvBool("OTEL_ENABLED", false); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PARKING_PORT out of range: %d", c.Port)
	}
	if c.CarCapacity < 0 || c.MotoCapacity < 0 {
		return fmt.Errorf("capacities must not be negative")
	}
	if c.CarRate < 0 || c.MotoRate < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	if c.ReadBuffer <= 0 {
		return fmt.Errorf("PARKING_READ_BUFFER must be positive")
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("PARKING_READ_TIMEOUT must not be negative")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
