// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables always win over file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/database"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Port string          `yaml:"port"`
	DB   database.Config `yaml:"db"`

	RedisAddr     string `yaml:"redis_addr"` // empty disables redis
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	BusinessTimezone   string        `yaml:"business_timezone"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	SweepBatchSize     int           `yaml:"sweep_batch_size"`
	BatchMaxAttempts   int           `yaml:"batch_max_attempts"`
	OrderPaymentWindow time.Duration `yaml:"order_payment_window"`

	MidtransServerKey  string `yaml:"midtrans_server_key"`
	MidtransProduction bool   `yaml:"midtrans_production"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:               "8080",
		DB:                 database.DefaultConfig(),
		BusinessTimezone:   "America/Sao_Paulo",
		SweepInterval:      time.Minute,
		SweepBatchSize:     200,
		BatchMaxAttempts:   5,
		OrderPaymentWindow: 30 * time.Minute,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.DB.Host, "DB_HOST")
	setString(&c.DB.Port, "DB_PORT")
	setString(&c.DB.User, "DB_USER")
	setString(&c.DB.Password, "DB_PASSWORD")
	setString(&c.DB.DBName, "DB_NAME")
	setString(&c.DB.SSLMode, "DB_SSLMODE")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.BusinessTimezone, "BUSINESS_TIMEZONE")
	setString(&c.MidtransServerKey, "MIDTRANS_SERVER_KEY")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	var maxConns int
	if ok, err := setInt(&maxConns, "DB_MAX_CONNS"); err != nil {
		return err
	} else if ok {
		c.DB.MaxConns = int32(maxConns)
	}

	return errors.Join(
		setIntErr(&c.RedisDB, "REDIS_DB"),
		setIntErr(&c.SweepBatchSize, "SWEEP_BATCH_SIZE"),
		setIntErr(&c.BatchMaxAttempts, "BATCH_MAX_ATTEMPTS"),
		setDuration(&c.SweepInterval, "SWEEP_INTERVAL"),
		setDuration(&c.OrderPaymentWindow, "ORDER_PAYMENT_WINDOW"),
		setBool(&c.MidtransProduction, "MIDTRANS_PRODUCTION"),
	)
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		errs = append(errs, fmt.Errorf("BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be positive"))
	}
	if c.BatchMaxAttempts <= 0 {
		errs = append(errs, errors.New("BATCH_MAX_ATTEMPTS must be positive"))
	}
	if c.OrderPaymentWindow <= 0 {
		errs = append(errs, errors.New("ORDER_PAYMENT_WINDOW must be positive"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: want text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Location returns the business timezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return true, nil
}

func setIntErr(dst *int, key string) error {
	_, err := setInt(dst, key)
	return err
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
