// Package config loads process configuration for cmd/dispatchd (C10):
// database DSN, listen addresses, cron cadences, and liveness thresholds,
// read from environment variables with the same sane-default philosophy
// as the teacher's option-functor configuration surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully-resolved process configuration.
type Config struct {
	// DatabaseDriver names the GORM dialect; cmd/dispatchd opens SQLite
	// for every value, including "postgres".
	DatabaseDriver string
	// DatabaseDSN is the driver-specific connection string.
	DatabaseDSN string

	// ListenAddr is the address the REST façade and agent stream WebSocket
	// listener bind to.
	ListenAddr string

	// DispatchCronSpec and HealthCheckCronSpec are robfig/cron expressions;
	// left as fields (rather than baked-in constants) so an operator can
	// retune cadence without a rebuild, even though §4.5/§4.7 fix them at
	// 1 minute / 30 seconds by default.
	DispatchCronSpec    string
	HealthCheckCronSpec string

	OrphanThreshold   time.Duration
	HeartbeatTimeout  time.Duration
	OfflineThreshold  int

	Pool PoolConfig
}

// PoolConfig mirrors internal/storage.PoolConfig's shape so Config can be
// loaded independently of the storage package and passed through at wiring
// time in cmd/dispatchd.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Load reads Config from the environment, applying defaults for anything
// unset. Grounded on the teacher's option-functor default-then-override
// pattern, generalized to env vars since a long-running daemon's config
// surface is process environment, not a functional-options call site.
func Load() (Config, error) {
	cfg := Default()

	if v := os.Getenv("DISPATCH_DB_DRIVER"); v != "" {
		cfg.DatabaseDriver = v
	}
	if v := os.Getenv("DISPATCH_DB_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("DISPATCH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DISPATCH_CRON"); v != "" {
		cfg.DispatchCronSpec = v
	}
	if v := os.Getenv("DISPATCH_HEALTH_CRON"); v != "" {
		cfg.HealthCheckCronSpec = v
	}

	var err error
	if cfg.OrphanThreshold, err = durationEnv("DISPATCH_ORPHAN_THRESHOLD", cfg.OrphanThreshold); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatTimeout, err = durationEnv("DISPATCH_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OfflineThreshold, err = intEnv("DISPATCH_OFFLINE_THRESHOLD", cfg.OfflineThreshold); err != nil {
		return Config{}, err
	}
	if cfg.Pool.MaxOpenConns, err = intEnv("DISPATCH_DB_MAX_OPEN_CONNS", cfg.Pool.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if cfg.Pool.MaxIdleConns, err = intEnv("DISPATCH_DB_MAX_IDLE_CONNS", cfg.Pool.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if cfg.Pool.ConnMaxLifetime, err = durationEnv("DISPATCH_DB_CONN_MAX_LIFETIME", cfg.Pool.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if cfg.Pool.ConnMaxIdleTime, err = durationEnv("DISPATCH_DB_CONN_MAX_IDLE_TIME", cfg.Pool.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns Config populated with the values §4.10/§4.5/§4.7 name:
// 1-minute dispatch cadence, 30-second health cadence, 5-minute orphan/
// heartbeat thresholds, 3-strike offline threshold, and the teacher's
// storage pool defaults.
func Default() Config {
	return Config{
		DatabaseDriver:      "sqlite",
		DatabaseDSN:         "dispatch.db",
		ListenAddr:          ":8080",
		DispatchCronSpec:    "@every 1m",
		HealthCheckCronSpec: "@every 30s",
		OrphanThreshold:     5 * time.Minute,
		HeartbeatTimeout:    5 * time.Minute,
		OfflineThreshold:    3,
		Pool: PoolConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
	}
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid integer for %s: %w", key, err)
	}
	return n, nil
}
