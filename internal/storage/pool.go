package storage

import (
	"time"

	"gorm.io/gorm"
)

// PoolConfig configures the underlying *sql.DB connection pool, adapted
// from the teacher's pkg/storage/pool.go option-functor style.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PoolOption configures a PoolConfig.
type PoolOption func(*PoolConfig)

// WithMaxOpenConns sets the maximum number of open connections to the database.
func WithMaxOpenConns(n int) PoolOption {
	return func(c *PoolConfig) { c.MaxOpenConns = n }
}

// WithMaxIdleConns sets the maximum number of idle connections retained in the pool.
func WithMaxIdleConns(n int) PoolOption {
	return func(c *PoolConfig) { c.MaxIdleConns = n }
}

// WithConnMaxLifetime bounds how long a connection may be reused.
func WithConnMaxLifetime(d time.Duration) PoolOption {
	return func(c *PoolConfig) { c.ConnMaxLifetime = d }
}

// WithConnMaxIdleTime bounds how long a connection may sit idle before being closed.
func WithConnMaxIdleTime(d time.Duration) PoolOption {
	return func(c *PoolConfig) { c.ConnMaxIdleTime = d }
}

// DefaultPoolConfig mirrors the teacher's conservative defaults, sized for
// a single dispatchd process talking to one SQLite/Postgres instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// ConfigurePool applies opts over DefaultPoolConfig and pushes the result
// onto db's underlying *sql.DB.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}
