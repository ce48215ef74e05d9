// Package database owns the Postgres connection pool: the
// authoritative store behind users, requests, key_data_types and
// dispatch_logs (spec.md §3, §6).
package database

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	// registers the pgx driver under "pgx" for sqlx.Connect, and lib/pq
	// for pq.Error-based unique-violation detection in the store layer.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Config mirrors the teacher's internal/database.Config shape:
// defaults, then an env overlay, then Open.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "dispatcher",
		Database:        "executor_balancer",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overlays DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME/
// DB_SSL_MODE onto c, leaving defaults in place for anything unset or
// malformed.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
}

// DSN renders c as a libpq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Open opens a pooled *sqlx.DB over the pgx stdlib driver.
func Open(c *Config, log *logrus.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	log.WithFields(logrus.Fields{
		"host": c.Host, "port": c.Port, "database": c.Database,
	}).Info("connected to postgres")

	return db, nil
}
