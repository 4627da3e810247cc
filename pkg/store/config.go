package store

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the database connection settings.
type Config struct {
	Driver   string // "postgres" (lib/pq) or "pgx"
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// Capacity bounds both the pool and the driver's open connections.
	Capacity        int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns settings for a local development database.
func DefaultConfig() Config {
	return Config{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		DBName:          "dataaccess",
		SSLMode:         "disable",
		Capacity:        10,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DSN renders the keyword/value connection string understood by both drivers.
func (c Config) DSN() string {
	parts := []string{
		"host=" + quote(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"user=" + quote(c.User),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quote(c.Password))
	}
	parts = append(parts, "dbname="+quote(c.DBName))
	if c.SSLMode != "" {
		parts = append(parts, "sslmode="+quote(c.SSLMode))
	}
	return strings.Join(parts, " ")
}

// Validate checks the settings before any connection is attempted.
func (c Config) Validate() error {
	switch c.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be >= 1 (got %d)", c.Capacity)
	}
	return nil
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
