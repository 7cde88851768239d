package library

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Driver selects the catalog store engine.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Config describes how to reach the catalog store.
type Config struct {
	Driver   Driver
	Host     string
	Port     int
	User     string
	Password string
	// Database is the database name for PostgreSQL and the file path for SQLite.
	Database       string
	SSLMode        string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// LoadEnvFiles reads .env.local and .env into the process environment.
// Variables already set by the caller are never overridden, and .env.local
// takes precedence over .env.
func LoadEnvFiles() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
}

// ConfigFromEnv returns a Config populated from LIBRARY_* variables with defaults
// for anything unset. Connection coordinates (host, user, password, database)
// come from the command line and are left empty.
func ConfigFromEnv() Config {
	return Config{
		Driver:         Driver(getEnv("LIBRARY_DRIVER", string(DriverPostgres))),
		Port:           getEnvInt("LIBRARY_DB_PORT", 5432),
		SSLMode:        getEnv("LIBRARY_DB_SSLMODE", "disable"),
		MaxConns:       int32(getEnvInt("LIBRARY_DB_MAX_CONNS", 1)),
		ConnectTimeout: getEnvDuration("LIBRARY_CONNECT_TIMEOUT", 5*time.Second),
	}
}

// Validate checks the config is complete for its driver.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.Host == "" {
			return fmt.Errorf("postgres: host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("postgres: invalid port %d", c.Port)
		}
		if c.MaxConns < 1 {
			return fmt.Errorf("postgres: max connections must be at least 1, got %d", c.MaxConns)
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unknown driver %q (want %q or %q)", c.Driver, DriverPostgres, DriverSQLite)
	}
	if c.Database == "" {
		return fmt.Errorf("%s: database is required", c.Driver)
	}
	return nil
}

// sqlitePathEscaper percent-encodes the characters that would end the path
// part of a SQLite file: URI.
var sqlitePathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// DSN renders the driver specific connection string.
func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		// Immediate transactions take the write lock up front so concurrent
		// writers wait on busy_timeout instead of failing the lock upgrade.
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", sqlitePathEscaper.Replace(c.Database))
	}
	return c.postgresURL().String()
}

// Redacted is DSN with the password masked, for logs and error messages.
func (c Config) Redacted() string {
	if c.Driver == DriverSQLite {
		return c.DSN()
	}
	return c.postgresURL().Redacted()
}

func (c Config) postgresURL() *url.URL {
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	return u
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
