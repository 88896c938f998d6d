// Package config reads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skryldev/student-registry/db"
)

// Store backends.
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
	BackendMongo = "mongo"
)

type Config struct {
	HTTPAddr     string
	LogLevel     slog.Level
	StoreBackend string

	DB    DBConfig
	Redis RedisConfig
	Mongo MongoConfig

	JWTSecret string
	JWTIssuer string
}

type DBConfig struct {
	Driver      string
	DatabaseURL string

	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	Timeout            time.Duration
	SlowQueryThreshold time.Duration
	ConnectAttempts    int
	AutoMigrate        bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// LoadEnvFile loads path into the process environment when it exists.
// Variables already set win over the file.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	return Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		LogLevel:     getenvLevel("LOG_LEVEL", slog.LevelInfo),
		StoreBackend: strings.ToLower(getenv("STORE_BACKEND", BackendSQL)),
		DB: DBConfig{
			Driver:             getenv("DB_DRIVER", "sqlite3"),
			DatabaseURL:        os.Getenv("DATABASE_URL"),
			Host:               os.Getenv("DB_HOST"),
			Port:               getenvInt("DB_PORT", 0),
			User:               os.Getenv("DB_USER"),
			Password:           os.Getenv("DB_PASSWORD"),
			Name:               os.Getenv("DB_NAME"),
			SSLMode:            os.Getenv("DB_SSLMODE"),
			MaxOpenConns:       getenvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:       getenvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:    getenvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			Timeout:            getenvDuration("DB_TIMEOUT", 10*time.Second),
			SlowQueryThreshold: getenvDuration("DB_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
			ConnectAttempts:    getenvInt("DB_CONNECT_ATTEMPTS", 5),
			AutoMigrate:        getenvBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getenvInt("REDIS_DB", 0),
			Key:      getenv("REDIS_KEY", "students"),
		},
		Mongo: MongoConfig{
			URI:        getenv("MONGO_URI", "mongodb://127.0.0.1:27017"),
			Database:   getenv("MONGO_DB", "registry"),
			Collection: getenv("MONGO_COLLECTION", "students"),
		},
		JWTSecret: getenv("JWT_SECRET", "dev-secret"),
		JWTIssuer: getenv("JWT_ISSUER", "student-registry"),
	}
}

// Structured reports whether the DSN should be built from the DB_* parts
// instead of DATABASE_URL.
func (c DBConfig) Structured() bool {
	return c.DatabaseURL == "" && c.Host != ""
}

// DSN returns DATABASE_URL, falling back to a local SQLite file.
func (c DBConfig) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "students.db"
}

// DriverOptions converts the DB_* parts for db.OpenWithDriver.
func (c DBConfig) DriverOptions() db.DriverOptions {
	return db.DriverOptions{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Name,
		SSLMode:  c.SSLMode,
	}
}

// Pool converts the pool settings for db.Open. Hooks are left to the caller.
func (c DBConfig) Pool() db.Config {
	return db.Config{
		DSN:             c.DSN(),
		DriverName:      c.Driver,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		DefaultTimeout:  c.Timeout,
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvLevel(key string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(key))); err != nil {
		return fallback
	}
	return level
}
