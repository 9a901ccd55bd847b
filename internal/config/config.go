// Package config reads server and tool settings from the environment (and an
// optional .env file) plus the engine policy YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Pulse/internal/services"
	"github.com/soaringjerry/Pulse/internal/utils"
)

// Config is everything cmd/server and cmd/cadence-tick need to start.
type Config struct {
	Addr            string
	DBDriver        string
	DBDSN           string
	MigrationsDir   string
	SnapshotPath    string
	PolicyFile      string
	Location        *time.Location
	LogLevel        slog.Level
	CORSOrigins     []string
	PublicRPS       float64
	PublicBurst     int
	WebhookURL      string
	WebhookSecret   string
	ShutdownTimeout time.Duration
}

// Drivers accepted in PULSE_DB_DRIVER.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
	DriverMemory   = "memory"
)

// LoadDotEnv loads the given .env files (default ".env") without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the PULSE_* environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:            utils.SafeEnv("PULSE_ADDR", ":8080"),
		DBDriver:        strings.ToLower(utils.SafeEnv("PULSE_DB_DRIVER", DriverSQLite)),
		DBDSN:           utils.SafeEnv("PULSE_DB_DSN", "file:pulse.db?_busy_timeout=5000"),
		MigrationsDir:   os.Getenv("PULSE_MIGRATIONS_DIR"),
		SnapshotPath:    os.Getenv("PULSE_SNAPSHOT_PATH"),
		PolicyFile:      os.Getenv("PULSE_POLICY_FILE"),
		CORSOrigins:     utils.EnvList("PULSE_CORS_ORIGINS"),
		PublicRPS:       utils.EnvFloat("PULSE_PUBLIC_RPS", 2),
		PublicBurst:     utils.EnvInt("PULSE_PUBLIC_BURST", 10),
		WebhookURL:      os.Getenv("PULSE_WEBHOOK_URL"),
		WebhookSecret:   os.Getenv("PULSE_WEBHOOK_SECRET"),
		ShutdownTimeout: utils.EnvDuration("PULSE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	switch cfg.DBDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	case "sqlite", "postgres", "postgresql":
		cfg.DBDriver = map[string]string{"sqlite": DriverSQLite, "postgres": DriverPostgres, "postgresql": DriverPostgres}[cfg.DBDriver]
	default:
		return cfg, fmt.Errorf("PULSE_DB_DRIVER: unsupported driver %q", cfg.DBDriver)
	}

	loc, err := time.LoadLocation(utils.SafeEnv("PULSE_TIMEZONE", "UTC"))
	if err != nil {
		return cfg, fmt.Errorf("PULSE_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if err := cfg.LogLevel.UnmarshalText([]byte(utils.SafeEnv("PULSE_LOG_LEVEL", "info"))); err != nil {
		return cfg, fmt.Errorf("PULSE_LOG_LEVEL: %w", err)
	}
	if cfg.PublicRPS <= 0 || cfg.PublicBurst < 1 {
		return cfg, errors.New("PULSE_PUBLIC_RPS and PULSE_PUBLIC_BURST must be positive")
	}
	return cfg, nil
}

// NewLogger returns a text slog logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// LoadPolicy reads an engine policy file. An empty path yields the default
// policy. Unknown keys are rejected and the result is validated by building
// an engine from it.
func LoadPolicy(path string) (services.Policy, error) {
	if strings.TrimSpace(path) == "" {
		return services.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return services.Policy{}, fmt.Errorf("load policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates policy YAML.
func ParsePolicy(data []byte) (services.Policy, error) {
	var p services.Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return services.Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	engine, err := services.NewEngine(p)
	if err != nil {
		return services.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return engine.Policy, nil
}
