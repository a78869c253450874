// Package config provides functionality for managing configuration options
// for the application using command-line flags, an optional JSON file and
// environment variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Registry drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Duration is a time.Duration that reads Go duration strings ("5m") from
// JSON config files and environment variables.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Options holds the configuration values for the application.
type Options struct {
	// Address defines the server's listening address (ip:port).
	Address string `json:"address" env:"SERVER_ADDRESS"`

	// InstancesDir is the root holding every instance sandbox and the
	// reserved default/ partition.
	InstancesDir string `json:"instances_dir" env:"INSTANCES_DIR"`

	// RegistryDriver selects the registry backend: sqlite or postgres.
	RegistryDriver string `json:"registry_driver" env:"REGISTRY_DRIVER"`

	// RegistryDSN holds the registry connection string. Empty means
	// <InstancesDir>/default/registry.db for sqlite.
	RegistryDSN string `json:"registry_dsn" env:"REGISTRY_DSN"`

	// SecretKey signs session cookies.
	SecretKey string `json:"-" env:"SECRET_KEY"`

	// GeneratedSecret reports that SecretKey was generated for this process.
	GeneratedSecret bool `json:"-"`

	SweepInterval Duration `json:"sweep_interval" env:"SWEEP_INTERVAL"`
	IdleTimeout   Duration `json:"idle_timeout" env:"INSTANCE_IDLE_TIMEOUT"`

	ChromeBinary    string   `json:"chrome_binary" env:"CHROME_BIN"`
	VisitWait       Duration `json:"visit_wait" env:"VISIT_WAIT"`
	VisitPrefix     string   `json:"visit_allowed_prefix" env:"VISIT_ALLOWED_PREFIX"`
	VisitsPerMinute int      `json:"visits_per_minute" env:"VISITS_PER_MINUTE"`

	LogLevel string `json:"log_level" env:"LOG_LEVEL"`

	// Config is the path to the Config file.
	Config string `json:"-" env:"CONFIG"`
}

// defaults returns Options populated with the built-in defaults.
func defaults() *Options {
	return &Options{
		Address:         "0.0.0.0:1337",
		InstancesDir:    "instances",
		RegistryDriver:  DriverSQLite,
		SweepInterval:   Duration(300 * time.Second),
		IdleTimeout:     Duration(900 * time.Second),
		ChromeBinary:    "chromium",
		VisitWait:       Duration(15 * time.Second),
		VisitPrefix:     "http://localhost:1337/",
		VisitsPerMinute: 4,
		LogLevel:        "info",
		Config:          "config.json",
	}
}

// Parse parses the process arguments and environment. It exits the process
// on invalid configuration.
func Parse() *Options {
	options, err := ParseArgs(os.Args[1:], nil)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return options
}

// ParseArgs builds Options from defaults, then args, then the JSON config
// file, then the environment. A nil environ reads the process environment.
func ParseArgs(args []string, environ map[string]string) (*Options, error) {
	options := defaults()

	fs := flag.NewFlagSet("sandnotes", flag.ContinueOnError)
	fs.StringVar(&options.Address, "a", options.Address, "run on ip:port server")
	fs.StringVar(&options.InstancesDir, "i", options.InstancesDir, "instances root directory")
	fs.StringVar(&options.RegistryDriver, "driver", options.RegistryDriver, "registry driver (sqlite|postgres)")
	fs.StringVar(&options.RegistryDSN, "d", options.RegistryDSN, "registry database address")
	fs.DurationVar((*time.Duration)(&options.SweepInterval), "sweep-interval", options.SweepInterval.Std(), "cleanup sweep interval")
	fs.DurationVar((*time.Duration)(&options.IdleTimeout), "idle-timeout", options.IdleTimeout.Std(), "instance idle timeout")
	fs.StringVar(&options.ChromeBinary, "chrome", options.ChromeBinary, "headless browser binary")
	fs.StringVar(&options.LogLevel, "log-level", options.LogLevel, "log level")
	fs.StringVar(&options.Config, "config", options.Config, "path to config file")
	fs.StringVar(&options.Config, "c", options.Config, "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envOpts := env.Options{Environment: environ}
	lookup := func(key string) string {
		if environ != nil {
			return environ[key]
		}
		return os.Getenv(key)
	}

	if configPath := lookup("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(options, envOpts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := options.finalize(); err != nil {
		return nil, err
	}
	return options, nil
}

func (o *Options) finalize() error {
	switch o.RegistryDriver {
	case DriverSQLite:
		if o.RegistryDSN == "" {
			o.RegistryDSN = filepath.Join(o.InstancesDir, "default", "registry.db")
		}
	case DriverPostgres:
		if o.RegistryDSN == "" {
			return errors.New("registry DSN is required for postgres")
		}
	default:
		return fmt.Errorf("unknown registry driver %q", o.RegistryDriver)
	}

	if o.SweepInterval <= 0 || o.IdleTimeout <= 0 {
		return errors.New("sweep interval and idle timeout must be positive")
	}
	if o.VisitsPerMinute <= 0 {
		return errors.New("visits per minute must be positive")
	}

	if o.SecretKey == "" {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate secret key: %w", err)
		}
		o.SecretKey = hex.EncodeToString(buf)
		o.GeneratedSecret = true
	}
	return nil
}
