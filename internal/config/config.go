// Package config loads service configuration.
//
// Precedence, lowest first: Default, YAML file, .env file, CFGSYNC_*
// environment variables. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Audit sinks.
const (
	SinkStore = "store"
	SinkRedis = "redis"
	SinkNone  = "none"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CFGSYNC_"

// Config is the full service configuration.
type Config struct {
	ListenAddr string            `yaml:"listen_addr"`
	Database   DatabaseConfig    `yaml:"database"`
	Locking    LockingConfig     `yaml:"locking"`
	Sync       SyncConfig        `yaml:"sync"`
	Audit      AuditConfig       `yaml:"audit"`
	Redis      RedisConfig       `yaml:"redis"`
	Tokens     map[string]string `yaml:"tokens"` // bearer token -> account id
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	Path         string        `yaml:"path"` // sqlite
	DSN          string        `yaml:"dsn"`  // mysql
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

type LockingConfig struct {
	AccountLocks bool `yaml:"account_locks"`
	Shards       int  `yaml:"shards"`
}

type SyncConfig struct {
	RetryAfter time.Duration `yaml:"retry_after"`
}

type AuditConfig struct {
	Sink   string `yaml:"sink"`
	Buffer int    `yaml:"buffer"` // 0 records synchronously
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:8080",
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			Path:         "cfgsync.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 4,
		},
		Locking: LockingConfig{
			AccountLocks: true,
			Shards:       256,
		},
		Sync: SyncConfig{
			RetryAfter: time.Second,
		},
		Audit: AuditConfig{
			Sink: SinkStore,
		},
		Redis: RedisConfig{
			Addr:   "127.0.0.1:6379",
			Stream: "cfgsync:audit",
			MaxLen: 100000,
		},
		Tokens: map[string]string{},
	}
}

// Load builds a Config from Default, the YAML file at path (skipped if
// empty), the .env file at envFile (skipped if empty or missing) and the
// process environment. The result is validated.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		// godotenv.Load never overrides variables already set.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DriverMySQL:
		if strings.TrimSpace(c.Database.DSN) == "" {
			errs = append(errs, errors.New("database.dsn is required for mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Database.BusyTimeout <= 0 {
		errs = append(errs, errors.New("database.busy_timeout must be positive"))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("database.max_open_conns must be at least 1"))
	}
	if c.Locking.Shards <= 0 {
		errs = append(errs, errors.New("locking.shards must be positive"))
	}
	if c.Sync.RetryAfter <= 0 {
		errs = append(errs, errors.New("sync.retry_after must be positive"))
	}

	switch c.Audit.Sink {
	case SinkStore, SinkNone:
	case SinkRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit.sink %q", c.Audit.Sink))
	}
	if c.Audit.Buffer < 0 {
		errs = append(errs, errors.New("audit.buffer must not be negative"))
	}

	for token, account := range c.Tokens {
		if strings.TrimSpace(token) == "" || strings.TrimSpace(account) == "" {
			errs = append(errs, errors.New("tokens: empty token or account id"))
			break
		}
	}

	return errors.Join(errs...)
}

// applyEnv overlays CFGSYNC_* variables found by lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			}
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			*dst = d
			return err
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_PATH", &c.Database.Path)
	str("DB_DSN", &c.Database.DSN)
	parse("DB_BUSY_TIMEOUT", duration(&c.Database.BusyTimeout))
	parse("DB_MAX_OPEN_CONNS", integer(&c.Database.MaxOpenConns))
	parse("ACCOUNT_LOCKS", func(v string) error {
		b, err := strconv.ParseBool(v)
		c.Locking.AccountLocks = b
		return err
	})
	parse("LOCK_SHARDS", integer(&c.Locking.Shards))
	parse("RETRY_AFTER", duration(&c.Sync.RetryAfter))
	str("AUDIT_SINK", &c.Audit.Sink)
	parse("AUDIT_BUFFER", integer(&c.Audit.Buffer))
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	parse("REDIS_DB", integer(&c.Redis.DB))
	str("REDIS_STREAM", &c.Redis.Stream)
	parse("REDIS_MAX_LEN", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		c.Redis.MaxLen = n
		return err
	})
	parse("TOKENS", func(v string) error {
		tokens, err := ParseTokens(v)
		if err != nil {
			return err
		}
		if c.Tokens == nil {
			c.Tokens = map[string]string{}
		}
		for token, account := range tokens {
			c.Tokens[token] = account
		}
		return nil
	})

	return errors.Join(errs...)
}

// ParseTokens parses "token=account,token=account".
func ParseTokens(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, account, ok := strings.Cut(pair, "=")
		token, account = strings.TrimSpace(token), strings.TrimSpace(account)
		if !ok || token == "" || account == "" {
			return nil, fmt.Errorf("malformed token pair %q", pair)
		}
		out[token] = account
	}
	return out, nil
}
