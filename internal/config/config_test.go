package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.True(t, cfg.Locking.AccountLocks)
	assert.Equal(t, 256, cfg.Locking.Shards)
	assert.Equal(t, time.Second, cfg.Sync.RetryAfter)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "cfgsync.yaml", `
listen_addr: ":9000"
database:
  driver: mysql
  dsn: "user:pw@tcp(db:3306)/sync"
  busy_timeout: 3s
locking:
  account_locks: false
  shards: 64
sync:
  retry_after: 2s
audit:
  sink: redis
  buffer: 512
redis:
  addr: "redis:6379"
  stream: "audit"
tokens:
  abc: acct-1
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "user:pw@tcp(db:3306)/sync", cfg.Database.DSN)
	assert.Equal(t, 3*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, 4, cfg.Database.MaxOpenConns, "unset keys keep defaults")
	assert.False(t, cfg.Locking.AccountLocks)
	assert.Equal(t, 64, cfg.Locking.Shards)
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryAfter)
	assert.Equal(t, SinkRedis, cfg.Audit.Sink)
	assert.Equal(t, 512, cfg.Audit.Buffer)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, int64(100000), cfg.Redis.MaxLen)
	assert.Equal(t, map[string]string{"abc": "acct-1"}, cfg.Tokens)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "cfgsync.yaml", "database:\n  path: from-file.db\n")
	t.Setenv("CFGSYNC_DB_PATH", "from-env.db")
	t.Setenv("CFGSYNC_ACCOUNT_LOCKS", "false")
	t.Setenv("CFGSYNC_DB_BUSY_TIMEOUT", "250ms")
	t.Setenv("CFGSYNC_TOKENS", "t1=acct-1, t2=acct-2")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.False(t, cfg.Locking.AccountLocks)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.BusyTimeout)
	assert.Equal(t, map[string]string{"t1": "acct-1", "t2": "acct-2"}, cfg.Tokens)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "CFGSYNC_LISTEN_ADDR=:7777\nCFGSYNC_LOCK_SHARDS=8\n")
	t.Cleanup(func() {
		os.Unsetenv("CFGSYNC_LISTEN_ADDR")
		os.Unsetenv("CFGSYNC_LOCK_SHARDS")
	})

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddr)
	assert.Equal(t, 8, cfg.Locking.Shards)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("CFGSYNC_LOCK_SHARDS", "many")
	_, err := Load("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CFGSYNC_LOCK_SHARDS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "postgres" }, "unknown database.driver"},
		{"empty sqlite path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"mysql without dsn", func(c *Config) { c.Database.Driver = DriverMySQL }, "database.dsn"},
		{"zero shards", func(c *Config) { c.Locking.Shards = 0 }, "locking.shards"},
		{"zero busy timeout", func(c *Config) { c.Database.BusyTimeout = 0 }, "busy_timeout"},
		{"unknown sink", func(c *Config) { c.Audit.Sink = "kafka" }, "unknown audit.sink"},
		{"redis without addr", func(c *Config) { c.Audit.Sink = SinkRedis; c.Redis.Addr = "" }, "redis.addr"},
		{"negative buffer", func(c *Config) { c.Audit.Buffer = -1 }, "audit.buffer"},
		{"empty token account", func(c *Config) { c.Tokens = map[string]string{"t": ""} }, "tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseTokens(t *testing.T) {
	tokens, err := ParseTokens("a=1,b=2,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, tokens)

	_, err = ParseTokens("a")
	assert.Error(t, err)
	_, err = ParseTokens("=acct")
	assert.Error(t, err)
}
