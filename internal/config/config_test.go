package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyqueue/internal/delivery"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadFromDecodesServiceSections(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
jwt:
  secret: ${TEST_JWT_SECRET}
store:
  driver: sqlite
  sqlite_path: /tmp/q.db
scheduler:
  hour: 18
  minute: 30
compose:
  organization: Central
  timezone: America/Sao_Paulo
delivery:
  driver: log
  send_timeout: 5s
  breaker:
    failure_threshold: 3
directory:
  driver: static
  cache_ttl: 1m
  static:
    CRM123:
      display_name: Dr. Silva
      address: "+5511999990000"
`)
	writeFile(t, dir, "test.yaml", `
consolidation:
  workers: 8
`)
	t.Setenv("TEST_JWT_SECRET", "s3cret")

	cfg, err := LoadFrom("test", dir)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/q.db", cfg.Store.SQLitePath)
	assert.Equal(t, 18, cfg.Scheduler.Hour)
	assert.Equal(t, 30, cfg.Scheduler.Minute)
	// 调度时区默认跟随 compose
	assert.Equal(t, "America/Sao_Paulo", cfg.Scheduler.Timezone)
	assert.Equal(t, 8, cfg.Consolidation.Workers)
	assert.Equal(t, delivery.DriverLog, cfg.Delivery.Driver)
	assert.Equal(t, 5*time.Second, cfg.Delivery.SendTimeout)
	assert.Equal(t, 3, cfg.Delivery.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Directory.CacheTTL)
	require.Contains(t, cfg.Directory.Static, "CRM123")
	assert.Equal(t, "+5511999990000", cfg.Directory.Static["CRM123"].Address)

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 5, cfg.Intake.MaxRetries)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "jwt:\n  secret: x\n")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SCHEDULER_HOUR", "7")
	t.Setenv("DELIVERY_DRIVER", "log")

	cfg, err := LoadFrom("", dir)
	require.NoError(t, err)
	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 7, cfg.Scheduler.Hour)
	assert.Equal(t, delivery.DriverLog, cfg.Delivery.Driver)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.JWT.Secret = "x"
		c.applyDefaults()
		return c
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.Store.Driver = "mysql"
	assert.Error(t, c.Validate())

	c = valid()
	c.JWT.Secret = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.Intake.Enabled = true
	assert.Error(t, c.Validate())

	c = valid()
	c.MQ.Enabled = true
	c.Outbox.Enabled = true
	c.Store.Driver = StoreDriverSQLite
	assert.Error(t, c.Validate())

	c = valid()
	c.Delivery.Driver = delivery.DriverMQ
	assert.Error(t, c.Validate())

	c = valid()
	c.Directory.Driver = "ldap"
	assert.Error(t, c.Validate())
}

func TestShippedConfigLoads(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	cfg, err := LoadFrom("local", filepath.Join("..", "..", "config"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
}
