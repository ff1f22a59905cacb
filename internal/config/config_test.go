package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
server:
  hostname: "localhost"
  port: 8080
database:
  exchange:
    hostname: "localhost"
    port: 3306
    user: "hie"
    password: "hie"
    database: "hie_exchange"
logging:
  level: "debug"
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 365*24*time.Hour, cfg.Consent.MaxDuration)
	assert.Equal(t, 30*24*time.Hour, cfg.Consent.DefaultDuration)
	assert.Equal(t, time.Minute, cfg.Consent.SweepInterval)
	assert.Equal(t, 60*time.Second, cfg.Exchange.DefaultDeadline)
	assert.Equal(t, 3, cfg.Exchange.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Exchange.InitialBackoff)
	assert.Equal(t, float64(2), cfg.Exchange.BackoffFactor)
	assert.Equal(t, 3, cfg.Notification.MaxAttempts)
	assert.Equal(t, 8, cfg.Notification.Workers)
	assert.Equal(t, 256, cfg.Notification.QueueSize)
	assert.Equal(t, 4, cfg.Gateway.Workers)
	assert.Equal(t, "localhost:8080", cfg.Server.GetServerAddress())
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
exchange:
  max_retries: 5
  initial_backoff: 500ms
gateway:
  workers: 8
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Exchange.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Exchange.InitialBackoff)
	assert.Equal(t, 8, cfg.Gateway.Workers)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  port: 0
database:
  exchange:
    hostname: "localhost"
    database: "hie_exchange"
`))
	assert.Error(t, err)
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  port: 8080
database:
  exchange:
    hostname: ""
`))
	assert.Error(t, err)
}

func TestLoadRejectsPatientWithoutKey(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
registry:
  patients:
    - id: "PATIENT-1"
`))
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	d := DatabaseConfig{
		Hostname: "db.internal",
		Port:     3306,
		User:     "hie",
		Password: "secret",
		Database: "hie_exchange",
	}
	assert.Equal(t, "hie:secret@tcp(db.internal:3306)/hie_exchange?parseTime=true&multiStatements=true", d.GetDSN())
}
