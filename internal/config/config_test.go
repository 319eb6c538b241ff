package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.AdminToken = "t0ken"
	return cfg
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("QUERY_RATE_WINDOW", "30s")
	t.Setenv("ADMIN_EMAILS", "a@example.com, b@example.com,")
	t.Setenv("RAW_ENABLED", "false")
	t.Setenv("INGEST_RATE_LIMIT", "not-a-number")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.QueryWindow)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AdminEmails)
	assert.False(t, cfg.RawEnabled)
	assert.Equal(t, 120, cfg.IngestLimit)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 7000
db_dsn: postgres://pulse:pw@db:5432/pulse
cache_ttl: 2m
admin_emails: [ops@example.com]
`), 0o600))
	t.Setenv("PORT", "7001")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Port)
	assert.Equal(t, "postgres://pulse:pw@db:5432/pulse", cfg.DBDSN)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
	assert.Equal(t, []string{"ops@example.com"}, cfg.AdminEmails)
	assert.Equal(t, 60, cfg.QueryLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "config.Load: read")
}

func TestDriver(t *testing.T) {
	cfg := Config{DBDSN: "postgres://localhost/pulse"}
	assert.Equal(t, "postgres", cfg.Driver())
	cfg.DBDSN = "postgresql://localhost/pulse"
	assert.Equal(t, "postgres", cfg.Driver())
	cfg.DBDSN = "file:pulse.db"
	assert.Equal(t, "sqlite3", cfg.Driver())
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no auth", func(c *Config) { c.AdminToken = "" }, "ADMIN_TOKEN"},
		{"oidc without client", func(c *Config) { c.OIDCIssuer = "https://idp" }, "OIDC_CLIENT_ID"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "PORT"},
		{"empty dsn", func(c *Config) { c.DBDSN = "" }, "DB_DSN"},
		{"zero limit", func(c *Config) { c.QueryLimit = 0 }, "QUERY_RATE_LIMIT"},
		{"zero window", func(c *Config) { c.IngestWindow = 0 }, "INGEST_RATE_WINDOW"},
		{"negative breaker", func(c *Config) { c.BreakerThreshold = -1 }, "CIRCUIT_BREAKER_THRESHOLD"},
		{"cache without size", func(c *Config) { c.CacheSize = 0 }, "QUERY_CACHE_SIZE"},
		{"bad cron", func(c *Config) { c.PurgeSchedule = "every day" }, "PURGE_SCHEDULE"},
		{"bad proxy", func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "gateway"} }, "TRUSTED_PROXIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestLoad_TrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7,::1")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.7", "::1"}, cfg.TrustedProxies)
}

func TestTrustedPrefixes(t *testing.T) {
	cfg := validConfig()
	cfg.TrustedProxies = []string{"10.1.2.3/8", "192.0.2.7", "::ffff:198.51.100.1"}

	prefixes, err := cfg.TrustedPrefixes()

	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.0.2.7/32", prefixes[1].String())
	assert.Equal(t, "198.51.100.1/32", prefixes[2].String())
	assert.NoError(t, cfg.Validate())
}

func TestValidate_DisabledFeaturesSkipChecks(t *testing.T) {
	cfg := validConfig()
	cfg.BreakerThreshold = 0
	cfg.BreakerCooldown = 0
	cfg.CacheTTL = 0
	cfg.CacheSize = 0
	cfg.RefreshSchedule = ""

	assert.NoError(t, cfg.Validate())
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.DBDSN = ""
	cfg.SourceTimeout = 0

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 validation errors:")
	assert.Contains(t, err.Error(), "DB_DSN: required")
	assert.Contains(t, err.Error(), "SOURCE_TIMEOUT: must be positive")
}

func TestMaskedJSON(t *testing.T) {
	cfg := validConfig()
	cfg.DBDSN = "postgres://pulse:hunter2@db:5432/pulse?sslmode=disable"
	cfg.RedisPassword = "redispw"

	out, err := cfg.MaskedJSON()
	require.NoError(t, err)

	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "t0ken")
	assert.NotContains(t, string(out), "redispw")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "postgres://pulse:****@db:5432/pulse?sslmode=disable", decoded["db_dsn"])
	assert.Equal(t, "****", decoded["admin_token"])
}

func TestMaskedJSON_SQLiteDSNUnchanged(t *testing.T) {
	cfg := validConfig()

	out, err := cfg.MaskedJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, cfg.DBDSN, decoded["db_dsn"])
}
