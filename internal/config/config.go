package config

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is loaded from defaults, then an optional YAML file, then the
// environment. Each layer overrides the previous one.
type Config struct {
	Port  int    `yaml:"port" json:"port"`
	DBDSN string `yaml:"db_dsn" json:"db_dsn"`

	AdminToken   string   `yaml:"admin_token" json:"admin_token"`
	AdminEmails  []string `yaml:"admin_emails" json:"admin_emails,omitempty"`
	OIDCIssuer   string   `yaml:"oidc_issuer" json:"oidc_issuer,omitempty"`
	OIDCClientID string   `yaml:"oidc_client_id" json:"oidc_client_id,omitempty"`

	// RedisAddr switches admission control to the shared Redis backend.
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password" json:"redis_password,omitempty"`

	IngestLimit  int           `yaml:"ingest_limit" json:"ingest_limit"`
	IngestWindow time.Duration `yaml:"ingest_window" json:"ingest_window"`
	QueryLimit   int           `yaml:"query_limit" json:"query_limit"`
	QueryWindow  time.Duration `yaml:"query_window" json:"query_window"`

	SourceTimeout time.Duration `yaml:"source_timeout" json:"source_timeout"`
	DBOpTimeout   time.Duration `yaml:"db_op_timeout" json:"db_op_timeout"`

	// BreakerThreshold of 0 disables the source circuit breaker.
	BreakerThreshold int           `yaml:"breaker_threshold" json:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown"`

	// CacheTTL of 0 disables the query result cache.
	CacheSize int           `yaml:"cache_size" json:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	IngestConcurrency int    `yaml:"ingest_concurrency" json:"ingest_concurrency"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes" json:"max_body_bytes"`
	AllowedOrigin     string `yaml:"allowed_origin" json:"allowed_origin"`

	// TrustedProxies lists the peer addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// connection address is always the client.
	TrustedProxies []string `yaml:"trusted_proxies" json:"trusted_proxies,omitempty"`

	RetentionDays   int    `yaml:"retention_days" json:"retention_days"`
	PurgeSchedule   string `yaml:"purge_schedule" json:"purge_schedule"`
	SweepSchedule   string `yaml:"sweep_schedule" json:"sweep_schedule"`
	RefreshSchedule string `yaml:"refresh_schedule" json:"refresh_schedule"`

	ProceduresEnabled bool `yaml:"procedures_enabled" json:"procedures_enabled"`
	RawEnabled        bool `yaml:"raw_enabled" json:"raw_enabled"`
	AutoMigrate       bool `yaml:"auto_migrate" json:"auto_migrate"`
}

func Defaults() Config {
	return Config{
		Port:              8080,
		DBDSN:             "file:pulse.db?_busy_timeout=5000&_journal_mode=WAL",
		IngestLimit:       120,
		IngestWindow:      time.Minute,
		QueryLimit:        60,
		QueryWindow:       time.Minute,
		SourceTimeout:     3 * time.Second,
		DBOpTimeout:       2 * time.Second,
		BreakerThreshold:  5,
		BreakerCooldown:   30 * time.Second,
		CacheSize:         512,
		CacheTTL:          30 * time.Second,
		IngestConcurrency: 8,
		MaxBodyBytes:      1 << 20,
		AllowedOrigin:     "*",
		RetentionDays:     90,
		PurgeSchedule:     "17 3 * * *",
		SweepSchedule:     "*/5 * * * *",
		RefreshSchedule:   "*/15 * * * *",
		ProceduresEnabled: true,
		RawEnabled:        true,
		AutoMigrate:       true,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getlist(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config.Load: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config.Load: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getint("PORT", c.Port)
	c.DBDSN = getenv("DB_DSN", c.DBDSN)
	c.AdminToken = getenv("ADMIN_TOKEN", c.AdminToken)
	c.AdminEmails = getlist("ADMIN_EMAILS", c.AdminEmails)
	c.OIDCIssuer = getenv("OIDC_ISSUER", c.OIDCIssuer)
	c.OIDCClientID = getenv("OIDC_CLIENT_ID", c.OIDCClientID)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)
	c.IngestLimit = getint("INGEST_RATE_LIMIT", c.IngestLimit)
	c.IngestWindow = getduration("INGEST_RATE_WINDOW", c.IngestWindow)
	c.QueryLimit = getint("QUERY_RATE_LIMIT", c.QueryLimit)
	c.QueryWindow = getduration("QUERY_RATE_WINDOW", c.QueryWindow)
	c.SourceTimeout = getduration("SOURCE_TIMEOUT", c.SourceTimeout)
	c.DBOpTimeout = getduration("DB_OP_TIMEOUT", c.DBOpTimeout)
	c.BreakerThreshold = getint("CIRCUIT_BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerCooldown = getduration("CIRCUIT_BREAKER_COOLDOWN", c.BreakerCooldown)
	c.CacheSize = getint("QUERY_CACHE_SIZE", c.CacheSize)
	c.CacheTTL = getduration("QUERY_CACHE_TTL", c.CacheTTL)
	c.IngestConcurrency = getint("INGEST_CONCURRENCY", c.IngestConcurrency)
	c.MaxBodyBytes = getint64("MAX_BODY_BYTES", c.MaxBodyBytes)
	c.AllowedOrigin = getenv("ALLOWED_ORIGIN", c.AllowedOrigin)
	c.TrustedProxies = getlist("TRUSTED_PROXIES", c.TrustedProxies)
	c.RetentionDays = getint("RETENTION_DAYS", c.RetentionDays)
	c.PurgeSchedule = getenv("PURGE_SCHEDULE", c.PurgeSchedule)
	c.SweepSchedule = getenv("SWEEP_SCHEDULE", c.SweepSchedule)
	c.RefreshSchedule = getenv("REFRESH_SCHEDULE", c.RefreshSchedule)
	c.ProceduresEnabled = getbool("PROCEDURES_ENABLED", c.ProceduresEnabled)
	c.RawEnabled = getbool("RAW_ENABLED", c.RawEnabled)
	c.AutoMigrate = getbool("AUTO_MIGRATE", c.AutoMigrate)
}

// TrustedPrefixes parses TrustedProxies. A bare address is a single-host
// prefix.
func (c Config) TrustedPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		p, err := parsePrefix(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Driver returns the database/sql driver name for DBDSN.
func (c Config) Driver() string {
	if strings.HasPrefix(c.DBDSN, "postgres://") || strings.HasPrefix(c.DBDSN, "postgresql://") {
		return "postgres"
	}
	return "sqlite3"
}

const mask = "****"

// MaskedJSON renders the configuration with secrets replaced.
func (c Config) MaskedJSON() ([]byte, error) {
	m := c
	if m.AdminToken != "" {
		m.AdminToken = mask
	}
	if m.RedisPassword != "" {
		m.RedisPassword = mask
	}
	m.DBDSN = maskDSN(m.DBDSN)
	return json.MarshalIndent(m, "", "  ")
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), mask)
	}
	return u.String()
}
