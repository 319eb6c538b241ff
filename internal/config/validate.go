package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate returns nil or ValidationErrors.
func (c Config) Validate() error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Port <= 0 || c.Port > 65535 {
		add("PORT", fmt.Sprintf("must be between 1 and 65535, got %d", c.Port))
	}
	if c.DBDSN == "" {
		add("DB_DSN", "required")
	}

	if c.AdminToken == "" && c.OIDCIssuer == "" {
		add("ADMIN_TOKEN", "required unless OIDC_ISSUER is set")
	}
	if c.OIDCIssuer != "" && c.OIDCClientID == "" {
		add("OIDC_CLIENT_ID", "required with OIDC_ISSUER")
	}

	positive := []struct {
		field string
		ok    bool
	}{
		{"INGEST_RATE_LIMIT", c.IngestLimit > 0},
		{"INGEST_RATE_WINDOW", c.IngestWindow > 0},
		{"QUERY_RATE_LIMIT", c.QueryLimit > 0},
		{"QUERY_RATE_WINDOW", c.QueryWindow > 0},
		{"SOURCE_TIMEOUT", c.SourceTimeout > 0},
		{"DB_OP_TIMEOUT", c.DBOpTimeout > 0},
		{"INGEST_CONCURRENCY", c.IngestConcurrency > 0},
		{"MAX_BODY_BYTES", c.MaxBodyBytes > 0},
		{"RETENTION_DAYS", c.RetentionDays > 0},
	}
	for _, p := range positive {
		if !p.ok {
			add(p.field, "must be positive")
		}
	}

	if c.BreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if c.BreakerThreshold > 0 && c.BreakerCooldown <= 0 {
		add("CIRCUIT_BREAKER_COOLDOWN", "must be positive when the breaker is enabled")
	}
	if c.CacheTTL < 0 {
		add("QUERY_CACHE_TTL", "must not be negative")
	}
	if c.CacheTTL > 0 && c.CacheSize <= 0 {
		add("QUERY_CACHE_SIZE", "must be positive when the cache is enabled")
	}

	for _, entry := range c.TrustedProxies {
		if _, err := parsePrefix(entry); err != nil {
			add("TRUSTED_PROXIES", fmt.Sprintf("invalid address or CIDR %q", entry))
		}
	}

	schedules := []struct{ field, expr string }{
		{"PURGE_SCHEDULE", c.PurgeSchedule},
		{"SWEEP_SCHEDULE", c.SweepSchedule},
		{"REFRESH_SCHEDULE", c.RefreshSchedule},
	}
	for _, s := range schedules {
		if s.expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(s.expr); err != nil {
			add(s.field, fmt.Sprintf("invalid cron expression: %v", err))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
