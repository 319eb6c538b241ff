package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roniherschmann/go-pulse/internal/domain"
)

// Postgres is a Store that additionally exposes precomputed aggregation
// functions installed by Migrate.
type Postgres struct {
	*SQL
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{SQL: newSQL(db, PostgresDialect(), "::jsonb")}
}

// Invoke calls a set-returning function and returns its rows verbatim.
func (p *Postgres) Invoke(ctx context.Context, procedure string, args ...any) ([]domain.Row, error) {
	if !isIdentifier(procedure) {
		return nil, ErrInvalidProcedure
	}
	marks := make([]string, len(args))
	for i := range args {
		marks[i] = p.dialect.Placeholder(i + 1)
	}
	q := fmt.Sprintf("SELECT * FROM %s(%s)", procedure, strings.Join(marks, ", "))
	return p.Query(ctx, BoundQuery{SQL: q, Args: args})
}

// RefreshRollups recomputes the daily rollup the precomputed functions read.
func (p *Postgres) RefreshRollups(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY analytics_rollup_daily`)
	return err
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_events (
		id UUID PRIMARY KEY,
		type TEXT NOT NULL,
		session_id TEXT NOT NULL,
		page TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_created ON analytics_events(type, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_events_page_created ON analytics_events(page, created_at)`,

	`CREATE MATERIALIZED VIEW IF NOT EXISTS analytics_rollup_daily AS
	SELECT
		(e.created_at AT TIME ZONE 'UTC')::date AS day,
		e.type,
		CASE e.type
			WHEN 'service_open' THEN COALESCE(e.metadata->>'label', '')
			WHEN 'page_view' THEN COALESCE(e.metadata->>'utm_campaign', '')
			WHEN 'section_view' THEN COALESCE(e.metadata->>'section', '')
			ELSE ''
		END AS dim1,
		CASE e.type
			WHEN 'page_view' THEN COALESCE(e.metadata->>'utm_source', '')
			ELSE ''
		END AS dim2,
		COUNT(*)::bigint AS events,
		COALESCE(SUM(CASE
			WHEN e.type = 'scroll' AND jsonb_typeof(e.metadata->'depth') = 'number' THEN (e.metadata->>'depth')::float8
			WHEN e.type = 'section_view' AND jsonb_typeof(e.metadata->'duration_ms') = 'number' THEN (e.metadata->>'duration_ms')::float8
		END), 0)::float8 AS total,
		COUNT(CASE
			WHEN e.type = 'scroll' AND jsonb_typeof(e.metadata->'depth') = 'number' THEN 1
			WHEN e.type = 'section_view' AND jsonb_typeof(e.metadata->'duration_ms') = 'number' THEN 1
		END)::bigint AS measured
	FROM analytics_events e
	WHERE e.type IN ('service_open', 'page_view', 'scroll', 'section_view')
	GROUP BY 1, 2, 3, 4`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_rollup_daily_key ON analytics_rollup_daily(day, type, dim1, dim2)`,

	`CREATE OR REPLACE FUNCTION analytics_service_opens(p_days integer)
	RETURNS TABLE (label text, opens bigint)
	LANGUAGE sql STABLE AS $$
		SELECT r.dim1, SUM(r.events)::bigint
		FROM analytics_rollup_daily r
		WHERE r.type = 'service_open' AND r.dim1 <> ''
			AND r.day > (now() AT TIME ZONE 'UTC')::date - p_days
		GROUP BY r.dim1
		ORDER BY 2 DESC, 1
		LIMIT 20
	$$`,
	`CREATE OR REPLACE FUNCTION analytics_utm(p_days integer)
	RETURNS TABLE (campaign text, source text, visits bigint)
	LANGUAGE sql STABLE AS $$
		SELECT r.dim1, r.dim2, SUM(r.events)::bigint
		FROM analytics_rollup_daily r
		WHERE r.type = 'page_view' AND r.dim1 <> ''
			AND r.day > (now() AT TIME ZONE 'UTC')::date - p_days
		GROUP BY r.dim1, r.dim2
		ORDER BY 3 DESC, 1, 2
		LIMIT 50
	$$`,
	`CREATE OR REPLACE FUNCTION analytics_scroll_depth(p_days integer)
	RETURNS TABLE (day text, avg_depth float8, samples bigint)
	LANGUAGE sql STABLE AS $$
		SELECT to_char(r.day, 'YYYY-MM-DD'), SUM(r.total) / SUM(r.measured), SUM(r.measured)::bigint
		FROM analytics_rollup_daily r
		WHERE r.type = 'scroll' AND r.measured > 0
			AND r.day > (now() AT TIME ZONE 'UTC')::date - p_days
		GROUP BY r.day
		ORDER BY r.day
	$$`,
	`CREATE OR REPLACE FUNCTION analytics_section_engagement(p_days integer)
	RETURNS TABLE (section text, total_duration_ms float8, views bigint)
	LANGUAGE sql STABLE AS $$
		SELECT r.dim1, SUM(r.total), SUM(r.measured)::bigint
		FROM analytics_rollup_daily r
		WHERE r.type = 'section_view' AND r.dim1 <> '' AND r.measured > 0
			AND r.day > (now() AT TIME ZONE 'UTC')::date - p_days
		GROUP BY r.dim1
		ORDER BY 2 DESC, 1
	$$`,
	`CREATE OR REPLACE FUNCTION analytics_heatmap(p_days integer, p_page text, p_limit integer)
	RETURNS TABLE (x float8, y float8, created_at timestamptz)
	LANGUAGE sql STABLE AS $$
		SELECT (e.metadata->'click'->>'x')::float8, (e.metadata->'click'->>'y')::float8, e.created_at
		FROM analytics_events e
		WHERE e.type = 'click' AND e.page = p_page
			AND e.created_at >= now() - make_interval(days => p_days)
			AND jsonb_typeof(e.metadata->'click'->'x') = 'number'
			AND jsonb_typeof(e.metadata->'click'->'y') = 'number'
		ORDER BY e.created_at DESC
		LIMIT p_limit
	$$`,
}
