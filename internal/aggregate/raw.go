package aggregate

import (
	"strings"
	"time"

	"github.com/roniherschmann/go-pulse/internal/domain"
	"github.com/roniherschmann/go-pulse/internal/store"
)

const metadataColumn = "metadata"

type builder struct {
	d    store.Dialect
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// RawQuery renders the aggregation as SQL over raw events. Every value that
// comes from the query is bound, never interpolated.
func (d Definition) RawQuery(dialect store.Dialect, q domain.Query, since time.Time) store.BoundQuery {
	b := &builder{d: dialect}
	where := []string{
		"type = " + b.bind(d.EventType),
		"created_at >= " + b.bind(since),
	}
	if d.PageScoped {
		where = append(where, "page = "+b.bind(q.Page))
	}

	var sel, group []string
	for _, dim := range d.GroupBy {
		expr := dialect.JSONText(metadataColumn, dim.Path...)
		if dim.Optional {
			expr = "COALESCE(" + expr + ", '')"
		} else {
			where = append(where, expr+" <> ''")
		}
		sel = append(sel, expr+" AS "+dim.Column)
		group = append(group, dim.Column)
	}
	if d.ByDay {
		sel = append(sel, dialect.Day("created_at")+" AS day")
		group = append(group, "day")
	}
	for _, p := range d.Points {
		expr := dialect.JSONNumber(metadataColumn, p.Path...)
		where = append(where, expr+" IS NOT NULL")
		sel = append(sel, expr+" AS "+p.Column)
	}

	switch d.Measure {
	case MeasureCount:
		sel = append(sel, "COUNT(*) AS "+d.MeasureColumn)
	case MeasureSum, MeasureAvg:
		expr := dialect.JSONNumber(metadataColumn, d.MeasurePath...)
		where = append(where, expr+" IS NOT NULL")
		fn := "SUM"
		if d.Measure == MeasureAvg {
			fn = "AVG"
		}
		sel = append(sel, fn+"("+expr+") AS "+d.MeasureColumn)
	}
	if d.CountColumn != "" {
		sel = append(sel, "COUNT(*) AS "+d.CountColumn)
	}
	if len(d.Points) > 0 {
		sel = append(sel, "created_at")
	}

	var order []string
	switch d.Order {
	case OrderMeasureDesc:
		order = append(order, d.MeasureColumn+" DESC")
		order = append(order, group...)
	case OrderTimeAsc:
		order = append(order, "day ASC")
	case OrderRecencyDesc:
		order = append(order, "created_at DESC")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + strings.Join(sel, ", "))
	sb.WriteString(" FROM analytics_events WHERE " + strings.Join(where, " AND "))
	if len(group) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(group, ", "))
	}
	if len(order) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	if n := d.rowCap(q); n > 0 {
		sb.WriteString(" LIMIT " + b.bind(n))
	}
	return store.BoundQuery{SQL: sb.String(), Args: b.args}
}
