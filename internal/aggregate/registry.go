// Package aggregate resolves named metrics against an ordered list of data
// sources, returning the first success.
package aggregate

import (
	"github.com/roniherschmann/go-pulse/internal/domain"
)

type Measure int

const (
	MeasureNone Measure = iota
	MeasureCount
	MeasureSum
	MeasureAvg
)

type Order int

const (
	OrderMeasureDesc Order = iota
	OrderTimeAsc
	OrderRecencyDesc
)

// Dimension maps a metadata path to an output column.
type Dimension struct {
	Column string
	Path   []string
	// Optional dimensions group missing values under "" instead of
	// excluding the event.
	Optional bool
}

// Definition fixes how a metric is computed: which events it reads, how they
// are grouped and measured, the row order and the row cap.
type Definition struct {
	Metric    domain.Metric
	EventType string
	Procedure string

	GroupBy []Dimension
	ByDay   bool
	// Points selects raw numeric coordinates instead of aggregating.
	Points []Dimension

	Measure       Measure
	MeasurePath   []string
	MeasureColumn string
	// CountColumn, when set, adds the number of measured events.
	CountColumn string

	Order Order
	// Cap bounds the row count; 0 means unbounded. Page-scoped metrics use
	// the query limit instead.
	Cap        int
	PageScoped bool
}

var registry = map[domain.Metric]Definition{
	domain.MetricServiceOpens: {
		Metric:        domain.MetricServiceOpens,
		EventType:     domain.EventServiceOpen,
		Procedure:     "analytics_service_opens",
		GroupBy:       []Dimension{{Column: "label", Path: []string{"label"}}},
		Measure:       MeasureCount,
		MeasureColumn: "opens",
		Order:         OrderMeasureDesc,
		Cap:           20,
	},
	domain.MetricUTM: {
		Metric:    domain.MetricUTM,
		EventType: domain.EventPageView,
		Procedure: "analytics_utm",
		GroupBy: []Dimension{
			{Column: "campaign", Path: []string{"utm_campaign"}},
			{Column: "source", Path: []string{"utm_source"}, Optional: true},
		},
		Measure:       MeasureCount,
		MeasureColumn: "visits",
		Order:         OrderMeasureDesc,
		Cap:           50,
	},
	domain.MetricScrollDepth: {
		Metric:        domain.MetricScrollDepth,
		EventType:     domain.EventScroll,
		Procedure:     "analytics_scroll_depth",
		ByDay:         true,
		Measure:       MeasureAvg,
		MeasurePath:   []string{"depth"},
		MeasureColumn: "avg_depth",
		CountColumn:   "samples",
		Order:         OrderTimeAsc,
	},
	domain.MetricSectionEngagement: {
		Metric:        domain.MetricSectionEngagement,
		EventType:     domain.EventSectionView,
		Procedure:     "analytics_section_engagement",
		GroupBy:       []Dimension{{Column: "section", Path: []string{"section"}}},
		Measure:       MeasureSum,
		MeasurePath:   []string{"duration_ms"},
		MeasureColumn: "total_duration_ms",
		CountColumn:   "views",
		Order:         OrderMeasureDesc,
	},
	domain.MetricHeatmap: {
		Metric:    domain.MetricHeatmap,
		EventType: domain.EventClick,
		Procedure: "analytics_heatmap",
		Points: []Dimension{
			{Column: "x", Path: []string{"click", "x"}},
			{Column: "y", Path: []string{"click", "y"}},
		},
		Order:      OrderRecencyDesc,
		PageScoped: true,
	},
}

// Lookup returns the definition registered for m.
func Lookup(m domain.Metric) (Definition, bool) {
	def, ok := registry[m]
	return def, ok
}

// Metrics lists the registered metric names.
func Metrics() []domain.Metric {
	return []domain.Metric{
		domain.MetricServiceOpens,
		domain.MetricUTM,
		domain.MetricScrollDepth,
		domain.MetricSectionEngagement,
		domain.MetricHeatmap,
	}
}

// Columns returns the fixed output schema in select order.
func (d Definition) Columns() []string {
	var cols []string
	for _, dim := range d.GroupBy {
		cols = append(cols, dim.Column)
	}
	if d.ByDay {
		cols = append(cols, "day")
	}
	for _, p := range d.Points {
		cols = append(cols, p.Column)
	}
	if d.Measure != MeasureNone {
		cols = append(cols, d.MeasureColumn)
	}
	if d.CountColumn != "" {
		cols = append(cols, d.CountColumn)
	}
	if len(d.Points) > 0 {
		cols = append(cols, "created_at")
	}
	return cols
}

// Normalize clamps q into the bounds this metric accepts. Page and limit are
// only meaningful for page-scoped metrics and are cleared otherwise.
func (d Definition) Normalize(q domain.Query) domain.Query {
	q.Metric = d.Metric
	q.Days = domain.ClampDays(q.Days)
	if d.PageScoped {
		q.Page = domain.ParsePage(q.Page)
		q.Limit = domain.ClampLimit(q.Limit)
	} else {
		q.Page = ""
		q.Limit = 0
	}
	return q
}

func (d Definition) procedureArgs(q domain.Query) []any {
	if d.PageScoped {
		return []any{q.Days, q.Page, q.Limit}
	}
	return []any{q.Days}
}

func (d Definition) rowCap(q domain.Query) int {
	if d.PageScoped {
		return q.Limit
	}
	return d.Cap
}
