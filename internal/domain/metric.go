package domain

import (
	"strconv"
	"strings"
)

// Metric names a registered aggregate.
type Metric string

const (
	MetricServiceOpens      Metric = "service_opens"
	MetricUTM               Metric = "utm"
	MetricScrollDepth       Metric = "scroll_depth"
	MetricSectionEngagement Metric = "section_engagement"
	MetricHeatmap           Metric = "heatmap"
)

// Query bounds.
const (
	DefaultDays  = 7
	MinDays      = 1
	MaxDays      = 90
	DefaultPage  = "/"
	DefaultLimit = 1000
	MinLimit     = 100
	MaxLimit     = 10000
)

// Result sources.
const (
	SourcePrecomputed = "precomputed"
	SourceRaw         = "raw"
	SourceUnavailable = "unavailable"
)

// Query is a validated metric request.
type Query struct {
	Metric Metric
	Days   int
	Page   string
	Limit  int
}

// Row is one fixed-schema result record keyed by column name.
type Row map[string]any

// Result is the outcome of resolving a Query. Source names which data source
// produced the rows; SourceUnavailable means every source was unusable and the
// empty rows must not be read as "no data".
type Result struct {
	Rows   []Row
	Source string
}

// Unavailable reports whether the result is the fallback-exhausted signal.
func (r Result) Unavailable() bool {
	return r.Source == SourceUnavailable
}

// UnavailableResult is returned when no source could answer.
func UnavailableResult() Result {
	return Result{Rows: []Row{}, Source: SourceUnavailable}
}

// ParseDays converts a raw days value, falling back to DefaultDays when it is
// not an integer and clamping to [MinDays, MaxDays].
func ParseDays(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultDays
	}
	return ClampDays(n)
}

func ClampDays(n int) int {
	return clamp(n, MinDays, MaxDays)
}

// ParseLimit converts a raw heatmap limit, falling back to DefaultLimit and
// clamping to [MinLimit, MaxLimit].
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return DefaultLimit
	}
	return ClampLimit(n)
}

func ClampLimit(n int) int {
	return clamp(n, MinLimit, MaxLimit)
}

// ParsePage returns the page filter. Matching is exact; only an empty value
// is replaced with DefaultPage.
func ParsePage(raw string) string {
	if raw == "" {
		return DefaultPage
	}
	return raw
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
