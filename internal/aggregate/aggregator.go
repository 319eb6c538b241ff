package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pulse/internal/circuitbreaker"
	"github.com/roniherschmann/go-pulse/internal/domain"
	"github.com/roniherschmann/go-pulse/internal/metrics"
)

type Options struct {
	// SourceTimeout bounds each source attempt. Zero means no bound.
	SourceTimeout time.Duration
	// Breaker is optional.
	Breaker *circuitbreaker.CircuitBreaker
	// CacheSize and CacheTTL configure the result cache; a zero TTL
	// disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// Aggregator resolves metric queries against its sources in order, returning
// the first success or the unavailable result.
type Aggregator struct {
	sources []Source
	opts    Options
	cache   *expirable.LRU[domain.Query, domain.Result]
}

func NewAggregator(opts Options, sources ...Source) *Aggregator {
	a := &Aggregator{sources: sources, opts: opts}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 256
		}
		a.cache = expirable.NewLRU[domain.Query, domain.Result](size, nil, opts.CacheTTL)
	}
	return a
}

// Sources returns the configured source names in attempt order.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// Resolve looks up the metric, normalizes the query and runs the fallback
// chain. Only unknown metrics produce an error.
func (a *Aggregator) Resolve(ctx context.Context, q domain.Query) (domain.Result, error) {
	def, ok := Lookup(q.Metric)
	if !ok {
		return domain.Result{}, domain.ErrUnknownMetric
	}
	q = def.Normalize(q)

	if a.cache != nil {
		if res, ok := a.cache.Get(q); ok {
			metrics.CacheHit.WithLabelValues("query").Inc()
			return res, nil
		}
		metrics.CacheMiss.WithLabelValues("query").Inc()
	}

	res := a.run(ctx, def, q)
	metrics.QueryResults.WithLabelValues(string(q.Metric), res.Source).Inc()
	if a.cache != nil && !res.Unavailable() {
		a.cache.Add(q, res)
	}
	return res, nil
}

func (a *Aggregator) run(ctx context.Context, def Definition, q domain.Query) domain.Result {
	for _, src := range a.sources {
		if ctx.Err() != nil {
			break
		}
		name := src.Name()
		if a.opts.Breaker != nil {
			if err := a.opts.Breaker.Allow(name); err != nil {
				metrics.SourceAttempts.WithLabelValues(name, "skipped").Inc()
				continue
			}
		}

		start := time.Now()
		rows, err := a.attempt(ctx, src, def, q)
		metrics.SourceDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil && ctx.Err() != nil {
			// The caller gave up; this says nothing about the source.
			metrics.SourceAttempts.WithLabelValues(name, "canceled").Inc()
			if a.opts.Breaker != nil {
				a.opts.Breaker.Release(name)
			}
			break
		}
		if err != nil {
			metrics.SourceAttempts.WithLabelValues(name, "failure").Inc()
			if a.opts.Breaker != nil {
				a.opts.Breaker.RecordFailure(name)
			}
			log.Warn().Err(err).Str("source", name).Str("metric", string(q.Metric)).Msg("aggregation source failed")
			continue
		}

		metrics.SourceAttempts.WithLabelValues(name, "success").Inc()
		if a.opts.Breaker != nil {
			a.opts.Breaker.RecordSuccess(name)
		}
		if rows == nil {
			rows = []domain.Row{}
		}
		return domain.Result{Rows: rows, Source: name}
	}
	return domain.UnavailableResult()
}

// attempt runs one source under the per-source timeout. A source that ignores
// cancellation is abandoned once the deadline passes.
func (a *Aggregator) attempt(ctx context.Context, src Source, def Definition, q domain.Query) ([]domain.Row, error) {
	if a.opts.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.SourceTimeout)
		defer cancel()
	}

	type outcome struct {
		rows []domain.Row
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("source %s panicked: %v", src.Name(), r)}
			}
		}()
		rows, err := src.Attempt(ctx, def, q)
		done <- outcome{rows: rows, err: err}
	}()

	select {
	case out := <-done:
		return out.rows, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("source %s: %w", src.Name(), ctx.Err())
	}
}
