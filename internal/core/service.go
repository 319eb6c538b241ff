package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/roniherschmann/go-pulse/internal/aggregate"
	"github.com/roniherschmann/go-pulse/internal/domain"
	"github.com/roniherschmann/go-pulse/internal/metrics"
	"github.com/roniherschmann/go-pulse/internal/sanitize"
	"github.com/roniherschmann/go-pulse/internal/store"
)

type Options struct {
	// Concurrency bounds parallel inserts within a batch.
	Concurrency int
	// WriteTimeout bounds each insert.
	WriteTimeout time.Duration
}

type Service struct {
	store     store.Store
	sanitizer *sanitize.Sanitizer
	agg       *aggregate.Aggregator
	opts      Options
}

func NewService(s store.Store, agg *aggregate.Aggregator, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Service{
		store:     s,
		sanitizer: sanitize.New(),
		agg:       agg,
		opts:      opts,
	}
}

// WithSanitizer replaces the sanitizer. Used by tests to pin the clock.
func (s *Service) WithSanitizer(san *sanitize.Sanitizer) *Service {
	s.sanitizer = san
	return s
}

// Ingest sanitizes a raw batch and persists every surviving event. Items that
// fail sanitization or persistence are skipped without affecting the others.
// It returns the number of events written.
func (s *Service) Ingest(ctx context.Context, raw []domain.Value) int {
	raw = sanitize.Batch(raw)
	metrics.EventsReceived.Add(float64(len(raw)))

	events := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		ev, reason, ok := s.sanitizer.Event(item)
		if !ok {
			metrics.EventsDropped.WithLabelValues(string(reason)).Inc()
			continue
		}
		events = append(events, ev)
	}

	var inserted atomic.Int64
	// No group context: a failed insert must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			if err := s.Persist(ctx, ev); err != nil {
				metrics.EventsFailed.Inc()
				log.Error().Err(err).Str("type", ev.Type).Str("event_id", ev.ID.String()).Msg("insert event")
				return nil
			}
			metrics.EventsPersisted.Inc()
			inserted.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(inserted.Load())
}

// Persist writes one event under the write timeout.
func (s *Service) Persist(ctx context.Context, ev domain.Event) error {
	if s.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WriteTimeout)
		defer cancel()
	}
	return s.store.InsertEvent(ctx, ev)
}

// Query resolves a metric query. Only unknown metrics return an error; source
// failures surface as an unavailable result.
func (s *Service) Query(ctx context.Context, q domain.Query) (domain.Result, error) {
	return s.agg.Resolve(ctx, q)
}

// Ready reports whether the datastore is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.PingContext(ctx)
}
