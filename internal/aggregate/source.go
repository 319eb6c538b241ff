package aggregate

import (
	"context"
	"time"

	"github.com/roniherschmann/go-pulse/internal/domain"
	"github.com/roniherschmann/go-pulse/internal/store"
)

// Source is one way of computing a metric. Attempts are tried in order until
// one succeeds.
type Source interface {
	Name() string
	Attempt(ctx context.Context, def Definition, q domain.Query) ([]domain.Row, error)
}

// ProcedureSource reads precomputed aggregates through stored functions.
type ProcedureSource struct {
	procs store.Procedures
}

func NewProcedureSource(procs store.Procedures) *ProcedureSource {
	return &ProcedureSource{procs: procs}
}

func (s *ProcedureSource) Name() string { return domain.SourcePrecomputed }

func (s *ProcedureSource) Attempt(ctx context.Context, def Definition, q domain.Query) ([]domain.Row, error) {
	return s.procs.Invoke(ctx, def.Procedure, def.procedureArgs(q)...)
}

// RawSource aggregates directly over the event table.
type RawSource struct {
	store store.Store
	now   func() time.Time
}

func NewRawSource(st store.Store) *RawSource {
	return &RawSource{store: st, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *RawSource) WithClock(now func() time.Time) *RawSource {
	s.now = now
	return s
}

func (s *RawSource) Name() string { return domain.SourceRaw }

func (s *RawSource) Attempt(ctx context.Context, def Definition, q domain.Query) ([]domain.Row, error) {
	since := s.now().UTC().Add(-time.Duration(q.Days) * 24 * time.Hour)
	return s.store.Query(ctx, def.RawQuery(s.store.Dialect(), q, since))
}
