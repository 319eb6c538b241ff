package store

import (
	"context"
	"errors"
	"time"

	"github.com/roniherschmann/go-pulse/internal/domain"
)

// BoundQuery is SQL text plus its bound arguments. User-controlled values only
// ever travel in Args.
type BoundQuery struct {
	SQL  string
	Args []any
}

// Store is the event datastore in raw mode.
type Store interface {
	InsertEvent(ctx context.Context, ev domain.Event) error
	Query(ctx context.Context, q BoundQuery) ([]domain.Row, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PingContext(ctx context.Context) error
	Dialect() Dialect
}

// Procedures is the datastore in precomputed mode.
type Procedures interface {
	Invoke(ctx context.Context, procedure string, args ...any) ([]domain.Row, error)
}

var ErrInvalidProcedure = errors.New("invalid procedure name")
