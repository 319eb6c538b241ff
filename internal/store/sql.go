package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roniherschmann/go-pulse/internal/domain"
)

// SQL implements Store on database/sql for any supported Dialect.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	insert  string
	purge   string
}

func newSQL(db *sql.DB, d Dialect, metadataCast string) *SQL {
	return &SQL{
		db:      db,
		dialect: d,
		insert: fmt.Sprintf(`INSERT INTO analytics_events(id, type, session_id, page, metadata, created_at) VALUES(%s, %s, %s, %s, %s%s, %s)`,
			d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5), metadataCast, d.Placeholder(6)),
		purge: fmt.Sprintf(`DELETE FROM analytics_events WHERE created_at < %s`, d.Placeholder(1)),
	}
}

func (s *SQL) Dialect() Dialect { return s.dialect }

func (s *SQL) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertEvent stores ev. Type is truncated to domain.MaxTypeLength here, at
// the persistence boundary.
func (s *SQL) InsertEvent(ctx context.Context, ev domain.Event) error {
	metadata, err := ev.MetadataJSON()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.insert,
		ev.ID.String(),
		domain.TruncateRunes(ev.Type, domain.MaxTypeLength),
		ev.SessionID,
		ev.Page,
		string(metadata),
		ev.CreatedAt.UTC(),
	)
	return err
}

func (s *SQL) Query(ctx context.Context, q BoundQuery) ([]domain.Row, error) {
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (s *SQL) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.purge, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// scanRows reads every row into a column-keyed map and closes rows.
func scanRows(rows *sql.Rows) ([]domain.Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := []domain.Row{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(domain.Row, len(cols))
		for i, c := range cols {
			row[strings.ToLower(c)] = normalize(vals[i])
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}
