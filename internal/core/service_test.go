package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roniherschmann/go-pulse/internal/aggregate"
	"github.com/roniherschmann/go-pulse/internal/domain"
	"github.com/roniherschmann/go-pulse/internal/store"
	"github.com/roniherschmann/go-pulse/internal/testutil"
)

type memStore struct {
	mu     sync.Mutex
	events []domain.Event
	failOn string
}

func (m *memStore) InsertEvent(_ context.Context, ev domain.Event) error {
	if ev.SessionID == m.failOn {
		return errors.New("constraint failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) Query(context.Context, store.BoundQuery) ([]domain.Row, error) {
	return nil, errors.New("not supported")
}

func (m *memStore) PurgeBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memStore) PingContext(context.Context) error                     { return nil }
func (m *memStore) Dialect() store.Dialect                                { return store.SQLiteDialect() }

func batch(t *testing.T, body string) []domain.Value {
	t.Helper()
	var raw []domain.Value
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	return raw
}

func TestIngest_DropsInvalidItemsOnly(t *testing.T) {
	st := &memStore{}
	svc := NewService(st, aggregate.NewAggregator(aggregate.Options{}), Options{})

	n := svc.Ingest(context.Background(), batch(t, `[
		{"type":"page_view","metadata":{"sessionId":"s1","page":"/"}},
		{"type":"","metadata":{"sessionId":"s2","page":"/"}},
		{"type":"scroll","metadata":{"session_id":"s3","page":"/docs","depth":40}}
	]`))

	assert.Equal(t, 2, n)
	assert.Len(t, st.events, 2)
}

func TestIngest_PersistFailureIsIsolated(t *testing.T) {
	st := &memStore{failOn: "bad"}
	svc := NewService(st, aggregate.NewAggregator(aggregate.Options{}), Options{Concurrency: 2})

	n := svc.Ingest(context.Background(), batch(t, `[
		{"type":"click","metadata":{"sessionId":"a","page":"/"}},
		{"type":"click","metadata":{"sessionId":"bad","page":"/"}},
		{"type":"click","metadata":{"sessionId":"c","page":"/"}}
	]`))

	assert.Equal(t, 2, n)
}

func TestIngest_StripsBlockedKeysBeforePersisting(t *testing.T) {
	st := &memStore{}
	svc := NewService(st, aggregate.NewAggregator(aggregate.Options{}), Options{})

	n := svc.Ingest(context.Background(), batch(t, `[
		{"type":"page_view","metadata":{"sessionId":"s1","page":"/","Email":"a@b.c","utm_campaign":"spring"}}
	]`))

	require.Equal(t, 1, n)
	md := st.events[0].Metadata
	assert.NotContains(t, md, "Email")
	assert.Contains(t, md, "utm_campaign")
}

func TestIngest_CapsBatch(t *testing.T) {
	st := &memStore{}
	svc := NewService(st, aggregate.NewAggregator(aggregate.Options{}), Options{})

	raw := make([]domain.Value, 150)
	for i := range raw {
		raw[i] = domain.MapValue(map[string]domain.Value{
			"type":     domain.StringValue("click"),
			"metadata": domain.MapValue(map[string]domain.Value{"sessionId": domain.StringValue("s"), "page": domain.StringValue("/")}),
		})
	}

	assert.Equal(t, 100, svc.Ingest(context.Background(), raw))
}

func TestQuery_UnknownMetric(t *testing.T) {
	svc := NewService(&memStore{}, aggregate.NewAggregator(aggregate.Options{}), Options{})

	_, err := svc.Query(context.Background(), domain.Query{Metric: "nope"})

	assert.ErrorIs(t, err, domain.ErrUnknownMetric)
}

func newSQLiteService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := testutil.TestContext(t)
	require.NoError(t, store.Migrate(ctx, db, store.SQLiteDialect()))

	st := store.NewSQLite(db)
	agg := aggregate.NewAggregator(aggregate.Options{SourceTimeout: time.Second}, aggregate.NewRawSource(st))
	return NewService(st, agg, Options{WriteTimeout: time.Second})
}

func TestEndToEnd_HeatmapOnSQLite(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := testutil.TestContext(t)

	n := svc.Ingest(ctx, batch(t, `[
		{"type":"click","metadata":{"sessionId":"s1","page":"/","click":{"x":10,"y":20}}},
		{"type":"click","metadata":{"sessionId":"s1","page":"/pricing","click":{"x":1,"y":2}}},
		{"type":"click","metadata":{"sessionId":"s1","page":"/","click":{"x":"left","y":20}}}
	]`))
	require.Equal(t, 3, n)

	res, err := svc.Query(ctx, domain.Query{Metric: domain.MetricHeatmap, Days: 7, Page: "/"})

	require.NoError(t, err)
	assert.Equal(t, domain.SourceRaw, res.Source)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 10, res.Rows[0]["x"])
	assert.EqualValues(t, 20, res.Rows[0]["y"])
	assert.Contains(t, res.Rows[0], "created_at")
}

func TestEndToEnd_AggregatesOnSQLite(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := testutil.TestContext(t)

	n := svc.Ingest(ctx, batch(t, `[
		{"type":"service_open","metadata":{"sessionId":"s1","page":"/","label":"docs"}},
		{"type":"service_open","metadata":{"sessionId":"s2","page":"/","label":"docs"}},
		{"type":"service_open","metadata":{"sessionId":"s3","page":"/","label":"pricing"}},
		{"type":"page_view","metadata":{"sessionId":"s1","page":"/","utm_campaign":"spring"}},
		{"type":"page_view","metadata":{"sessionId":"s2","page":"/","utm_campaign":"spring","utm_source":"mail"}},
		{"type":"page_view","metadata":{"sessionId":"s3","page":"/"}},
		{"type":"section_view","metadata":{"sessionId":"s1","page":"/","section":"hero","duration_ms":1500}},
		{"type":"section_view","metadata":{"sessionId":"s2","page":"/","section":"hero","duration_ms":500}},
		{"type":"scroll","metadata":{"sessionId":"s1","page":"/","depth":40}},
		{"type":"scroll","metadata":{"sessionId":"s2","page":"/","depth":80}}
	]`))
	require.Equal(t, 10, n)

	res, err := svc.Query(ctx, domain.Query{Metric: domain.MetricServiceOpens, Days: 7})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "docs", res.Rows[0]["label"])
	assert.EqualValues(t, 2, res.Rows[0]["opens"])
	assert.Equal(t, "pricing", res.Rows[1]["label"])

	res, err = svc.Query(ctx, domain.Query{Metric: domain.MetricUTM, Days: 7})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	sources := []any{res.Rows[0]["source"], res.Rows[1]["source"]}
	assert.ElementsMatch(t, []any{"", "mail"}, sources)

	res, err = svc.Query(ctx, domain.Query{Metric: domain.MetricSectionEngagement, Days: 7})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 2000, res.Rows[0]["total_duration_ms"])
	assert.EqualValues(t, 2, res.Rows[0]["views"])

	res, err = svc.Query(ctx, domain.Query{Metric: domain.MetricScrollDepth, Days: 7})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 60, res.Rows[0]["avg_depth"])
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), res.Rows[0]["day"])
}

func TestEndToEnd_OverflowingNumberIsStripped(t *testing.T) {
	svc := newSQLiteService(t)
	ctx := testutil.TestContext(t)

	n := svc.Ingest(ctx, batch(t, `[
		{"type":"scroll","metadata":{"sessionId":"s1","page":"/","depth":40,"n":1e400,"extra":{"m":-1e400}}}
	]`))

	assert.Equal(t, 1, n)
}
