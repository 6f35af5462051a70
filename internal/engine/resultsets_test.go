package engine

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/observability"
	"resultmap/internal/testutil/fakerows"
)

func multiSetMaps() []*mapping.ResultMap {
	return []*mapping.ResultMap{
		{ID: "blog", Type: reflect.TypeFor[Blog](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Title", Column: "title"},
			{Property: "Posts", NestedResultMapID: "post", ResultSet: "posts", Column: "id", ForeignColumn: "blog_id"},
		}},
		{ID: "post", Type: reflect.TypeFor[Post](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Subject", Column: "subject"},
		}},
	}
}

func multiSetRows() *fakerows.Rows {
	return fakerows.New(
		fakerows.NewSet([]string{"id", "title"},
			[]any{int64(1), "Go"},
			[]any{int64(2), "Rust"},
			[]any{int64(3), "Zig"},
		),
		fakerows.NewSet([]string{"id", "blog_id", "subject"},
			[]any{int64(10), int64(1), "a"},
			[]any{int64(20), int64(2), "b"},
			[]any{int64(11), int64(1), "c"},
			[]any{int64(99), nil, "orphan"},
		),
	)
}

func TestMultipleResultSetsLinkChildren(t *testing.T) {
	stmt := Statement{ID: "selectBlogs", ResultMaps: []string{"blog"}, ResultSets: []string{"blogs", "posts"}}
	rows := multiSetRows()

	results, err := newTestHandler(newRegistry(t, multiSetMaps()...)).HandleResultSets(context.Background(), rows, stmt)
	require.NoError(t, err)
	require.Len(t, results, 1, "secondary result sets are not returned")
	require.Len(t, results[0], 3)

	go1 := results[0][0].(*Blog)
	assert.Equal(t, []*Post{{ID: 10, Subject: "a"}, {ID: 11, Subject: "c"}}, go1.Posts)
	assert.Equal(t, []*Post{{ID: 20, Subject: "b"}}, results[0][1].(*Blog).Posts)
	assert.Empty(t, results[0][2].(*Blog).Posts)
	assert.True(t, rows.Closed())
}

func TestResultSetClaimedByTwoResultMaps(t *testing.T) {
	maps := []*mapping.ResultMap{
		{
			ID:   "doc",
			Type: reflect.TypeFor[Blog](),
			Discriminator: &mapping.Discriminator{
				Column: "kind",
				Cases:  map[string]string{"a": "docA", "b": "docB"},
			},
		},
		{ID: "docA", Type: reflect.TypeFor[Blog](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Posts", NestedResultMapID: "post", ResultSet: "extra", Column: "id", ForeignColumn: "blog_id"},
		}},
		{ID: "docB", Type: reflect.TypeFor[Blog](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Author", NestedResultMapID: "author", ResultSet: "extra", Column: "id", ForeignColumn: "blog_id"},
		}},
		{ID: "post", Type: reflect.TypeFor[Post]()},
		{ID: "author", Type: reflect.TypeFor[Author]()},
	}
	rows := fakerows.New(
		fakerows.NewSet([]string{"id", "kind"}, []any{int64(1), "a"}, []any{int64(2), "b"}),
		fakerows.NewSet([]string{"id", "blog_id"}),
	)
	stmt := Statement{ID: "selectDocs", ResultMaps: []string{"doc"}, ResultSets: []string{"docs", "extra"}}

	_, err := newTestHandler(newRegistry(t, maps...)).HandleResultSets(context.Background(), rows, stmt)
	require.ErrorIs(t, err, maperr.ErrConfiguration)
	assert.Contains(t, err.Error(), `result maps "post" and "author" are mapped to the same result set "extra"`)
}

type Thread struct {
	ID     int64
	Posts  []*Post
	Pinned []*Post
}

func TestResultSetSharedByTwoProperties(t *testing.T) {
	maps := []*mapping.ResultMap{
		{ID: "thread", Type: reflect.TypeFor[Thread](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Posts", NestedResultMapID: "post", ResultSet: "posts", Column: "id", ForeignColumn: "thread_id"},
			{Property: "Pinned", NestedResultMapID: "post", ResultSet: "posts", Column: "id", ForeignColumn: "pinned_in"},
		}},
		{ID: "post", Type: reflect.TypeFor[Post](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Subject", Column: "subject"},
		}},
	}
	rows := fakerows.New(
		fakerows.NewSet([]string{"id"}, []any{int64(1)}, []any{int64(2)}),
		fakerows.NewSet([]string{"id", "thread_id", "pinned_in", "subject"},
			[]any{int64(10), int64(1), int64(2), "a"},
			[]any{int64(11), int64(1), nil, "b"},
			[]any{int64(20), int64(2), nil, "c"},
		),
	)
	stmt := Statement{ID: "selectThreads", ResultMaps: []string{"thread"}, ResultSets: []string{"threads", "posts"}}

	results, err := newTestHandler(newRegistry(t, maps...)).HandleResultSets(context.Background(), rows, stmt)
	require.NoError(t, err)
	require.Len(t, results[0], 2)

	first := results[0][0].(*Thread)
	assert.Equal(t, []*Post{{ID: 10, Subject: "a"}, {ID: 11, Subject: "b"}}, first.Posts)
	assert.Empty(t, first.Pinned)

	second := results[0][1].(*Thread)
	assert.Equal(t, []*Post{{ID: 20, Subject: "c"}}, second.Posts)
	assert.Equal(t, []*Post{{ID: 10, Subject: "a"}}, second.Pinned)
}

func TestMultipleLeadingResultMaps(t *testing.T) {
	maps := []*mapping.ResultMap{
		authorMap(),
		{ID: "comment", Type: reflect.TypeFor[Comment](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
		}},
	}
	rows := fakerows.New(
		fakerows.NewSet([]string{"id", "username"}, []any{int64(1), "ann"}),
		fakerows.NewSet([]string{"id", "text"}, []any{int64(7), "hi"}, []any{int64(8), "yo"}),
	)
	stmt := Statement{ID: "selectBoth", ResultMaps: []string{"author", "comment"}}

	results, err := newTestHandler(newRegistry(t, maps...)).HandleResultSets(context.Background(), rows, stmt)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []any{&Author{ID: 1, Username: "ann"}}, results[0])
	assert.Equal(t, []any{&Comment{ID: 7, Text: "hi"}, &Comment{ID: 8, Text: "yo"}}, results[1])
}

func TestPassIsObserved(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	metrics, err := observability.NewMappingMetrics(mp)
	require.NoError(t, err)

	stmt := Statement{ID: "selectBlogs", ResultMaps: []string{"blog"}, ResultSets: []string{"blogs", "posts"}}
	h := newTestHandler(newRegistry(t, multiSetMaps()...), WithTracer(tp.Tracer("test")), WithMetrics(metrics))
	_, err = h.HandleResultSets(context.Background(), multiSetRows(), stmt)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "resultmap.materialize", spans[0].Name())
	attrs := attribute.NewSet(spans[0].Attributes()...)
	rowsRead, ok := attrs.Value("resultmap.rows")
	require.True(t, ok)
	assert.Equal(t, int64(7), rowsRead.AsInt64())
	outcome, _ := attrs.Value("resultmap.outcome")
	assert.Equal(t, "success", outcome.AsString())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(3), counterValue(rm, "resultmap.relations.linked"))
	assert.Equal(t, int64(1), counterValue(rm, "resultmap.passes.total"))
}

func counterValue(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
