package engine

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/testutil/fakerows"
)

func selectBlogs(ordered bool) Statement {
	return Statement{ID: "selectBlogs", ResultMaps: []string{"blog"}, ResultOrdered: ordered}
}

func TestCreateRowKey(t *testing.T) {
	registry := newRegistry(t,
		authorMap(
			mapping.Binding{Property: "ID", Column: "id", ID: true},
			mapping.Binding{Property: "Username", Column: "username"},
		),
		&mapping.ResultMap{ID: "noid", Type: reflect.TypeFor[Author](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id"},
			{Property: "Username", Column: "username"},
		}},
		&mapping.ResultMap{ID: "unmapped", Type: reflect.TypeFor[Author]()},
		&mapping.ResultMap{ID: "row", Type: reflect.TypeFor[map[string]any]()},
	)
	h := newTestHandler(registry)
	rows := func() *fakerows.Rows {
		return fakerows.Single([]string{"id", "username", "ignored"},
			[]any{int64(1), "ann", "x"},
			[]any{int64(1), "bob", "y"},
			[]any{int64(2), "ann", "x"},
			[]any{nil, nil, nil},
		)
	}
	keyAt := func(id string, row int) string {
		rm, ok := registry.Get(id)
		require.True(t, ok)
		return h.createRowKey(wrapperAt(t, rows(), row), rm, "").Canonical()
	}

	t.Run("id bindings identify the row", func(t *testing.T) {
		assert.Equal(t, keyAt("author", 0), keyAt("author", 1))
		assert.NotEqual(t, keyAt("author", 0), keyAt("author", 2))
	})
	t.Run("every binding identifies the row without ids", func(t *testing.T) {
		assert.NotEqual(t, keyAt("noid", 0), keyAt("noid", 1))
		assert.Equal(t, keyAt("noid", 0), keyAt("noid", 0))
	})
	t.Run("properties identify rows of maps without bindings", func(t *testing.T) {
		assert.Equal(t, keyAt("unmapped", 0), keyAt("unmapped", 0))
		assert.NotEqual(t, keyAt("unmapped", 0), keyAt("unmapped", 1))
	})
	t.Run("map results use every column", func(t *testing.T) {
		assert.NotEqual(t, keyAt("row", 0), keyAt("row", 1))
	})
	t.Run("all-null rows have the null key", func(t *testing.T) {
		rm, _ := registry.Get("author")
		key := h.createRowKey(wrapperAt(t, rows(), 3), rm, "")
		assert.True(t, key.IsNull())
	})
}

func TestOneToManyFlattening(t *testing.T) {
	rows := fakerows.Single(blogColumns,
		[]any{int64(1), "Go", int64(10), "first", nil, nil},
		[]any{int64(1), "Go", int64(11), "second", nil, nil},
		[]any{int64(1), "Go", int64(12), "third", int64(5), "ann"},
	)

	blogs, err := Collect[*Blog](context.Background(), newTestHandler(newRegistry(t, blogMaps()...)), rows, selectBlogs(false), DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, blogs, 1)
	blog := blogs[0]
	assert.Equal(t, int64(1), blog.ID)
	assert.Equal(t, "Go", blog.Title)
	require.Len(t, blog.Posts, 3)

	var subjects []string
	for _, p := range blog.Posts {
		subjects = append(subjects, p.Subject)
		assert.Same(t, blog, p.Blog, "a post refers back to the blog under construction")
	}
	assert.Equal(t, []string{"first", "second", "third"}, subjects)

	assert.Nil(t, blog.Posts[0].Author, "null not-null columns suppress the author")
	assert.Nil(t, blog.Posts[1].Author)
	require.NotNil(t, blog.Posts[2].Author)
	assert.Equal(t, &Author{ID: 5, Username: "ann"}, blog.Posts[2].Author)
	assert.True(t, rows.Closed())
}

func TestUnorderedRowsJoinTheirRoot(t *testing.T) {
	rows := fakerows.Single(blogColumns,
		[]any{int64(1), "Go", int64(10), "a", nil, nil},
		[]any{int64(2), "Rust", int64(20), "b", nil, nil},
		[]any{int64(1), "Go", int64(11), "c", nil, nil},
	)

	blogs, err := Collect[*Blog](context.Background(), newTestHandler(newRegistry(t, blogMaps()...)), rows, selectBlogs(false), DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, blogs, 2)
	assert.Len(t, blogs[0].Posts, 2)
	assert.Len(t, blogs[1].Posts, 1)
}

func TestBlogWithoutPostsHasEmptyCollection(t *testing.T) {
	rows := fakerows.Single(blogColumns, []any{int64(1), "Go", nil, nil, nil, nil})

	blogs, err := Collect[*Blog](context.Background(), newTestHandler(newRegistry(t, blogMaps()...)), rows, selectBlogs(false), DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, blogs, 1)
	assert.NotNil(t, blogs[0].Posts)
	assert.Empty(t, blogs[0].Posts)
}

func orderMaps() []*mapping.ResultMap {
	return []*mapping.ResultMap{
		{ID: "order", Type: reflect.TypeFor[Order](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Total", Column: "total"},
			{Property: "Customer", NestedResultMapID: "customer", ColumnPrefix: "customer_"},
			{Property: "Lines", NestedResultMapID: "line", ColumnPrefix: "line_"},
		}},
		{ID: "customer", Type: reflect.TypeFor[Customer](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "Name", Column: "name"},
		}},
		{ID: "line", Type: reflect.TypeFor[OrderLine](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
			{Property: "SKU", Column: "sku"},
		}},
	}
}

func TestDuplicateRowsCollapse(t *testing.T) {
	stmt := Statement{ID: "selectOrders", ResultMaps: []string{"order"}}

	t.Run("identical rows produce one object", func(t *testing.T) {
		rows := fakerows.Single([]string{"id", "total", "customer_id", "customer_name"},
			[]any{int64(1), int64(100), int64(7), "Ann"},
			[]any{int64(1), int64(100), int64(7), "Ann"},
		)
		orders, err := Collect[*Order](context.Background(), newTestHandler(newRegistry(t, orderMaps()...)), rows, stmt, DefaultRowBounds)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, int64(100), orders[0].Total)
		assert.Equal(t, &Customer{ID: 7, Name: "Ann"}, orders[0].Customer)
		assert.Empty(t, orders[0].Lines)
	})

	t.Run("child rows are merged once each", func(t *testing.T) {
		rows := fakerows.Single([]string{"id", "total", "customer_id", "customer_name", "line_id", "line_sku"},
			[]any{int64(1), int64(100), int64(7), "Ann", int64(1), "A"},
			[]any{int64(1), int64(100), int64(7), "Ann", int64(2), "B"},
			[]any{int64(1), int64(100), int64(7), "Ann", int64(2), "B"},
		)
		orders, err := Collect[*Order](context.Background(), newTestHandler(newRegistry(t, orderMaps()...)), rows, stmt, DefaultRowBounds)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, []*OrderLine{{ID: 1, SKU: "A"}, {ID: 2, SKU: "B"}}, orders[0].Lines)
	})
}

func TestOrderedDeliveryCompletesRoots(t *testing.T) {
	rows := fakerows.Single(blogColumns,
		[]any{int64(1), "Go", int64(10), "a", nil, nil},
		[]any{int64(1), "Go", int64(11), "b", nil, nil},
		[]any{int64(2), "Rust", int64(20), "c", nil, nil},
	)
	var sizes []int
	consumer := ResultHandlerFunc(func(rc *ResultContext) error {
		sizes = append(sizes, len(rc.Object().(*Blog).Posts))
		return nil
	})

	n, err := newTestHandler(newRegistry(t, blogMaps()...)).Materialize(context.Background(), rows, selectBlogs(true), DefaultRowBounds, consumer)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int{2, 1}, sizes, "each blog is complete when delivered")
}

func TestUnsafeResultHandlerIsRejected(t *testing.T) {
	consumer := ResultHandlerFunc(func(*ResultContext) error { return nil })

	rows := fakerows.Single(blogColumns, []any{int64(1), "Go", int64(10), "a", nil, nil})
	_, err := newTestHandler(newRegistry(t, blogMaps()...)).Materialize(context.Background(), rows, selectBlogs(false), DefaultRowBounds, consumer)
	require.ErrorIs(t, err, maperr.ErrConfiguration)
	assert.Equal(t, 0, rows.Consumed(), "no row is read before the check")
	assert.True(t, rows.Closed())

	settings := DefaultSettings()
	settings.SafeResultHandlerEnabled = false
	rows = fakerows.Single(blogColumns, []any{int64(1), "Go", int64(10), "a", nil, nil})
	n, err := newTestHandler(newRegistry(t, blogMaps()...), WithSettings(settings)).Materialize(context.Background(), rows, selectBlogs(false), DefaultRowBounds, consumer)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNestedRowBounds(t *testing.T) {
	rows := fakerows.Single(blogColumns,
		[]any{int64(1), "Go", int64(10), "a", nil, nil},
		[]any{int64(2), "Rust", int64(20), "b", nil, nil},
		[]any{int64(2), "Rust", int64(21), "c", nil, nil},
		[]any{int64(3), "Zig", int64(30), "d", nil, nil},
	)

	blogs, err := Collect[*Blog](context.Background(), newTestHandler(newRegistry(t, blogMaps()...)), rows, selectBlogs(false), RowBounds{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, blogs, 1)
	assert.Equal(t, "Rust", blogs[0].Title)
	assert.Len(t, blogs[0].Posts, 1, "rows after the limit are not read")
}

func TestDegenerateKeyWarning(t *testing.T) {
	maps := []*mapping.ResultMap{
		{ID: "blog", Type: reflect.TypeFor[Blog](), Bindings: []mapping.Binding{
			{Property: "Title", Column: "blog_title"},
			{Property: "Posts", NestedResultMapID: "post", ColumnPrefix: "post_"},
		}},
		{ID: "post", Type: reflect.TypeFor[Post](), Bindings: []mapping.Binding{
			{Property: "ID", Column: "id", ID: true},
		}},
	}
	logger, buf := bufferLogger()
	rows := fakerows.Single([]string{"blog_title", "post_id"},
		[]any{nil, int64(1)},
		[]any{nil, int64(2)},
	)

	blogs, err := Collect[*Blog](context.Background(), NewHandler(newRegistry(t, maps...), WithLogger(logger)), rows, selectBlogs(false), DefaultRowBounds)
	require.NoError(t, err)
	require.Len(t, blogs, 2, "rows without identity are never merged")
	assert.Len(t, blogs[0].Posts, 1)
	assert.Len(t, blogs[1].Posts, 1)
	assert.Equal(t, 1, strings.Count(buf.String(), "result map produced a row without identity"))
}
