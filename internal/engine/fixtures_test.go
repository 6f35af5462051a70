package engine

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"resultmap/internal/lazy"
	"resultmap/internal/logging"
	"resultmap/internal/mapping"
	"resultmap/internal/reflectx"
	"resultmap/internal/rowkey"
	"resultmap/internal/rowsource"
	"resultmap/internal/testutil/fakerows"
	"resultmap/internal/typeconv"
)

type Author struct {
	ID               int64
	Username         string
	FavouriteSection string
}

type Comment struct {
	ID   int64
	Text string
}

type Post struct {
	ID       int64
	Subject  string
	Author   *Author
	Blog     *Blog
	Comments []*Comment
}

type Blog struct {
	ID     int64
	Title  string
	Author *Author
	Posts  []*Post
}

type LazyPost struct {
	ID       int64
	Subject  string
	Comments *lazy.Value[[]*Comment]
}

type Customer struct {
	ID   int64
	Name string
}

type Order struct {
	ID       int64
	Total    int64
	Customer *Customer
	Lines    []*OrderLine
}

type OrderLine struct {
	ID  int64
	SKU string
}

func newRegistry(t *testing.T, maps ...*mapping.ResultMap) *mapping.Registry {
	t.Helper()
	registry, err := mapping.NewRegistry(maps...)
	require.NoError(t, err)
	return registry
}

func bufferLogger() (*logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logging.NewLogger(logging.Config{Level: "debug", Format: "text", Output: &buf}), &buf
}

func quietLogger() *logging.Logger {
	logger, _ := bufferLogger()
	return logger
}

func newTestHandler(registry *mapping.Registry, opts ...Option) *Handler {
	return NewHandler(registry, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// wrapperAt returns a wrapper positioned on row index of a single result set.
func wrapperAt(t *testing.T, rows *fakerows.Rows, index int) *rowsource.Wrapper {
	t.Helper()
	w, err := rowsource.New(rows, typeconv.NewRegistry())
	require.NoError(t, err)
	for i := 0; i <= index; i++ {
		ok, err := w.Next()
		require.NoError(t, err)
		require.True(t, ok)
	}
	return w
}

func blogMaps() []*mapping.ResultMap {
	return []*mapping.ResultMap{
		{
			ID:   "blog",
			Type: reflect.TypeFor[Blog](),
			Bindings: []mapping.Binding{
				{Property: "ID", Column: "blog_id", ID: true},
				{Property: "Title", Column: "blog_title"},
				{Property: "Posts", NestedResultMapID: "post", ColumnPrefix: "post_"},
			},
		},
		{
			ID:   "post",
			Type: reflect.TypeFor[Post](),
			Bindings: []mapping.Binding{
				{Property: "ID", Column: "id", ID: true},
				{Property: "Subject", Column: "subject"},
				{Property: "Blog", NestedResultMapID: "blog"},
				{Property: "Author", NestedResultMapID: "author", ColumnPrefix: "author_", NotNullColumns: []string{"id"}},
			},
		},
		{
			ID:   "author",
			Type: reflect.TypeFor[Author](),
			Bindings: []mapping.Binding{
				{Property: "ID", Column: "id", ID: true},
				{Property: "Username", Column: "username"},
			},
		},
	}
}

var blogColumns = []string{"blog_id", "blog_title", "post_id", "post_subject", "post_author_id", "post_author_username"}

type loadCall struct {
	queryID string
	param   any
	target  reflect.Type
}

type deferCall struct {
	queryID  string
	property string
	key      *rowkey.Key
	target   reflect.Type
}

// countingExecutor serves canned sub-query results and records every call.
type countingExecutor struct {
	paramType reflect.Type
	results   map[string][]any
	cached    map[string]bool
	loads     []loadCall
	deferred  []deferCall
}

func newCountingExecutor() *countingExecutor {
	return &countingExecutor{results: make(map[string][]any), cached: make(map[string]bool)}
}

func (e *countingExecutor) ParameterType(string) (reflect.Type, error) {
	return e.paramType, nil
}

func (e *countingExecutor) CacheKey(queryID string, param any) (*rowkey.Key, error) {
	return rowkey.Of(queryID, fmt.Sprint(param)), nil
}

func (e *countingExecutor) IsCached(_ string, key *rowkey.Key) bool {
	return e.cached[key.Canonical()]
}

func (e *countingExecutor) DeferLoad(queryID string, _ *reflectx.Meta, property string, key *rowkey.Key, target reflect.Type) error {
	e.deferred = append(e.deferred, deferCall{queryID: queryID, property: property, key: key, target: target})
	return nil
}

func (e *countingExecutor) Load(_ context.Context, queryID string, param any, target reflect.Type) (any, error) {
	e.loads = append(e.loads, loadCall{queryID: queryID, param: param, target: target})
	return ExtractResult(e.results[queryID], target)
}
