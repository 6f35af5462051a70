// Package session runs named statements through the mapping engine and serves the
// engine's nested queries.
//
// A Session keeps a local cache of statement results keyed by statement, SQL and
// arguments. A statement that is still executing is cached as a placeholder, so a
// nested query that cycles back to it is deferred and assigned from the cache once
// the outermost query finishes. This is how sub-queries build cyclic object graphs
// without running forever.
//
// Queries on a Session are serialized. Nested queries issued by the engine while a
// query runs re-enter the running query instead of waiting for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resultmap/internal/dbexec"
	"resultmap/internal/engine"
	"resultmap/internal/logging"
	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/observability"
	"resultmap/internal/reflectx"
	"resultmap/internal/rowkey"
)

// ErrTooManyResults is returned by SelectOne when a statement returns more than one object.
var ErrTooManyResults = errors.New("expected one result (or nil) to be returned")

// CacheScope controls how long local cache entries live.
type CacheScope int

const (
	// CacheScopeSession keeps results until ClearCache.
	CacheScopeSession CacheScope = iota
	// CacheScopeStatement drops results when the outermost query finishes.
	CacheScopeStatement
)

func (c CacheScope) String() string {
	if c == CacheScopeStatement {
		return "statement"
	}
	return "session"
}

// ParseCacheScope parses session or statement. The empty string is session.
func ParseCacheScope(s string) (CacheScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "session":
		return CacheScopeSession, nil
	case "statement":
		return CacheScopeStatement, nil
	}
	return CacheScopeSession, fmt.Errorf("invalid local cache scope %q (must be session or statement)", s)
}

type options struct {
	handlerOpts []engine.Option
	logger      *logging.Logger
	tracer      trace.Tracer
	scope       CacheScope
}

// Option configures a Session.
type Option func(*options)

// WithHandlerOptions passes options to every engine.Handler the session creates.
func WithHandlerOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.handlerOpts = append(o.handlerOpts, opts...)
	}
}

// WithLogger sets the session's logger. Handlers log through it as well.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTracer sets the tracer for statement spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithCacheScope sets the local cache scope.
func WithCacheScope(scope CacheScope) Option {
	return func(o *options) {
		o.scope = scope
	}
}

type cacheEntry struct {
	results []any
	pending bool
}

// deferredLoad assigns a cached result to a property once the result is complete.
type deferredLoad struct {
	statement string
	meta      *reflectx.Meta
	property  string
	key       string
	target    reflect.Type
}

// Session executes named statements. It implements engine.SubQueryExecutor.
type Session struct {
	options
	executor dbexec.QueryExecutor
	registry *mapping.Registry

	stmtMu     sync.RWMutex
	statements map[string]*Statement

	mu       sync.Mutex
	cache    map[string]cacheEntry
	deferred []*deferredLoad
}

var _ engine.SubQueryExecutor = (*Session)(nil)

// New creates a session that runs queries on executor and maps rows with registry.
func New(executor dbexec.QueryExecutor, registry *mapping.Registry, opts ...Option) *Session {
	s := &Session{
		executor:   executor,
		registry:   registry,
		statements: make(map[string]*Statement),
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(&s.options)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s
}

// Register adds statements. Ids must be unique and result maps must be registered.
func (s *Session) Register(stmts ...Statement) error {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	var errs []error
	for i := range stmts {
		stmt := stmts[i]
		switch {
		case stmt.ID == "":
			errs = append(errs, maperr.Configuration("", "statement without id"))
			continue
		case stmt.Build == nil:
			errs = append(errs, maperr.Configuration(stmt.ID, "statement %q has no builder", stmt.ID))
			continue
		case len(stmt.ResultMaps) == 0:
			errs = append(errs, maperr.Configuration(stmt.ID, "statement %q declares no result map", stmt.ID))
			continue
		}
		if _, dup := s.statements[stmt.ID]; dup {
			errs = append(errs, maperr.Configuration(stmt.ID, "duplicate statement id %q", stmt.ID))
			continue
		}
		for _, id := range stmt.ResultMaps {
			if !s.registry.Has(id) {
				errs = append(errs, maperr.Configuration(stmt.ID, "statement %q uses unknown result map %q", stmt.ID, id))
			}
		}
		s.statements[stmt.ID] = &stmt
	}
	return errors.Join(errs...)
}

func (s *Session) statement(id string) (*Statement, error) {
	s.stmtMu.RLock()
	defer s.stmtMu.RUnlock()
	stmt, ok := s.statements[id]
	if !ok {
		return nil, maperr.Configuration(id, "statement %q is not registered", id)
	}
	return stmt, nil
}

// SelectList runs a statement and returns every mapped object.
func (s *Session) SelectList(ctx context.Context, id string, param any) ([]any, error) {
	return s.SelectBounded(ctx, id, param, engine.DefaultRowBounds)
}

// SelectBounded runs a statement and returns the objects within bounds.
func (s *Session) SelectBounded(ctx context.Context, id string, param any, bounds engine.RowBounds) ([]any, error) {
	stmt, err := s.statement(id)
	if err != nil {
		return nil, err
	}
	q, err := stmt.render(param)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, stmt, q, bounds)
}

// SelectOne runs a statement that returns at most one object.
func (s *Session) SelectOne(ctx context.Context, id string, param any) (any, error) {
	results, err := s.SelectList(ctx, id, param)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return nil, fmt.Errorf("%w by %s, but found %d", ErrTooManyResults, id, len(results))
}

// Select streams the objects of a statement to consumer without caching them.
func (s *Session) Select(ctx context.Context, id string, param any, bounds engine.RowBounds, consumer engine.ResultHandler) (int, error) {
	stmt, err := s.statement(id)
	if err != nil {
		return 0, err
	}
	q, err := stmt.render(param)
	if err != nil {
		return 0, err
	}
	ctx, outermost, release := s.enter(ctx)
	defer release()

	ctx, span := observability.StartSpanWith(s.tracer, ctx, "resultmap.session.select",
		attribute.String("resultmap.statement", stmt.ID))
	rows, err := s.run(ctx, stmt, q)
	if err != nil {
		observability.FinishSpan(span, err)
		return 0, err
	}
	n, err := s.newHandler(s).Materialize(ctx, rows, stmt.engineStatement(), bounds, consumer)
	if err == nil && outermost {
		err = s.finishOutermost()
	}
	observability.FinishSpan(span, err, attribute.Int("resultmap.results", n))
	return n, err
}

// Cursor returns a cursor over the objects of a statement. Results are not cached.
func (s *Session) Cursor(ctx context.Context, id string, param any, bounds engine.RowBounds) (*engine.ObjectCursor, error) {
	stmt, err := s.statement(id)
	if err != nil {
		return nil, err
	}
	q, err := stmt.render(param)
	if err != nil {
		return nil, err
	}
	ctx, outermost, release := s.enter(ctx)
	defer release()
	rows, err := s.run(ctx, stmt, q)
	if err != nil {
		return nil, err
	}
	// A cursor opened inside a running query is iterated under that query's lock.
	var exec engine.SubQueryExecutor = s
	if outermost {
		exec = cursorExecutor{s}
	}
	return s.newHandler(exec).MaterializeLazy(ctx, rows, stmt.engineStatement(), bounds)
}

// ClearCache drops every local cache entry.
func (s *Session) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cacheEntry)
}

// ParameterType returns the declared parameter type of a statement.
func (s *Session) ParameterType(queryID string) (reflect.Type, error) {
	stmt, err := s.statement(queryID)
	if err != nil {
		return nil, err
	}
	return stmt.ParameterType, nil
}

// CacheKey identifies an execution of a statement by its rendered SQL and arguments.
func (s *Session) CacheKey(queryID string, param any) (*rowkey.Key, error) {
	stmt, err := s.statement(queryID)
	if err != nil {
		return nil, err
	}
	q, err := stmt.render(param)
	if err != nil {
		return nil, err
	}
	return cacheKey(stmt.ID, q, engine.DefaultRowBounds), nil
}

// IsCached reports whether key has a result or is being executed. It is called by
// the engine while a query of s runs, with the session lock held.
func (s *Session) IsCached(_ string, key *rowkey.Key) bool {
	_, ok := s.cache[key.Canonical()]
	return ok
}

// DeferLoad assigns the cached result for key to property now when it is complete,
// or when the outermost query finishes otherwise. Like IsCached it runs under the
// session lock.
func (s *Session) DeferLoad(queryID string, meta *reflectx.Meta, property string, key *rowkey.Key, target reflect.Type) error {
	d := &deferredLoad{statement: queryID, meta: meta, property: property, key: key.Canonical(), target: target}
	if entry, ok := s.cache[d.key]; ok && !entry.pending {
		return s.load(d)
	}
	s.deferred = append(s.deferred, d)
	return nil
}

// cursorExecutor serves the sub-queries of a cursor, which maps rows after its
// statement released the session. Cache reads take the session lock, and entries
// pending in another query count as absent so nothing joins that query's deferred loads.
type cursorExecutor struct {
	*Session
}

func (c cursorExecutor) IsCached(_ string, key *rowkey.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key.Canonical()]
	return ok && !entry.pending
}

func (c cursorExecutor) DeferLoad(queryID string, meta *reflectx.Meta, property string, key *rowkey.Key, target reflect.Type) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &deferredLoad{statement: queryID, meta: meta, property: property, key: key.Canonical(), target: target}
	if entry, ok := c.cache[d.key]; !ok || entry.pending {
		return fmt.Errorf("deferred load of %s into %s: cached result was cleared", queryID, property)
	}
	return c.load(d)
}

// Load runs a statement for the engine and shapes its results for target.
func (s *Session) Load(ctx context.Context, queryID string, param any, target reflect.Type) (any, error) {
	results, err := s.SelectList(ctx, queryID, param)
	if err != nil {
		return nil, err
	}
	return engine.ExtractResult(results, target)
}

func cacheKey(id string, q Query, bounds engine.RowBounds) *rowkey.Key {
	key := rowkey.New()
	key.Update(id)
	key.Update(bounds.Offset)
	key.Update(bounds.Limit)
	key.Update(q.SQL)
	for _, arg := range q.Args {
		key.Update(arg)
	}
	return key
}

func (s *Session) query(ctx context.Context, stmt *Statement, q Query, bounds engine.RowBounds) (results []any, err error) {
	ctx, outermost, release := s.enter(ctx)
	defer release()
	if outermost && stmt.FlushCache {
		s.cache = make(map[string]cacheEntry)
	}

	key := cacheKey(stmt.ID, q, bounds).Canonical()
	if entry, ok := s.cache[key]; ok && !entry.pending {
		s.logger.Debug("statement cache hit", "statement_id", stmt.ID)
		results = entry.results
	} else if results, err = s.queryFromDatabase(ctx, stmt, q, key, bounds); err != nil {
		if outermost {
			s.deferred = nil
		}
		return nil, err
	}
	if outermost {
		if err := s.finishOutermost(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Session) queryFromDatabase(ctx context.Context, stmt *Statement, q Query, key string, bounds engine.RowBounds) ([]any, error) {
	s.cache[key] = cacheEntry{pending: true}
	ctx, span := observability.StartSpanWith(s.tracer, ctx, "resultmap.session.query",
		attribute.String("resultmap.statement", stmt.ID))

	rows, err := s.run(ctx, stmt, q)
	if err != nil {
		delete(s.cache, key)
		observability.FinishSpan(span, err)
		return nil, err
	}
	results, err := s.newHandler(s).List(ctx, rows, stmt.engineStatement(), bounds)
	observability.FinishSpan(span, err, attribute.Int("resultmap.results", len(results)))
	if err != nil {
		delete(s.cache, key)
		return nil, err
	}
	s.cache[key] = cacheEntry{results: results}
	return results, nil
}

func (s *Session) run(ctx context.Context, stmt *Statement, q Query) (dbexec.Rows, error) {
	s.logger.Debug("executing statement", "statement_id", stmt.ID, "sql", q.SQL, "args", len(q.Args))
	rows, err := s.executor.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("statement %s failed: %w", stmt.ID, err)
	}
	return rows, nil
}

func (s *Session) newHandler(exec engine.SubQueryExecutor) *engine.Handler {
	opts := append([]engine.Option{engine.WithLogger(s.logger)}, s.handlerOpts...)
	if s.tracer != nil {
		opts = append(opts, engine.WithTracer(s.tracer))
	}
	return engine.NewHandler(s.registry, append(opts, engine.WithExecutor(exec))...)
}

// finishOutermost resolves the deferred loads of the finished query tree.
func (s *Session) finishOutermost() error {
	deferred := s.deferred
	s.deferred = nil
	for _, d := range deferred {
		if err := s.load(d); err != nil {
			return err
		}
	}
	if s.scope == CacheScopeStatement {
		s.cache = make(map[string]cacheEntry)
	}
	return nil
}

func (s *Session) load(d *deferredLoad) error {
	entry, ok := s.cache[d.key]
	if !ok || entry.pending {
		return nil
	}
	value, err := engine.ExtractResult(entry.results, d.target)
	if err != nil {
		return fmt.Errorf("deferred load of %s into %s: %w", d.statement, d.property, err)
	}
	if value == nil {
		return nil
	}
	if err := engine.AssignProperty(d.meta, d.property, value); err != nil {
		return fmt.Errorf("deferred load of %s into %s: %w", d.statement, d.property, err)
	}
	return nil
}

type frameKey struct{}

// frame marks a context as belonging to a running query of a session.
type frame struct {
	session *Session
	active  atomic.Bool
}

// enter serializes outermost queries. A context carrying an active frame of this
// session is already inside a query and re-enters it.
func (s *Session) enter(ctx context.Context) (context.Context, bool, func()) {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.session == s && f.active.Load() {
		return ctx, false, func() {}
	}
	s.mu.Lock()
	f := &frame{session: s}
	f.active.Store(true)
	return context.WithValue(ctx, frameKey{}, f), true, func() {
		f.active.Store(false)
		s.mu.Unlock()
	}
}

// List runs a statement on s and converts every object to T.
func List[T any](ctx context.Context, s *Session, id string, param any) ([]T, error) {
	results, err := s.SelectList(ctx, id, param)
	if err != nil {
		return nil, err
	}
	target := reflect.TypeFor[T]()
	out := make([]T, 0, len(results))
	for i, obj := range results {
		v, err := reflectx.Convert(obj, target)
		if err != nil {
			return nil, fmt.Errorf("result %d of %s: %w", i, id, err)
		}
		out = append(out, v.Interface().(T))
	}
	return out, nil
}

// One runs a statement on s and converts its single object to T. No object yields the zero T.
func One[T any](ctx context.Context, s *Session, id string, param any) (T, error) {
	var zero T
	obj, err := s.SelectOne(ctx, id, param)
	if err != nil {
		return zero, err
	}
	v, err := reflectx.Convert(obj, reflect.TypeFor[T]())
	if err != nil {
		return zero, fmt.Errorf("result of %s: %w", id, err)
	}
	return v.Interface().(T), nil
}
