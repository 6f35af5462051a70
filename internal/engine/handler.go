// Package engine turns forward-only result sets into object graphs.
//
// A Handler reads rows through a rowsource.Wrapper, selects the effective result map
// through discriminators, instantiates and populates objects, groups consecutive rows
// of one logical entity by row identity key, links nested and self-referencing
// objects, runs sub-queries and joins secondary result sets to their parents.
//
// A Handler serves one top-level query and is not safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resultmap/internal/dbexec"
	"resultmap/internal/logging"
	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/observability"
	"resultmap/internal/reflectx"
	"resultmap/internal/rowsource"
	"resultmap/internal/typeconv"
)

// Statement describes how the result sets of one query are mapped.
type Statement struct {
	ID string
	// ResultMaps are the result map ids of the leading result sets, in order.
	ResultMaps []string
	// ResultSets names the result sets by position. Sets past ResultMaps are
	// secondary result sets consumed by bindings with a matching ResultSet.
	ResultSets []string
	// ResultOrdered declares that the rows of one root entity are contiguous.
	ResultOrdered bool
}

// NoRowLimit is the limit of unbounded row bounds.
const NoRowLimit = 0

// RowBounds skips Offset rows and stops after Limit objects. A Limit of zero is unbounded.
type RowBounds struct {
	Offset int
	Limit  int
}

// DefaultRowBounds reads every row.
var DefaultRowBounds = RowBounds{}

// IsDefault reports whether the bounds read every row.
func (b RowBounds) IsDefault() bool {
	return b.Offset <= 0 && b.Limit <= 0
}

func (b RowBounds) allows(count int) bool {
	return b.Limit <= 0 || count < b.Limit
}

// ResultContext is passed to a ResultHandler for every delivered object.
type ResultContext struct {
	object  any
	count   int
	stopped bool
}

// Object returns the object being delivered.
func (c *ResultContext) Object() any { return c.object }

// Count returns the number of objects delivered so far, including this one.
func (c *ResultContext) Count() int { return c.count }

// Stop ends the pass after the current object.
func (c *ResultContext) Stop() { c.stopped = true }

// IsStopped reports whether Stop was called.
func (c *ResultContext) IsStopped() bool { return c.stopped }

func (c *ResultContext) next(obj any) {
	c.object = obj
	c.count++
}

// ResultHandler consumes mapped objects one at a time.
type ResultHandler interface {
	HandleResult(rc *ResultContext) error
}

// ResultHandlerFunc adapts a function to ResultHandler.
type ResultHandlerFunc func(rc *ResultContext) error

func (f ResultHandlerFunc) HandleResult(rc *ResultContext) error { return f(rc) }

// PartialResultTolerant is implemented by consumers that accept root objects whose
// nested collections keep growing after delivery.
type PartialResultTolerant interface {
	AcceptsPartialResults() bool
}

// ListHandler collects every object in order.
type ListHandler struct {
	Results []any
}

func (l *ListHandler) HandleResult(rc *ResultContext) error {
	l.Results = append(l.Results, rc.Object())
	return nil
}

// AcceptsPartialResults is true: the list is only read once the pass has finished.
func (l *ListHandler) AcceptsPartialResults() bool { return true }

type options struct {
	converters *typeconv.Registry
	factory    reflectx.ObjectFactory
	executor   SubQueryExecutor
	settings   Settings
	logger     *logging.Logger
	metrics    *observability.MappingMetrics
	tracer     trace.Tracer
}

// Option configures a Handler.
type Option func(*options)

// WithConverters sets the converter registry. The default is typeconv.NewRegistry().
func WithConverters(r *typeconv.Registry) Option {
	return func(o *options) {
		o.converters = r
	}
}

// WithObjectFactory sets the factory that creates result objects.
func WithObjectFactory(f reflectx.ObjectFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithExecutor sets the sub-query executor. Without one, bindings with a nested
// query fail with a configuration error.
func WithExecutor(e SubQueryExecutor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithSettings replaces DefaultSettings.
func WithSettings(s Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

// WithLogger sets the logger. The default is logging.Default().
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics records pass metrics. A nil value disables them.
func WithMetrics(m *observability.MappingMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer for materialization spans. The default is the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// Handler maps the result sets of one query.
type Handler struct {
	registry *mapping.Registry
	options

	ctx  context.Context
	stmt Statement

	pool             *keyedTable[any]
	pending          *keyedTable[[]*pendingRelation]
	nextResultMaps   map[string]*mapping.Binding
	resultSetLinks   map[string][]*mapping.Binding
	previousRowValue any
	autoMappings     map[string][]autoMapping
	warnedDegenerate map[string]struct{}

	rowsRead  int64
	delivered int
}

// NewHandler returns a handler reading result maps from registry.
func NewHandler(registry *mapping.Registry, opts ...Option) *Handler {
	o := options{settings: DefaultSettings()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.converters == nil {
		o.converters = typeconv.NewRegistry()
	}
	if o.factory == nil {
		o.factory = reflectx.NewDefaultFactory()
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	return &Handler{
		registry:         registry,
		options:          o,
		ctx:              context.Background(),
		pool:             newKeyedTable[any](),
		pending:          newKeyedTable[[]*pendingRelation](),
		nextResultMaps:   make(map[string]*mapping.Binding),
		resultSetLinks:   make(map[string][]*mapping.Binding),
		autoMappings:     make(map[string][]autoMapping),
		warnedDegenerate: make(map[string]struct{}),
	}
}

// Settings returns the handler's settings.
func (h *Handler) Settings() Settings {
	return h.settings
}

// Materialize maps every result set of rows and delivers the objects of the leading
// result sets to consumer. It returns the number of delivered objects. rows is closed
// before Materialize returns.
func (h *Handler) Materialize(ctx context.Context, rows dbexec.Rows, stmt Statement, bounds RowBounds, consumer ResultHandler) (int, error) {
	if consumer == nil {
		_ = rows.Close()
		return 0, maperr.Configuration(stmt.ID, "a result handler is required")
	}
	_, err := h.run(ctx, rows, stmt, bounds, consumer)
	return h.delivered, err
}

// HandleResultSets maps every result set of rows and returns the objects of each
// leading result set. rows is closed before HandleResultSets returns.
func (h *Handler) HandleResultSets(ctx context.Context, rows dbexec.Rows, stmt Statement) ([][]any, error) {
	return h.run(ctx, rows, stmt, DefaultRowBounds, nil)
}

// List maps a single-result-map statement and returns its objects.
func (h *Handler) List(ctx context.Context, rows dbexec.Rows, stmt Statement, bounds RowBounds) ([]any, error) {
	list := &ListHandler{}
	if _, err := h.run(ctx, rows, stmt, bounds, list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// Collect maps rows and converts every object to T. Nil objects become the zero T.
func Collect[T any](ctx context.Context, h *Handler, rows dbexec.Rows, stmt Statement, bounds RowBounds) ([]T, error) {
	objects, err := h.List(ctx, rows, stmt, bounds)
	if err != nil {
		return nil, err
	}
	target := reflect.TypeFor[T]()
	out := make([]T, 0, len(objects))
	for i, obj := range objects {
		v, err := reflectx.Convert(obj, target)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		out = append(out, v.Interface().(T))
	}
	return out, nil
}

func (h *Handler) run(ctx context.Context, rows dbexec.Rows, stmt Statement, bounds RowBounds, consumer ResultHandler) (results [][]any, err error) {
	h.stmt = stmt
	start := time.Now()
	ctx, span := observability.StartSpanWith(h.tracer, ctx, "resultmap.materialize",
		attribute.String("resultmap.statement", stmt.ID))
	h.ctx = ctx
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = maperr.Resource(cerr)
		}
		observability.FinishSpan(span, err,
			attribute.Int64("resultmap.rows", h.rowsRead),
			attribute.Int("resultmap.objects", h.delivered))
		h.metrics.RecordPass(ctx, stmt.ID, time.Since(start), h.rowsRead, int64(h.delivered), err)
	}()

	maps, err := h.validate(stmt, bounds, consumer)
	if err != nil {
		return nil, err
	}

	w, err := rowsource.New(rows, h.converters)
	if err != nil {
		return nil, maperr.Resource(err)
	}
	setIndex := 0
	for _, rm := range maps {
		if w == nil {
			break
		}
		target := consumer
		var list *ListHandler
		if target == nil {
			list = &ListHandler{}
			target = list
		}
		if err := h.handleResultSet(w, rm, target, bounds, nil); err != nil {
			return nil, err
		}
		if list != nil {
			results = append(results, list.Results)
		}
		if w, err = h.nextResultSet(rows); err != nil {
			return nil, err
		}
		h.cleanUpAfterResultSet()
		setIndex++
	}

	for w != nil && setIndex < len(stmt.ResultSets) {
		name := stmt.ResultSets[setIndex]
		if parent, ok := h.nextResultMaps[name]; ok {
			rm, err := h.registry.Lookup(parent.NestedResultMapID)
			if err != nil {
				return nil, err
			}
			if err := h.handleResultSet(w, rm, nil, DefaultRowBounds, parent); err != nil {
				return nil, err
			}
		} else {
			h.logger.Debug("result set has no pending relations", "statement_id", stmt.ID, "result_set", name)
		}
		if w, err = h.nextResultSet(rows); err != nil {
			return nil, err
		}
		h.cleanUpAfterResultSet()
		setIndex++
	}
	return results, nil
}

// validate resolves the leading result maps and rejects unsafe bounds and consumers
// before any row is read.
func (h *Handler) validate(stmt Statement, bounds RowBounds, consumer ResultHandler) ([]*mapping.ResultMap, error) {
	if len(stmt.ResultMaps) == 0 {
		return nil, maperr.Configuration(stmt.ID, "statement %q declares no result map", stmt.ID)
	}
	maps := make([]*mapping.ResultMap, 0, len(stmt.ResultMaps))
	for _, id := range stmt.ResultMaps {
		rm, err := h.registry.Lookup(id)
		if err != nil {
			return nil, err
		}
		if rm.HasNestedResultMaps() {
			if h.settings.SafeRowBoundsEnabled && !bounds.IsDefault() {
				return nil, maperr.Configuration(rm.ID,
					"mapped statements with nested result maps cannot be safely constrained by row bounds")
			}
			if h.settings.SafeResultHandlerEnabled && !stmt.ResultOrdered && !tolerant(consumer) {
				return nil, maperr.Configuration(rm.ID,
					"mapped statements with nested result maps cannot be safely used with a custom result handler unless they are result ordered")
			}
		}
		maps = append(maps, rm)
	}
	return maps, nil
}

func tolerant(consumer ResultHandler) bool {
	if consumer == nil {
		return true
	}
	pt, ok := consumer.(PartialResultTolerant)
	return ok && pt.AcceptsPartialResults()
}

func (h *Handler) nextResultSet(rows dbexec.Rows) (*rowsource.Wrapper, error) {
	multi, ok := rows.(dbexec.MultiRows)
	if !ok {
		return nil, nil
	}
	if !multi.NextResultSet() {
		if err := rows.Err(); err != nil {
			return nil, maperr.Resource(err)
		}
		return nil, nil
	}
	w, err := rowsource.New(rows, h.converters)
	if err != nil {
		return nil, maperr.Resource(err)
	}
	return w, nil
}

func (h *Handler) cleanUpAfterResultSet() {
	h.pool.Clear()
	h.autoMappings = make(map[string][]autoMapping)
}

func (h *Handler) handleResultSet(w *rowsource.Wrapper, rm *mapping.ResultMap, consumer ResultHandler, bounds RowBounds, parent *mapping.Binding) error {
	if rm.HasNestedResultMaps() {
		return h.handleRowValuesForNestedResultMap(w, rm, consumer, bounds, parent)
	}
	return h.handleRowValuesForSimpleResultMap(w, rm, consumer, bounds, parent)
}

func (h *Handler) handleRowValuesForSimpleResultMap(w *rowsource.Wrapper, rm *mapping.ResultMap, consumer ResultHandler, bounds RowBounds, parent *mapping.Binding) error {
	rc := &ResultContext{}
	if err := h.skipRows(w, bounds.Offset); err != nil {
		return err
	}
	for !rc.IsStopped() && bounds.allows(rc.Count()) {
		ok, err := h.advance(w)
		if err != nil || !ok {
			return err
		}
		effective, err := h.ResolveEffectiveMapping(w, rm, "")
		if err != nil {
			return err
		}
		value, err := h.getRowValue(w, effective, "")
		if err != nil {
			return err
		}
		if err := h.storeObject(w, consumer, rc, value, parent); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) advance(w *rowsource.Wrapper) (bool, error) {
	ok, err := w.Next()
	if err != nil {
		return false, maperr.Resource(err)
	}
	if ok {
		h.rowsRead++
	}
	return ok, nil
}

func (h *Handler) skipRows(w *rowsource.Wrapper, n int) error {
	for i := 0; i < n; i++ {
		ok, err := w.Next()
		if err != nil {
			return maperr.Resource(err)
		}
		if !ok {
			return nil
		}
	}
	return nil
}

func (h *Handler) storeObject(w *rowsource.Wrapper, consumer ResultHandler, rc *ResultContext, value any, parent *mapping.Binding) error {
	if parent != nil {
		return h.linkToParents(w, parent, value)
	}
	rc.next(value)
	h.delivered++
	if err := consumer.HandleResult(rc); err != nil {
		var me *maperr.Error
		if errors.As(err, &me) {
			return err
		}
		return fmt.Errorf("result handler failed for statement %s: %w", h.stmt.ID, err)
	}
	return nil
}
