package engine

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resultmap/internal/dbexec"
	"resultmap/internal/maperr"
	"resultmap/internal/mapping"
	"resultmap/internal/observability"
	"resultmap/internal/rowsource"
)

// ErrCursorConsumed is returned by a second iteration over an ObjectCursor.
var ErrCursorConsumed = errors.New("cursor can only be iterated once")

// ObjectCursor maps rows on demand, one object per Next call. Objects are identical to
// those Materialize produces for the same rows.
type ObjectCursor struct {
	h      *Handler
	rows   dbexec.Rows
	w      *rowsource.Wrapper
	rm     *mapping.ResultMap
	bounds RowBounds
	holder *singleResult

	// buffered cursors map the whole result set on the first Next.
	buffered bool
	buffer   []any

	value    any
	err      error
	returned int
	started  bool
	done     bool
	closed   bool
	iterated bool

	span  trace.Span
	start time.Time
}

type singleResult struct {
	value   any
	fetched bool
}

func (s *singleResult) HandleResult(rc *ResultContext) error {
	s.value = rc.Object()
	s.fetched = true
	rc.Stop()
	return nil
}

func (s *singleResult) AcceptsPartialResults() bool { return true }

// MaterializeLazy returns a cursor over the objects of a statement with a single result map.
// Offset skips rows and Limit counts objects, as in Materialize. A result map with nested
// result maps needs an ordered statement to be mapped incrementally; unordered ones are
// refused while safe_result_handler_enabled is on and mapped in full on the first Next
// otherwise. The caller must Close the cursor unless it is iterated to the end.
func (h *Handler) MaterializeLazy(ctx context.Context, rows dbexec.Rows, stmt Statement, bounds RowBounds) (*ObjectCursor, error) {
	h.stmt = stmt
	maps, err := h.validate(stmt, bounds, nil)
	if err == nil && len(maps) != 1 {
		err = maperr.Configuration(stmt.ID, "cursor results cannot be mapped to %d result maps", len(maps))
	}
	buffered := false
	if err == nil && maps[0].HasNestedResultMaps() && !stmt.ResultOrdered {
		if h.settings.SafeResultHandlerEnabled {
			err = maperr.Configuration(maps[0].ID,
				"a cursor over nested result maps requires a result ordered statement")
		}
		buffered = true
	}
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	w, err := rowsource.New(rows, h.converters)
	if err != nil {
		_ = rows.Close()
		return nil, maperr.Resource(err)
	}
	c := &ObjectCursor{
		h:        h,
		rows:     rows,
		w:        w,
		rm:       maps[0],
		bounds:   bounds,
		holder:   &singleResult{},
		buffered: buffered,
		start:    time.Now(),
	}
	h.ctx, c.span = observability.StartSpanWith(h.tracer, ctx, "resultmap.cursor",
		attribute.String("resultmap.statement", stmt.ID))
	return c, nil
}

// Next advances to the next object. It returns false at the end of the rows or on error.
func (c *ObjectCursor) Next() bool {
	if c.done || c.closed {
		return false
	}
	if !c.started {
		c.started = true
		if err := c.begin(); err != nil {
			c.finish(err)
			return false
		}
	}
	if c.bounds.Limit > 0 && c.returned >= c.bounds.Limit {
		c.finish(nil)
		return false
	}
	value, ok, err := c.fetch()
	if err != nil || !ok {
		c.finish(err)
		return false
	}
	c.value = value
	c.returned++
	return true
}

func (c *ObjectCursor) begin() error {
	if !c.buffered {
		return c.h.skipRows(c.w, c.bounds.Offset)
	}
	list := &ListHandler{}
	if err := c.h.handleResultSet(c.w, c.rm, list, c.bounds, nil); err != nil {
		return err
	}
	c.buffer = list.Results
	return nil
}

func (c *ObjectCursor) fetch() (any, bool, error) {
	if c.buffered {
		if len(c.buffer) == 0 {
			return nil, false, nil
		}
		value := c.buffer[0]
		c.buffer = c.buffer[1:]
		return value, true, nil
	}
	c.holder.value, c.holder.fetched = nil, false
	if err := c.h.handleResultSet(c.w, c.rm, c.holder, DefaultRowBounds, nil); err != nil {
		return nil, false, err
	}
	return c.holder.value, c.holder.fetched, nil
}

// Value returns the current object.
func (c *ObjectCursor) Value() any {
	return c.value
}

// Err returns the error that ended iteration, if any.
func (c *ObjectCursor) Err() error {
	return c.err
}

// Close releases the cursor. It is safe to call more than once.
func (c *ObjectCursor) Close() error {
	if c.closed {
		return nil
	}
	c.finish(nil)
	return nil
}

// All returns a sequence over the remaining objects that closes the cursor when it
// ends. It can be ranged over once.
func (c *ObjectCursor) All() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if c.iterated {
			yield(nil, ErrCursorConsumed)
			return
		}
		c.iterated = true
		defer c.Close()
		for c.Next() {
			if !yield(c.Value(), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (c *ObjectCursor) finish(err error) {
	if c.closed {
		return
	}
	c.done = true
	c.closed = true
	c.value = nil
	if cerr := c.rows.Close(); cerr != nil && err == nil {
		err = maperr.Resource(cerr)
	}
	c.err = err
	observability.FinishSpan(c.span, err,
		attribute.Int64("resultmap.rows", c.h.rowsRead),
		attribute.Int("resultmap.objects", c.returned))
	c.h.metrics.RecordPass(c.h.ctx, c.h.stmt.ID, time.Since(c.start), c.h.rowsRead, int64(c.returned), err)
}
