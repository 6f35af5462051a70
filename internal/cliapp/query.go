package cliapp

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"resultmap/internal/dbexec"
	"resultmap/internal/engine"
	"resultmap/internal/mapping"
	"resultmap/internal/observability"
)

// Query is an ad-hoc statement run by the rowmap command.
type Query struct {
	SQL    string
	Args   []any
	Shape  Shape
	Bounds engine.RowBounds
	// Ordered declares that rows of one top-level object arrive together.
	Ordered bool
}

// Run executes q and maps its rows. It requires Init to have completed.
func (a *App) Run(ctx context.Context, q Query) ([]any, error) {
	if err := requireInitialized(a); err != nil {
		return nil, err
	}
	return a.run(ctx, a.executor, q)
}

func (a *App) run(ctx context.Context, executor dbexec.QueryExecutor, q Query) (results []any, err error) {
	if q.SQL == "" {
		return nil, fmt.Errorf("query is required")
	}
	if timeout := a.cfg.Database.QueryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := observability.StartSpan(ctx, "rowmap.query")
	defer func() {
		observability.FinishSpan(span, err, attribute.Int("resultmap.results", len(results)))
	}()

	rows, err := executor.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	maps, err := BuildResultMaps(columns, q.Shape, a.namer)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	registry, err := mapping.NewRegistry(maps...)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	a.logger.Debug("built result maps",
		slog.Int("columns", len(columns)),
		slog.Any("result_maps", registry.IDs()),
	)

	opts := []engine.Option{
		engine.WithSettings(a.cfg.Mapping.Settings()),
		engine.WithLogger(a.logger),
	}
	if a.metrics != nil {
		opts = append(opts, engine.WithMetrics(a.metrics))
	}
	stmt := engine.Statement{ID: "rowmap", ResultMaps: []string{RootMapID}, ResultOrdered: q.Ordered}
	return engine.NewHandler(registry, opts...).List(ctx, rows, stmt, q.Bounds)
}
