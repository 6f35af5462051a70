package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "resultmap"

// MappingMetrics holds the instruments recorded by the mapping engine and session.
// A nil *MappingMetrics records nothing.
type MappingMetrics struct {
	passDuration      metric.Float64Histogram
	passCounter       metric.Int64Counter
	errorCounter      metric.Int64Counter
	rowsProcessed     metric.Int64Counter
	objectsDelivered  metric.Int64Counter
	subQueries        metric.Int64Counter
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	relationsLinked   metric.Int64Counter
	degenerateKeys    metric.Int64Counter
	unknownColumns    metric.Int64Counter
	lazyLoadsExecuted metric.Int64Counter
}

// InitMappingMetrics creates the instruments on the global meter provider.
func InitMappingMetrics() (*MappingMetrics, error) {
	return NewMappingMetrics(otel.GetMeterProvider())
}

// NewMappingMetrics creates the instruments on the given meter provider.
func NewMappingMetrics(provider metric.MeterProvider) (*MappingMetrics, error) {
	meter := provider.Meter(meterName)
	m := &MappingMetrics{}

	var err error
	if m.passDuration, err = meter.Float64Histogram(
		"resultmap.pass.duration",
		metric.WithDescription("Duration of mapping passes over a cursor in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pass duration histogram: %w", err)
	}

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.passCounter, "resultmap.passes.total", "Total number of mapping passes"},
		{&m.errorCounter, "resultmap.errors.total", "Total number of failed mapping passes"},
		{&m.rowsProcessed, "resultmap.rows.processed", "Number of rows read from cursors"},
		{&m.objectsDelivered, "resultmap.objects.delivered", "Number of top-level objects delivered to consumers"},
		{&m.subQueries, "resultmap.subqueries.total", "Number of nested queries by load mode"},
		{&m.cacheHits, "resultmap.cache.hits", "Number of statement cache hits"},
		{&m.cacheMisses, "resultmap.cache.misses", "Number of statement cache misses"},
		{&m.relationsLinked, "resultmap.relations.linked", "Number of objects linked from secondary result sets"},
		{&m.degenerateKeys, "resultmap.keys.degenerate", "Number of rows of nested mappings that produced no identity"},
		{&m.unknownColumns, "resultmap.columns.unknown", "Number of unmapped columns that matched no property"},
		{&m.lazyLoadsExecuted, "resultmap.lazy.loads", "Number of lazy values loaded on access"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}
	return m, nil
}

// InitMetrics initializes the mapping metrics and logs the outcome.
func InitMetrics(logger *slog.Logger) (*MappingMetrics, error) {
	metrics, err := InitMappingMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mapping metrics: %w", err)
	}

	logger.Info("mapping metrics initialized")
	return metrics, nil
}

// RecordPass records one mapping pass with its duration, row count and outcome.
func (m *MappingMetrics) RecordPass(ctx context.Context, statement string, duration time.Duration, rows, objects int64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("statement", statement),
		attribute.Bool("has_errors", err != nil),
	)
	m.passDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.passCounter.Add(ctx, 1, attrs)
	m.rowsProcessed.Add(ctx, rows, metric.WithAttributes(attribute.String("statement", statement)))
	m.objectsDelivered.Add(ctx, objects, metric.WithAttributes(attribute.String("statement", statement)))
	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("statement", statement)))
	}
}

// RecordSubQuery counts a nested query by mode: eager, lazy or deferred.
func (m *MappingMetrics) RecordSubQuery(ctx context.Context, statement, mode string) {
	if m == nil {
		return
	}
	m.subQueries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("statement", statement),
		attribute.String("mode", mode),
	))
}

// RecordCacheLookup counts a statement cache hit or miss.
func (m *MappingMetrics) RecordCacheLookup(ctx context.Context, statement string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("statement", statement))
	if hit {
		m.cacheHits.Add(ctx, 1, attrs)
	} else {
		m.cacheMisses.Add(ctx, 1, attrs)
	}
}

// RecordRelationsLinked counts objects linked to parents from a secondary result set.
func (m *MappingMetrics) RecordRelationsLinked(ctx context.Context, resultSet string, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.relationsLinked.Add(ctx, count, metric.WithAttributes(attribute.String("result_set", resultSet)))
}

// RecordDegenerateKey counts a row whose identity key was empty.
func (m *MappingMetrics) RecordDegenerateKey(ctx context.Context, mappingID string) {
	if m == nil {
		return
	}
	m.degenerateKeys.Add(ctx, 1, metric.WithAttributes(attribute.String("mapping", mappingID)))
}

// RecordUnknownColumn counts an unmapped column that matched no property.
func (m *MappingMetrics) RecordUnknownColumn(ctx context.Context, mappingID string) {
	if m == nil {
		return
	}
	m.unknownColumns.Add(ctx, 1, metric.WithAttributes(attribute.String("mapping", mappingID)))
}

// RecordLazyLoad counts a lazy value loaded on access.
func (m *MappingMetrics) RecordLazyLoad(ctx context.Context, statement string) {
	if m == nil {
		return
	}
	m.lazyLoadsExecuted.Add(ctx, 1, metric.WithAttributes(attribute.String("statement", statement)))
}
