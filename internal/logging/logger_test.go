package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "json", Output: &buf})

	logger.WithStatement("blog.select").Debug("deferred load", slog.String("property", "Author"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "deferred load", entry["msg"])
	assert.Equal(t, "blog.select", entry["statement_id"])
	assert.Equal(t, "Author", entry["property"])
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Output: &buf})

	logger.Info("hidden")
	assert.Empty(t, buf.String())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestDefaultAndContext(t *testing.T) {
	t.Cleanup(func() { defaultLogger.Store(nil) })

	assert.NotNil(t, Default().Logger)

	var buf bytes.Buffer
	installed := NewLogger(Config{Output: &buf})
	SetDefault(installed)
	assert.Same(t, installed, Default())
	assert.Same(t, installed, FromContext(context.Background()))

	scoped := installed.WithFields("component", "engine")
	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, FromContext(ctx))

	ctx = WithStatementContext(ctx, "post.byBlog")
	assert.Equal(t, "post.byBlog", GetStatementID(ctx))
	assert.Equal(t, "", GetStatementID(context.Background()))
}

type recordingExporter struct {
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func TestNewLoggerFansOutToProvider(t *testing.T) {
	exporter := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	var buf bytes.Buffer
	logger := NewLogger(Config{Output: &buf, LoggerProvider: provider})
	logger.Warn("unknown column", slog.String("column", "extra"))

	assert.Contains(t, buf.String(), "unknown column")
	require.Len(t, exporter.records, 1)
	assert.Equal(t, "unknown column", exporter.records[0].Body().AsString())
}
