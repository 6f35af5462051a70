// Package cliapp owns the runtime resources of the rowmap command: logging, telemetry
// providers and the database handle, and runs ad-hoc queries through the mapping engine.
package cliapp

import (
	"database/sql"
	"fmt"
	"sync"

	"resultmap/internal/config"
	"resultmap/internal/dbexec"
	"resultmap/internal/logging"
	"resultmap/internal/naming"
	"resultmap/internal/observability"
)

// App owns runtime resources for the rowmap lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	namer  *naming.Namer

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        *observability.MappingMetrics

	db       *sql.DB
	executor dbexec.QueryExecutor

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		namer:  naming.New(cfg.Naming, logger.Logger),
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
