// Package config loads rowmap configuration from files, env vars, and flags, and validates it.
package config

import (
	"time"

	"resultmap/internal/engine"
	"resultmap/internal/naming"
	"resultmap/internal/session"
)

// Config holds the application configuration.
type Config struct {
	Mapping       MappingConfig       `mapstructure:"mapping"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Naming        naming.Config       `mapstructure:"naming"`
}

// MappingConfig holds the engine's global mapping settings.
type MappingConfig struct {
	AutoMappingBehavior              string `mapstructure:"auto_mapping_behavior"`                // none, partial, full
	AutoMappingUnknownColumnBehavior string `mapstructure:"auto_mapping_unknown_column_behavior"` // none, warning, failing
	MapUnderscoreToCamelCase         bool   `mapstructure:"map_underscore_to_camel_case"`
	CallSettersOnNulls               bool   `mapstructure:"call_setters_on_nulls"`
	ReturnInstanceForEmptyRow        bool   `mapstructure:"return_instance_for_empty_row"`
	LazyLoadingEnabled               bool   `mapstructure:"lazy_loading_enabled"`
	SafeRowBoundsEnabled             bool   `mapstructure:"safe_row_bounds_enabled"`
	SafeResultHandlerEnabled         bool   `mapstructure:"safe_result_handler_enabled"`
	WarnDegenerateKeys               bool   `mapstructure:"warn_degenerate_keys"`
	LocalCacheScope                  string `mapstructure:"local_cache_scope"` // session, statement
}

// CacheScope returns the session cache scope, or the session scope if it cannot be parsed.
func (m MappingConfig) CacheScope() session.CacheScope {
	scope, _ := session.ParseCacheScope(m.LocalCacheScope)
	return scope
}

// Settings converts the mapping section into engine settings.
// Unparseable behaviors fall back to the engine defaults; Validate reports them.
func (m MappingConfig) Settings() engine.Settings {
	settings := engine.DefaultSettings()
	if behavior, err := engine.ParseAutoMappingBehavior(m.AutoMappingBehavior); err == nil {
		settings.AutoMapping = behavior
	}
	if behavior, err := engine.ParseUnknownColumnBehavior(m.AutoMappingUnknownColumnBehavior); err == nil {
		settings.UnknownColumns = behavior
	}
	settings.MapUnderscoreToCamelCase = m.MapUnderscoreToCamelCase
	settings.CallSettersOnNulls = m.CallSettersOnNulls
	settings.ReturnInstanceForEmptyRow = m.ReturnInstanceForEmptyRow
	settings.LazyLoadingEnabled = m.LazyLoadingEnabled
	settings.SafeRowBoundsEnabled = m.SafeRowBoundsEnabled
	settings.SafeResultHandlerEnabled = m.SafeResultHandlerEnabled
	settings.WarnDegenerateKeys = m.WarnDegenerateKeys
	return settings
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	DSN            string             `mapstructure:"dsn"`
	DSNFile        string             `mapstructure:"dsn_file"`
	Host           string             `mapstructure:"host"`
	Port           int                `mapstructure:"port"`
	User           string             `mapstructure:"user"`
	Password       string             `mapstructure:"password"`
	PasswordFile   string             `mapstructure:"password_file"`
	PasswordPrompt bool               `mapstructure:"password_prompt"`
	Database       string             `mapstructure:"database"`
	TLSMode        string             `mapstructure:"tls_mode"` // off, preferred, skip-verify, true
	Params         map[string]string  `mapstructure:"params"`
	Pool           DatabasePoolConfig `mapstructure:"pool"`
	QueryTimeout   time.Duration      `mapstructure:"query_timeout"`
}

// DatabasePoolConfig holds connection pool limits.
type DatabasePoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays the non-zero fields of override over base.
// Insecure always comes from override once a signal section exists.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure
	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryEnabled {
		result.RetryEnabled = true
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
