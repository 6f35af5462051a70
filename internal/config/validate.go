package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"resultmap/internal/engine"
	"resultmap/internal/session"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns both fatal errors and warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Mapping.validate(result)
	c.Database.validate(result)
	c.Observability.validate(result)
	return result
}

func (m *MappingConfig) validate(result *ValidationResult) {
	if _, err := engine.ParseAutoMappingBehavior(m.AutoMappingBehavior); err != nil {
		result.fail("mapping.auto_mapping_behavior", err.Error(), "use none, partial or full")
	}
	if _, err := engine.ParseUnknownColumnBehavior(m.AutoMappingUnknownColumnBehavior); err != nil {
		result.fail("mapping.auto_mapping_unknown_column_behavior", err.Error(), "use none, warning or failing")
	}
	if _, err := session.ParseCacheScope(m.LocalCacheScope); err != nil {
		result.fail("mapping.local_cache_scope", err.Error(), "use session or statement")
	}
	if !m.SafeResultHandlerEnabled {
		result.warn("mapping.safe_result_handler_enabled", "unordered consumers may observe partially built nested objects", "")
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(d.DSN) != "" {
		if _, err := d.driverConfig(); err != nil {
			result.fail("database.dsn", err.Error(), "")
		}
	} else {
		if strings.TrimSpace(d.Host) == "" {
			result.fail("database.host", "host is required when database.dsn is not set", "")
		}
		if d.Port < 1 || d.Port > 65535 {
			result.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if strings.TrimSpace(d.User) == "" {
			result.fail("database.user", "user is required when database.dsn is not set", "")
		}
	}

	switch strings.ToLower(strings.TrimSpace(d.TLSMode)) {
	case "", "off", "false", "true", "preferred", "skip-verify":
	default:
		result.fail("database.tls_mode", fmt.Sprintf("unsupported TLS mode %q", d.TLSMode), "use off, preferred, skip-verify or true")
	}

	if d.Pool.MaxOpen < 0 {
		result.fail("database.pool.max_open", "must not be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "must not be negative", "")
	}
	if d.Pool.MaxOpen > 0 && d.Pool.MaxIdle > d.Pool.MaxOpen {
		result.warn("database.pool.max_idle", "exceeds max_open and will be capped", "")
	}
	if d.QueryTimeout < 0 {
		result.fail("database.query_timeout", "must not be negative", "")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	switch strings.ToLower(o.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		result.fail("observability.logging.level", fmt.Sprintf("unsupported level %q", o.Logging.Level), "use debug, info, warn or error")
	}
	switch strings.ToLower(o.Logging.Format) {
	case "", "json", "text":
	default:
		result.fail("observability.logging.format", fmt.Sprintf("unsupported format %q", o.Logging.Format), "use json or text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", "must be between 0.0 and 1.0", "")
	}
	if o.TracingEnabled {
		cfg := o.GetTracesConfig()
		cfg.validate("observability.traces", result)
	}
	if o.Logging.ExportsEnabled {
		cfg := o.GetLogsConfig()
		cfg.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	if !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q", o.Endpoint), "use host:port or an http(s) URL")
	}
	switch strings.ToLower(o.Protocol) {
	case "", "grpc", "http", "http/protobuf":
	default:
		result.fail(prefix+".protocol", fmt.Sprintf("unsupported OTLP protocol %q", o.Protocol), "use grpc or http/protobuf")
	}
	switch strings.ToLower(o.Compression) {
	case "", "none", "gzip":
	default:
		result.fail(prefix+".compression", fmt.Sprintf("unsupported compression %q", o.Compression), "use none or gzip")
	}
	if o.Insecure && (o.TLSCertFile != "" || o.TLSClientCertFile != "") {
		result.warn(prefix+".insecure", "TLS files are ignored when insecure is set", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return false
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		u, err := url.Parse(endpoint)
		return err == nil && u.Host != ""
	}
	host, port, err := net.SplitHostPort(endpoint)
	return err == nil && host != "" && port != ""
}
