package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const envPrefix = "RESULTMAP"

var defineFlagsOnce sync.Once

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) used for secrets read from files or a prompt
// 2. Command line flags
// 3. Environment variables (RESULTMAP_MAPPING_LAZY_LOADING_ENABLED)
// 4. Config file (resultmap.yaml)
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() { DefineFlags(pflag.CommandLine) })
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return load(pflag.CommandLine)
}

func load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath, _ := flags.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("resultmap")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/resultmap/")
		v.AddConfigPath("$HOME/.resultmap")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v, flags)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToStringSliceHookFunc(","),
		),
	)
}

// bindChangedFlagsToViper copies only explicitly-set configuration flags into
// Viper. Flags without a dotted key belong to the command, not the config.
func bindChangedFlagsToViper(v *viper.Viper, flags *pflag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || !strings.Contains(f.Name, ".") {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := flags.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := flags.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := flags.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := flags.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := flags.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := flags.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// DefineFlags registers the configuration flags on flags using canonical snake_case keys.
func DefineFlags(flags *pflag.FlagSet) {
	// Mapping flags
	flags.String("mapping.auto_mapping_behavior", "", "Automatic column mapping: none, partial, full")
	flags.String("mapping.auto_mapping_unknown_column_behavior", "", "Unmapped column handling: none, warning, failing")
	flags.Bool("mapping.map_underscore_to_camel_case", false, "Match snake_case columns to CamelCase properties")
	flags.Bool("mapping.call_setters_on_nulls", false, "Assign NULL column values to nillable properties")
	flags.Bool("mapping.return_instance_for_empty_row", false, "Return an empty object when every column is NULL")
	flags.Bool("mapping.lazy_loading_enabled", false, "Load nested queries lazily on first access")
	flags.Bool("mapping.safe_row_bounds_enabled", false, "Reject row bounds on statements with nested mappings")
	flags.Bool("mapping.safe_result_handler_enabled", false, "Reject unordered consumers on statements with nested mappings")
	flags.Bool("mapping.warn_degenerate_keys", false, "Warn when nested mappings produce rows without an identity")
	flags.String("mapping.local_cache_scope", "", "Lifetime of cached statement results: session, statement")

	// Database flags
	flags.String("database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)")
	flags.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	flags.String("database.host", "", "Database host")
	flags.Int("database.port", 0, "Database port")
	flags.String("database.user", "", "Database user")
	flags.String("database.password", "", "Database password")
	flags.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	flags.Bool("database.password_prompt", false, "Prompt for database password securely")
	flags.String("database.database", "", "Database name")
	flags.String("database.tls_mode", "", "TLS mode (off, preferred, skip-verify, true)")
	flags.Int("database.pool.max_open", 0, "Maximum open database connections")
	flags.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	flags.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	flags.Duration("database.query_timeout", 0, "Timeout for a single mapped query (0 = none)")

	// Observability flags
	flags.String("observability.service_name", "", "Service name for observability")
	flags.String("observability.service_version", "", "Service version for observability")
	flags.String("observability.environment", "", "Environment name (dev, staging, prod)")
	flags.Bool("observability.metrics_enabled", false, "Collect mapping metrics and print them on exit")
	flags.Bool("observability.tracing_enabled", false, "Export traces over OTLP")
	flags.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	flags.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	flags.String("observability.logging.format", "", "Log format (json, text)")
	flags.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	flags.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	flags.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	flags.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	flags.Duration("observability.otlp.timeout", 0, "OTLP export timeout")

	flags.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("mapping.auto_mapping_behavior", "partial")
	v.SetDefault("mapping.auto_mapping_unknown_column_behavior", "none")
	v.SetDefault("mapping.map_underscore_to_camel_case", true)
	v.SetDefault("mapping.call_setters_on_nulls", false)
	v.SetDefault("mapping.return_instance_for_empty_row", false)
	v.SetDefault("mapping.lazy_loading_enabled", false)
	v.SetDefault("mapping.safe_row_bounds_enabled", false)
	v.SetDefault("mapping.safe_result_handler_enabled", true)
	v.SetDefault("mapping.warn_degenerate_keys", true)
	v.SetDefault("mapping.local_cache_scope", "session")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.tls_mode", "")
	v.SetDefault("database.params", map[string]string{})
	v.SetDefault("database.pool.max_open", 4)
	v.SetDefault("database.pool.max_idle", 2)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.query_timeout", 30*time.Second)

	v.SetDefault("observability.service_name", "rowmap")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", false)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)

	v.SetDefault("naming.collections", map[string]string{})
	v.SetDefault("naming.associations", map[string]string{})
	v.SetDefault("naming.fields", map[string]string{})
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	pwd, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

var stdin io.Reader = os.Stdin

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if strings.TrimSpace(path) == "@-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, key := range []string{"database.dsn_file", "database.password_file"} {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
