package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"resultmap/internal/cliapp"
	"resultmap/internal/config"
	"resultmap/internal/engine"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("rowmap error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func defineQueryFlags(flags *pflag.FlagSet) {
	flags.Bool("version", false, "Print version and exit")
	flags.String("query", "", "SQL query to run")
	flags.StringSlice("arg", nil, "Positional query argument (repeatable)")
	flags.String("id", "id", "Column identifying a row at every nesting level")
	flags.StringSlice("collection", nil, "Column prefix nested as a list (repeatable)")
	flags.StringSlice("association", nil, "Column prefix nested as a single object (repeatable)")
	flags.String("format", cliapp.FormatJSON, "Output format: json or spew")
	flags.Int("offset", 0, "Number of top-level rows to skip")
	flags.Int("limit", 0, "Maximum number of top-level rows (0 means unbounded)")
	flags.Bool("ordered", false, "Rows of one top-level object arrive together")
	flags.Bool("print-metrics", false, "Write collected metrics to stderr on exit")
}

// queryFromFlags reads the query description from parsed flags.
func queryFromFlags(flags *pflag.FlagSet) (cliapp.Query, error) {
	sqlText, _ := flags.GetString("query")
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return cliapp.Query{}, fmt.Errorf("--query is required")
	}
	rawArgs, _ := flags.GetStringSlice("arg")
	idColumn, _ := flags.GetString("id")
	collections, _ := flags.GetStringSlice("collection")
	associations, _ := flags.GetStringSlice("association")
	offset, _ := flags.GetInt("offset")
	limit, _ := flags.GetInt("limit")
	ordered, _ := flags.GetBool("ordered")

	if offset < 0 || limit < 0 {
		return cliapp.Query{}, fmt.Errorf("--offset and --limit must not be negative")
	}
	bounds := engine.RowBounds{Offset: offset, Limit: limit}

	args := make([]any, 0, len(rawArgs))
	for _, a := range rawArgs {
		args = append(args, a)
	}
	return cliapp.Query{
		SQL:  sqlText,
		Args: args,
		Shape: cliapp.Shape{
			IDColumn:     strings.TrimSpace(idColumn),
			Collections:  collections,
			Associations: associations,
		},
		Bounds:  bounds,
		Ordered: ordered,
	}, nil
}

func run() error {
	defineQueryFlags(pflag.CommandLine)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("rowmap %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	query, err := queryFromFlags(pflag.CommandLine)
	if err != nil {
		return err
	}
	format, _ := pflag.CommandLine.GetString("format")
	printMetrics, _ := pflag.CommandLine.GetBool("print-metrics")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, loggerProvider, err := cliapp.InitLogger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := cliapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	runErr := func() error {
		if err := app.Init(ctx); err != nil {
			return err
		}
		results, err := app.Run(ctx, query)
		if err != nil {
			return err
		}
		logger.Debug("query mapped", slog.Int("results", len(results)))
		return cliapp.WriteResults(os.Stdout, format, results)
	}()

	if printMetrics {
		if err := app.WriteMetrics(os.Stderr); err != nil {
			logger.Warn("failed to write metrics", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	shutdownErr := app.Shutdown(shutdownCtx)
	cancel()

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}
