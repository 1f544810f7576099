package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dumpload/internal/config"
	"dumpload/internal/logging"
	"dumpload/internal/storage"
)

// Persistent flag names.
const (
	flagConfig         = "config"
	flagStore          = "store"
	flagDB             = "db"
	flagSchema         = "schema"
	flagVerbose        = "verbose"
	flagLogLevel       = "log-level"
	flagLogFormat      = "log-format"
	flagLogFile        = "log-file"
	flagMetricsBackend = "metrics-backend"
	flagPushgatewayURL = "pushgateway-url"
	flagStatsdAddr     = "statsd-addr"
	flagJob            = "job"
)

// persistentBindings ties the flags every subcommand inherits to config keys.
var persistentBindings = config.FlagBindings{
	"store.kind":              flagStore,
	"store.dsn":               flagDB,
	"store.schema":            flagSchema,
	"log.verbose":             flagVerbose,
	"log.level":               flagLogLevel,
	"log.format":              flagLogFormat,
	"log.file":                flagLogFile,
	"metrics.backend":         flagMetricsBackend,
	"metrics.pushgateway_url": flagPushgatewayURL,
	"metrics.statsd_addr":     flagStatsdAddr,
	"metrics.job":             flagJob,
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	def := config.Default()
	rc := &cobra.Command{
		Use:   "dumpload",
		Short: "Load Open Library dumps into a SQL store",
		Long: `dumpload streams Open Library works and authors dumps into a relational
store, merging works that share a normalized title, and looks rows up by
normalized title or author name.

Settings come from flags, DUMPLOAD_* environment variables (store.dsn is
DUMPLOAD_STORE_DSN), an optional --config file and built-in defaults, in that
order of precedence.`,
		SilenceUsage: true,
	}

	pf := rc.PersistentFlags()
	pf.String(flagConfig, "", "configuration file (yaml, toml or json)")
	pf.String(flagStore, def.Store.Kind, "store kind: "+strings.Join(storage.ListKinds(), ", "))
	pf.String(flagDB, def.Store.DSN, "database file for sqlite, connection string otherwise")
	pf.String(flagSchema, def.Store.Schema, "schema qualifying table names on servers")
	pf.BoolP(flagVerbose, "v", def.Log.Verbose, "debug logging, including every skipped line")
	pf.String(flagLogLevel, def.Log.Level, "log level: debug, info, warn or error")
	pf.String(flagLogFormat, def.Log.Format, "log format: json or console")
	pf.String(flagLogFile, def.Log.File, "also write JSON logs to this size-rotated file")
	pf.String(flagMetricsBackend, def.Metrics.Backend, "metrics backend: none, pushgateway or datadog")
	pf.String(flagPushgatewayURL, def.Metrics.PushgatewayURL, "Prometheus Pushgateway base URL")
	pf.String(flagStatsdAddr, def.Metrics.StatsdAddr, "DogStatsD address, e.g. 127.0.0.1:8125")
	pf.String(flagJob, def.Metrics.Job, "job label on metrics (default: the subcommand name)")

	rc.AddCommand(newWorksCommand(stdout, stderr))
	rc.AddCommand(newAuthorsCommand(stdout, stderr))
	rc.AddCommand(newLookupCommand(stdout, stderr))
	rc.AddCommand(newConfigCommand(stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// env is what a subcommand gets once configuration, logging and metrics are
// set up.
type env struct {
	cfg config.Config
	log *zap.Logger
}

// loadConfig layers the config file, environment and cmd's flags over the
// defaults and validates the result. Warnings go to stderr.
func loadConfig(cmd *cobra.Command, bindings config.FlagBindings) (config.Config, error) {
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	all := make(config.FlagBindings, len(persistentBindings)+len(bindings))
	for k, v := range persistentBindings {
		all[k] = v
	}
	for k, v := range bindings {
		all[k] = v
	}

	cfg, err := config.Load(path, cmd.Flags(), all)
	if err != nil {
		return cfg, err
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
	}
	if err := config.Err(issues); err != nil {
		return cfg, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// withEnv loads configuration, builds the logger and metrics backend, runs fn
// and tears everything down again.
func withEnv(cmd *cobra.Command, job string, bindings config.FlagBindings, fn func(context.Context, env) error) error {
	cfg, err := loadConfig(cmd, bindings)
	if err != nil {
		return err
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = job
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Verbose:    cfg.Log.Verbose,
		Format:     cfg.Log.Format,
		Output:     cmd.ErrOrStderr(),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closeLog()

	stopMetrics := setupMetrics(cfg.Metrics, log)
	defer stopMetrics()

	return fn(cmd.Context(), env{cfg: cfg, log: log})
}
