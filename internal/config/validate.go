package config

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"strings"

	"dumpload/internal/storage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding worth surfacing that does not block
	// execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "works.batch_size").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

var (
	knownKinds        = []string{"sqlite", "postgres", "mssql", "mysql", "memory"}
	journalModes      = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	synchronousModes  = []string{"OFF", "NORMAL", "FULL", "EXTRA", "0", "1", "2", "3"}
	tempStores        = []string{"DEFAULT", "FILE", "MEMORY", "0", "1", "2"}
	lockingModes      = []string{"NORMAL", "EXCLUSIVE"}
	logFormats        = []string{"json", "console"}
	logLevels         = []string{"debug", "info", "warn", "error"}
	metricsBackends   = []string{"none", "pushgateway", "datadog"}
	schemaLessBackend = []string{"sqlite", "memory"}
)

// Validate lints c without mutating it. Callers decide whether warnings are
// fatal; Err folds the errors into one value.
func Validate(c Config) []Issue {
	var issues []Issue
	issues = append(issues, validateStore(c.Store)...)
	issues = append(issues, validateWorks(c.Works)...)
	if c.Store.Kind == "sqlite" {
		issues = append(issues, validateSQLite(c.SQLite)...)
	}
	issues = append(issues, validateLog(c.Log)...)
	issues = append(issues, validateMetrics(c.Metrics)...)
	return issues
}

// Err joins the error-severity issues, or returns nil when there are none.
func Err(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	return errors.Join(errs...)
}

func errorf(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)}
}

func warnf(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)}
}

func oneOf(v string, set []string) bool {
	return slices.Contains(set, strings.ToUpper(v)) || slices.Contains(set, strings.ToLower(v))
}

func validateStore(s Store) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, errorf("store.kind", "store.kind must not be empty"))
	}
	if kinds := storeKinds(); !slices.Contains(kinds, s.Kind) {
		// Backends register themselves; an unknown kind fails at open time.
		issues = append(issues, warnf("store.kind", "unknown store kind %q (known: %s); ensure a matching backend is registered",
			s.Kind, strings.Join(kinds, ", ")))
	}
	if strings.TrimSpace(s.DSN) == "" && s.Kind != "memory" {
		issues = append(issues, errorf("store.dsn", "%s store requires a non-empty dsn", s.Kind))
	}
	if s.Schema != "" && slices.Contains(schemaLessBackend, s.Kind) {
		issues = append(issues, warnf("store.schema", "%s has no schemas; %q is ignored", s.Kind, s.Schema))
	}
	return issues
}

func validateWorks(w Works) []Issue {
	var issues []Issue
	if w.BatchSize <= 0 {
		issues = append(issues, errorf("works.batch_size", "batch_size must be > 0, got %d", w.BatchSize))
	}
	switch {
	case w.CommitInterval < 0:
		issues = append(issues, warnf("works.commit_interval", "negative commit_interval is treated as 0 (single final commit)"))
	case w.CommitInterval > 0 && w.BatchSize > 0 && w.CommitInterval < int64(w.BatchSize):
		issues = append(issues, warnf("works.commit_interval",
			"commit_interval %d is below batch_size %d; every batch will commit and checkpoint", w.CommitInterval, w.BatchSize))
	}
	if w.CountWorkers < 0 {
		issues = append(issues, errorf("works.count_workers", "count_workers must be >= 0, got %d", w.CountWorkers))
	}
	return issues
}

func validateSQLite(s SQLite) []Issue {
	var issues []Issue
	if s.PageSize < 512 || s.PageSize > 65536 || bits.OnesCount(uint(s.PageSize)) != 1 {
		issues = append(issues, errorf("sqlite.page_size", "page_size must be a power of two between 512 and 65536, got %d", s.PageSize))
	}
	if !oneOf(s.JournalMode, journalModes) {
		issues = append(issues, errorf("sqlite.journal_mode", "unknown journal_mode %q", s.JournalMode))
	} else if !strings.EqualFold(s.JournalMode, "WAL") {
		issues = append(issues, warnf("sqlite.journal_mode", "journal_mode %s disables WAL checkpoints", s.JournalMode))
	}
	if !oneOf(s.Synchronous, synchronousModes) {
		issues = append(issues, errorf("sqlite.synchronous", "unknown synchronous mode %q", s.Synchronous))
	}
	if !oneOf(s.TempStore, tempStores) {
		issues = append(issues, errorf("sqlite.temp_store", "unknown temp_store %q", s.TempStore))
	}
	if !oneOf(s.LockingMode, lockingModes) {
		issues = append(issues, errorf("sqlite.locking_mode", "unknown locking_mode %q", s.LockingMode))
	}
	if s.MmapSize < 0 {
		issues = append(issues, errorf("sqlite.mmap_size", "mmap_size must be >= 0, got %d", s.MmapSize))
	}
	if s.WALAutocheckpoint < 0 {
		issues = append(issues, errorf("sqlite.wal_autocheckpoint", "wal_autocheckpoint must be >= 0, got %d", s.WALAutocheckpoint))
	}
	return issues
}

func validateLog(l Log) []Issue {
	var issues []Issue
	if l.Format != "" && !oneOf(l.Format, logFormats) {
		issues = append(issues, errorf("log.format", "unknown log format %q (json|console)", l.Format))
	}
	if l.Level != "" && !oneOf(l.Level, logLevels) {
		issues = append(issues, errorf("log.level", "unknown log level %q", l.Level))
	}
	if l.File != "" && l.MaxSizeMB <= 0 {
		issues = append(issues, warnf("log.max_size_mb", "max_size_mb <= 0 falls back to the rotator default (100 MB)"))
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	backend := m.Backend
	if backend == "" {
		backend = "none"
	}
	if !oneOf(backend, metricsBackends) {
		return append(issues, errorf("metrics.backend", "unknown metrics backend %q (none|pushgateway|datadog)", m.Backend))
	}
	switch strings.ToLower(backend) {
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, errorf("metrics.pushgateway_url", "pushgateway backend requires pushgateway_url"))
		}
	case "datadog":
		if strings.TrimSpace(m.StatsdAddr) == "" {
			issues = append(issues, errorf("metrics.statsd_addr", "datadog backend requires statsd_addr"))
		}
	}
	return issues
}

// storeKinds is the built-in kinds plus whatever is registered, sorted.
func storeKinds() []string {
	kinds := append(slices.Clone(knownKinds), storage.ListKinds()...)
	slices.Sort(kinds)
	return slices.Compact(kinds)
}
