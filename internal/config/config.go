// Package config defines the configuration model of the dumpload commands and
// loads it from defaults, an optional config file, DUMPLOAD_* environment
// variables and command-line flags, in increasing order of precedence.
//
// Example file (any format viper reads; YAML shown):
//
//	store:
//	  kind: sqlite
//	  dsn: data/database/openlibrary.sqlite3
//	works:
//	  dump: data/dumps/ol_dump_works.txt
//	  batch_size: 100000
//	  commit_interval: 1000000
//	sqlite:
//	  cache_size: -2000000
package config

import (
	"strconv"

	"dumpload/internal/storage"
)

// Default paths, relative to the working directory.
const (
	DefaultDBPath      = "data/database/openlibrary.sqlite3"
	DefaultWorksDump   = "data/dumps/ol_dump_works.txt"
	DefaultAuthorsDump = "data/dumps/ol_dump_authors.txt"
)

// Config is the full configuration of one dumpload invocation.
type Config struct {
	Store   Store   `mapstructure:"store" json:"store"`
	Works   Works   `mapstructure:"works" json:"works"`
	Authors Authors `mapstructure:"authors" json:"authors"`
	SQLite  SQLite  `mapstructure:"sqlite" json:"sqlite"`
	Log     Log     `mapstructure:"log" json:"log"`
	Metrics Metrics `mapstructure:"metrics" json:"metrics"`
}

// Store selects the backend.
type Store struct {
	// Kind is a registered storage kind: sqlite, postgres, mssql, mysql or
	// memory.
	Kind string `mapstructure:"kind" json:"kind"`
	// DSN is the database path for sqlite, a connection string otherwise.
	DSN string `mapstructure:"dsn" json:"dsn"`
	// Schema qualifies table names on servers with schemas.
	Schema string `mapstructure:"schema" json:"schema"`
}

// Works configures the works import.
type Works struct {
	Dump           string `mapstructure:"dump" json:"dump"`
	BatchSize      int    `mapstructure:"batch_size" json:"batch_size"`
	CommitInterval int64  `mapstructure:"commit_interval" json:"commit_interval"`
	Force          bool   `mapstructure:"force" json:"force"`
	Vacuum         bool   `mapstructure:"vacuum" json:"vacuum"`
	CountLines     bool   `mapstructure:"count_lines" json:"count_lines"`
	// CountWorkers bounds the line counter's goroutines; 0 means GOMAXPROCS.
	CountWorkers int    `mapstructure:"count_workers" json:"count_workers"`
	SkipLog      string `mapstructure:"skip_log" json:"skip_log"`
}

// Authors configures the authors import.
type Authors struct {
	Dump    string `mapstructure:"dump" json:"dump"`
	SkipLog string `mapstructure:"skip_log" json:"skip_log"`
}

// SQLite holds the PRAGMA values applied when the SQLite store is opened.
type SQLite struct {
	PageSize          int    `mapstructure:"page_size" json:"page_size"`
	JournalMode       string `mapstructure:"journal_mode" json:"journal_mode"`
	Synchronous       string `mapstructure:"synchronous" json:"synchronous"`
	TempStore         string `mapstructure:"temp_store" json:"temp_store"`
	CacheSize         int64  `mapstructure:"cache_size" json:"cache_size"`
	MmapSize          int64  `mapstructure:"mmap_size" json:"mmap_size"`
	WALAutocheckpoint int    `mapstructure:"wal_autocheckpoint" json:"wal_autocheckpoint"`
	LockingMode       string `mapstructure:"locking_mode" json:"locking_mode"`
	ForeignKeys       bool   `mapstructure:"foreign_keys" json:"foreign_keys"`
}

// Pragmas renders s in application order. page_size comes first: it only
// takes effect before the database is written or switched to WAL.
func (s SQLite) Pragmas() []storage.Pragma {
	fk := "OFF"
	if s.ForeignKeys {
		fk = "ON"
	}
	return []storage.Pragma{
		{Name: "page_size", Value: strconv.Itoa(s.PageSize)},
		{Name: "journal_mode", Value: s.JournalMode},
		{Name: "synchronous", Value: s.Synchronous},
		{Name: "temp_store", Value: s.TempStore},
		{Name: "cache_size", Value: strconv.FormatInt(s.CacheSize, 10)},
		{Name: "mmap_size", Value: strconv.FormatInt(s.MmapSize, 10)},
		{Name: "wal_autocheckpoint", Value: strconv.Itoa(s.WALAutocheckpoint)},
		{Name: "locking_mode", Value: s.LockingMode},
		{Name: "foreign_keys", Value: fk},
	}
}

// lookupMmapCap bounds mmap_size for lookups.
const lookupMmapCap = 256 << 20

// LookupPragmas is the read-side set used when a store is opened for
// lookups: shared locking so several readers and a later import can open the
// file, a bounded cache and mmap, and query_only so nothing is written.
func (s SQLite) LookupPragmas() []storage.Pragma {
	return []storage.Pragma{
		{Name: "locking_mode", Value: "NORMAL"},
		{Name: "busy_timeout", Value: "5000"},
		{Name: "query_only", Value: "ON"},
		{Name: "temp_store", Value: s.TempStore},
		{Name: "cache_size", Value: "-65536"},
		{Name: "mmap_size", Value: strconv.FormatInt(min(s.MmapSize, lookupMmapCap), 10)},
	}
}

// Log configures logging.
type Log struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	Verbose    bool   `mapstructure:"verbose" json:"verbose"`
	File       string `mapstructure:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is none, pushgateway or datadog.
	Backend        string `mapstructure:"backend" json:"backend"`
	PushgatewayURL string `mapstructure:"pushgateway_url" json:"pushgateway_url"`
	StatsdAddr     string `mapstructure:"statsd_addr" json:"statsd_addr"`
	// Job labels every metric; empty means the subcommand name.
	Job string `mapstructure:"job" json:"job"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Store: Store{Kind: "sqlite", DSN: DefaultDBPath},
		Works: Works{
			Dump:           DefaultWorksDump,
			BatchSize:      storage.DefaultBatchSize,
			CommitInterval: storage.DefaultCommitInterval,
			CountLines:     true,
		},
		Authors: Authors{Dump: DefaultAuthorsDump},
		SQLite:  DefaultSQLite(),
		Log:     Log{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Metrics: Metrics{Backend: "none"},
	}
}

// DefaultSQLite returns the bulk-load tuning: WAL with relaxed sync, a
// roughly 2 GB page cache, 16 GiB of mmap and an exclusive lock for the run.
func DefaultSQLite() SQLite {
	return SQLite{
		PageSize:          32768,
		JournalMode:       "WAL",
		Synchronous:       "NORMAL",
		TempStore:         "MEMORY",
		CacheSize:         -2_000_000,
		MmapSize:          16 << 30,
		WALAutocheckpoint: 20_000,
		LockingMode:       "EXCLUSIVE",
		ForeignKeys:       false,
	}
}

// StorageConfig maps the store section onto storage.Config. Pragmas are only
// attached for sqlite.
func (c Config) StorageConfig() storage.Config {
	sc := storage.Config{Kind: c.Store.Kind, DSN: c.Store.DSN, Schema: c.Store.Schema}
	if c.Store.Kind == "sqlite" {
		sc.Pragmas = c.SQLite.Pragmas()
	}
	return sc
}
