package postgres

import (
	"go.uber.org/zap"

	gddl "dumpload/internal/ddl"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN    string // connection string for pgxpool
	Schema string // schema holding works and authors; empty means search_path
	Logger *zap.Logger
}

func (c Config) works() gddl.TableDef   { return gddl.WorksTable().InSchema(c.Schema) }
func (c Config) authors() gddl.TableDef { return gddl.AuthorsTable().InSchema(c.Schema) }
