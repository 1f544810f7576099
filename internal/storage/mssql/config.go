package mssql

import (
	"go.uber.org/zap"

	gddl "dumpload/internal/ddl"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN    string
	Schema string // e.g. "dbo"; empty uses the login's default schema
	Logger *zap.Logger
}

func (c Config) works() gddl.TableDef   { return gddl.WorksTable().InSchema(c.Schema) }
func (c Config) authors() gddl.TableDef { return gddl.AuthorsTable().InSchema(c.Schema) }
