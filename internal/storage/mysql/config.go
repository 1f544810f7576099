// Package mysql implements storage.Repository on MySQL with
// go-sql-driver/mysql.
package mysql

import (
	gddl "dumpload/internal/ddl"
)

// Config holds MySQL repository configuration.
type Config struct {
	// DSN is a go-sql-driver DSN, e.g. "user:pass@tcp(127.0.0.1:3306)/catalog".
	DSN string
	// Schema is the database holding the tables; empty uses the DSN's.
	Schema string
}

func (c Config) works() gddl.TableDef   { return gddl.WorksTable().InSchema(c.Schema) }
func (c Config) authors() gddl.TableDef { return gddl.AuthorsTable().InSchema(c.Schema) }
