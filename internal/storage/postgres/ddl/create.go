// Package ddl renders Postgres statements for the generic ddl model, using
// double-quoted identifiers, schema-qualified names and IF [NOT] EXISTS
// guards.
package ddl

import (
	"fmt"
	"strings"

	gddl "dumpload/internal/ddl"
)

// BuildCreateTableSQL builds a deterministic CREATE TABLE IF NOT EXISTS
// statement. Primary-key columns are always NOT NULL and the PRIMARY KEY
// constraint lists its columns alphabetically.
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	cols, err := gddl.ColumnClauses(t.Resolve(MapType), QuoteIdent, gddl.ClauseOptions{
		PrimaryKeyNotNull: true,
		SortPrimaryKey:    true,
	})
	if err != nil {
		return "", fmt.Errorf("postgres ddl: %w", err)
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		QuoteFQN(t.FQN),
		strings.Join(cols, ",\n  "),
	), nil
}

// BuildDropTableSQL returns DROP TABLE IF EXISTS for fqn.
func BuildDropTableSQL(fqn string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", QuoteFQN(fqn))
}

// BuildCreateIndexSQL returns CREATE INDEX IF NOT EXISTS for i. The index
// lives in the schema of its table.
func BuildCreateIndexSQL(i gddl.IndexDef) (string, error) {
	cols, err := gddl.IndexColumns(i, QuoteIdent)
	if err != nil {
		return "", fmt.Errorf("postgres ddl: %w", err)
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s);",
		gddl.IndexKeyword(i), QuoteIdent(i.Name), QuoteFQN(i.Table), cols), nil
}

// QuoteIdent quotes a single identifier segment for Postgres, e.g.:
//
//	QuoteIdent(`works`)      => `"works"`
//	QuoteIdent(`weird"name`) => `"weird""name"`
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QuoteFQN quotes a possibly schema-qualified name like "public.works".
func QuoteFQN(fqn string) string { return gddl.QuoteFQN(fqn, QuoteIdent) }
