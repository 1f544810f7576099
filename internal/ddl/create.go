// Package ddl defines a small, backend-agnostic model for the SQL DDL of the
// loaded tables, plus the pieces every dialect renderer shares.
//
// The package stays generic: it does not pick a quoting style or a statement
// shell (IF NOT EXISTS, OBJECT_ID guards). Backend-specific packages
// (internal/storage/{sqlite,postgres,mssql}/ddl) wrap ColumnClauses with the
// shell their engine understands.
package ddl

import (
	"fmt"
	"sort"
	"strings"
)

// Quoter quotes one identifier segment.
type Quoter func(ident string) string

// Bare leaves identifiers untouched.
func Bare(ident string) string { return ident }

// QuoteFQN quotes each dot-separated segment of fqn with q. Empty segments
// are dropped.
func QuoteFQN(fqn string, q Quoter) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, q(p))
	}
	return strings.Join(out, ".")
}

// ClauseOptions tunes ColumnClauses for a dialect.
type ClauseOptions struct {
	// PrimaryKeyNotNull forces NOT NULL on key columns even when Nullable.
	PrimaryKeyNotNull bool
	// SortPrimaryKey renders PRIMARY KEY columns alphabetically.
	SortPrimaryKey bool
}

// ColumnClauses renders the body of a CREATE TABLE statement: one clause per
// column followed by an optional PRIMARY KEY constraint.
//
// A column is rendered as:
//
//	<Name> <SQLType> [NOT NULL] [UNIQUE] [DEFAULT <Default>]
//
// t must be resolved (every column has a SQLType).
func ColumnClauses(t TableDef, q Quoter, opts ClauseOptions) ([]string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return nil, fmt.Errorf("table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("at least one column is required")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, 1)

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return nil, fmt.Errorf("column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(q(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || (c.PrimaryKey && opts.PrimaryKeyNotNull) {
			sb.WriteString(" NOT NULL")
		}
		if c.Unique && !c.PrimaryKey {
			sb.WriteString(" UNIQUE")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, q(name))
		}
	}

	if len(pks) > 0 {
		if opts.SortPrimaryKey {
			sort.Strings(pks)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	return cols, nil
}

// BuildCreateTableSQL renders a plain CREATE TABLE statement with bare
// identifiers. Dialects normally use their own shell instead.
func BuildCreateTableSQL(t TableDef) (string, error) {
	cols, err := ColumnClauses(t, Bare, ClauseOptions{})
	if err != nil {
		return "", fmt.Errorf("ddl: %w", err)
	}
	return fmt.Sprintf(
		"CREATE TABLE %s (\n  %s\n);",
		strings.TrimSpace(t.FQN),
		strings.Join(cols, ",\n  "),
	), nil
}

// IndexColumns validates i and returns its quoted column list.
func IndexColumns(i IndexDef, q Quoter) (string, error) {
	if strings.TrimSpace(i.Name) == "" {
		return "", fmt.Errorf("index name must not be empty")
	}
	if strings.TrimSpace(i.Table) == "" {
		return "", fmt.Errorf("index %s: table must not be empty", i.Name)
	}
	if len(i.Columns) == 0 {
		return "", fmt.Errorf("index %s: at least one column is required", i.Name)
	}
	cols := make([]string, len(i.Columns))
	for n, c := range i.Columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return "", fmt.Errorf("index %s: empty column name", i.Name)
		}
		cols[n] = q(c)
	}
	return strings.Join(cols, ", "), nil
}

// IndexKeyword is "UNIQUE INDEX" or "INDEX".
func IndexKeyword(i IndexDef) string {
	if i.Unique {
		return "UNIQUE INDEX"
	}
	return "INDEX"
}
