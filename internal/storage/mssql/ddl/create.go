// Package ddl renders SQL Server statements for the generic ddl model.
//
// The builder here:
//   - Uses SQL Server-style identifier quoting: [schema].[table], [col].
//   - Wraps DDL in OBJECT_ID / sys.indexes guards since T-SQL has no
//     CREATE ... IF NOT EXISTS.
//   - Renders PRIMARY KEY constraints as a separate clause.
package ddl

import (
	"fmt"
	"strings"

	gddl "dumpload/internal/ddl"
)

// BuildCreateTableSQL returns a T-SQL script that creates the table if it
// does not already exist:
//
//	IF OBJECT_ID(N'[dbo].[works]', N'U') IS NULL
//	BEGIN
//	  CREATE TABLE [dbo].[works] (
//	    [work_id] NVARCHAR(450) UNIQUE,
//	    ...
//	  );
//	END;
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	cols, err := gddl.ColumnClauses(t.Resolve(MapType), QuoteIdent, gddl.ClauseOptions{PrimaryKeyNotNull: true})
	if err != nil {
		return "", fmt.Errorf("mssql ddl: %w", err)
	}
	fqn := QuoteFQN(t.FQN)
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND;",
		literal(fqn),
		fqn,
		strings.Join(cols, ",\n    "),
	), nil
}

// BuildDropTableSQL drops fqn when it exists.
func BuildDropTableSQL(fqn string) string {
	q := QuoteFQN(fqn)
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL\n  DROP TABLE %s;", literal(q), q)
}

// BuildCreateIndexSQL creates i unless an index of that name already exists
// on the table.
func BuildCreateIndexSQL(i gddl.IndexDef) (string, error) {
	cols, err := gddl.IndexColumns(i, QuoteIdent)
	if err != nil {
		return "", fmt.Errorf("mssql ddl: %w", err)
	}
	table := QuoteFQN(i.Table)
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s'))\n  CREATE %s %s ON %s (%s);",
		literal(i.Name), literal(table), gddl.IndexKeyword(i), QuoteIdent(i.Name), table, cols,
	), nil
}

// QuoteIdent quotes a single identifier segment using bracket syntax,
// escaping any closing brackets.
//
//	name      -> [name]
//	weird]id  -> [weird]]id]
func QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// QuoteFQN quotes a possibly schema-qualified table name, e.g. "dbo.works"
// becomes [dbo].[works].
func QuoteFQN(fqn string) string { return gddl.QuoteFQN(fqn, QuoteIdent) }

// literal escapes s for use inside an N'...' string literal.
func literal(s string) string { return strings.ReplaceAll(s, "'", "''") }
