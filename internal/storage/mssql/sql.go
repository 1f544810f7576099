package mssql

import (
	"fmt"
	"strings"

	gddl "dumpload/internal/ddl"
	msddl "dumpload/internal/storage/mssql/ddl"
)

var q = msddl.QuoteIdent

// mergeWorksSQL merges one candidate into works. The matched branch is
// skipped for the row's own source id, so OUTPUT returns nothing for it.
func mergeWorksSQL(table string) string {
	return fmt.Sprintf(`MERGE %[1]s WITH (HOLDLOCK) AS T
USING (SELECT @p1 AS %[2]s, @p2 AS %[3]s, @p3 AS %[4]s, @p4 AS %[5]s) AS S
ON T.%[4]s = S.%[4]s
WHEN MATCHED AND T.%[2]s <> S.%[2]s THEN UPDATE SET
  %[6]s = CASE
    WHEN T.%[6]s IS NULL OR T.%[6]s = N'' THEN S.%[2]s
    WHEN CHARINDEX(N',' + S.%[2]s + N',', N',' + T.%[6]s + N',') > 0 THEN T.%[6]s
    ELSE T.%[6]s + N',' + S.%[2]s
  END,
  %[5]s = CASE
    WHEN (T.%[5]s IS NULL OR T.%[5]s = N'') AND S.%[5]s <> N'' THEN S.%[5]s
    ELSE T.%[5]s
  END
WHEN NOT MATCHED THEN
  INSERT (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s)
  VALUES (S.%[2]s, S.%[3]s, S.%[4]s, S.%[5]s, N'')
OUTPUT inserted.%[2]s, inserted.%[5]s;`,
		msddl.QuoteFQN(table),
		q(gddl.ColWorkID),
		q(gddl.ColTitle),
		q(gddl.ColTitleNormalized),
		q(gddl.ColAuthorID),
		q(gddl.ColAlternateID),
	)
}

func selectWorkSQL(t gddl.TableDef) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = @p1",
		columnList(t), msddl.QuoteFQN(t.FQN), q(gddl.ColTitleNormalized))
}

func selectAuthorsSQL(t gddl.TableDef) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = @p1 ORDER BY %s",
		columnList(t), msddl.QuoteFQN(t.FQN), q(gddl.ColNameNormalized), q(gddl.ColAuthorID))
}

func countSQL(t gddl.TableDef) string {
	return "SELECT COUNT_BIG(*) FROM " + msddl.QuoteFQN(t.FQN)
}

// rebuildSQL is the closest SQL Server analogue to VACUUM for one table.
func rebuildSQL(t gddl.TableDef) string {
	return "ALTER INDEX ALL ON " + msddl.QuoteFQN(t.FQN) + " REBUILD"
}

func createSchemaSQL(schema string) string {
	lit := strings.ReplaceAll(schema, "'", "''")
	create := strings.ReplaceAll("CREATE SCHEMA "+q(schema), "'", "''")
	return fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC(N'%s')", lit, create)
}

func columnList(t gddl.TableDef) string {
	names := t.ColumnNames()
	for i, n := range names {
		names[i] = q(n)
	}
	return strings.Join(names, ", ")
}
