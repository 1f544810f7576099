package mysql

import (
	"fmt"
	"strings"

	gddl "dumpload/internal/ddl"
	myddl "dumpload/internal/storage/mysql/ddl"
)

var q = myddl.QuoteIdent

func columnList(t gddl.TableDef) string {
	names := t.ColumnNames()
	for i, n := range names {
		names[i] = q(n)
	}
	return strings.Join(names, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// selectWorkSQL reads one works row; lock appends FOR UPDATE.
func selectWorkSQL(t gddl.TableDef, lock bool) string {
	s := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		columnList(t), myddl.QuoteFQN(t.FQN), q(gddl.ColTitleNormalized))
	if lock {
		s += " FOR UPDATE"
	}
	return s
}

func insertSQL(t gddl.TableDef) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		myddl.QuoteFQN(t.FQN), columnList(t), placeholders(len(t.Columns)))
}

func updateWorkSQL(t gddl.TableDef) string {
	return fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ?",
		myddl.QuoteFQN(t.FQN), q(gddl.ColAlternateID), q(gddl.ColAuthorID), q(gddl.ColTitleNormalized))
}

func selectAuthorsSQL(t gddl.TableDef) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		columnList(t), myddl.QuoteFQN(t.FQN), q(gddl.ColNameNormalized), q(gddl.ColAuthorID))
}

func countSQL(t gddl.TableDef) string {
	return "SELECT COUNT(*) FROM " + myddl.QuoteFQN(t.FQN)
}

func optimizeSQL(t gddl.TableDef) string {
	return "OPTIMIZE TABLE " + myddl.QuoteFQN(t.FQN)
}

func createSchemaSQL(schema string) string {
	return "CREATE DATABASE IF NOT EXISTS " + q(schema) + " CHARACTER SET utf8mb4 COLLATE utf8mb4_bin"
}
