package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) string {
	return fmt.Sprintf("%s = EXCLUDED.%s", column, column)
}

// Upsert builds a Postgres INSERT ... ON CONFLICT (conflictCols) DO UPDATE SET
// statement that overwrites updateCols with the inserted values.
func Upsert(table string, cols []string, values []any, conflictCols []string, updateCols []string) (string, []any) {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols(cols...)
	ib.Values(values...)

	assignments := make([]string, 0, len(updateCols))
	for _, col := range updateCols {
		assignments = append(assignments, Excluded(col))
	}
	ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictCols, ", "), strings.Join(assignments, ", ")))

	return ib.Build()
}
