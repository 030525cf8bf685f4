package postgres

import (
	"fmt"
	"strings"
)

// whereBuilder assembles a parameterized WHERE clause. Empty values are
// skipped, so optional filters can be added unconditionally.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{argIndex: 1}
}

// Add adds "column = $n" unless value is empty.
func (wb *whereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = $%d", column, wb.argIndex))
	wb.args = append(wb.args, value)
	wb.argIndex++
}

// AddContains adds a case-insensitive substring match unless value is empty.
func (wb *whereBuilder) AddContains(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s ILIKE $%d", column, wb.argIndex))
	wb.args = append(wb.args, "%"+escapeLike(value)+"%")
	wb.argIndex++
}

// Build returns the clause, with a leading space, and its arguments.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex returns the placeholder number the next argument will use.
func (wb *whereBuilder) NextArgIndex() int {
	return wb.argIndex
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
