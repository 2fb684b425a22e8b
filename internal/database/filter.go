package database

import (
	"fmt"
	"strconv"
	"strings"
)

// filter collects AND-ed equality conditions bound to numbered placeholders.
type filter struct {
	conds []string
	args  []any
}

// eq adds "col = $n". col must be a trusted column name.
func (f *filter) eq(col string, val any) {
	f.args = append(f.args, val)
	f.conds = append(f.conds, col+" = $"+strconv.Itoa(len(f.args)))
}

// where returns " WHERE ..." or "" when there are no conditions.
func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// page binds limit and offset after the conditions and returns the clause.
// Call it after any query that shares the conditions but not the paging.
func (f *filter) page(limit, offset int) string {
	f.args = append(f.args, limit, offset)
	n := len(f.args)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n-1, n)
}
