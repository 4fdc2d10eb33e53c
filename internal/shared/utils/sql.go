package utils

import "strings"

// WhereClause joins conditions with AND, or returns "" when there are none.
func WhereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}
