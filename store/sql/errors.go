package sqlstore

import "strings"

// isUniqueViolation matches the sqlite3 and lib/pq messages for unique index
// conflicts.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
