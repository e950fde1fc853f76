package persistence

import "time"

// SQLiteTimeFormat is fixed width so stored TEXT timestamps compare in time
// order. RFC3339Nano trims trailing zeros, which breaks that.
const SQLiteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// FormatSQLiteTime renders t for storage in SQLite TEXT columns.
func FormatSQLiteTime(t time.Time) string {
	return t.UTC().Format(SQLiteTimeFormat)
}
