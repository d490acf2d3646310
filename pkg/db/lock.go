package db

import "gorm.io/gorm"

// LockClause returns the row-locking suffix for the active dialect.
// SQLite serializes writers at the database level and rejects FOR UPDATE,
// so it gets none; tests run against sqlite.
func LockClause(gdb *gorm.DB) string {
	if gdb.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

// SkipLockedClause returns the work-claiming suffix used by sweep batches
// so parallel workers never block on each other's rows.
func SkipLockedClause(gdb *gorm.DB) string {
	if gdb.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}
