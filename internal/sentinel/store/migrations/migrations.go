// Package migrations holds the sql-migrate migrations for the KV and bus
// tables, registered into a single ordered list the way
// internal/praefect/datastore/migrations does for the teacher's
// replication-queue schema.
package migrations

import migrate "github.com/rubenv/sql-migrate"

var allMigrations []*migrate.Migration

// All returns the full ordered migration set.
func All() *migrate.MemoryMigrationSource {
	return &migrate.MemoryMigrationSource{Migrations: allMigrations}
}
