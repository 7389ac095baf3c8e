package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20240101000000_kv_entries",
		Up: []string{`
CREATE TABLE kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
			`CREATE INDEX kv_entries_key_prefix_idx ON kv_entries (key text_pattern_ops)`,
		},
		Down: []string{
			`DROP TABLE kv_entries`,
		},
	}

	allMigrations = append(allMigrations, m)
}
