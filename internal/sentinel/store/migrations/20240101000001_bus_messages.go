package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &migrate.Migration{
		Id: "20240101000001_bus_messages",
		Up: []string{`
CREATE TABLE bus_messages (
	id         BIGSERIAL PRIMARY KEY,
	channel    TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
			`CREATE INDEX bus_messages_channel_id_idx ON bus_messages (channel, id)`,
		},
		Down: []string{
			`DROP TABLE bus_messages`,
		},
	}

	allMigrations = append(allMigrations, m)
}
