package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgresKV is a KV backed by a single table:
//
//	CREATE TABLE kv_entries (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TIMESTAMPTZ NOT NULL)
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV wraps an already-open database/sql handle.
func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

// Close releases the underlying database/sql handle.
func (p *PostgresKV) Close() error {
	return p.db.Close()
}

// Get implements KV.
func (p *PostgresKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, nil
}

// Put implements KV.
func (p *PostgresKV) Put(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

// ListChildren implements KV by scanning keys under prefix and returning
// the distinct next path segment.
func (p *PostgresKV) ListChildren(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	rows, err := p.db.QueryContext(ctx, `SELECT key FROM kv_entries WHERE key LIKE $1`, prefix+"/%")
	if err != nil {
		return nil, fmt.Errorf("kv list %q: %w", prefix, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var children []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		rest := strings.TrimPrefix(key, prefix+"/")
		segment := rest
		if idx := strings.Index(rest, "/"); idx >= 0 {
			segment = rest[:idx]
		}
		if _, ok := seen[segment]; !ok && segment != "" {
			seen[segment] = struct{}{}
			children = append(children, segment)
		}
	}
	return children, rows.Err()
}

// PostgresBus is a Bus backed by a durable, ordered message table plus
// LISTEN/NOTIFY for low-latency wakeup:
//
//	CREATE TABLE bus_messages (id BIGSERIAL PRIMARY KEY, channel TEXT NOT NULL, payload TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL)
//
// NOTIFY alone drops messages delivered while no listener is connected;
// replaying bus_messages by id on (re)subscribe is what makes delivery
// at-least-once and in-order per channel, the guarantee spec.md §6 demands
// of the transport.
type PostgresBus struct {
	db     *sql.DB
	dsn    string
	log    logrus.FieldLogger
	minPoll time.Duration
}

// NewPostgresBus wraps an open database/sql handle. dsn is also required
// (in lib/pq's connection-string form) because pq.Listener manages its own
// dedicated connection outside the *sql.DB pool.
func NewPostgresBus(db *sql.DB, dsn string, log logrus.FieldLogger) *PostgresBus {
	return &PostgresBus{db: db, dsn: dsn, log: log, minPoll: 500 * time.Millisecond}
}

// Publish implements Bus: it inserts a durable row and fires a NOTIFY to
// wake any connected listener immediately.
func (b *PostgresBus) Publish(ctx context.Context, channel, payload string) error {
	_, err := b.db.ExecContext(ctx, `
		WITH inserted AS (
			INSERT INTO bus_messages (channel, payload, created_at) VALUES ($1, $2, NOW()) RETURNING id
		)
		SELECT pg_notify($1, id::text) FROM inserted
	`, channel, payload)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus, returning a Subscription that replays every
// message on channel with id greater than the subscribe-time high-water
// mark, then streams new ones as NOTIFY wakes it.
func (b *PostgresBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	listener := pq.NewListener(b.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.log.WithError(err).WithField("channel", channel).Warn("bus listener event")
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}

	var highWater int64
	if err := b.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM bus_messages WHERE channel = $1`, channel).Scan(&highWater); err != nil {
		listener.Close()
		return nil, fmt.Errorf("read high-water mark of %s: %w", channel, err)
	}

	return &postgresSubscription{
		db:       b.db,
		listener: listener,
		channel:  channel,
		lastID:   highWater,
		minPoll:  b.minPoll,
		log:      b.log,
	}, nil
}

// Close implements Bus, releasing the underlying database/sql handle.
func (b *PostgresBus) Close() error {
	return b.db.Close()
}

type postgresSubscription struct {
	db       *sql.DB
	listener *pq.Listener
	channel  string
	lastID   int64
	minPoll  time.Duration
	log      logrus.FieldLogger
}

// Recv implements Subscription. It first drains any backlog strictly
// after lastID, in id order, before waiting on the next NOTIFY wakeup.
func (s *postgresSubscription) Recv(ctx context.Context) (Message, error) {
	for {
		msg, ok, err := s.next(ctx)
		if err != nil {
			return Message{}, err
		}
		if ok {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-s.listener.Notify:
		case <-time.After(s.minPoll):
			// Poll periodically even without a NOTIFY: guards against a
			// notification dropped during a listener reconnect window.
		}
	}
}

func (s *postgresSubscription) next(ctx context.Context) (Message, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payload FROM bus_messages
		WHERE channel = $1 AND id > $2
		ORDER BY id ASC LIMIT 1
	`, s.channel, s.lastID)

	var msg Message
	msg.Channel = s.channel
	if err := row.Scan(&msg.ID, &msg.Payload); err != nil {
		if err == sql.ErrNoRows {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("poll %s: %w", s.channel, err)
	}

	s.lastID = msg.ID
	return msg, true, nil
}

// Close implements Subscription.
func (s *postgresSubscription) Close() error {
	return s.listener.Close()
}
