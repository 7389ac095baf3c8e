// Package dbprobe implements the external database-probe collaborator
// described in spec.md §6: a fresh, deadline-bounded connection per probe
// that reads a single WAL position. Diffing two positions is done by
// cluster.WalPosition.Diff, not by this package.
package dbprobe

import (
	"context"
	"database/sql"
	"fmt"
	"net"

	// the PostgreSQL driver, registered under its "postgres" name
	_ "github.com/lib/pq"

	"sentineld/internal/sentinel/cluster"
)

// Role selects which WAL position a probe reads: the primary's current
// write position, or the standby's last-received position.
type Role int

const (
	// RolePrimary reads pg_current_wal_lsn().
	RolePrimary Role = iota
	// RoleStandby reads pg_last_wal_receive_lsn().
	RoleStandby
)

// Prober opens a fresh connection per call and reads a single WAL position.
// Implementations must respect ctx's deadline for the full round trip:
// connect, query, and read.
type Prober interface {
	Probe(ctx context.Context, addr string, dbName string, role Role) (cluster.WalPosition, error)
}

// PQProber is the production Prober, backed by database/sql and lib/pq.
type PQProber struct{}

// Probe dials addr/dbName fresh, issues the WAL-position query for role,
// and parses the single-column textual result.
func (PQProber) Probe(ctx context.Context, addr string, dbName string, role Role) (cluster.WalPosition, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return cluster.WalPosition{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	dsn := fmt.Sprintf("host=%s port=%s dbname=%s sslmode=disable connect_timeout=5", host, port, dbName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return cluster.WalPosition{}, fmt.Errorf("open connection to %s: %w", addr, err)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	query := "SELECT pg_current_wal_lsn()::text"
	if role == RoleStandby {
		query = "SELECT pg_last_wal_receive_lsn()::text"
	}

	var raw string
	if err := db.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return cluster.WalPosition{}, fmt.Errorf("query wal position from %s: %w", addr, err)
	}

	pos, err := cluster.ParseWalPosition(raw)
	if err != nil {
		return cluster.WalPosition{}, err
	}

	return pos, nil
}
