package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ottdwire/ottdwire/internal/events"
)

// ErrNotFound is returned when an address is not in the registry.
var ErrNotFound = errors.New("server not found")

// Server is one registry row.
type Server struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	Revision    string    `json:"revision"`
	MapName     string    `json:"map_name"`
	ClientsOn   int       `json:"clients_on"`
	ClientsMax  int       `json:"clients_max"`
	Companies   int       `json:"companies"`
	Dedicated   bool      `json:"dedicated"`
	HasPassword bool      `json:"has_password"`
	NewGRFCount int       `json:"newgrf_count"`
	RoundTripMs int64     `json:"round_trip_ms"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Failures    int       `json:"failures"`
}

// Registry records every server that answered a query or was listed by
// the coordinator.
type Registry struct {
	db *Database
}

// NewRegistry opens the database at dbPath and creates the schema.
func NewRegistry(dbPath string) (*Registry, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	r := &Registry{db: database}
	if err := r.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate registry: %w", err)
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS servers (
			address      TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			revision     TEXT NOT NULL DEFAULT '',
			map_name     TEXT NOT NULL DEFAULT '',
			clients_on   INTEGER NOT NULL DEFAULT 0,
			clients_max  INTEGER NOT NULL DEFAULT 0,
			companies    INTEGER NOT NULL DEFAULT 0,
			dedicated    INTEGER NOT NULL DEFAULT 0,
			has_password INTEGER NOT NULL DEFAULT 0,
			newgrf_count INTEGER NOT NULL DEFAULT 0,
			rtt_ms       INTEGER NOT NULL DEFAULT 0,
			first_seen   INTEGER NOT NULL,
			last_seen    INTEGER NOT NULL,
			failures     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_servers_last_seen ON servers(last_seen);
	`)
	return err
}

// Upsert records a server seen at the given time. A zero round trip keeps
// the previously measured one; coordinator listings carry none.
func (r *Registry) Upsert(ctx context.Context, p events.ServerDiscoveredPayload, seen time.Time) error {
	if p.Address == "" {
		return errors.New("server address is required")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO servers (address, name, revision, map_name, clients_on, clients_max,
			companies, dedicated, has_password, newgrf_count, rtt_ms, first_seen, last_seen, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			revision = excluded.revision,
			map_name = excluded.map_name,
			clients_on = excluded.clients_on,
			clients_max = excluded.clients_max,
			companies = excluded.companies,
			dedicated = excluded.dedicated,
			has_password = excluded.has_password,
			newgrf_count = excluded.newgrf_count,
			rtt_ms = CASE WHEN excluded.rtt_ms > 0 THEN excluded.rtt_ms ELSE servers.rtt_ms END,
			last_seen = excluded.last_seen,
			failures = 0`,
		p.Address, p.Name, p.Revision, p.MapName, int(p.ClientsOn), int(p.ClientsMax),
		int(p.Companies), p.Dedicated, p.HasPassword, p.NewGRFCount, p.RoundTripMs,
		seen.Unix(), seen.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record server %s: %w", p.Address, err)
	}
	return nil
}

// MarkFailed counts an unanswered query against a known server. Unknown
// addresses are ignored.
func (r *Registry) MarkFailed(ctx context.Context, addr string) error {
	_, err := r.db.Exec(ctx, `UPDATE servers SET failures = failures + 1 WHERE address = ?`, addr)
	return err
}

const selectServers = `SELECT address, name, revision, map_name, clients_on, clients_max,
	companies, dedicated, has_password, newgrf_count, rtt_ms, first_seen, last_seen, failures
	FROM servers`

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (Server, error) {
	var (
		s                   Server
		firstSeen, lastSeen int64
	)
	err := row.Scan(&s.Address, &s.Name, &s.Revision, &s.MapName, &s.ClientsOn, &s.ClientsMax,
		&s.Companies, &s.Dedicated, &s.HasPassword, &s.NewGRFCount, &s.RoundTripMs,
		&firstSeen, &lastSeen, &s.Failures)
	s.FirstSeen = time.Unix(firstSeen, 0)
	s.LastSeen = time.Unix(lastSeen, 0)
	return s, err
}

// Get returns the server recorded for addr.
func (r *Registry) Get(ctx context.Context, addr string) (Server, error) {
	s, err := scanServer(r.db.QueryRow(ctx, selectServers+` WHERE address = ?`, addr))
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, ErrNotFound
	}
	return s, err
}

// List returns all servers, busiest first.
func (r *Registry) List(ctx context.Context) ([]Server, error) {
	rows, err := r.db.Query(ctx, selectServers+` ORDER BY clients_on DESC, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// Addresses returns the address of every recorded server.
func (r *Registry) Addresses(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT address FROM servers ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// Prune deletes servers last seen before cutoff and returns how many
// were removed.
func (r *Registry) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(ctx, `DELETE FROM servers WHERE last_seen < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Attach subscribes the registry to discovery events on bus.
func (r *Registry) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventServerDiscovered, "registry.discovered", r.onDiscovered)
	bus.Subscribe(events.EventQueryTimeout, "registry.timeout", r.onTimeout)
}

// Detach removes the handlers installed by Attach.
func (r *Registry) Detach(bus *events.EventBus) {
	bus.Unsubscribe(events.EventServerDiscovered, "registry.discovered")
	bus.Unsubscribe(events.EventQueryTimeout, "registry.timeout")
}

func (r *Registry) onDiscovered(ctx context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.ServerDiscoveredPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev.Payload)
	}
	seen := ev.Time
	if seen.IsZero() {
		seen = time.Now()
	}
	return r.Upsert(context.WithoutCancel(ctx), p, seen)
}

func (r *Registry) onTimeout(ctx context.Context, ev events.Event) error {
	p, ok := ev.Payload.(events.QueryTimeoutPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev.Payload)
	}
	return r.MarkFailed(context.WithoutCancel(ctx), p.Address)
}
