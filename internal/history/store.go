// Package history keeps an audit log of every command outcome in SQLite.
// The store subscribes to command events on the event bus, so sessions
// never write to it directly.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcon/internal/events"
)

// Record is one audited command outcome.
type Record struct {
	ID        string        `json:"id"`
	Time      time.Time     `json:"time"`
	SessionID string        `json:"session_id"`
	Endpoint  string        `json:"endpoint"`
	Peer      string        `json:"peer,omitempty"`
	Sequence  uint32        `json:"sequence"`
	Command   string        `json:"command"`
	Status    string        `json:"status"`
	Output    string        `json:"output,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Query filters Recent.
type Query struct {
	Limit int
	Peer  string
}

// DefaultLimit is used when a query does not set one.
const DefaultLimit = 50

// Store persists Records.
type Store struct {
	db *Database
}

// Open opens the audit log at path and migrates its schema.
func Open(path string) (*Store, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS commands (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		endpoint TEXT NOT NULL DEFAULT '',
		peer TEXT NOT NULL DEFAULT '',
		sequence INTEGER NOT NULL DEFAULT 0,
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		elapsed_ns INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_created_at ON commands(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_commands_peer ON commands(peer)`,
}

func (s *Store) migrate(ctx context.Context) error {
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("history schema migrated")
	return nil
}

// Record stores r, filling ID and Time when unset.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO commands
			(id, created_at, session_id, endpoint, peer, sequence, command, status, output, error_kind, error, elapsed_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Time.UnixNano(), r.SessionID, r.Endpoint, r.Peer, r.Sequence,
		r.Command, r.Status, r.Output, r.ErrorKind, r.Error, int64(r.Elapsed))
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Record, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	query := `
		SELECT id, created_at, session_id, endpoint, peer, sequence, command, status, output, error_kind, error, elapsed_ns
		FROM commands`
	args := []interface{}{}
	if q.Peer != "" {
		query += " WHERE peer = ?"
		args = append(args, q.Peer)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			createdAt int64
			elapsed   int64
		)
		if err := rows.Scan(&r.ID, &createdAt, &r.SessionID, &r.Endpoint, &r.Peer, &r.Sequence,
			&r.Command, &r.Status, &r.Output, &r.ErrorKind, &r.Error, &elapsed); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Time = time.Unix(0, createdAt)
		r.Elapsed = time.Duration(elapsed)
		records = append(records, r)
	}

	return records, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM commands").Scan(&n)
	return n, err
}

// Prune deletes records older than maxAge and returns how many were removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := s.db.Exec(ctx, "DELETE FROM commands WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Attach subscribes the store to command events.
func (s *Store) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventCommandCompleted, "history.commandCompleted", s.onCommand)
	bus.Subscribe(events.EventCommandFailed, "history.commandFailed", s.onCommand)
}

func (s *Store) onCommand(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.CommandPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}

	return s.Record(ctx, Record{
		Time:      e.Time,
		SessionID: e.SessionID,
		Endpoint:  p.Endpoint,
		Peer:      p.Peer,
		Sequence:  p.Sequence,
		Command:   p.Command,
		Status:    p.Status,
		Output:    p.Output,
		ErrorKind: p.ErrorKind,
		Error:     p.Error,
		Elapsed:   p.Elapsed,
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
