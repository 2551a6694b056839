package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/NicabarNimble/patina/internal/patinaerr"
)

// Store is the durable append-only event log. A single writer at a time;
// readers proceed concurrently under WAL.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the event database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, patinaerr.Storage("open", err)
	}
	// The sqlite driver serializes writes; a single writer connection
	// keeps append order identical to call order.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		source_id TEXT NOT NULL,
		source_file TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type_seq ON events(event_type, seq);
	CREATE INDEX IF NOT EXISTS idx_events_type_source ON events(event_type, source_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return patinaerr.Storage("migrate", err)
	}
	return nil
}

// DB exposes the underlying handle for the materializer, which keeps its
// derived tables in the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the store.
func (s *Store) Close() error { return s.db.Close() }

// Append persists one event atomically and returns its assigned sequence
// number. Sequence numbers are strictly increasing and gapless.
func (s *Store) Append(kind Kind, ts time.Time, sourceID, sourceFile string, payload any) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	res, err := s.db.Exec(`
		INSERT INTO events (event_type, timestamp, source_id, source_file, data)
		VALUES (?, ?, ?, ?, ?)
	`, string(kind), ts.UTC().Format(time.RFC3339Nano), sourceID, sourceFile, string(data))
	if err != nil {
		return 0, patinaerr.Storage("append", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, patinaerr.Storage("append", err)
	}
	return uint64(seq), nil
}

// AppendRaw persists an event whose payload is already-encoded JSON.
func (s *Store) AppendRaw(kind Kind, ts time.Time, sourceID, sourceFile string, data json.RawMessage) (uint64, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	res, err := s.db.Exec(`
		INSERT INTO events (event_type, timestamp, source_id, source_file, data)
		VALUES (?, ?, ?, ?, ?)
	`, string(kind), ts.UTC().Format(time.RFC3339Nano), sourceID, sourceFile, string(data))
	if err != nil {
		return 0, patinaerr.Storage("append", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, patinaerr.Storage("append", err)
	}
	return uint64(seq), nil
}

// ReadFrom returns events with seq strictly greater than after, in
// sequence order, optionally filtered to the given kinds.
func (s *Store) ReadFrom(after uint64, kinds ...Kind) ([]Event, error) {
	query := `SELECT seq, event_type, timestamp, source_id, source_file, data FROM events WHERE seq > ?`
	args := []any{after}
	if len(kinds) > 0 {
		query += ` AND event_type IN (?` + strings.Repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY seq`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, patinaerr.Storage("read", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, patinaerr.Storage("read", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Walk streams events with seq > after to fn in sequence order, stopping
// on the first error fn returns. Avoids holding large histories in memory.
func (s *Store) Walk(after uint64, fn func(Event) error, kinds ...Kind) error {
	query := `SELECT seq, event_type, timestamp, source_id, source_file, data FROM events WHERE seq > ?`
	args := []any{after}
	if len(kinds) > 0 {
		query += ` AND event_type IN (?` + strings.Repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY seq`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return patinaerr.Storage("walk", err)
	}
	defer rows.Close()
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return patinaerr.Storage("walk", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSeq returns the highest assigned sequence number, or 0 if empty.
func (s *Store) LastSeq() (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(seq) FROM events`).Scan(&seq)
	if err != nil {
		return 0, patinaerr.Storage("last_seq", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// LastSeqForKind returns the last sequence number of an event of the
// given kind, or 0 if none exist.
func (s *Store) LastSeqForKind(kind Kind) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(seq) FROM events WHERE event_type = ?`, string(kind)).Scan(&seq)
	if err != nil {
		return 0, patinaerr.Storage("last_seq_for_kind", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Has reports whether an event of the given kind and source id exists.
// Scrapers use this for idempotence.
func (s *Store) Has(kind Kind, sourceID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM events WHERE event_type = ? AND source_id = ? LIMIT 1`,
		string(kind), sourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, patinaerr.Storage("has", err)
	}
	return true, nil
}

// Get returns the event at seq.
func (s *Store) Get(seq uint64) (Event, error) {
	row := s.db.QueryRow(`SELECT seq, event_type, timestamp, source_id, source_file, data FROM events WHERE seq = ?`, seq)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return Event{}, fmt.Errorf("event %d not found", seq)
	}
	if err != nil {
		return Event{}, patinaerr.Storage("get", err)
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (Event, error) {
	var ev Event
	var kind, ts, data string
	if err := r.Scan(&ev.Seq, &kind, &ts, &ev.SourceID, &ev.SourceFile, &data); err != nil {
		return Event{}, err
	}
	ev.Type = Kind(kind)
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Event{}, fmt.Errorf("event %d has bad timestamp %q: %w", ev.Seq, ts, err)
	}
	ev.Timestamp = parsed
	ev.Data = json.RawMessage(data)
	return ev, nil
}

