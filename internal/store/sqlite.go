package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"chatcore/internal/protocol"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	room         TEXT,
	type         TEXT NOT NULL,
	ts           TEXT NOT NULL,
	payload_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room_id_idx ON messages(room, id);
`

// SQLiteStore is a Store backed by a single embedded SQLite file with
// WAL journaling, grounded on original_source's SqliteMessageStore:
// same schema, same newest-first/oldest-first query shapes, ported
// from hand-rolled prepared statements to database/sql.
type SQLiteStore struct {
	db    *sql.DB
	idGen *idGen
}

// OpenSQLite opens (creating if absent) the database file at path,
// enables WAL journaling, and ensures the messages table exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite connections aren't safe to fan out; WAL serializes writers anyway.

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &SQLiteStore{db: db, idGen: newIDGen()}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Append(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Envelope{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: begin tx: %v", ErrStorageFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if env.ID != "" {
		if existing, ok, err := scanByID(ctx, tx, env.ID); err != nil {
			return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		} else if ok {
			if err := tx.Commit(); err != nil {
				return protocol.Envelope{}, fmt.Errorf("%w: commit: %v", ErrStorageFailed, err)
			}
			return existing, nil
		}
	} else {
		env.ID = s.idGen.New(time.Now())
	}
	if env.TS == "" {
		env.TS = time.Now().UTC().Format(time.RFC3339)
	}
	if env.Kind == "" {
		env.Kind = protocol.KindEvent
	}

	payloadJSON, err := marshalPayload(env.Payload)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: marshal payload: %v", ErrStorageFailed, err)
	}

	var room sql.NullString
	if env.Room != "" {
		room = sql.NullString{String: env.Room, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, kind, room, type, ts, payload_json) VALUES (?, ?, ?, ?, ?, ?)`,
		env.ID, env.Kind, room, env.Type, env.TS, payloadJSON,
	); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: insert: %v", ErrStorageFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: commit: %v", ErrStorageFailed, err)
	}
	return env, nil
}

func (s *SQLiteStore) ListByRoom(ctx context.Context, room string, limit int, beforeID string) ([]protocol.Envelope, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows *sql.Rows
	var err error
	if beforeID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, kind, room, type, ts, payload_json FROM messages
			 WHERE room = ? AND id < ? ORDER BY id DESC LIMIT ?`,
			room, beforeID, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, kind, room, type, ts, payload_json FROM messages
			 WHERE room = ? ORDER BY id DESC LIMIT ?`,
			room, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (s *SQLiteStore) ReplayFrom(ctx context.Context, startID string, limit int) ([]protocol.Envelope, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, room, type, ts, payload_json FROM messages
		 WHERE id > ? ORDER BY id ASC LIMIT ?`,
		startID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanByID(ctx context.Context, tx *sql.Tx, id string) (protocol.Envelope, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, kind, room, type, ts, payload_json FROM messages WHERE id = ?`, id)
	env, err := scanOne(row.Scan)
	if err == sql.ErrNoRows {
		return protocol.Envelope{}, false, nil
	}
	if err != nil {
		return protocol.Envelope{}, false, err
	}
	return env, true, nil
}

func scanRows(rows *sql.Rows) ([]protocol.Envelope, error) {
	var out []protocol.Envelope
	for rows.Next() {
		env, err := scanOne(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}
	return out, nil
}

// scanOne decodes one row via scan (either sql.Row.Scan or
// sql.Rows.Scan, both matching this signature), and unmarshals the
// stored payload JSON back into the ordered Map.
func scanOne(scan func(dest ...any) error) (protocol.Envelope, error) {
	var (
		env   protocol.Envelope
		room  sql.NullString
		pj    string
	)
	if err := scan(&env.ID, &env.Kind, &room, &env.Type, &env.TS, &pj); err != nil {
		return protocol.Envelope{}, err
	}
	if room.Valid {
		env.Room = room.String
	}
	m, err := unmarshalPayload(pj)
	if err != nil {
		// A corrupt payload_json cell degrades to an empty payload
		// rather than failing the whole query, matching the C++
		// original's catch-and-empty behavior.
		m = protocol.NewMap()
	}
	env.Payload = m
	return env, nil
}
