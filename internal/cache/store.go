// Package cache persists the accumulated results of a multi-step
// investigation: every query or aggregation a session runs is appended
// here so a later consolidation step can enumerate everything that was
// looked at. Entries are append-only; the only destructive operation is
// the explicit history reset, which wipes the table across all sessions.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed accumulation store. Safe for concurrent
// use; within one session write order is the caller's call order
// because the orchestration loop is sequential per session.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	-- Accumulated query results, append-only. seq preserves call order
	-- within a session independent of timestamp resolution.
	CREATE TABLE IF NOT EXISTS query_cache (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		description TEXT NOT NULL,
		params TEXT,
		result TEXT,
		summary TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_cache_session ON query_cache(session_id, seq);

	-- Chat transcript for the UI surface.
	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Entry is one accumulated result. Result holds the raw JSON payload of
// the query or aggregation outcome; the summary view omits it.
type Entry struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Entity      string          `json:"entity"`
	Description string          `json:"description"`
	Params      map[string]any  `json:"params,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Summary     string          `json:"summary"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Record appends an entry for sessionID. Entries are immutable once
// written.
func (s *Store) Record(ctx context.Context, sessionID string, e Entry) error {
	params, err := json.Marshal(e.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_cache (id, session_id, entity, description, params, result, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, sessionID, e.Entity, e.Description, string(params), string(e.Result), e.Summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// ListForSession returns sessionID's entries in call order. With full
// set, the raw result payloads are included; otherwise only descriptor,
// summary, and timestamp — the cheap view for model context.
func (s *Store) ListForSession(ctx context.Context, sessionID string, full bool) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, entity, description, params, result, summary, created_at
		FROM query_cache
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var params, result string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Entity, &e.Description, &params, &result, &e.Summary, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		if params != "" && params != "null" {
			if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
				return nil, fmt.Errorf("decode params: %w", err)
			}
		}
		if full && result != "" {
			e.Result = json.RawMessage(result)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearAll deletes every entry across all sessions. This is the
// deliberate broad reset behind the "clear everything" UX action, not a
// per-session cleanup.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM query_cache`); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// ChatMessage is one turn of the UI-facing transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AddMessage appends a chat turn.
func (s *Store) AddMessage(ctx context.Context, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, uuid.NewString(), role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM (
			SELECT seq, id, role, content, created_at
			FROM chat_messages
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearMessages wipes the transcript.
func (s *Store) ClearMessages(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}
