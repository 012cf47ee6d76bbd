// Package historystore persists sessions, message history, memories, and
// transcripts. Open selects the driver by DSN scheme: SQLite
// (github.com/mattn/go-sqlite3) by default, or Postgres
// (github.com/lib/pq) for a "postgres://"/"postgresql://" DSN, rewriting
// the "?" placeholders below to "$N" form for the latter.
package historystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/evrenesat/asky/pkg/models"
)

// Store persists sessions and their message history.
type Store struct {
	db     *sql.DB
	rebind func(string) string

	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetHistory    *sql.Stmt
	stmtListSessions  *sql.Stmt
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	default_model TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP NOT NULL,
	compacted_summary TEXT NOT NULL DEFAULT '',
	memory_auto_extract INTEGER NOT NULL DEFAULT 0,
	max_turns_override INTEGER NOT NULL DEFAULT 0,
	research_mode INTEGER NOT NULL DEFAULT 0,
	research_source_mode TEXT,
	research_corpus_pointers TEXT NOT NULL DEFAULT '[]',
	shortlist_override TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS user_memories (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	vector BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS image_transcripts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	alias TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS room_session_bindings (
	sender_identity TEXT PRIMARY KEY,
	session_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_override_files (
	session_id TEXT NOT NULL,
	path TEXT NOT NULL,
	PRIMARY KEY (session_id, path)
);

CREATE TABLE IF NOT EXISTS session_uploaded_documents (
	session_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	PRIMARY KEY (session_id, document_id)
);

CREATE TABLE IF NOT EXISTS session_findings (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	text TEXT NOT NULL,
	source_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_session ON session_findings(session_id);
`

// Open opens (creating if absent) a Store at dsn. The DSN scheme selects the
// driver: "postgres://" or "postgresql://" selects github.com/lib/pq,
// anything else (a bare path, or "file:...") selects the embedded SQLite
// driver, e.g. "file:/var/lib/asky/history.db?_journal=WAL".
func Open(dsn string) (*Store, error) {
	driverName, rebind := driverFor(dsn)

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers
	}

	if _, err := db.Exec(rebind(schemaFor(driverName))); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, rebind: rebind}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// schemaFor adapts the two SQLite-specific type affinities in schema
// (INTEGER PRIMARY KEY AUTOINCREMENT, BLOB) to their Postgres equivalents.
// Everything else in schema (TEXT, INTEGER, TIMESTAMP) is accepted by both.
func schemaFor(driverName string) string {
	if driverName != "postgres" {
		return schema
	}
	out := strings.ReplaceAll(schema, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
	out = strings.ReplaceAll(out, "BLOB", "BYTEA")
	return out
}

// driverFor picks the database/sql driver name and placeholder rewriter for
// dsn's scheme. The DDL differences between SQLite and Postgres are handled
// by schemaFor; the returned rebind rewrites the "?" positional placeholders
// in the prepared statements below to Postgres's "$N" form.
func driverFor(dsn string) (driverName string, rebind func(string) string) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", pqRebind
	}
	return "sqlite3", func(q string) string { return q }
}

// pqRebind rewrites "?" placeholders to lib/pq's "$1", "$2", ... form.
func pqRebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) prepareStatements() error {
	prepare := func(query string) (*sql.Stmt, error) {
		return s.db.Prepare(s.rebind(query))
	}

	var err error
	s.stmtCreateSession, err = prepare(`
		INSERT INTO sessions (id, name, default_model, created_at, last_used_at, compacted_summary,
			memory_auto_extract, max_turns_override, research_mode, research_source_mode,
			research_corpus_pointers, shortlist_override)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare create session: %w", err)
	}

	s.stmtGetSession, err = prepare(`
		SELECT id, name, default_model, created_at, last_used_at, compacted_summary,
			memory_auto_extract, max_turns_override, research_mode, research_source_mode,
			research_corpus_pointers, shortlist_override
		FROM sessions WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	s.stmtUpdateSession, err = prepare(`
		UPDATE sessions SET name = ?, default_model = ?, last_used_at = ?, compacted_summary = ?,
			memory_auto_extract = ?, max_turns_override = ?, research_mode = ?, research_source_mode = ?,
			research_corpus_pointers = ?, shortlist_override = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("prepare update session: %w", err)
	}

	s.stmtDeleteSession, err = prepare(`DELETE FROM sessions WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	s.stmtAppendMessage, err = prepare(`
		INSERT INTO messages (session_id, role, content, summary, model, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}

	s.stmtGetHistory, err = prepare(`
		SELECT id, session_id, role, content, summary, model, token_count, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("prepare get history: %w", err)
	}

	s.stmtListSessions, err = prepare(`
		SELECT id, name, default_model, created_at, last_used_at, compacted_summary,
			memory_auto_extract, max_turns_override, research_mode, research_source_mode,
			research_corpus_pointers, shortlist_override
		FROM sessions
	`)
	if err != nil {
		return fmt.Errorf("prepare list sessions: %w", err)
	}
	return nil
}

// execRebind and its query counterparts rebind "?" placeholders before
// running a query built outside prepareStatements (selector-expanded
// deletes, dynamic IN-list deletes) so those call sites stay portable to
// Postgres too.
func (s *Store) execRebind(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRebind(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRowRebind(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Close releases the prepared statements and underlying connection.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtUpdateSession,
		s.stmtDeleteSession, s.stmtAppendMessage, s.stmtGetHistory, s.stmtListSessions,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

// Create inserts a new session row.
func (s *Store) Create(ctx context.Context, session *models.Session) error {
	pointers, err := json.Marshal(session.ResearchCorpusPointers)
	if err != nil {
		return fmt.Errorf("marshal corpus pointers: %w", err)
	}
	var sourceMode sql.NullString
	if session.ResearchSourceMode != "" {
		sourceMode = sql.NullString{String: string(session.ResearchSourceMode), Valid: true}
	}
	_, err = s.stmtCreateSession.ExecContext(ctx,
		session.ID, session.Name, session.DefaultModel, session.CreatedAt, session.LastUsedAt,
		session.CompactedSummary, session.MemoryAutoExtract, session.MaxTurnsOverride,
		session.ResearchMode, sourceMode, string(pointers), string(session.ShortlistOverride),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	return s.scanSession(s.stmtGetSession.QueryRowContext(ctx, id))
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var pointersJSON string
	var sourceMode sql.NullString

	err := row.Scan(
		&session.ID, &session.Name, &session.DefaultModel, &session.CreatedAt, &session.LastUsedAt,
		&session.CompactedSummary, &session.MemoryAutoExtract, &session.MaxTurnsOverride,
		&session.ResearchMode, &sourceMode, &pointersJSON, &session.ShortlistOverride,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if sourceMode.Valid {
		session.ResearchSourceMode = models.ResearchSourceMode(sourceMode.String)
	}
	if err := json.Unmarshal([]byte(pointersJSON), &session.ResearchCorpusPointers); err != nil {
		return nil, fmt.Errorf("unmarshal corpus pointers: %w", err)
	}
	return session, nil
}

// ListSessions returns every stored session. Used by the session resolver's
// exact-name and partial-name resume lookups; deployments are expected to
// carry hundreds of sessions, not millions, so a full scan is acceptable
// here.
func (s *Store) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.stmtListSessions.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// Update overwrites the mutable fields of an existing session.
func (s *Store) Update(ctx context.Context, session *models.Session) error {
	if err := session.ValidateResearchProfile(); err != nil {
		return err
	}
	pointers, err := json.Marshal(session.ResearchCorpusPointers)
	if err != nil {
		return fmt.Errorf("marshal corpus pointers: %w", err)
	}
	var sourceMode sql.NullString
	if session.ResearchSourceMode != "" {
		sourceMode = sql.NullString{String: string(session.ResearchSourceMode), Valid: true}
	}
	session.LastUsedAt = time.Now()

	result, err := s.stmtUpdateSession.ExecContext(ctx,
		session.Name, session.DefaultModel, session.LastUsedAt, session.CompactedSummary,
		session.MemoryAutoExtract, session.MaxTurnsOverride, session.ResearchMode, sourceMode,
		string(pointers), string(session.ShortlistOverride), session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", session.ID)
	}
	return nil
}

// CompactSession replaces a session's compacted summary. Raw messages stay
// persisted; callers stop re-sending them and send the summary instead.
func (s *Store) CompactSession(ctx context.Context, sessionID, summary string) error {
	result, err := s.execRebind(ctx, `UPDATE sessions SET compacted_summary = ?, last_used_at = ? WHERE id = ?`,
		summary, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("compact session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// UpdateResearchProfile overwrites a session's research profile. New corpus
// pointers replace the stored list, never append to it.
func (s *Store) UpdateResearchProfile(ctx context.Context, sessionID string, researchMode bool, sourceMode models.ResearchSourceMode, pointers []string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	session.ResearchMode = researchMode
	session.ResearchSourceMode = sourceMode
	session.ResearchCorpusPointers = pointers
	return s.Update(ctx, session)
}

// Delete removes a session row only. DeleteSessions is the cascading
// deletion callers normally want; the cascade deletes session rows with its
// own statement inside its transaction and does not call Delete.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendMessage adds one message to a session's transcript.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	_, err := s.stmtAppendMessage.ExecContext(ctx,
		sessionID, string(msg.Role), msg.Content, msg.Summary, msg.Model, msg.TokenCount, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// GetHistory returns up to limit messages for sessionID in chronological
// order. limit <= 0 means unbounded.
func (s *Store) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 {
		effectiveLimit = math.MaxInt32 // large enough to be unbounded on both SQLite and Postgres
	}
	rows, err := s.stmtGetHistory.QueryContext(ctx, sessionID, effectiveLimit)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Summary, &m.Model, &m.TokenCount, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
