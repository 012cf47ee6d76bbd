package historystore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SaveFinding records a research finding attributed to sourceID against
// sessionID, backing the save-finding built-in tool.
func (s *Store) SaveFinding(ctx context.Context, sessionID, text, sourceID string) error {
	_, err := s.execRebind(ctx,
		`INSERT INTO session_findings (id, session_id, text, source_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), sessionID, text, sourceID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save finding: %w", err)
	}
	return nil
}

// DeleteFindingsBySession removes every finding scoped to sessionID without
// touching the session itself. Shared vector-store chunk rows are never
// deleted here: session cleanup only ever removes the session's own
// findings and linkage rows.
func (s *Store) DeleteFindingsBySession(ctx context.Context, sessionID string) error {
	if _, err := s.execRebind(ctx, `DELETE FROM session_findings WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete findings for session %s: %w", sessionID, err)
	}
	return nil
}

// DeleteSessions deletes the sessions matched by selector and returns the
// count. For every matched session it first deletes session-scoped findings
// and corpus-link rows, then the session's message rows and the session row
// itself — the three-way cascade order is an invariant, not an
// optimization. Shared vector-store chunks survive; other sessions may
// still point at them. Idempotent: calling twice with the same selector
// leaves store state unchanged after the first call, since a selector
// matching zero sessions deletes zero rows.
func (s *Store) DeleteSessions(ctx context.Context, selector string) (int, error) {
	ids, err := s.resolveSessionSelector(ctx, selector)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		if err := s.deleteSessionCascade(ctx, id); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// deleteSessionCascade runs one session's full cascade in a transaction so a
// mid-cascade failure never leaves a session missing its findings but
// keeping its messages.
func (s *Store) deleteSessionCascade(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session %s: begin: %w", sessionID, err)
	}
	defer tx.Rollback()

	steps := []struct {
		query string
		label string
	}{
		{`DELETE FROM session_findings WHERE session_id = ?`, "findings"},
		{`DELETE FROM session_override_files WHERE session_id = ?`, "override-file linkage"},
		{`DELETE FROM session_uploaded_documents WHERE session_id = ?`, "uploaded-document linkage"},
		{`DELETE FROM room_session_bindings WHERE session_id = ?`, "room bindings"},
		{`DELETE FROM messages WHERE session_id = ?`, "messages"},
		{`DELETE FROM sessions WHERE id = ?`, "session row"},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, s.rebind(step.query), sessionID); err != nil {
			return fmt.Errorf("delete %s for session %s: %w", step.label, sessionID, err)
		}
	}
	return tx.Commit()
}

// resolveSessionSelector expands "all" to every session id, a comma list to
// its members, and a bare string to itself (session ids are opaque uuids, so
// no range syntax applies the way it does to the integer message selector).
// Unknown ids are skipped rather than erroring, so a repeated DeleteSessions
// call over an already-deleted id is a no-op, not a failure.
func (s *Store) resolveSessionSelector(ctx context.Context, selector string) ([]string, error) {
	selector = strings.TrimSpace(selector)
	if strings.EqualFold(selector, "all") {
		all, err := s.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(all))
		for i, sess := range all {
			ids[i] = sess.ID
		}
		return ids, nil
	}

	var candidates []string
	for _, part := range strings.Split(selector, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			candidates = append(candidates, part)
		}
	}

	var ids []string
	for _, id := range candidates {
		if _, err := s.Get(ctx, id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
