package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/evrenesat/asky/pkg/models"
)

// SaveInteraction persists one user/assistant exchange as two messages in a
// single transaction and returns the assistant message's id. sessionID may
// be empty, placing the pair in the null-session global pool.
func (s *Store) SaveInteraction(ctx context.Context, sessionID, query, answer, model string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save interaction: begin: %w", err)
	}
	defer tx.Rollback()

	appendStmt := tx.StmtContext(ctx, s.stmtAppendMessage)
	now := time.Now()
	if _, err := appendStmt.ExecContext(ctx, sessionID, string(models.RoleUser), query, "", model, EstimateTokens(query), now); err != nil {
		return 0, fmt.Errorf("save interaction (user half): %w", err)
	}

	result, err := appendStmt.ExecContext(ctx, sessionID, string(models.RoleAssistant), answer, "", model, EstimateTokens(answer), now)
	if err != nil {
		return 0, fmt.Errorf("save interaction (assistant half): %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save interaction: read assistant id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save interaction: commit: %w", err)
	}
	return id, nil
}

// EstimateTokens approximates a raw string's token count by the same
// chars-per-token heuristic sessionresolver.EstimateTokens uses for
// messages, duplicated here (not imported) to avoid a historystore <->
// sessionresolver import cycle — sessionresolver already depends on
// historystore for persistence.
func EstimateTokens(text string) int {
	const charsPerToken = 4
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// AppendSessionMessage appends one message of the given role to sessionID.
// It runs the same insert as AppendMessage and returns the new row id, for
// callers that don't need SaveInteraction's paired-insert shape.
func (s *Store) AppendSessionMessage(ctx context.Context, sessionID string, role models.Role, content string) (int64, error) {
	msg := &models.Message{SessionID: sessionID, Role: role, Content: content, Timestamp: time.Now(), TokenCount: EstimateTokens(content)}
	result, err := s.stmtAppendMessage.ExecContext(ctx, sessionID, string(msg.Role), msg.Content, msg.Summary, msg.Model, msg.TokenCount, msg.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("append session message: %w", err)
	}
	return result.LastInsertId()
}

// AttachSummary sets a message's summary field. Messages are otherwise
// immutable after insert; this is the one permitted post-hoc mutation.
func (s *Store) AttachSummary(ctx context.Context, id int64, summary string) error {
	_, err := s.execRebind(ctx, `UPDATE messages SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("attach summary: %w", err)
	}
	return nil
}

// MessageFilter narrows ListMessages. An empty SessionID with BindSession
// false matches every message regardless of session binding.
type MessageFilter struct {
	SessionID   string
	BindSession bool // true: only messages with session_id = SessionID (which may itself be "")
	Role        models.Role
}

// ListMessages returns up to limit matching messages, oldest first.
// limit <= 0 means unbounded.
func (s *Store) ListMessages(ctx context.Context, filter MessageFilter, limit int) ([]*models.Message, error) {
	query := `SELECT id, session_id, role, content, summary, model, token_count, created_at FROM messages WHERE 1=1`
	var args []any
	if filter.BindSession {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Role != "" {
		query += ` AND role = ?`
		args = append(args, string(filter.Role))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.queryRebind(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func scanMessageRows(rows *sql.Rows) ([]*models.Message, error) {
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

// Selector is a parsed message selector: a single id, comma list, range,
// or "all".
type Selector struct {
	All bool
	IDs []int64
}

// ParseSelector parses a raw selector string.
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Selector{}, fmt.Errorf("empty selector")
	}
	if strings.EqualFold(raw, "all") {
		return Selector{All: true}, nil
	}

	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			loID, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
			if err != nil {
				return Selector{}, fmt.Errorf("parse range start %q: %w", part, err)
			}
			hiID, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
			if err != nil {
				return Selector{}, fmt.Errorf("parse range end %q: %w", part, err)
			}
			for id := loID; id <= hiID; id++ {
				ids = append(ids, id)
			}
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return Selector{}, fmt.Errorf("parse id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return Selector{IDs: ids}, nil
}

// GetByIDs returns the messages with the given ids, in ascending id order.
func (s *Store) GetByIDs(ctx context.Context, ids []int64) ([]*models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, session_id, role, content, summary, model, token_count, created_at
		FROM messages WHERE id IN (%s) ORDER BY id ASC`, strings.Join(placeholders, ","))
	rows, err := s.queryRebind(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

// GetContext concatenates the content of the messages matching selector,
// in chronological order.
func (s *Store) GetContext(ctx context.Context, selector string) (string, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return "", err
	}
	var messages []*models.Message
	if sel.All {
		messages, err = s.ListMessages(ctx, MessageFilter{}, 0)
	} else {
		messages, err = s.GetByIDs(ctx, sel.IDs)
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}

// findPartner implements user<->assistant partner expansion: session-scoped
// messages search within the session; null-session messages search the
// global pool. The partner of a user message is the nearest later message of
// the opposite role in the same scope; the partner of an assistant message
// is the nearest earlier one.
func (s *Store) findPartner(ctx context.Context, m *models.Message) (*models.Message, error) {
	var wantRole models.Role
	var cmp, order string
	switch m.Role {
	case models.RoleUser:
		wantRole, cmp, order = models.RoleAssistant, ">", "ASC"
	case models.RoleAssistant:
		wantRole, cmp, order = models.RoleUser, "<", "DESC"
	default:
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT id, session_id, role, content, summary, model, token_count, created_at
		FROM messages WHERE session_id = ? AND role = ? AND id %s ? ORDER BY id %s LIMIT 1`, cmp, order)
	row := s.queryRowRebind(ctx, query, m.SessionID, string(wantRole), m.ID)
	partner := &models.Message{}
	var role string
	err := row.Scan(&partner.ID, &partner.SessionID, &role, &partner.Content, &partner.Summary, &partner.Model, &partner.TokenCount, &partner.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find partner: %w", err)
	}
	partner.Role = models.Role(role)
	return partner, nil
}

// DeleteMessages removes the messages matched by selector plus each matched
// message's user/assistant partner, and returns the number of rows deleted.
// Session-level deletion is Store.Delete / DeleteSessions.
func (s *Store) DeleteMessages(ctx context.Context, selector string) (int, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return 0, err
	}

	var base []*models.Message
	if sel.All {
		base, err = s.ListMessages(ctx, MessageFilter{}, 0)
	} else {
		base, err = s.GetByIDs(ctx, sel.IDs)
	}
	if err != nil {
		return 0, err
	}

	toDelete := make(map[int64]bool, len(base)*2)
	for _, m := range base {
		toDelete[m.ID] = true
		partner, err := s.findPartner(ctx, m)
		if err != nil {
			return 0, err
		}
		if partner != nil {
			toDelete[partner.ID] = true
		}
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	ids := make([]any, 0, len(toDelete))
	placeholders := make([]string, 0, len(toDelete))
	for id := range toDelete {
		ids = append(ids, id)
		placeholders = append(placeholders, "?")
	}
	result, err := s.execRebind(ctx, fmt.Sprintf(`DELETE FROM messages WHERE id IN (%s)`, strings.Join(placeholders, ",")), ids...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete messages: rows affected: %w", err)
	}
	return int(affected), nil
}
