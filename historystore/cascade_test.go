package historystore

import (
	"context"
	"testing"
	"time"

	"github.com/evrenesat/asky/pkg/models"
)

func TestStore_DeleteSessionsCascadesFindingsAndLinkage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "sess-cascade", Name: "cascade test", CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.SaveFinding(ctx, session.ID, "finding text", "source-1"); err != nil {
		t.Fatalf("save finding: %v", err)
	}
	if _, err := s.AppendSessionMessage(ctx, session.ID, models.RoleUser, "hello"); err != nil {
		t.Fatalf("append message: %v", err)
	}

	count, err := s.DeleteSessions(ctx, session.ID)
	if err != nil {
		t.Fatalf("delete sessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session deleted, got %d", count)
	}

	if _, err := s.Get(ctx, session.ID); err == nil {
		t.Fatalf("expected session row to be gone")
	}

	var findingCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_findings WHERE session_id = ?`, session.ID).Scan(&findingCount); err != nil {
		t.Fatalf("count findings: %v", err)
	}
	if findingCount != 0 {
		t.Errorf("expected findings cascade-deleted, found %d remaining", findingCount)
	}

	messages, err := s.ListMessages(ctx, MessageFilter{SessionID: session.ID, BindSession: true}, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected session messages cascade-deleted, got %d", len(messages))
	}
}

func TestStore_DeleteSessionsIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := &models.Session{ID: "sess-idem", CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.DeleteSessions(ctx, session.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	count, err := s.DeleteSessions(ctx, session.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if count != 0 {
		t.Errorf("second DeleteSessions call should delete 0 rows, got %d", count)
	}
}
