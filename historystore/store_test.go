package historystore

import (
	"context"
	"testing"
	"time"

	"github.com/evrenesat/asky/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateGetUpdateSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := &models.Session{
		ID:           "sess-1",
		Name:         "first session",
		DefaultModel: "claude",
		CreatedAt:    time.Now(),
		LastUsedAt:   time.Now(),
	}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "first session" {
		t.Errorf("Name = %q, want %q", got.Name, "first session")
	}

	got.Name = "renamed"
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	reread, err := s.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("re-get: %v", err)
	}
	if reread.Name != "renamed" {
		t.Errorf("Name after update = %q, want %q", reread.Name, "renamed")
	}
}

func TestStore_UpdateRejectsInvalidResearchProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	session := &models.Session{ID: "sess-2", CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	session.ResearchMode = true // research_source_mode left unset: invalid coupling
	if err := s.Update(ctx, session); err == nil {
		t.Fatal("expected update to reject invalid research profile coupling")
	}
}

func TestStore_AppendAndGetHistoryOrdersChronologically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	session := &models.Session{ID: "sess-3", CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	base := time.Now()
	for i, content := range []string{"first", "second", "third"} {
		msg := &models.Message{
			SessionID: "sess-3", Role: models.RoleUser, Content: content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendMessage(ctx, "sess-3", msg); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}

	history, err := s.GetHistory(ctx, "sess-3", 10)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	if history[0].Content != "first" || history[2].Content != "third" {
		t.Errorf("expected chronological order, got %v", []string{history[0].Content, history[1].Content, history[2].Content})
	}
}

func TestStore_DeleteSessionLeavesMessagesIntact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	session := &models.Session{ID: "sess-4", CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AppendMessage(ctx, "sess-4", &models.Message{SessionID: "sess-4", Role: models.RoleUser, Content: "hi", Timestamp: time.Now()}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.Delete(ctx, "sess-4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	history, err := s.GetHistory(ctx, "sess-4", 10)
	if err != nil {
		t.Fatalf("get history after delete: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected message row to survive session deletion, got %d rows", len(history))
	}
}
