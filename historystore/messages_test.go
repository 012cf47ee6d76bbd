package historystore

import (
	"context"
	"strconv"
	"testing"

	"github.com/evrenesat/asky/pkg/models"
)

func TestParseSelector(t *testing.T) {
	cases := []struct {
		raw     string
		wantAll bool
		wantIDs []int64
	}{
		{"all", true, nil},
		{"5", false, []int64{5}},
		{"1,2,3", false, []int64{1, 2, 3}},
		{"1-3", false, []int64{1, 2, 3}},
		{"1-3,7", false, []int64{1, 2, 3, 7}},
	}
	for _, tc := range cases {
		sel, err := ParseSelector(tc.raw)
		if err != nil {
			t.Fatalf("ParseSelector(%q): %v", tc.raw, err)
		}
		if sel.All != tc.wantAll {
			t.Errorf("ParseSelector(%q).All = %v, want %v", tc.raw, sel.All, tc.wantAll)
		}
		if !tc.wantAll {
			if len(sel.IDs) != len(tc.wantIDs) {
				t.Fatalf("ParseSelector(%q).IDs = %v, want %v", tc.raw, sel.IDs, tc.wantIDs)
			}
			for i := range tc.wantIDs {
				if sel.IDs[i] != tc.wantIDs[i] {
					t.Errorf("ParseSelector(%q).IDs[%d] = %d, want %d", tc.raw, i, sel.IDs[i], tc.wantIDs[i])
				}
			}
		}
	}
}

func TestStore_SaveInteractionOrdersMonotonically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.SaveInteraction(ctx, "", "first question", "first answer", "claude")
	if err != nil {
		t.Fatalf("save interaction 1: %v", err)
	}
	id2, err := s.SaveInteraction(ctx, "", "second question", "second answer", "claude")
	if err != nil {
		t.Fatalf("save interaction 2: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("later interaction's assistant id %d should exceed earlier id %d", id2, id1)
	}
}

func TestStore_DeleteMessagesExpandsPartner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assistantID, err := s.SaveInteraction(ctx, "", "what is Go?", "a programming language", "claude")
	if err != nil {
		t.Fatalf("save interaction: %v", err)
	}
	userID := assistantID - 1

	deleted, err := s.DeleteMessages(ctx, strconv.FormatInt(userID, 10))
	if err != nil {
		t.Fatalf("delete messages: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected partner expansion to delete 2 rows, got %d", deleted)
	}

	remaining, err := s.ListMessages(ctx, MessageFilter{}, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no messages left, got %d", len(remaining))
	}
}

func TestStore_GetContextConcatenatesInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assistantID, err := s.SaveInteraction(ctx, "", "hello", "hi there", "claude")
	if err != nil {
		t.Fatalf("save interaction: %v", err)
	}
	userID := assistantID - 1

	text, err := s.GetContext(ctx, strconv.FormatInt(userID, 10)+","+strconv.FormatInt(assistantID, 10))
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	want := string(models.RoleUser) + ": hello\n" + string(models.RoleAssistant) + ": hi there"
	if text != want {
		t.Errorf("GetContext = %q, want %q", text, want)
	}
}

