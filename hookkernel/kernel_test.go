package hookkernel

import (
	"context"
	"errors"
	"testing"

	"github.com/evrenesat/asky/pkg/models"
)

func TestKernel_FanoutOrdering(t *testing.T) {
	k := New(nil)

	var order []string
	k.Subscribe("b-plugin", PreLLMCall, 50, func(ctx context.Context, payload any) error {
		order = append(order, "b-plugin")
		return nil
	})
	k.Subscribe("a-plugin", PreLLMCall, 50, func(ctx context.Context, payload any) error {
		order = append(order, "a-plugin")
		return nil
	})
	k.Subscribe("z-plugin", PreLLMCall, 10, func(ctx context.Context, payload any) error {
		order = append(order, "z-plugin")
		return nil
	})

	k.Fanout(context.Background(), PreLLMCall, &PreLLMCallPayload{})

	want := []string{"z-plugin", "a-plugin", "b-plugin"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestKernel_FanoutIsolatesSubscriberErrors(t *testing.T) {
	k := New(nil)

	ran := false
	k.Subscribe("failing", PreToolExecute, DefaultPriority, func(ctx context.Context, payload any) error {
		return errors.New("boom")
	})
	k.Subscribe("panicking", PreToolExecute, DefaultPriority, func(ctx context.Context, payload any) error {
		panic("also boom")
	})
	k.Subscribe("survivor", PreToolExecute, DefaultPriority, func(ctx context.Context, payload any) error {
		ran = true
		return nil
	})

	k.Fanout(context.Background(), PreToolExecute, &PreToolExecutePayload{ToolName: "web-search"})

	if !ran {
		t.Fatal("later subscriber did not run after an earlier one errored/panicked")
	}
}

func TestKernel_ShortCircuit(t *testing.T) {
	k := New(nil)
	k.Subscribe("cache", PreToolExecute, DefaultPriority, func(ctx context.Context, payload any) error {
		p := payload.(*PreToolExecutePayload)
		p.ShortCircuitResult = &models.ToolResult{Content: "cached"}
		return nil
	})

	payload := &PreToolExecutePayload{ToolName: "fetch-url"}
	k.Fanout(context.Background(), PreToolExecute, payload)

	if payload.ShortCircuitResult == nil {
		t.Fatal("expected short-circuit result to be set")
	}
	if payload.ShortCircuitResult.Content != "cached" {
		t.Errorf("Content = %q, want %q", payload.ShortCircuitResult.Content, "cached")
	}
}

func TestKernel_ChainThreadsValue(t *testing.T) {
	k := New(nil)
	k.SubscribeChain("plugin-a", SystemPromptExtend, DefaultPriority, func(ctx context.Context, prev string) (string, error) {
		return prev + " [a]", nil
	})
	k.SubscribeChain("plugin-b", SystemPromptExtend, DefaultPriority, func(ctx context.Context, prev string) (string, error) {
		return prev + " [b]", nil
	})

	got := k.Chain(context.Background(), SystemPromptExtend, "base")
	if got != "base [a] [b]" {
		t.Errorf("Chain result = %q, want %q", got, "base [a] [b]")
	}
}

func TestKernel_ChainSubscriberErrorPassesThroughUnchanged(t *testing.T) {
	k := New(nil)
	k.SubscribeChain("broken", SystemPromptExtend, DefaultPriority, func(ctx context.Context, prev string) (string, error) {
		return "discarded", errors.New("nope")
	})

	got := k.Chain(context.Background(), SystemPromptExtend, "base")
	if got != "base" {
		t.Errorf("Chain result = %q, want unchanged %q", got, "base")
	}
}

func TestKernel_FreezeRejectsLateRegistration(t *testing.T) {
	k := New(nil)
	k.Freeze()

	k.Subscribe("late", PreLLMCall, DefaultPriority, func(ctx context.Context, payload any) error {
		return nil
	})

	k.Fanout(context.Background(), PreLLMCall, &PreLLMCallPayload{})
	if k.HandlerCount(PreLLMCall) != 0 {
		t.Error("registration after freeze should be ignored")
	}
}

func TestKernel_RemoveSourceRollsBackSubscriptions(t *testing.T) {
	k := New(nil)

	var calls int
	k.Subscribe("flaky", PreLLMCall, DefaultPriority, func(ctx context.Context, payload any) error {
		calls++
		return nil
	})
	k.Subscribe("stable", PreLLMCall, DefaultPriority, func(ctx context.Context, payload any) error {
		calls++
		return nil
	})

	k.RemoveSource("flaky")
	k.Fanout(context.Background(), PreLLMCall, &PreLLMCallPayload{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (only the stable subscriber)", calls)
	}
}
