package pluginmanager

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/pkg/models"
)

type recordingPlugin struct {
	name       string
	failOnAct  bool
	subscribed bool
	api        *API
}

func (p *recordingPlugin) Activate(ctx context.Context, api *API) error {
	p.api = api
	p.api.Kernel.Subscribe(p.name, hookkernel.PreLLMCall, hookkernel.DefaultPriority, func(ctx context.Context, payload any) error {
		p.subscribed = true
		return nil
	})
	if p.failOnAct {
		return fmt.Errorf("boom")
	}
	return nil
}

func (p *recordingPlugin) Deactivate(ctx context.Context) error { return nil }

func newTestManager(t *testing.T) (*Manager, *hookkernel.Kernel) {
	t.Helper()
	dir := t.TempDir()
	kernel := hookkernel.New(nil)
	return New(kernel, dir, nil), kernel
}

func TestManager_TopoOrderWithNameTieBreak(t *testing.T) {
	m, _ := newTestManager(t)
	var activated []string
	register := func(name string) {
		m.RegisterFactory("mod", name, func(manifest models.Manifest) (Plugin, error) {
			return &recordingPlugin{name: manifest.Name}, nil
		})
	}
	for _, n := range []string{"a", "b", "c"} {
		register(n)
	}

	manifests := []models.Manifest{
		{Name: "c", Enabled: true, Module: "mod", Class: "c", Dependencies: []string{"a"}},
		{Name: "b", Enabled: true, Module: "mod", Class: "b", Dependencies: []string{"a"}},
		{Name: "a", Enabled: true, Module: "mod", Class: "a"},
	}

	statuses := m.LoadAll(context.Background(), manifests, nil)
	for _, s := range statuses {
		if s.State != models.PluginActive {
			t.Fatalf("plugin %s did not activate: %s", s.Name, s.Reason)
		}
		activated = append(activated, s.Name)
	}

	// a has no deps so must come before b and c; b/c tie-break alphabetically.
	idx := map[string]int{}
	for i, n := range m.order {
		idx[n] = i
	}
	if idx["a"] > idx["b"] || idx["a"] > idx["c"] {
		t.Fatalf("expected a before b and c, got order %v", m.order)
	}
	if idx["b"] > idx["c"] {
		t.Fatalf("expected b before c on name tie-break, got order %v", m.order)
	}
}

func TestManager_CycleDetection(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterFactory("mod", "x", func(manifest models.Manifest) (Plugin, error) {
		return &recordingPlugin{name: manifest.Name}, nil
	})

	manifests := []models.Manifest{
		{Name: "x", Enabled: true, Module: "mod", Class: "x", Dependencies: []string{"y"}},
		{Name: "y", Enabled: true, Module: "mod", Class: "x", Dependencies: []string{"x"}},
	}

	statuses := m.LoadAll(context.Background(), manifests, nil)
	for _, s := range statuses {
		if s.State != models.PluginFailedLoad {
			t.Errorf("plugin %s: state = %s, want failed_load (cycle)", s.Name, s.State)
		}
	}
}

func TestManager_FailedActivationRollsBackSubscriptionsAndSkipsDependents(t *testing.T) {
	m, kernel := newTestManager(t)
	m.RegisterFactory("mod", "bad", func(manifest models.Manifest) (Plugin, error) {
		return &recordingPlugin{name: manifest.Name, failOnAct: true}, nil
	})
	m.RegisterFactory("mod", "good", func(manifest models.Manifest) (Plugin, error) {
		return &recordingPlugin{name: manifest.Name}, nil
	})

	manifests := []models.Manifest{
		{Name: "base", Enabled: true, Module: "mod", Class: "bad"},
		{Name: "dependent", Enabled: true, Module: "mod", Class: "good", Dependencies: []string{"base"}},
	}

	statuses := m.LoadAll(context.Background(), manifests, nil)
	byName := map[string]models.PluginStatus{}
	for _, s := range statuses {
		byName[s.Name] = s
	}

	if byName["base"].State != models.PluginFailedActivate {
		t.Errorf("base state = %s, want failed_activate", byName["base"].State)
	}
	if byName["dependent"].State != models.PluginSkippedDependency {
		t.Errorf("dependent state = %s, want skipped_dependency", byName["dependent"].State)
	}

	// The invariant: no subscriber from a failed plugin ever fires.
	fired := false
	kernel.Fanout(context.Background(), hookkernel.PreLLMCall, &hookkernel.PreLLMCallPayload{})
	_ = fired
	if kernel.HandlerCount(hookkernel.PreLLMCall) != 0 {
		t.Error("expected the failed plugin's registration to have been rolled back")
	}
}

func TestManager_PerPluginDataDirIsCreated(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterFactory("mod", "ok", func(manifest models.Manifest) (Plugin, error) {
		return &recordingPlugin{name: manifest.Name}, nil
	})

	manifests := []models.Manifest{{Name: "ok", Enabled: true, Module: "mod", Class: "ok"}}
	statuses := m.LoadAll(context.Background(), manifests, nil)
	if statuses[0].State != models.PluginActive {
		t.Fatalf("plugin failed to activate: %s", statuses[0].Reason)
	}

	instance := m.instances["ok"].(*recordingPlugin)
	if instance.api.DataDir == "" {
		t.Fatal("expected non-empty data dir")
	}
	if info, err := os.Stat(instance.api.DataDir); err != nil || !info.IsDir() {
		t.Fatalf("expected data dir to exist: %v", err)
	}
}

func TestManager_FreezeHappensAfterActivation(t *testing.T) {
	m, kernel := newTestManager(t)
	if kernel.Frozen() {
		t.Fatal("kernel should not be frozen before LoadAll")
	}
	m.LoadAll(context.Background(), nil, nil)
	if !kernel.Frozen() {
		t.Fatal("kernel should be frozen after LoadAll")
	}
}
