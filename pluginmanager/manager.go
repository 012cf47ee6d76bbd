// Package pluginmanager loads plugin manifests, orders activation by
// dependency graph, and isolates failures so one plugin can never corrupt
// another's shared state.
package pluginmanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/pkg/models"
)

// Plugin is the interface every loaded plugin class must satisfy.
type Plugin interface {
	Activate(ctx context.Context, api *API) error
	Deactivate(ctx context.Context) error
}

// Factory constructs a Plugin instance for a manifest entry. Registered by
// module+class name ahead of LoadAll; plugins are in-process,
// same-address-space modules, so there is no dynamic .so loading.
type Factory func(manifest models.Manifest) (Plugin, error)

// API is handed to each plugin's Activate call. It exposes the hook kernel
// by shared reference (lifetime = the Manager's lifetime) and the plugin's
// own exclusively-owned data directory and config.
type API struct {
	Kernel       *hookkernel.Kernel
	PluginName   string
	DataDir      string
	Config       map[string]any
}

// Manager owns the Kernel and the loaded plugin set.
type Manager struct {
	kernel    *hookkernel.Kernel
	dataRoot  string
	factories map[string]Factory
	logger    *slog.Logger

	instances map[string]Plugin
	order     []string // activation order, for reverse-order deactivation
}

// New creates a Manager. dataRoot is the parent directory under which each
// plugin gets its own exclusively-owned subdirectory.
func New(kernel *hookkernel.Kernel, dataRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		kernel:    kernel,
		dataRoot:  dataRoot,
		factories: make(map[string]Factory),
		logger:    logger.With("component", "pluginmanager"),
		instances: make(map[string]Plugin),
	}
}

// RegisterFactory binds a module+class key to a constructor. key is
// "<module>#<class>" matching a manifest's Module/Class fields.
func (m *Manager) RegisterFactory(module, class string, factory Factory) {
	m.factories[factoryKey(module, class)] = factory
}

func factoryKey(module, class string) string { return module + "#" + class }

// LoadAll parses manifests, orders enabled entries by dependency graph, and
// activates each in turn. It returns one PluginStatus per manifest entry,
// always — even for disabled or malformed entries — and never returns an
// error itself; plugin failures are isolated, not propagated.
func (m *Manager) LoadAll(ctx context.Context, manifests []models.Manifest, configs map[string]map[string]any) []models.PluginStatus {
	statuses := make(map[string]*models.PluginStatus, len(manifests))
	byName := make(map[string]models.Manifest, len(manifests))

	var enabledNames []string
	for _, manifest := range manifests {
		if manifest.Name == "" {
			m.logger.Error("manifest missing name; skipped")
			statuses[""] = &models.PluginStatus{State: models.PluginFailedLoad, Reason: "manifest missing name"}
			continue
		}
		if _, dup := byName[manifest.Name]; dup {
			statuses[manifest.Name] = &models.PluginStatus{
				Name: manifest.Name, State: models.PluginFailedLoad,
				Reason: "duplicate plugin name",
			}
			continue
		}
		byName[manifest.Name] = manifest

		if !manifest.Enabled {
			statuses[manifest.Name] = &models.PluginStatus{Name: manifest.Name, State: models.PluginDisabled}
			continue
		}
		if _, ok := m.factories[factoryKey(manifest.Module, manifest.Class)]; !ok {
			statuses[manifest.Name] = &models.PluginStatus{
				Name: manifest.Name, State: models.PluginFailedLoad,
				Reason: fmt.Sprintf("no factory registered for module=%s class=%s", manifest.Module, manifest.Class),
			}
			continue
		}
		statuses[manifest.Name] = &models.PluginStatus{Name: manifest.Name, State: models.PluginLoaded}
		enabledNames = append(enabledNames, manifest.Name)
	}

	order, cyclic := topoSort(enabledNames, byName)
	for _, name := range cyclic {
		statuses[name] = &models.PluginStatus{Name: name, State: models.PluginFailedLoad, Reason: "dependency cycle"}
	}

	skipped := make(map[string]bool)
	for _, name := range order {
		manifest := byName[name]

		var blockedBy string
		for _, dep := range manifest.Dependencies {
			depStatus, known := statuses[dep]
			if !known || depStatus.State != models.PluginActive {
				blockedBy = dep
				break
			}
		}
		if blockedBy != "" {
			statuses[name] = &models.PluginStatus{
				Name: name, State: models.PluginSkippedDependency,
				Reason: fmt.Sprintf("dependency %q did not activate", blockedBy),
			}
			skipped[name] = true
			continue
		}

		if err := m.activate(ctx, manifest, configs[name]); err != nil {
			statuses[name] = &models.PluginStatus{Name: name, State: models.PluginFailedActivate, Reason: err.Error()}
			continue
		}
		statuses[name] = &models.PluginStatus{Name: name, State: models.PluginActive}
		m.order = append(m.order, name)
	}

	m.kernel.Freeze()

	out := make([]models.PluginStatus, 0, len(manifests))
	for _, manifest := range manifests {
		if s, ok := statuses[manifest.Name]; ok {
			out = append(out, *s)
		}
	}
	return out
}

func (m *Manager) activate(ctx context.Context, manifest models.Manifest, cfg map[string]any) (err error) {
	factory := m.factories[factoryKey(manifest.Module, manifest.Class)]

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during activation: %v", p)
		}
		// Invariant: a failing plugin never leaves partial subscriptions
		// visible to other plugins — every registration made during this
		// activation attempt is rolled back on failure.
		if err != nil {
			m.kernel.RemoveSource(manifest.Name)
		}
	}()

	instance, err := factory(manifest)
	if err != nil {
		return fmt.Errorf("construct plugin: %w", err)
	}

	dataDir := filepath.Join(m.dataRoot, manifest.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create plugin data dir: %w", err)
	}

	api := &API{Kernel: m.kernel, PluginName: manifest.Name, DataDir: dataDir, Config: cfg}
	if err := instance.Activate(ctx, api); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	m.instances[manifest.Name] = instance
	return nil
}

// Shutdown deactivates plugins in reverse activation order. A deactivation
// error is logged but does not abort deactivation of the remaining plugins.
func (m *Manager) Shutdown(ctx context.Context) {
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		instance := m.instances[name]
		if instance == nil {
			continue
		}
		if err := m.deactivateSafely(ctx, instance); err != nil {
			m.logger.Error("plugin deactivate failed", "plugin", name, "error", err)
		}
	}
}

func (m *Manager) deactivateSafely(ctx context.Context, instance Plugin) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during deactivation: %v", p)
		}
	}()
	return instance.Deactivate(ctx)
}

// topoSort returns enabled plugin names in dependency order (dependencies
// before dependents), breaking ties by name ascending via Kahn's algorithm,
// plus the subset that sits on a dependency cycle (excluded from the
// returned order — those members never reach in-degree zero).
func topoSort(names []string, byName map[string]models.Manifest) (order []string, cyclic []string) {
	nameSet := make(map[string]bool, len(names))
	for _, n := range names {
		nameSet[n] = true
	}

	inDegree := make(map[string]int, len(names))
	dependents := make(map[string][]string) // dep -> names that depend on it
	for _, n := range names {
		inDegree[n] = 0
	}
	for _, n := range names {
		for _, dep := range byName[n].Dependencies {
			if !nameSet[dep] {
				continue // unknown dependency: handled as skipped_dependency at activation time
			}
			inDegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var ready []string
	for _, n := range names {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	order = make([]string, 0, len(names))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		ready = append(ready, newlyReady...)
	}

	processed := make(map[string]bool, len(order))
	for _, n := range order {
		processed[n] = true
	}
	for _, n := range names {
		if !processed[n] {
			cyclic = append(cyclic, n)
		}
	}
	sort.Strings(cyclic)
	return order, cyclic
}
