// Package hookkernel implements deterministic hook dispatch: a fixed
// HookName enumeration, ordered fanout over mutable payloads, and a single
// text-threading chain hook for system-prompt extension.
package hookkernel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// HookName is the fixed enumeration of named dispatch points.
type HookName string

const (
	ToolRegistryBuild       HookName = "TOOL_REGISTRY_BUILD"
	SessionResolved         HookName = "SESSION_RESOLVED"
	PrePreload              HookName = "PRE_PRELOAD"
	PostPreload             HookName = "POST_PRELOAD"
	SystemPromptExtend      HookName = "SYSTEM_PROMPT_EXTEND"
	PreLLMCall              HookName = "PRE_LLM_CALL"
	PostLLMResponse         HookName = "POST_LLM_RESPONSE"
	PreToolExecute          HookName = "PRE_TOOL_EXECUTE"
	PostToolExecute         HookName = "POST_TOOL_EXECUTE"
	TurnCompleted           HookName = "TURN_COMPLETED"
	PostTurnRender          HookName = "POST_TURN_RENDER"
	FetchURLOverride        HookName = "FETCH_URL_OVERRIDE"
	DaemonServerRegister    HookName = "DAEMON_SERVER_REGISTER"
	DaemonTransportRegister HookName = "DAEMON_TRANSPORT_REGISTER"
	TrayMenuRegister        HookName = "TRAY_MENU_REGISTER"
)

// chainHooks is the set of hook names dispatched in Chain mode. Every other
// hook name uses Fanout mode.
var chainHooks = map[HookName]bool{
	SystemPromptExtend: true,
}

// DefaultPriority is used when a subscriber does not specify one.
const DefaultPriority = 100

// FanoutHandler mutates a shared context object; exceptions are caught by the
// kernel and logged with hook name + subscriber plugin name.
type FanoutHandler func(ctx context.Context, payload any) error

// ChainHandler receives the previous return value (always text for
// SYSTEM_PROMPT_EXTEND) and returns the next threaded value.
type ChainHandler func(ctx context.Context, prev string) (string, error)

type subscriber struct {
	pluginName string
	priority   int
	index      int
	fanout     FanoutHandler
	chain      ChainHandler
}

// Kernel is the hook registry. It is mutable only during plugin activation
// and frozen thereafter; registering after freeze is a programming error
// that is logged and ignored rather than panicking, since plugin activation
// order is not under the caller's control.
type Kernel struct {
	mu      sync.Mutex
	subs    map[HookName][]*subscriber
	frozen  bool
	nextIdx int
	logger  *slog.Logger
}

// New creates an unfrozen Kernel.
func New(logger *slog.Logger) *Kernel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kernel{
		subs:   make(map[HookName][]*subscriber),
		logger: logger.With("component", "hookkernel"),
	}
}

// Subscribe registers a fanout handler under pluginName for hookName with the
// given priority (lower runs earlier; use DefaultPriority absent a reason to
// deviate). No-ops with a logged error if the kernel is frozen.
func (k *Kernel) Subscribe(pluginName string, hookName HookName, priority int, handler FanoutHandler) {
	if chainHooks[hookName] {
		k.logger.Warn("Subscribe called for a chain hook; use SubscribeChain", "hook", hookName)
		return
	}
	k.register(pluginName, hookName, priority, &subscriber{fanout: handler})
}

// SubscribeChain registers a chain handler for hookName (only
// SYSTEM_PROMPT_EXTEND is a chain hook).
func (k *Kernel) SubscribeChain(pluginName string, hookName HookName, priority int, handler ChainHandler) {
	if !chainHooks[hookName] {
		k.logger.Warn("SubscribeChain called for a fanout hook; use Subscribe", "hook", hookName)
		return
	}
	k.register(pluginName, hookName, priority, &subscriber{chain: handler})
}

func (k *Kernel) register(pluginName string, hookName HookName, priority int, s *subscriber) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.frozen {
		k.logger.Error("hook registration attempted after freeze; ignored",
			"hook", hookName, "plugin", pluginName)
		return
	}

	s.pluginName = pluginName
	s.priority = priority
	s.index = k.nextIdx
	k.nextIdx++

	k.subs[hookName] = append(k.subs[hookName], s)
	sortSubscribers(k.subs[hookName])
}

func sortSubscribers(subs []*subscriber) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority < subs[j].priority
		}
		if subs[i].pluginName != subs[j].pluginName {
			return subs[i].pluginName < subs[j].pluginName
		}
		return subs[i].index < subs[j].index
	})
}

// Freeze makes the kernel immutable. Called once, after all plugin
// activations complete. Safe to call more than once.
func (k *Kernel) Freeze() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.frozen = true
}

// Frozen reports whether the kernel has been frozen.
func (k *Kernel) Frozen() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.frozen
}

// RemoveSource drops every subscription registered under pluginName. Used by
// the plugin manager to roll back a failed plugin's partial registrations.
func (k *Kernel) RemoveSource(pluginName string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for name, subs := range k.subs {
		filtered := subs[:0]
		for _, s := range subs {
			if s.pluginName != pluginName {
				filtered = append(filtered, s)
			}
		}
		k.subs[name] = filtered
	}
}

// HandlerCount returns the number of subscribers registered for hookName.
func (k *Kernel) HandlerCount(hookName HookName) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.subs[hookName])
}

// Fanout dispatches hookName to every subscriber in order. Each subscriber's
// panic or error is caught, logged, and does not interrupt the remaining
// subscribers. The kernel reads its subscriber list without a lock held
// across handler calls — safe because the list is frozen by the time any
// turn invokes Fanout.
func (k *Kernel) Fanout(ctx context.Context, hookName HookName, payload any) {
	k.mu.Lock()
	subs := append([]*subscriber(nil), k.subs[hookName]...)
	k.mu.Unlock()

	for _, s := range subs {
		if s.fanout == nil {
			continue
		}
		k.invoke(ctx, hookName, s, payload)
	}
}

func (k *Kernel) invoke(ctx context.Context, hookName HookName, s *subscriber, payload any) {
	defer func() {
		if p := recover(); p != nil {
			k.logger.Warn("hook subscriber panicked",
				"hook", hookName, "plugin", s.pluginName, "panic", fmt.Sprint(p))
		}
	}()
	if err := s.fanout(ctx, payload); err != nil {
		k.logger.Warn("hook subscriber error",
			"hook", hookName, "plugin", s.pluginName, "error", err)
	}
}

// Chain dispatches SYSTEM_PROMPT_EXTEND, threading the text value through
// each subscriber in order. A subscriber error or panic is logged and the
// value it received is passed through unchanged to the next subscriber.
func (k *Kernel) Chain(ctx context.Context, hookName HookName, initial string) string {
	k.mu.Lock()
	subs := append([]*subscriber(nil), k.subs[hookName]...)
	k.mu.Unlock()

	value := initial
	for _, s := range subs {
		if s.chain == nil {
			continue
		}
		value = k.invokeChain(ctx, hookName, s, value)
	}
	return value
}

func (k *Kernel) invokeChain(ctx context.Context, hookName HookName, s *subscriber, value string) (result string) {
	result = value
	defer func() {
		if p := recover(); p != nil {
			k.logger.Warn("chain hook subscriber panicked",
				"hook", hookName, "plugin", s.pluginName, "panic", fmt.Sprint(p))
			result = value
		}
	}()
	next, err := s.chain(ctx, value)
	if err != nil {
		k.logger.Warn("chain hook subscriber error",
			"hook", hookName, "plugin", s.pluginName, "error", err)
		return value
	}
	return next
}
