package hookkernel

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evrenesat/asky/pkg/models"
)

// ToolRegistryBuildPayload lets plugins add tool definitions during
// TOOL_REGISTRY_BUILD. AddTool skips names listed in DisabledTools; the
// orchestrator passes an empty DisabledTools list and applies no disable
// filter to the registry after the hook. Register is supplied by the
// orchestrator and wraps the per-turn toolregistry.Registry.Register method
// (kept as a plain func value here, not a toolregistry import, so this
// package never depends on toolregistry).
type ToolRegistryBuildPayload struct {
	DisabledTools []string
	Added         []models.ToolDefinition
	Register      func(def models.ToolDefinition, executor func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)) error
}

// AddTool registers a tool definition plus executor unless its name is in
// DisabledTools.
func (p *ToolRegistryBuildPayload) AddTool(def models.ToolDefinition, executor func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)) error {
	for _, d := range p.DisabledTools {
		if d == def.Name {
			return nil
		}
	}
	p.Added = append(p.Added, def)
	if p.Register != nil {
		return p.Register(def, executor)
	}
	return nil
}

// SessionResolvedPayload carries the resolution outcome for read-only
// observation by subscribers.
type SessionResolvedPayload struct {
	Resolution models.SessionResolution
}

// PrePreloadPayload / PostPreloadPayload bracket the preload pipeline.
type PrePreloadPayload struct {
	Request *models.TurnRequest
}

type PostPreloadPayload struct {
	Resolution *models.PreloadResolution
}

// PreLLMCallPayload exposes the assembled messages and tool schemas before
// the LLM is invoked; subscribers may mutate Messages in place.
type PreLLMCallPayload struct {
	Messages []models.Message
	Tools    []models.ToolDefinition
	Turn     int
}

// PostLLMResponsePayload exposes the model's reply and parsed tool calls.
type PostLLMResponsePayload struct {
	Message   models.Message
	ToolCalls []models.ToolCall
}

// PreToolExecutePayload allows a subscriber to short-circuit execution by
// setting ShortCircuitResult to a non-nil value.
type PreToolExecutePayload struct {
	ToolName           string
	Arguments          []byte
	ShortCircuitResult *models.ToolResult
}

// PostToolExecutePayload reports the outcome of a tool dispatch.
type PostToolExecutePayload struct {
	ToolName string
	Result   models.ToolResult
	Elapsed  time.Duration
}

// TurnCompletedPayload carries the final result, fired exactly once per turn.
type TurnCompletedPayload struct {
	Result *models.TurnResult
}

// PostTurnRenderPayload is fired by the embedding frontend after rendering.
type PostTurnRenderPayload struct {
	Result *models.TurnResult
}

// FetchURLOverridePayload lets the first subscriber that sets Result win.
type FetchURLOverridePayload struct {
	URL    string
	Result *FetchResult
}

// FetchResult mirrors the Fetcher adapter's successful output shape.
type FetchResult struct {
	RequestedURL string
	FinalURL     string
	ContentText  string
	Title        string
	Links        []string
	SourceID     string
}

// DaemonServerRegisterPayload / DaemonTransportRegisterPayload let plugins
// register sidecar servers or the (exactly one) inbound transport.
type DaemonServerRegisterPayload struct {
	Name       string
	Registered bool
}

type DaemonTransportRegisterPayload struct {
	Name       string
	Registered bool
}

// TrayMenuRegisterPayload is out of core scope (terminal/UI rendering) but is
// retained as a hook point so plugins targeting the excluded frontend still
// have somewhere to attach without the kernel needing frontend knowledge.
type TrayMenuRegisterPayload struct {
	Items []string
}
