// Package models defines the core data types shared across the turn
// orchestrator, history store, vector store, and daemon router.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one atomic entry in the history store. A message is created by
// the orchestrator at turn persistence and never mutated after insert except
// for post-hoc summary attachment; it is deleted only by explicit command.
type Message struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary,omitempty"`
	Model      string    `json:"model,omitempty"`
	TokenCount int       `json:"token_count"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the output of a tool execution: a tagged variant of
// {ok(value), error(message)}.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ResearchSourceMode constrains where a research session pulls evidence from.
type ResearchSourceMode string

const (
	ResearchSourceWebOnly   ResearchSourceMode = "web_only"
	ResearchSourceLocalOnly ResearchSourceMode = "local_only"
	ResearchSourceMixed     ResearchSourceMode = "mixed"
	ResearchSourceNone      ResearchSourceMode = "none"
)

// ErrResearchProfileInvalid signals the research_mode/research_source_mode
// coupling invariant was violated.
var ErrResearchProfileInvalid = errors.New("models: research_source_mode must be set iff research_mode is true")

// Session is a conversation thread.
type Session struct {
	ID                     string             `json:"id"`
	Name                   string             `json:"name,omitempty"`
	DefaultModel           string             `json:"default_model,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	LastUsedAt             time.Time          `json:"last_used_at"`
	CompactedSummary       string             `json:"compacted_summary,omitempty"`
	MemoryAutoExtract      bool               `json:"memory_auto_extract"`
	MaxTurnsOverride       int                `json:"max_turns_override,omitempty"`
	ResearchMode           bool               `json:"research_mode"`
	ResearchSourceMode     ResearchSourceMode `json:"research_source_mode,omitempty"`
	ResearchCorpusPointers []string           `json:"research_corpus_pointers,omitempty"`
	// ShortlistOverride is "on", "off", or "" (unset — defer to per-turn/global policy).
	ShortlistOverride string `json:"shortlist_override,omitempty"`
}

// ValidateResearchProfile enforces the research_mode/research_source_mode
// coupling invariant from the data model.
func (s *Session) ValidateResearchProfile() error {
	hasMode := s.ResearchSourceMode != ""
	if s.ResearchMode != hasMode {
		return ErrResearchProfileInvalid
	}
	return nil
}

// CorpusHandle is an opaque reference to a cached document, of the form
// corpus://cache/<id>[#section=<section-id>]. Handles never reveal
// filesystem paths to the model.
type CorpusHandle string

// ToolDefinition is a schema + executor pairing exposed to the model.
// Executor is not serialized; it is looked up by name at dispatch time.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
	Description string          `json:"description"`
	Guideline   string          `json:"guideline,omitempty"`
}
