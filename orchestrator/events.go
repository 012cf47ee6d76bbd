package orchestrator

// Lifecycle event names emitted to subscribed callbacks over the course of
// one turn. Payload keys are stable per event name.
const (
	EventRunStart        = "run_start"
	EventSessionResolved = "session_resolved"
	EventPreloadStart    = "preload_start"
	EventPreloadEnd      = "preload_end"
	EventLLMStart        = "llm_start"
	EventLLMEnd          = "llm_end"
	EventToolStart       = "tool_start"
	EventToolEnd         = "tool_end"
	EventTurnCompleted   = "turn_completed"
	EventRunEnd          = "run_end"
)

// EventCallback receives one lifecycle event. Callbacks run synchronously on
// the turn's task; long-running observers should hand off to their own
// goroutine.
type EventCallback func(name string, payload map[string]any)

// SubscribeEvents adds a lifecycle event callback. Not safe to call
// concurrently with RunTurn; subscribe during process wiring, before turns
// start.
func (o *Orchestrator) SubscribeEvents(cb EventCallback) {
	o.events = append(o.events, cb)
}

func (o *Orchestrator) emit(name string, payload map[string]any) {
	for _, cb := range o.events {
		cb(name, payload)
	}
}
