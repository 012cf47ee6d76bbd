// Package errs defines the error-kind taxonomy shared across the turn
// orchestrator, preload pipeline, plugin manager, and daemon router.
// Callers distinguish kinds with errors.Is; wrapped context is added with
// fmt.Errorf("...: %w", ErrX).
package errs

import "errors"

// One sentinel per failure kind; callers classify with errors.Is.
var (
	// ErrConfig indicates invalid user configuration or a malformed manifest.
	// Fails startup.
	ErrConfig = errors.New("config error")

	// ErrContextOverflow indicates the LLM adapter reported the request was
	// too large. Raised to the orchestrator's caller as a
	// ContextOverflowError carrying the turn's uncompacted message set.
	ErrContextOverflow = errors.New("context overflow")

	// ErrTransportTransient indicates a retryable external-service failure
	// (HTTP 429, 5xx, connection reset). Retried internally with backoff.
	ErrTransportTransient = errors.New("transient transport error")

	// ErrTransportPermanent indicates a non-retryable external failure.
	ErrTransportPermanent = errors.New("permanent transport error")

	// ErrToolExecution indicates a tool executor raised. Captured as an
	// error tool-result fed back to the model.
	ErrToolExecution = errors.New("tool execution error")

	// ErrCorpusMissing indicates a research turn expected local corpus but
	// ingested zero content-bearing documents. Halts the turn.
	ErrCorpusMissing = errors.New("corpus missing")

	// ErrAmbiguousResume indicates a session resume term matched more than
	// one session. Halts with a candidate list.
	ErrAmbiguousResume = errors.New("ambiguous resume")

	// ErrPluginLoad indicates a plugin failed to import or activate.
	// Isolated; the plugin is skipped.
	ErrPluginLoad = errors.New("plugin load error")

	// ErrHookCallback indicates a hook subscriber panicked or returned an
	// error. Logged; other subscribers continue.
	ErrHookCallback = errors.New("hook callback error")

	// ErrPolicyBlocked indicates a blocked flag or command form in a remote
	// context. Rejected with an explanation.
	ErrPolicyBlocked = errors.New("policy blocked")

	// ErrCancelled indicates a user- or system-initiated cancellation.
	ErrCancelled = errors.New("cancelled")
)
