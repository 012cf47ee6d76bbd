// Package daemonrouter is the chat-protocol front end over the turn
// orchestrator: it enforces an allowlist, serializes per-sender work,
// expands presets, optionally plans intent, gates blocked command forms,
// and chunks outbound replies.
package daemonrouter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/evrenesat/asky/hookkernel"
	"github.com/evrenesat/asky/pkg/models"
)

// TurnRunner is the subset of *orchestrator.Orchestrator the router depends
// on. Expressed as an interface so router tests can stub it without
// constructing a full orchestrator.
type TurnRunner interface {
	RunTurn(ctx context.Context, req models.TurnRequest) (models.TurnResult, error)
}

// Transport is the outbound-message sink the router delivers replies
// through. Concrete wire handling (Telegram/Discord/Slack/etc. protocol
// code) is out of scope; Transport is the interface boundary.
type Transport interface {
	Name() string
	// Send delivers one chunk and returns an opaque message reference the
	// transport can later use for Update, if it implements CorrectingTransport.
	Send(ctx context.Context, channel, senderID string, chunk models.OutboundChunk) (ref string, err error)
}

// CorrectingTransport is implemented by transports that can progressively
// edit a previously sent message in place. The router uses this to deliver
// every chunk after the first as an update of the first sent message,
// instead of sending further messages.
type CorrectingTransport interface {
	Transport
	Update(ctx context.Context, ref string, chunk models.OutboundChunk) error
}

// Config carries the daemon.* configuration keys.
type Config struct {
	AllowedSenders     []string
	CommandPrefix      string
	ResponseChunkChars int
	Presets            PresetMap
}

// Router dispatches inbound messages onto per-sender FIFO queues and
// submits each, in order, to the turn orchestrator. One dispatcher (Submit)
// plus one worker goroutine per sender.
type Router struct {
	cfg       Config
	allowlist *Allowlist
	policy    *PolicyGate
	chunker   *OutboundChunker
	planner   Planner
	runner    TurnRunner
	kernel    *hookkernel.Kernel
	attach    *AttachmentRouter
	logger    *slog.Logger

	transport Transport
	sidecars  []Sidecar
	metrics   MessageCounter

	mu      sync.Mutex
	workers map[string]*senderWorker
	wg      sync.WaitGroup
}

// Sidecar is a server started alongside the registered transport and
// stopped on shutdown (DAEMON_SERVER_REGISTER).
type Sidecar interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// MessageCounter is the narrow metrics collaborator the router increments
// per processed message, expressed as an interface so this package never
// imports a concrete metrics client.
type MessageCounter interface {
	IncDaemonMessage(channel, outcome string)
}

type senderWorker struct {
	inbox chan *models.InboundMessage
}

// New constructs a Router. Call RegisterTransport (directly, or via a
// DAEMON_TRANSPORT_REGISTER subscriber) exactly once before Start.
func New(cfg Config, runner TurnRunner, kernel *hookkernel.Kernel, planner Planner, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResponseChunkChars <= 0 {
		cfg.ResponseChunkChars = 2000
	}
	return &Router{
		cfg:       cfg,
		allowlist: NewAllowlist(cfg.AllowedSenders),
		policy:    DefaultPolicyGate(),
		chunker:   NewOutboundChunker(cfg.ResponseChunkChars),
		planner:   planner,
		runner:    runner,
		kernel:    kernel,
		logger:    logger.With("component", "daemonrouter"),
		workers:   make(map[string]*senderWorker),
	}
}

// RegisterTransport wires the single inbound transport plugins or startup
// code registers via DAEMON_TRANSPORT_REGISTER. Calling it more than once
// is a startup error.
func (r *Router) RegisterTransport(t Transport) error {
	if r.transport != nil {
		return fmt.Errorf("daemon: transport %q already registered; exactly one transport is permitted", t.Name())
	}
	r.transport = t
	return nil
}

// RegisterAttachmentRouter wires audio/image transcription for inbound
// media attachments. Optional; without it, attachments are ignored.
func (r *Router) RegisterAttachmentRouter(ar *AttachmentRouter) {
	r.attach = ar
}

// RegisterSidecar adds a sidecar server (DAEMON_SERVER_REGISTER).
func (r *Router) RegisterSidecar(s Sidecar) {
	r.sidecars = append(r.sidecars, s)
}

// RegisterMetrics wires an optional per-message counter. Without one, the
// router runs exactly the same but reports nothing.
func (r *Router) RegisterMetrics(m MessageCounter) {
	r.metrics = m
}

func (r *Router) countMessage(channel, outcome string) {
	if r.metrics != nil {
		r.metrics.IncDaemonMessage(channel, outcome)
	}
}

// Start fires the registration hooks, verifies exactly one transport was
// registered, and starts all sidecars. A missing or duplicate transport
// registration is a fatal startup error.
func (r *Router) Start(ctx context.Context) error {
	r.kernel.Fanout(ctx, hookkernel.DaemonTransportRegister, &hookkernel.DaemonTransportRegisterPayload{})
	r.kernel.Fanout(ctx, hookkernel.DaemonServerRegister, &hookkernel.DaemonServerRegisterPayload{})

	if r.transport == nil {
		return fmt.Errorf("daemon: no transport registered via DAEMON_TRANSPORT_REGISTER; exactly one is required")
	}
	for _, s := range r.sidecars {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("daemon: start sidecar %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Stop stops all sidecars. Exceptions from one sidecar do not prevent the
// others from stopping.
func (r *Router) Stop(ctx context.Context) {
	for _, s := range r.sidecars {
		if err := s.Stop(ctx); err != nil {
			r.logger.Warn("sidecar stop failed", "sidecar", s.Name(), "error", err)
		}
	}
}

// senderKey identifies a per-sender FIFO queue.
func senderKey(msg *models.InboundMessage) string {
	return msg.Channel + ":" + msg.SenderID
}

// Submit is the dispatcher: it enforces the allowlist, then hands msg to the
// sender's worker queue (created lazily on first message), preserving
// strict per-sender ordering. Unmatched senders are dropped silently.
func (r *Router) Submit(msg *models.InboundMessage) {
	if !r.allowlist.Allows(msg.SenderID) {
		r.logger.Debug("dropping message from unallowed sender", "sender", msg.SenderID)
		r.countMessage(msg.Channel, "dropped")
		return
	}
	key := senderKey(msg)

	r.mu.Lock()
	w, ok := r.workers[key]
	if !ok {
		w = &senderWorker{inbox: make(chan *models.InboundMessage, 256)}
		r.workers[key] = w
		r.wg.Add(1)
		go r.runWorker(key, w)
	}
	r.mu.Unlock()

	w.inbox <- msg
}

// Wait blocks until all sender workers have drained and exited. Workers
// only exit when their inbox is closed; production use runs the router for
// the process lifetime and relies on process shutdown instead.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) runWorker(key string, w *senderWorker) {
	defer r.wg.Done()
	for msg := range w.inbox {
		r.process(context.Background(), msg)
	}
	r.mu.Lock()
	delete(r.workers, key)
	r.mu.Unlock()
}

// process runs one inbound message through preset expansion, intent
// planning, the policy gate, and the Turn Orchestrator, then delivers the
// chunked reply. Strictly sequential within one sender's worker goroutine.
func (r *Router) process(ctx context.Context, msg *models.InboundMessage) {
	expanded := r.cfg.Presets.Expand(msg.Text)
	expanded = appendTranscribedAliases(expanded, r.transcribe(ctx, msg.Attachments))

	commandText, queryText, isCommand := r.classify(ctx, expanded)

	if isCommand {
		if err := r.policy.Check(commandText); err != nil {
			r.countMessage(msg.Channel, "blocked")
			r.deliver(ctx, msg, "blocked: "+err.Error())
			return
		}
	}

	req := models.TurnRequest{
		QueryText:   queryText,
		SaveHistory: true,
		Session:     models.SessionSelector{StickySessionName: senderKey(msg)},
	}
	if isCommand {
		req.QueryText = commandText
	}

	result, err := r.runner.RunTurn(ctx, req)
	if err != nil {
		r.countMessage(msg.Channel, "error")
		r.deliver(ctx, msg, "error: "+err.Error())
		return
	}
	if result.Halted {
		r.countMessage(msg.Channel, "halted")
		r.deliver(ctx, msg, "halted: "+result.HaltReason)
		return
	}
	r.countMessage(msg.Channel, "ok")
	r.deliver(ctx, msg, result.FinalAnswer)
}

// transcribe routes msg's attachments through the configured
// AttachmentRouter, returning nil if none is configured or there are no
// attachments.
func (r *Router) transcribe(ctx context.Context, attachments []models.Attachment) []models.TranscribedAttachment {
	if r.attach == nil || len(attachments) == 0 {
		return nil
	}
	return r.attach.Route(ctx, attachments)
}

// appendTranscribedAliases appends each transcribed attachment's alias and
// text to the message so the turn's query can reference it, e.g. "#a1".
func appendTranscribedAliases(text string, transcribed []models.TranscribedAttachment) string {
	for _, t := range transcribed {
		text += fmt.Sprintf("\n\n%s: %s", t.Alias, t.Text)
	}
	return text
}

// classify applies the command-prefix / planner rule: command-prefixed text
// is a direct command; otherwise an optional planner classifies it, falling
// back to query on a malformed planner response.
func (r *Router) classify(ctx context.Context, text string) (commandText, queryText string, isCommand bool) {
	if r.cfg.CommandPrefix != "" && strings.HasPrefix(text, r.cfg.CommandPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(text, r.cfg.CommandPrefix)), "", true
	}
	if r.planner == nil {
		return "", text, false
	}
	decision, err := r.planner.Plan(ctx, text)
	if err != nil {
		r.logger.Warn("planner call failed; falling back to query", "error", err)
		return "", text, false
	}
	switch decision.ActionType {
	case ActionCommand:
		return decision.CommandText, "", true
	case ActionQuery, ActionChat:
		if decision.QueryText != "" {
			return "", decision.QueryText, false
		}
		return "", text, false
	default:
		return "", text, false
	}
}

// deliver renders tables, chunks the text, and sends it through the
// registered transport. The first chunk is sent; each later chunk goes
// through CorrectingTransport.Update on that first message when available,
// and is sent as a new message if the update fails.
func (r *Router) deliver(ctx context.Context, msg *models.InboundMessage, text string) {
	if r.transport == nil {
		return
	}
	rendered := RenderTables(text)
	chunks := r.chunker.Chunk(rendered)
	if len(chunks) == 0 {
		chunks = []models.OutboundChunk{{Text: "", Index: 0, Total: 1}}
	}

	correcting, supportsCorrection := r.transport.(CorrectingTransport)

	var firstRef string
	for i, chunk := range chunks {
		if i == 0 {
			ref, err := r.transport.Send(ctx, msg.Channel, msg.SenderID, chunk)
			if err != nil {
				r.logger.Warn("send failed", "error", err, "sender", msg.SenderID)
				return
			}
			firstRef = ref
			continue
		}
		if supportsCorrection && firstRef != "" {
			if err := correcting.Update(ctx, firstRef, chunk); err == nil {
				continue
			}
			// Fall through to append-as-new-message on update failure.
		}
		if _, err := r.transport.Send(ctx, msg.Channel, msg.SenderID, chunk); err != nil {
			r.logger.Warn("send failed", "error", err, "sender", msg.SenderID, "chunk", i)
			return
		}
	}
}
