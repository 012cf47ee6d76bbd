package daemonrouter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/evrenesat/asky/pkg/models"
)

// StdioTransport is the reference Transport implementation: one local
// sender reading lines from an io.Reader and writing replies to an
// io.Writer. It exists so askyd runs end-to-end without a messaging
// platform binding; a deployment wanting Telegram/Discord/Slack/etc.
// registers its own Transport via DAEMON_TRANSPORT_REGISTER instead.
type StdioTransport struct {
	SenderID string
	Channel  string

	out io.Writer
	mu  sync.Mutex
}

// NewStdioTransport builds a transport that labels every inbound line as
// coming from senderID on the given channel name.
func NewStdioTransport(senderID, channel string, out io.Writer) *StdioTransport {
	return &StdioTransport{SenderID: senderID, Channel: channel, out: out}
}

func (t *StdioTransport) Name() string { return "stdio" }

// Send writes one chunk to stdout, prefixed with its position when there is
// more than one chunk in the reply.
func (t *StdioTransport) Send(ctx context.Context, channel, senderID string, chunk models.OutboundChunk) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if chunk.Total > 1 {
		fmt.Fprintf(t.out, "[%d/%d] %s\n", chunk.Index+1, chunk.Total, chunk.Text)
	} else {
		fmt.Fprintln(t.out, chunk.Text)
	}
	return "", nil
}

// ReadLoop blocks reading lines from in, submitting each as an
// InboundMessage to router, until in is exhausted or ctx is cancelled.
func (t *StdioTransport) ReadLoop(ctx context.Context, in io.Reader, submit func(*models.InboundMessage)) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		submit(&models.InboundMessage{Channel: t.Channel, SenderID: t.SenderID, Text: line})
	}
	return scanner.Err()
}
