package models

import "time"

// AttachmentKind distinguishes the media routed to a transcription worker.
type AttachmentKind string

const (
	AttachmentAudio AttachmentKind = "audio"
	AttachmentImage AttachmentKind = "image"
)

// Attachment is an inbound media reference; transcription workers turn it
// into text plus an alias (e.g. "#a1", "#i1") the sender can cite later.
type Attachment struct {
	Kind AttachmentKind
	URL  string
	Data []byte
}

// TranscribedAttachment is the output of a transcription worker: text plus
// the alias it is referenced by in subsequent turns.
type TranscribedAttachment struct {
	Alias string
	Kind  AttachmentKind
	Text  string
}

// InboundMessage is one message received from an external transport, prior
// to allowlist/preset/planner processing.
type InboundMessage struct {
	Channel     string
	SenderID    string
	Text        string
	Attachments []Attachment
	ReceivedAt  time.Time
}

// OutboundChunk is one piece of a (possibly split) outbound reply.
type OutboundChunk struct {
	Text        string
	Index       int
	Total       int
	Correctable bool // true if the transport can progressively edit this chunk in place
}
