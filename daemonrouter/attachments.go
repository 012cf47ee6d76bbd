package daemonrouter

import (
	"context"
	"fmt"

	"github.com/evrenesat/asky/pkg/models"
)

// TranscriptionWorker turns one attachment into text. This is the adapter
// boundary a deployment plugs a real transcriber into.
type TranscriptionWorker interface {
	Transcribe(ctx context.Context, a models.Attachment) (text string, err error)
}

// AttachmentRouter assigns each inbound attachment a stable per-message
// alias ("#a1", "#i1", ...) and dispatches it to the transcription worker
// for its kind, so the turn's query text can reference the result by alias.
type AttachmentRouter struct {
	audio TranscriptionWorker
	image TranscriptionWorker
}

// NewAttachmentRouter builds a router. Either worker may be nil; an audio or
// image attachment with no worker, or whose transcription fails, still gets
// its alias, with "[<kind> transcription unavailable]" as its text.
// Attachments of any other kind are skipped.
func NewAttachmentRouter(audio, image TranscriptionWorker) *AttachmentRouter {
	return &AttachmentRouter{audio: audio, image: image}
}

// Route transcribes every attachment on msg, in order, assigning aliases
// per-kind ("#a1", "#a2", ... for audio; "#i1", "#i2", ... for image).
func (ar *AttachmentRouter) Route(ctx context.Context, attachments []models.Attachment) []models.TranscribedAttachment {
	var audioN, imageN int
	out := make([]models.TranscribedAttachment, 0, len(attachments))
	for _, a := range attachments {
		var worker TranscriptionWorker
		var alias string
		switch a.Kind {
		case models.AttachmentAudio:
			audioN++
			worker = ar.audio
			alias = fmt.Sprintf("#a%d", audioN)
		case models.AttachmentImage:
			imageN++
			worker = ar.image
			alias = fmt.Sprintf("#i%d", imageN)
		default:
			continue
		}
		text := fmt.Sprintf("[%s transcription unavailable]", a.Kind)
		if worker != nil {
			if t, err := worker.Transcribe(ctx, a); err == nil {
				text = t
			}
		}
		out = append(out, models.TranscribedAttachment{Alias: alias, Kind: a.Kind, Text: text})
	}
	return out
}
