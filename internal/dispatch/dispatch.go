// Package dispatch turns inbound WhatsApp events into replies. It owns
// the per-modality pipelines (text, voice note, image, everything
// else), the apology texts for known failures, and the guarantee that
// every event gets exactly one reply.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/warelay/internal/bus"
	"github.com/nextlevelbuilder/warelay/internal/groq"
	"github.com/nextlevelbuilder/warelay/internal/lang"
	"github.com/nextlevelbuilder/warelay/internal/media"
	"github.com/nextlevelbuilder/warelay/internal/sessions"
)

// Stock replies for known failure points. Spanish because that is the
// deployed audience; the model handles language switching for normal
// replies on its own.
const (
	apologyVoiceDownload = "No pude descargar tu mensaje de voz. ¿Podrías enviarlo de nuevo?"
	apologyVoiceUnclear  = "No pude entender tu mensaje de voz. ¿Podrías repetirlo?"
	apologyImageDownload = "No pude descargar la imagen. ¿Podrías enviarla de nuevo?"
	apologyVision        = "No pude analizar la imagen. ¿Podrías enviarla de nuevo?"
	apologyEmptyMessage  = "No pude procesar ese mensaje. ¿Podrías escribirme?"
	apologyProvider      = "Disculpa, tuve un problema. ¿Podrías repetir?"
	fallbackMessage      = "Disculpa, tuve un problema. ¿Podrías intentar de nuevo?"
)

// Channel is the messaging side: sending replies and fetching media.
type Channel interface {
	SendText(ctx context.Context, to, body string) error
	SendAudio(ctx context.Context, to string, mp3 []byte) error
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Completer runs chat and vision completions.
type Completer interface {
	Complete(ctx context.Context, system string, history []groq.Message, userText string) (string, error)
	AnalyzeImage(ctx context.Context, system string, history []groq.Message, img groq.ImageContent, caption string) (string, error)
}

// Transcriber converts MP3 voice audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, mp3 []byte) (string, error)
}

// Speaker renders reply text as MP3 speech, or (nil, nil) when no
// voice can serve the language.
type Speaker interface {
	Speak(ctx context.Context, text string, language lang.Language) ([]byte, error)
}

// AudioTranscoder converts inbound OGG voice notes to MP3.
type AudioTranscoder interface {
	OggToMP3(ctx context.Context, ogg []byte) ([]byte, error)
}

// History stores conversation turns per sender.
type History interface {
	Load(ctx context.Context, sender string) []sessions.Message
	Append(ctx context.Context, sender, userText, assistantText string)
}

// Dispatcher wires the pipeline dependencies together. All fields must
// be set; NormalizeImage may be left nil to use the default.
type Dispatcher struct {
	Channel     Channel
	Completer   Completer
	Transcriber Transcriber
	Speaker     Speaker
	Transcoder  AudioTranscoder
	History     History

	SystemPrompt string
	VisionPrompt string

	// NormalizeImage bounds and re-encodes inbound images before
	// vision analysis. Nil means media.NormalizeImage.
	NormalizeImage func(data []byte) ([]byte, string, error)
}

// Handle processes one inbound event end to end and reports how it was
// resolved. It never panics out: unexpected failures send the generic
// fallback text and return OutcomeFallback.
func (d *Dispatcher) Handle(ctx context.Context, ev *bus.InboundEvent) (outcome bus.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch panicked", "event_id", ev.EventID, "sender", ev.Sender, "panic", r)
			if err := d.Channel.SendText(ctx, ev.Sender, fallbackMessage); err != nil {
				slog.Error("fallback send failed", "event_id", ev.EventID, "error", err)
			}
			outcome = bus.OutcomeFallback
		}
	}()

	if ev.MessageID != "" {
		if err := d.Channel.MarkRead(ctx, ev.MessageID); err != nil {
			slog.Warn("mark read failed", "event_id", ev.EventID, "error", err)
		}
	}

	switch ev.Modality {
	case bus.ModalityText:
		outcome = d.handleText(ctx, ev)
	case bus.ModalityAudio:
		outcome = d.handleAudio(ctx, ev)
	case bus.ModalityImage:
		outcome = d.handleImage(ctx, ev)
	default:
		outcome = d.handleOther(ctx, ev)
	}

	slog.Info("event handled",
		"event_id", ev.EventID,
		"sender", ev.Sender,
		"modality", ev.Modality,
		"outcome", outcome,
	)
	return outcome
}

func (d *Dispatcher) handleText(ctx context.Context, ev *bus.InboundEvent) bus.Outcome {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return d.apologize(ctx, ev, apologyEmptyMessage)
	}
	return d.chatReply(ctx, ev, text, text)
}

func (d *Dispatcher) handleAudio(ctx context.Context, ev *bus.InboundEvent) bus.Outcome {
	if ev.Media == nil {
		return d.apologize(ctx, ev, apologyVoiceDownload)
	}
	ogg, _, err := d.Channel.DownloadMedia(ctx, ev.Media.ID)
	if err != nil {
		slog.Warn("voice download failed", "event_id", ev.EventID, "error", err)
		return d.apologize(ctx, ev, apologyVoiceDownload)
	}

	mp3, err := d.Transcoder.OggToMP3(ctx, ogg)
	if err != nil {
		slog.Warn("voice transcode failed", "event_id", ev.EventID, "error", err)
		return d.apologize(ctx, ev, apologyVoiceUnclear)
	}

	transcript, err := d.Transcriber.Transcribe(ctx, mp3)
	if err != nil {
		slog.Warn("transcription failed", "event_id", ev.EventID, "error", err)
		return d.apologize(ctx, ev, apologyVoiceUnclear)
	}
	transcript = strings.TrimSpace(transcript)
	// a bracketed transcript is the transcriber's own placeholder for
	// audio it could not process
	if transcript == "" || strings.HasPrefix(transcript, "[") {
		return d.apologize(ctx, ev, apologyVoiceUnclear)
	}

	history := d.loadHistory(ctx, ev.Sender)
	reply, err := d.Completer.Complete(ctx, d.SystemPrompt, history, transcript)
	if err != nil {
		slog.Warn("completion failed", "event_id", ev.EventID, "error", err)
		return d.apologize(ctx, ev, apologyProvider)
	}

	// voice in, voice out when a synthesis route serves the language.
	// Routing follows the language the user spoke, not the reply text:
	// the model answers in Spanish by default, which would otherwise
	// steer every voice note to the Spanish route.
	if audio, err := d.Speaker.Speak(ctx, reply, lang.Detect(transcript)); err == nil && len(audio) > 0 {
		if err := d.Channel.SendAudio(ctx, ev.Sender, audio); err == nil {
			d.History.Append(ctx, ev.Sender, "[Audio] "+transcript, reply)
			return bus.OutcomeReplied
		}
		slog.Warn("audio send failed, replying in text", "event_id", ev.EventID)
	}

	if err := d.Channel.SendText(ctx, ev.Sender, reply); err != nil {
		slog.Error("text send failed", "event_id", ev.EventID, "error", err)
		return bus.OutcomeApology
	}
	d.History.Append(ctx, ev.Sender, "[Audio] "+transcript, reply)
	return bus.OutcomeReplied
}

func (d *Dispatcher) handleImage(ctx context.Context, ev *bus.InboundEvent) bus.Outcome {
	if ev.Media == nil {
		return d.apologize(ctx, ev, apologyImageDownload)
	}
	raw, _, err := d.Channel.DownloadMedia(ctx, ev.Media.ID)
	if err != nil {
		slog.Warn("image download failed", "event_id", ev.EventID, "error", err)
		return d.apologize(ctx, ev, apologyImageDownload)
	}

	normalize := d.NormalizeImage
	if normalize == nil {
		normalize = media.NormalizeImage
	}
	data, mimeType, err := normalize(raw)
	if err != nil {
		// the vision endpoint accepts more formats than the local
		// decoder; hand it the original bytes instead of refusing
		slog.Warn("image normalize failed, sending original", "event_id", ev.EventID, "error", err)
		data = raw
		mimeType = ev.Media.MimeType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
	}

	history := d.loadHistory(ctx, ev.Sender)
	img := groq.ImageContent{MimeType: mimeType, Data: data}
	reply, err := d.Completer.AnalyzeImage(ctx, d.VisionPrompt, history, img, ev.Media.Caption)
	if err != nil {
		slog.Warn("vision analysis failed", "event_id", ev.EventID, "error", err)
		return d.apologize(ctx, ev, apologyVision)
	}

	if err := d.Channel.SendText(ctx, ev.Sender, reply); err != nil {
		slog.Error("text send failed", "event_id", ev.EventID, "error", err)
		return bus.OutcomeApology
	}

	userText := "[Imagen enviada]"
	if ev.Media.Caption != "" {
		userText += ": " + ev.Media.Caption
	}
	d.History.Append(ctx, ev.Sender, userText, reply)
	return bus.OutcomeReplied
}

// handleOther answers stickers, documents and other unhandled kinds by
// running the model over a typed placeholder, so the sender still gets
// a contextual reply.
func (d *Dispatcher) handleOther(ctx context.Context, ev *bus.InboundEvent) bus.Outcome {
	placeholder := "[" + ev.RawType + " recibido]"
	return d.chatReply(ctx, ev, placeholder, placeholder)
}

// chatReply runs the standard text pipeline: history, completion, text
// send, history append. userText is what goes to the model; storedText
// is what history records for the user turn.
func (d *Dispatcher) chatReply(ctx context.Context, ev *bus.InboundEvent, userText, storedText string) bus.Outcome {
	history := d.loadHistory(ctx, ev.Sender)
	reply, err := d.Completer.Complete(ctx, d.SystemPrompt, history, userText)
	if err != nil {
		slog.Warn("completion failed", "event_id", ev.EventID, "error", err)
		return d.apologize(ctx, ev, apologyProvider)
	}
	if err := d.Channel.SendText(ctx, ev.Sender, reply); err != nil {
		slog.Error("text send failed", "event_id", ev.EventID, "error", err)
		return bus.OutcomeApology
	}
	d.History.Append(ctx, ev.Sender, storedText, reply)
	return bus.OutcomeReplied
}

// apologize sends a stock apology without touching history, so a
// transient failure cannot poison the conversation thread.
func (d *Dispatcher) apologize(ctx context.Context, ev *bus.InboundEvent, text string) bus.Outcome {
	if err := d.Channel.SendText(ctx, ev.Sender, text); err != nil {
		slog.Error("apology send failed", "event_id", ev.EventID, "error", err)
	}
	return bus.OutcomeApology
}

// loadHistory fetches stored history as model messages.
func (d *Dispatcher) loadHistory(ctx context.Context, sender string) []groq.Message {
	stored := d.History.Load(ctx, sender)
	if len(stored) == 0 {
		return nil
	}
	history := make([]groq.Message, len(stored))
	for i, msg := range stored {
		history[i] = groq.Message{Role: msg.Role, Content: msg.Content}
	}
	return history
}
