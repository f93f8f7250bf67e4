package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/warelay/internal/bus"
	"github.com/nextlevelbuilder/warelay/internal/groq"
	"github.com/nextlevelbuilder/warelay/internal/lang"
	"github.com/nextlevelbuilder/warelay/internal/sessions"
)

type fakeChannel struct {
	texts      []string
	audios     [][]byte
	readIDs    []string
	media      []byte
	mediaMime  string
	mediaErr   error
	sendErr    error
	audioErr   error
	downloaded []string
}

func (f *fakeChannel) SendText(_ context.Context, _, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, body)
	return nil
}

func (f *fakeChannel) SendAudio(_ context.Context, _ string, mp3 []byte) error {
	if f.audioErr != nil {
		return f.audioErr
	}
	f.audios = append(f.audios, mp3)
	return nil
}

func (f *fakeChannel) DownloadMedia(_ context.Context, mediaID string) ([]byte, string, error) {
	f.downloaded = append(f.downloaded, mediaID)
	if f.mediaErr != nil {
		return nil, "", f.mediaErr
	}
	return f.media, f.mediaMime, nil
}

func (f *fakeChannel) MarkRead(_ context.Context, messageID string) error {
	f.readIDs = append(f.readIDs, messageID)
	return nil
}

type fakeCompleter struct {
	reply      string
	err        error
	calls      int
	lastUser   string
	lastSystem string
	lastHist   []groq.Message
	visionCap  string
}

func (f *fakeCompleter) Complete(_ context.Context, system string, history []groq.Message, userText string) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastHist = history
	f.lastUser = userText
	return f.reply, f.err
}

func (f *fakeCompleter) AnalyzeImage(_ context.Context, system string, history []groq.Message, _ groq.ImageContent, caption string) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastHist = history
	f.visionCap = caption
	return f.reply, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return f.text, f.err
}

type fakeSpeaker struct {
	audio    []byte
	err      error
	language lang.Language
}

func (f *fakeSpeaker) Speak(_ context.Context, _ string, language lang.Language) ([]byte, error) {
	f.language = language
	return f.audio, f.err
}

type fakeTranscoder struct {
	err error
}

func (f *fakeTranscoder) OggToMP3(_ context.Context, ogg []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("mp3:"), ogg...), nil
}

type fakeHistory struct {
	stored  map[string][]sessions.Message
	appends int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{stored: map[string][]sessions.Message{}}
}

func (f *fakeHistory) Load(_ context.Context, sender string) []sessions.Message {
	return f.stored[sender]
}

func (f *fakeHistory) Append(_ context.Context, sender, userText, assistantText string) {
	f.appends++
	f.stored[sender] = append(f.stored[sender],
		sessions.Message{Role: "user", Content: userText},
		sessions.Message{Role: "assistant", Content: assistantText},
	)
}

func testDispatcher() (*Dispatcher, *fakeChannel, *fakeCompleter, *fakeHistory) {
	channel := &fakeChannel{media: []byte("media-bytes"), mediaMime: "audio/ogg"}
	completer := &fakeCompleter{reply: "¡Hola! ¿Cómo puedo ayudarte?"}
	history := newFakeHistory()
	d := &Dispatcher{
		Channel:      channel,
		Completer:    completer,
		Transcriber:  &fakeTranscriber{text: "quiero agendar una cita"},
		Speaker:      &fakeSpeaker{audio: []byte("voice-mp3")},
		Transcoder:   &fakeTranscoder{},
		History:      history,
		SystemPrompt: "sys",
		VisionPrompt: "vision-sys",
		NormalizeImage: func(data []byte) ([]byte, string, error) {
			return data, "image/jpeg", nil
		},
	}
	return d, channel, completer, history
}

func textEvent(text string) *bus.InboundEvent {
	return &bus.InboundEvent{
		EventID:   "ev-1",
		Sender:    "5215550001111",
		MessageID: "wamid.IN",
		Modality:  bus.ModalityText,
		RawType:   "text",
		Text:      text,
	}
}

// TestHandleText runs the happy path: mark read, complete, reply,
// append history.
func TestHandleText(t *testing.T) {
	d, channel, completer, history := testDispatcher()

	outcome := d.Handle(context.Background(), textEvent("Hola"))
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(channel.readIDs) != 1 || channel.readIDs[0] != "wamid.IN" {
		t.Errorf("readIDs = %v", channel.readIDs)
	}
	if completer.lastUser != "Hola" || completer.lastSystem != "sys" {
		t.Errorf("completion call = %q / %q", completer.lastUser, completer.lastSystem)
	}
	if len(channel.texts) != 1 || channel.texts[0] != "¡Hola! ¿Cómo puedo ayudarte?" {
		t.Errorf("texts = %v", channel.texts)
	}
	stored := history.stored["5215550001111"]
	if len(stored) != 2 || stored[0].Content != "Hola" {
		t.Errorf("history = %+v", stored)
	}
}

// TestHandleTextWithHistory passes prior turns to the model.
func TestHandleTextWithHistory(t *testing.T) {
	d, _, completer, history := testDispatcher()
	history.stored["5215550001111"] = []sessions.Message{
		{Role: "user", Content: "primer mensaje"},
		{Role: "assistant", Content: "primera respuesta"},
	}

	d.Handle(context.Background(), textEvent("segundo mensaje"))
	if len(completer.lastHist) != 2 {
		t.Fatalf("history len = %d, want 2", len(completer.lastHist))
	}
	if completer.lastHist[0].Content != "primer mensaje" {
		t.Errorf("history[0] = %+v", completer.lastHist[0])
	}
}

// TestHandleTextEmpty sends the empty-message apology and leaves
// history alone.
func TestHandleTextEmpty(t *testing.T) {
	d, channel, completer, history := testDispatcher()

	outcome := d.Handle(context.Background(), textEvent("   "))
	if outcome != bus.OutcomeApology {
		t.Fatalf("outcome = %s", outcome)
	}
	if completer.calls != 0 {
		t.Error("completer called for empty message")
	}
	if len(channel.texts) != 1 || channel.texts[0] != apologyEmptyMessage {
		t.Errorf("texts = %v", channel.texts)
	}
	if history.appends != 0 {
		t.Error("history mutated on apology")
	}
}

// TestHandleTextProviderError sends the provider apology on completion
// failure without recording the turn.
func TestHandleTextProviderError(t *testing.T) {
	d, channel, completer, history := testDispatcher()
	completer.err = errors.New("upstream 500")

	outcome := d.Handle(context.Background(), textEvent("Hola"))
	if outcome != bus.OutcomeApology {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(channel.texts) != 1 || channel.texts[0] != apologyProvider {
		t.Errorf("texts = %v", channel.texts)
	}
	if history.appends != 0 {
		t.Error("history mutated on provider failure")
	}
}

func audioEvent() *bus.InboundEvent {
	return &bus.InboundEvent{
		EventID:   "ev-2",
		Sender:    "5215550001111",
		MessageID: "wamid.AUD",
		Modality:  bus.ModalityAudio,
		RawType:   "audio",
		Media:     &bus.Media{ID: "media-9", MimeType: "audio/ogg"},
	}
}

// TestHandleAudio replies with synthesized voice and records the
// transcript with the audio descriptor.
func TestHandleAudio(t *testing.T) {
	d, channel, _, history := testDispatcher()

	outcome := d.Handle(context.Background(), audioEvent())
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(channel.audios) != 1 || string(channel.audios[0]) != "voice-mp3" {
		t.Errorf("audios = %v", channel.audios)
	}
	if len(channel.texts) != 0 {
		t.Errorf("unexpected text replies: %v", channel.texts)
	}
	stored := history.stored["5215550001111"]
	if len(stored) != 2 || stored[0].Content != "[Audio] quiero agendar una cita" {
		t.Errorf("history = %+v", stored)
	}
}

// TestHandleAudioDownloadFail sends exactly one apology, runs no
// completion and leaves history untouched.
func TestHandleAudioDownloadFail(t *testing.T) {
	d, channel, completer, history := testDispatcher()
	channel.mediaErr = errors.New("url expired")

	outcome := d.Handle(context.Background(), audioEvent())
	if outcome != bus.OutcomeApology {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(channel.texts) != 1 || channel.texts[0] != apologyVoiceDownload {
		t.Errorf("texts = %v", channel.texts)
	}
	if completer.calls != 0 {
		t.Error("completer called after download failure")
	}
	if history.appends != 0 {
		t.Error("history mutated after download failure")
	}
}

// TestHandleAudioTranscribeFail maps transcription errors to the
// unclear-voice apology.
func TestHandleAudioTranscribeFail(t *testing.T) {
	d, channel, _, _ := testDispatcher()
	d.Transcriber = &fakeTranscriber{err: errors.New("whisper down")}

	outcome := d.Handle(context.Background(), audioEvent())
	if outcome != bus.OutcomeApology {
		t.Fatalf("outcome = %s", outcome)
	}
	if channel.texts[0] != apologyVoiceUnclear {
		t.Errorf("texts = %v", channel.texts)
	}
}

// TestHandleAudioPlaceholderTranscript treats a bracketed transcript as
// untranscribable audio.
func TestHandleAudioPlaceholderTranscript(t *testing.T) {
	d, channel, completer, _ := testDispatcher()
	d.Transcriber = &fakeTranscriber{text: "[audio no transcrito]"}

	outcome := d.Handle(context.Background(), audioEvent())
	if outcome != bus.OutcomeApology {
		t.Fatalf("outcome = %s", outcome)
	}
	if channel.texts[0] != apologyVoiceUnclear {
		t.Errorf("texts = %v", channel.texts)
	}
	if completer.calls != 0 {
		t.Error("completer called for placeholder transcript")
	}
}

// TestHandleAudioRoutesByTranscriptLanguage picks the synthesis
// language from what the user said, not from the reply text.
func TestHandleAudioRoutesByTranscriptLanguage(t *testing.T) {
	d, _, completer, _ := testDispatcher()
	speaker := &fakeSpeaker{audio: []byte("voice-mp3")}
	d.Speaker = speaker
	d.Transcriber = &fakeTranscriber{text: "thank you for the information about the apartments"}
	completer.reply = "Gracias por tu mensaje. ¿Te gustaría agendar una visita?"

	outcome := d.Handle(context.Background(), audioEvent())
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if speaker.language != lang.English {
		t.Errorf("speak language = %s, want %s", speaker.language, lang.English)
	}
}

// TestHandleAudioNoVoiceRoute falls back to a text reply when no
// synthesis route serves the language.
func TestHandleAudioNoVoiceRoute(t *testing.T) {
	d, channel, _, history := testDispatcher()
	d.Speaker = &fakeSpeaker{} // (nil, nil)

	outcome := d.Handle(context.Background(), audioEvent())
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(channel.audios) != 0 {
		t.Errorf("audios = %v", channel.audios)
	}
	if len(channel.texts) != 1 {
		t.Errorf("texts = %v", channel.texts)
	}
	if history.appends != 1 {
		t.Error("history not recorded on text fallback")
	}
}

// TestHandleAudioSendFallback retries as text when the audio send fails.
func TestHandleAudioSendFallback(t *testing.T) {
	d, channel, _, _ := testDispatcher()
	channel.audioErr = errors.New("media upload rejected")

	outcome := d.Handle(context.Background(), audioEvent())
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(channel.texts) != 1 {
		t.Errorf("texts = %v", channel.texts)
	}
}

func imageEvent(caption string) *bus.InboundEvent {
	return &bus.InboundEvent{
		EventID:   "ev-3",
		Sender:    "5215550001111",
		MessageID: "wamid.IMG",
		Modality:  bus.ModalityImage,
		RawType:   "image",
		Media:     &bus.Media{ID: "media-3", MimeType: "image/jpeg", Caption: caption},
	}
}

// TestHandleImage analyzes the image with the vision prompt and records
// the descriptor with caption.
func TestHandleImage(t *testing.T) {
	d, channel, completer, history := testDispatcher()
	completer.reply = "Es una foto de un perro."

	outcome := d.Handle(context.Background(), imageEvent("mira esto"))
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if completer.lastSystem != "vision-sys" || completer.visionCap != "mira esto" {
		t.Errorf("vision call = %q / %q", completer.lastSystem, completer.visionCap)
	}
	if len(channel.texts) != 1 || channel.texts[0] != "Es una foto de un perro." {
		t.Errorf("texts = %v", channel.texts)
	}
	stored := history.stored["5215550001111"]
	if len(stored) != 2 || stored[0].Content != "[Imagen enviada]: mira esto" {
		t.Errorf("history = %+v", stored)
	}
}

// TestHandleImageNoCaption records the bare descriptor.
func TestHandleImageNoCaption(t *testing.T) {
	d, _, _, history := testDispatcher()

	d.Handle(context.Background(), imageEvent(""))
	stored := history.stored["5215550001111"]
	if len(stored) != 2 || stored[0].Content != "[Imagen enviada]" {
		t.Errorf("history = %+v", stored)
	}
}

// TestHandleImageDownloadFail sends the image download apology.
func TestHandleImageDownloadFail(t *testing.T) {
	d, channel, _, history := testDispatcher()
	channel.mediaErr = errors.New("url expired")

	outcome := d.Handle(context.Background(), imageEvent("x"))
	if outcome != bus.OutcomeApology {
		t.Fatalf("outcome = %s", outcome)
	}
	if channel.texts[0] != apologyImageDownload {
		t.Errorf("texts = %v", channel.texts)
	}
	if history.appends != 0 {
		t.Error("history mutated after download failure")
	}
}

// TestHandleImageVisionFail sends the vision apology on analysis error.
func TestHandleImageVisionFail(t *testing.T) {
	d, channel, completer, _ := testDispatcher()
	completer.err = errors.New("model overloaded")

	outcome := d.Handle(context.Background(), imageEvent("x"))
	if outcome != bus.OutcomeApology {
		t.Fatalf("outcome = %s", outcome)
	}
	if channel.texts[0] != apologyVision {
		t.Errorf("texts = %v", channel.texts)
	}
}

// TestHandleImageUndecodable passes the original bytes through to the
// vision model when local normalization fails.
func TestHandleImageUndecodable(t *testing.T) {
	d, channel, completer, _ := testDispatcher()
	d.NormalizeImage = func([]byte) ([]byte, string, error) {
		return nil, "", errors.New("decode image: unknown format")
	}

	outcome := d.Handle(context.Background(), imageEvent("x"))
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if completer.calls != 1 {
		t.Error("vision not called with original bytes")
	}
	if len(channel.texts) != 1 {
		t.Errorf("texts = %v", channel.texts)
	}
}

// TestHandleOther routes unknown kinds through the model with a typed
// placeholder.
func TestHandleOther(t *testing.T) {
	d, channel, completer, history := testDispatcher()
	ev := &bus.InboundEvent{
		EventID:   "ev-4",
		Sender:    "5215550001111",
		MessageID: "wamid.STK",
		Modality:  bus.ModalityOther,
		RawType:   "sticker",
	}

	outcome := d.Handle(context.Background(), ev)
	if outcome != bus.OutcomeReplied {
		t.Fatalf("outcome = %s", outcome)
	}
	if completer.lastUser != "[sticker recibido]" {
		t.Errorf("user text = %q", completer.lastUser)
	}
	if len(channel.texts) != 1 {
		t.Errorf("texts = %v", channel.texts)
	}
	stored := history.stored["5215550001111"]
	if len(stored) != 2 || !strings.HasPrefix(stored[0].Content, "[sticker") {
		t.Errorf("history = %+v", stored)
	}
}

// TestHandleRecoversPanic converts a panic into the generic fallback.
func TestHandleRecoversPanic(t *testing.T) {
	d, channel, _, _ := testDispatcher()
	d.History = nil // nil deref in loadHistory

	outcome := d.Handle(context.Background(), textEvent("Hola"))
	if outcome != bus.OutcomeFallback {
		t.Fatalf("outcome = %s", outcome)
	}
	if len(channel.texts) != 1 || channel.texts[0] != fallbackMessage {
		t.Errorf("texts = %v", channel.texts)
	}
}
