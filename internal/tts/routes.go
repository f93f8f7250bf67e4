package tts

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/warelay/internal/lang"
)

// wavSynthesizer is the PlayAI speech surface of the groq client.
type wavSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// wavTranscoder converts WAV audio to MP3.
type wavTranscoder interface {
	WavToMP3(ctx context.Context, wav []byte) ([]byte, error)
}

// mp3Synthesizer is the Google TTS surface, which emits MP3 directly.
type mp3Synthesizer interface {
	Synthesize(ctx context.Context, text string, language lang.Language) ([]byte, error)
}

// PlayAIRoute speaks English through the Groq PlayAI voice. The
// endpoint emits WAV, so the route transcodes to MP3 before returning.
type PlayAIRoute struct {
	Synth     wavSynthesizer
	Transcode wavTranscoder
}

func (r *PlayAIRoute) Synthesize(ctx context.Context, text string, language lang.Language) ([]byte, error) {
	if language != lang.English {
		return nil, ErrLanguageUnsupported
	}
	wav, err := r.Synth.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("playai synthesize: %w", err)
	}
	if len(wav) == 0 {
		return nil, nil
	}
	mp3, err := r.Transcode.WavToMP3(ctx, wav)
	if err != nil {
		return nil, fmt.Errorf("transcode playai wav: %w", err)
	}
	return mp3, nil
}

// GoogleRoute speaks any supported language through Google Cloud TTS,
// which returns MP3 directly.
type GoogleRoute struct {
	Synth mp3Synthesizer
}

func (r *GoogleRoute) Synthesize(ctx context.Context, text string, language lang.Language) ([]byte, error) {
	return r.Synth.Synthesize(ctx, text, language)
}
