// Package media converts WhatsApp attachments into the formats the
// inference endpoints accept: OGG/Opus voice notes into 16 kHz mono MP3
// for transcription, synthesized WAV into MP3 for delivery, and large
// images into bounded JPEGs for vision analysis.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const ffmpegTimeout = 30 * time.Second

// Transcoder shells out to ffmpeg for audio conversion.
type Transcoder struct {
	// Binary overrides the ffmpeg executable path. Empty uses $PATH.
	Binary string
}

func (t *Transcoder) binary() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "ffmpeg"
}

// oggToMP3Args downsamples to 16 kHz mono, matching what the
// transcription endpoint expects.
func oggToMP3Args(in, out string) []string {
	return []string{"-y", "-i", in, "-acodec", "libmp3lame", "-ar", "16000", "-ac", "1", out}
}

// wavToMP3Args keeps the synthesis sample rate, only changing container.
func wavToMP3Args(in, out string) []string {
	return []string{"-y", "-i", in, "-acodec", "libmp3lame", out}
}

// OggToMP3 converts an OGG/Opus voice note to 16 kHz mono MP3.
func (t *Transcoder) OggToMP3(ctx context.Context, ogg []byte) ([]byte, error) {
	return t.run(ctx, ogg, ".ogg", oggToMP3Args)
}

// WavToMP3 converts WAV audio to MP3.
func (t *Transcoder) WavToMP3(ctx context.Context, wav []byte) ([]byte, error) {
	return t.run(ctx, wav, ".wav", wavToMP3Args)
}

// run writes input to a temp file, invokes ffmpeg and reads the result
// back. ffmpeg wants seekable files, so piping stdin/stdout is avoided.
func (t *Transcoder) run(ctx context.Context, input []byte, inExt string, args func(in, out string) []string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "warelay-audio-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in"+inExt)
	outPath := filepath.Join(dir, "out.mp3")
	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ffmpegTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary(), args(inPath, outPath)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.Bytes()))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg produced empty output")
	}
	return out, nil
}

// lastLine extracts the final non-empty stderr line, which is where
// ffmpeg puts its actual error.
func lastLine(output []byte) string {
	lines := bytes.Split(bytes.TrimSpace(output), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}
