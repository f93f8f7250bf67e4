// Package gtts is a client for the Google Cloud Text-to-Speech REST
// API, used for Spanish voice replies (and English when the PlayAI
// route is unavailable).
package gtts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/lang"
)

const synthesizeTimeout = 30 * time.Second

// Client calls the text:synthesize endpoint with an API key.
type Client struct {
	httpClient *http.Client
	cfg        config.GoogleTTSConfig
}

// New builds a Client from config.
func New(cfg config.GoogleTTSConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cfg:        cfg,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// voice returns the configured voice name for language and the
// matching languageCode prefix the API requires.
func (c *Client) voice(language lang.Language) (name, code string) {
	name = c.cfg.VoiceES
	if language == lang.English {
		name = c.cfg.VoiceEN
	}
	// voice names look like es-US-Wavenet-B; the language code is the
	// first two segments.
	parts := strings.SplitN(name, "-", 3)
	if len(parts) >= 2 {
		code = parts[0] + "-" + parts[1]
	}
	return name, code
}

// Synthesize renders text as MP3 speech in the given language.
// Without an API key it returns (nil, nil) so callers fall back to a
// text reply.
func (c *Client) Synthesize(ctx context.Context, text string, language lang.Language) ([]byte, error) {
	if !c.Configured() {
		return nil, nil
	}

	voiceName, languageCode := c.voice(language)
	payload := map[string]interface{}{
		"input": map[string]string{"text": text},
		"voice": map[string]string{
			"languageCode": languageCode,
			"name":         voiceName,
		},
		"audioConfig": map[string]string{"audioEncoding": "MP3"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, synthesizeTimeout)
	defer cancel()
	url := c.cfg.APIBase + "/v1/text:synthesize?key=" + c.cfg.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesize failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode synthesize response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesize returned empty audio")
	}
	return audio, nil
}
