// Package groq is a client for the Groq OpenAI-compatible inference
// API: chat completions, vision completions, Whisper transcription and
// PlayAI speech synthesis.
package groq

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

const (
	chatTimeout       = 30 * time.Second
	visionTimeout     = 60 * time.Second
	transcribeTimeout = 60 * time.Second
	speechTimeout     = 30 * time.Second

	chatTemperature = 0.7
	chatMaxTokens   = 500
)

// visionHistoryTurns bounds how much conversation context rides along
// with an image request.
const visionHistoryTurns = 6

// Message is one chat turn sent to the completions endpoint.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ImageContent is an image to analyze, already normalized to a bounded
// JPEG by the media package.
type ImageContent struct {
	MimeType string
	Data     []byte
}

// HTTPError is a non-200 API response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("groq api: status %d: %s", e.Status, e.Body)
}

// Client calls the Groq API. A client without an API key is valid and
// degrades each call per its doc comment.
type Client struct {
	httpClient *http.Client
	cfg        config.GroqConfig
}

// New builds a Client from config.
func New(cfg config.GroqConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		cfg:        cfg,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Complete runs a chat completion over system + history + the new user
// text. Without an API key it returns a fixed notice instead of an
// error, so the relay still answers.
func (c *Client) Complete(ctx context.Context, system string, history []Message, userText string) (string, error) {
	if !c.Configured() {
		return "El asistente no está disponible en este momento. Intenta más tarde.", nil
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userText})

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()
	return c.completion(ctx, c.cfg.ChatModel, messages)
}

// AnalyzeImage runs a vision completion: recent history as context,
// then the image plus its caption as the user turn.
func (c *Client) AnalyzeImage(ctx context.Context, system string, history []Message, img ImageContent, caption string) (string, error) {
	if !c.Configured() {
		return "El asistente no está disponible en este momento. Intenta más tarde.", nil
	}
	if caption == "" {
		caption = "Describe esta imagen."
	}

	if len(history) > visionHistoryTurns {
		history = history[len(history)-visionHistoryTurns:]
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
	userContent := []map[string]interface{}{
		{"type": "text", "text": caption},
		{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userContent})

	ctx, cancel := context.WithTimeout(ctx, visionTimeout)
	defer cancel()
	return c.completion(ctx, c.cfg.VisionModel, messages)
}

// Transcribe sends MP3 audio to the Whisper endpoint. Without an API
// key it returns a bracketed placeholder the pipeline treats as an
// untranscribable message.
func (c *Client) Transcribe(ctx context.Context, mp3 []byte) (string, error) {
	if !c.Configured() {
		return "[audio no transcrito]", nil
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "voice.mp3")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(mp3); err != nil {
		return "", err
	}
	if err := writer.WriteField("model", c.cfg.WhisperModel); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return result.Text, nil
}

// Synthesize renders text as WAV speech through the PlayAI voice.
// Without an API key it returns (nil, nil) so callers fall back to a
// text reply.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !c.Configured() {
		return nil, nil
	}

	payload := map[string]interface{}{
		"model":           c.cfg.TTSModel,
		"voice":           c.cfg.TTSVoice,
		"input":           text,
		"response_format": "wav",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, speechTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// completion posts a chat completion request and extracts the first
// choice.
func (c *Client) completion(ctx context.Context, model string, messages []Message) (string, error) {
	payload := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": chatTemperature,
		"max_tokens":  chatMaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return "", err
	}
	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// do executes a request and returns the body, mapping non-200 statuses
// to *HTTPError with a bounded body snippet.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return io.ReadAll(resp.Body)
}
