// Package wacloud is a client for the WhatsApp Cloud API (Meta Graph
// API). It covers the four calls the relay needs: sending text, sending
// audio (upload + reference), downloading inbound media, and read
// receipts.
package wacloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

const (
	sendTimeout     = 30 * time.Second
	markReadTimeout = 10 * time.Second
	metaTimeout     = 30 * time.Second
	downloadTimeout = 60 * time.Second
	uploadTimeout   = 60 * time.Second
)

// maxMediaBytes caps inbound media downloads. The Cloud API itself
// limits most media types well below this.
const maxMediaBytes = 25 << 20

// Client talks to the Cloud API for a single phone number.
type Client struct {
	httpClient    *http.Client
	apiBase       string
	token         string
	phoneNumberID string
	limiter       *rate.Limiter
}

// New builds a Client from config. A missing token or phone number id
// yields an unconfigured client whose sends fail cleanly.
func New(cfg config.WhatsAppConfig) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRPS), int(cfg.SendRPS)+1)
	}
	return &Client{
		httpClient:    &http.Client{Timeout: 90 * time.Second},
		apiBase:       cfg.APIBase,
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		limiter:       limiter,
	}
}

// Configured reports whether the client has credentials to send.
func (c *Client) Configured() bool {
	return c.token != "" && c.phoneNumberID != ""
}

// SendText delivers a text message to the recipient phone number.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return c.postMessage(ctx, payload)
}

// SendAudio uploads mp3 bytes as a media object and sends it as an
// audio message.
func (c *Client) SendAudio(ctx context.Context, to string, mp3 []byte) error {
	mediaID, err := c.uploadMedia(ctx, mp3, "audio/mpeg")
	if err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "audio",
		"audio":             map[string]string{"id": mediaID},
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return c.postMessage(ctx, payload)
}

// MarkRead flags an inbound message as read, which renders the blue
// ticks on the sender's side.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	ctx, cancel := context.WithTimeout(ctx, markReadTimeout)
	defer cancel()
	return c.postMessage(ctx, payload)
}

// DownloadMedia fetches the bytes of an inbound media object. The
// Cloud API hands out a short-lived URL first; both hops need the
// bearer token.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if !c.Configured() {
		return nil, "", fmt.Errorf("whatsapp client not configured")
	}

	metaCtx, cancel := context.WithTimeout(ctx, metaTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(metaCtx, http.MethodGet, c.apiBase+"/"+mediaID, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", apiError("media metadata", resp)
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, "", fmt.Errorf("decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("media %s has no download url", mediaID)
	}

	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	dlReq, err := http.NewRequestWithContext(dlCtx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", err
	}
	dlReq.Header.Set("Authorization", "Bearer "+c.token)

	dlResp, err := c.httpClient.Do(dlReq)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		return nil, "", apiError("media download", dlResp)
	}
	data, err := io.ReadAll(io.LimitReader(dlResp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("media %s exceeds %d byte limit", mediaID, maxMediaBytes)
	}
	return data, meta.MimeType, nil
}

// uploadMedia pushes bytes to the media endpoint and returns the
// assigned media id.
func (c *Client) uploadMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("whatsapp client not configured")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return "", err
	}
	part, err := writer.CreateFormFile("file", "reply.mp3")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+c.phoneNumberID+"/media", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apiError("media upload", resp)
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("media upload returned no id")
	}
	return result.ID, nil
}

// postMessage sends a JSON payload to the messages endpoint, waiting on
// the outbound rate limiter first.
func (c *Client) postMessage(ctx context.Context, payload map[string]interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("whatsapp client not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+c.phoneNumberID+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError("message send", resp)
	}
	return nil
}

// apiError folds a non-200 Graph API response into an error, keeping a
// bounded slice of the body for the logs.
func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s failed: status %d: %s", op, resp.StatusCode, bytes.TrimSpace(body))
}
