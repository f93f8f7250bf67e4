// Package config holds the warelay configuration tree.
// Config is loaded from a json5 file and overlaid with environment
// variables; every setting except the webhook verify token degrades to a
// safe no-op when absent.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the full warelay configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Webhook   WebhookConfig   `json:"webhook"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Groq      GroqConfig      `json:"groq"`
	GoogleTTS GoogleTTSConfig `json:"google_tts"`
	Sessions  SessionsConfig  `json:"sessions"`
	Prompts   PromptsConfig   `json:"prompts"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// WebhookConfig holds the Meta webhook secrets.
type WebhookConfig struct {
	// VerifyToken is matched against hub.verify_token on GET /webhook.
	// This is the only required setting.
	VerifyToken string `json:"verify_token"`
	// AppSecret enables X-Hub-Signature-256 validation of POST bodies
	// when set. Empty means signatures are not checked.
	AppSecret string `json:"app_secret"`
}

// WhatsAppConfig configures the Cloud API client.
// PhoneNumberID is the phone number ID, not the WABA ID. Mixing those up
// surfaces as "Object does not exist" on the first send.
type WhatsAppConfig struct {
	Token         string  `json:"token"`
	PhoneNumberID string  `json:"phone_number_id"`
	APIBase       string  `json:"api_base"`
	SendRPS       float64 `json:"send_rps"` // outbound call rate, 0 = unlimited
}

// GroqConfig configures the Groq inference clients.
type GroqConfig struct {
	APIKey       string `json:"api_key"`
	APIBase      string `json:"api_base"`
	ChatModel    string `json:"chat_model"`
	VisionModel  string `json:"vision_model"`
	WhisperModel string `json:"whisper_model"`
	TTSModel     string `json:"tts_model"`
	TTSVoice     string `json:"tts_voice"`
}

// GoogleTTSConfig configures the Google Cloud TTS REST client.
type GoogleTTSConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
	VoiceES string `json:"voice_es"`
	VoiceEN string `json:"voice_en"`
}

// SessionsConfig controls conversation history storage.
type SessionsConfig struct {
	RedisURL string `json:"redis_url"`
	TTLHours int    `json:"ttl_hours"` // history expiry after inactivity
	MaxTurns int    `json:"max_turns"` // stored messages per sender, oldest dropped first
}

// PromptsConfig holds the per-deployment system prompts.
type PromptsConfig struct {
	System string `json:"system"`
	Vision string `json:"vision"`
}

const defaultSystemPrompt = "Eres un asistente virtual que responde por WhatsApp. " +
	"Sé profesional pero cercano, y mantén cada respuesta en máximo cuatro oraciones."

const defaultVisionPrompt = "Eres un asistente virtual que responde por WhatsApp. " +
	"Cuando el usuario envía una imagen, descríbela y responde de forma concisa, en máximo tres oraciones."

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		WhatsApp: WhatsAppConfig{
			APIBase: "https://graph.facebook.com/v21.0",
			SendRPS: 10,
		},
		Groq: GroqConfig{
			APIBase:      "https://api.groq.com/openai/v1",
			ChatModel:    "llama-3.3-70b-versatile",
			VisionModel:  "meta-llama/llama-4-scout-17b-16e-instruct",
			WhisperModel: "whisper-large-v3-turbo",
			TTSModel:     "playai-tts",
			TTSVoice:     "Arista-PlayAI",
		},
		GoogleTTS: GoogleTTSConfig{
			APIBase: "https://texttospeech.googleapis.com",
			VoiceES: "es-US-Wavenet-B",
			VoiceEN: "en-US-Wavenet-F",
		},
		Sessions: SessionsConfig{
			TTLHours: 24,
			MaxTurns: 20,
		},
		Prompts: PromptsConfig{
			System: defaultSystemPrompt,
			Vision: defaultVisionPrompt,
		},
	}
}

// Load reads config from a json5 file, then applies env overrides.
// A missing file is not an error: defaults plus env vars apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays environment variables onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("WARELAY_VERIFY_TOKEN", &c.Webhook.VerifyToken)
	envStr("WARELAY_APP_SECRET", &c.Webhook.AppSecret)
	envStr("WARELAY_WHATSAPP_TOKEN", &c.WhatsApp.Token)
	envStr("WARELAY_PHONE_NUMBER_ID", &c.WhatsApp.PhoneNumberID)
	envStr("WARELAY_GROQ_API_KEY", &c.Groq.APIKey)
	envStr("WARELAY_GOOGLE_TTS_API_KEY", &c.GoogleTTS.APIKey)
	envStr("WARELAY_REDIS_URL", &c.Sessions.RedisURL)

	// PORT is honored directly: container platforms inject it at
	// runtime without expanding it in Dockerfile CMD directives.
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

// Validate checks the settings that have no safe degradation.
func (c *Config) Validate() error {
	if c.Webhook.VerifyToken == "" {
		return fmt.Errorf("webhook verify_token is required (set WARELAY_VERIFY_TOKEN)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}
