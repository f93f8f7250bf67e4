// Package server exposes the webhook HTTP surface: the Meta
// verification handshake, the webhook receiver, and health endpoints.
// The receiver acknowledges every delivery immediately and hands real
// messages to the dispatcher in the background; Meta retries anything
// that is not a fast 200.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/warelay/internal/bus"
	"github.com/nextlevelbuilder/warelay/internal/config"
)

// maxWebhookBody bounds webhook POST bodies. Cloud API deliveries are
// small; media arrives by reference, not inline.
const maxWebhookBody = 1 << 20

// Dispatcher handles one inbound event end to end.
type Dispatcher interface {
	Handle(ctx context.Context, ev *bus.InboundEvent) bus.Outcome
}

// Pinger reports backing-store health for the status endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the webhook HTTP server.
type Server struct {
	cfg        config.ServerConfig
	webhook    config.WebhookConfig
	dispatcher Dispatcher
	sessions   Pinger
	version    string
	limiter    *SenderRateLimiter
	httpServer *http.Server
}

// New builds a Server. sessions may be nil when no store is configured.
func New(cfg config.ServerConfig, webhook config.WebhookConfig, dispatcher Dispatcher, sessions Pinger, version string) *Server {
	s := &Server{
		cfg:        cfg,
		webhook:    webhook,
		dispatcher: dispatcher,
		sessions:   sessions,
		version:    version,
		limiter:    NewSenderRateLimiter(),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /webhook", s.handleVerify)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	return mux
}

// Run serves until ctx is canceled, then drains with a grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	features := []string{"chat", "voice", "vision"}
	if s.sessions != nil {
		features = append(features, "sessions")
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service":  "warelay",
		"status":   "ok",
		"version":  s.version,
		"features": features,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessionsStatus := "disabled"
	if s.sessions != nil {
		sessionsStatus = "ok"
		if err := s.sessions.Ping(r.Context()); err != nil {
			sessionsStatus = "unreachable"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%q}`, sessionsStatus)
}

// handleVerify answers the Meta subscription handshake: echo
// hub.challenge when the verify token matches, 403 otherwise.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "subscribe" && token == s.webhook.VerifyToken && challenge != "" {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, challenge)
		return
	}
	slog.Warn("webhook verification rejected", "mode", mode)
	http.Error(w, "verification failed", http.StatusForbidden)
}

// handleWebhook acks deliveries and spawns dispatch for real messages.
// Everything except a signature mismatch gets a 200: returning errors
// makes Meta redeliver the same payload.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("webhook body read failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.webhook.AppSecret != "" && !s.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		slog.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	ev, err := bus.ParseWebhook(body)
	if err != nil {
		slog.Warn("webhook payload unparsable", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if ev == nil {
		// status callback or empty delivery
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.limiter.Allow(ev.Sender) {
		slog.Warn("sender rate limited", "sender", ev.Sender)
		w.WriteHeader(http.StatusOK)
		return
	}

	// ack before processing; dispatch carries its own timeouts
	go s.dispatcher.Handle(context.Background(), ev)
	w.WriteHeader(http.StatusOK)
}

// validSignature checks the X-Hub-Signature-256 header against the
// app secret.
func (s *Server) validSignature(header string, body []byte) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.webhook.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}
