package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/dispatch"
	"github.com/nextlevelbuilder/warelay/internal/groq"
	"github.com/nextlevelbuilder/warelay/internal/gtts"
	"github.com/nextlevelbuilder/warelay/internal/media"
	"github.com/nextlevelbuilder/warelay/internal/server"
	"github.com/nextlevelbuilder/warelay/internal/sessions"
	"github.com/nextlevelbuilder/warelay/internal/tts"
	"github.com/nextlevelbuilder/warelay/internal/wacloud"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session store is optional: without Redis the relay answers
	// statelessly.
	var kv sessions.KV
	if cfg.Sessions.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		kv, err = sessions.OpenRedis(connectCtx, cfg.Sessions.RedisURL)
		cancel()
		if err != nil {
			slog.Warn("redis unavailable, running without conversation history", "error", err)
			kv = nil
		}
	} else {
		slog.Info("no redis url configured, running without conversation history")
	}
	store := sessions.New(kv, time.Duration(cfg.Sessions.TTLHours)*time.Hour, cfg.Sessions.MaxTurns)

	whatsapp := wacloud.New(cfg.WhatsApp)
	if !whatsapp.Configured() {
		slog.Warn("whatsapp credentials missing, outbound sends will fail")
	}
	groqClient := groq.New(cfg.Groq)
	if !groqClient.Configured() {
		slog.Warn("groq api key missing, replies will be degraded notices")
	}
	googleTTS := gtts.New(cfg.GoogleTTS)
	transcoder := &media.Transcoder{}

	speaker := tts.NewRouter(
		&tts.PlayAIRoute{Synth: groqClient, Transcode: transcoder},
		&tts.GoogleRoute{Synth: googleTTS},
	)

	dispatcher := &dispatch.Dispatcher{
		Channel:      whatsapp,
		Completer:    groqClient,
		Transcriber:  groqClient,
		Speaker:      speaker,
		Transcoder:   transcoder,
		History:      store,
		SystemPrompt: cfg.Prompts.System,
		VisionPrompt: cfg.Prompts.Vision,
	}

	var pinger server.Pinger
	if store.Connected() {
		pinger = store
	}
	srv := server.New(cfg.Server, cfg.Webhook, dispatcher, pinger, Version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
