package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/sessions"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("warelay doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Credentials:")
	check := func(name string, ok bool) {
		status := "MISSING"
		if ok {
			status = "set"
		}
		fmt.Printf("    %-18s %s\n", name+":", status)
	}
	check("Verify token", cfg.Webhook.VerifyToken != "")
	check("App secret", cfg.Webhook.AppSecret != "")
	check("WhatsApp token", cfg.WhatsApp.Token != "")
	check("Phone number ID", cfg.WhatsApp.PhoneNumberID != "")
	check("Groq API key", cfg.Groq.APIKey != "")
	check("Google TTS key", cfg.GoogleTTS.APIKey != "")

	fmt.Println()
	fmt.Println("  Tools:")
	if path, err := exec.LookPath("ffmpeg"); err != nil {
		fmt.Println("    ffmpeg:            NOT FOUND (voice notes will fail)")
	} else {
		fmt.Printf("    ffmpeg:            %s\n", path)
	}

	fmt.Println()
	fmt.Println("  Sessions:")
	if cfg.Sessions.RedisURL == "" {
		fmt.Println("    Redis:             not configured (stateless replies)")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := sessions.OpenRedis(ctx, cfg.Sessions.RedisURL); err != nil {
		fmt.Printf("    Redis:             UNREACHABLE (%s)\n", err)
	} else {
		fmt.Printf("    Redis:             OK (ttl %dh, %d messages)\n", cfg.Sessions.TTLHours, cfg.Sessions.MaxTurns)
	}
}
