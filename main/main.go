package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chat-triage-bot/backend"
	"chat-triage-bot/capture"
	"chat-triage-bot/config"
	"chat-triage-bot/dify"
	"chat-triage-bot/failsafe"
	"chat-triage-bot/retention"
	"chat-triage-bot/session"
	"chat-triage-bot/template"
)

const configPath = "config.json"

func main() {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg.EnableFileLogging)

	templates, err := template.LoadSet(cfg.Settings.TemplatesDir)
	if err != nil {
		log.Fatalf("Failed to load templates: %v", err)
	}

	guard := failsafe.Start()

	var b backend.Backend
	switch cfg.Settings.Backend {
	case "robotgo":
		b, err = backend.NewRobotgo(guard)
	default:
		b, err = backend.NewNative(guard)
	}
	if err != nil {
		log.Fatalf("Failed to initialize input backend: %v", err)
	}

	capturer, err := capture.NewManager(b, templates, cfg)
	if err != nil {
		log.Fatalf("Failed to set up screenshot capture: %v", err)
	}

	inference := dify.NewClient(cfg.Dify)
	sweeper := retention.NewSweeper(
		capturer.Dir(),
		cfg.Settings.CleanupAfterDays,
		cfg.Settings.CleanupScreenshots,
	)
	orchestrator := session.NewOrchestrator(b, templates, inference, capturer, sweeper, cfg)

	log.Printf("Seller-support triage bot initialized")
	log.Printf("Backend: %s, confidence threshold: %.2f", cfg.Settings.Backend, cfg.Settings.Confidence)
	log.Printf("Poll interval: %ds, error retry interval: %ds", cfg.Settings.CheckInterval, cfg.Settings.ErrorRetryInterval)
	log.Printf("Move the mouse to the top-left screen corner to stop the bot")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Polling loop stopped: %v", err)
	}
	log.Printf("Shut down")
}

func setupLogging(enableFileLogging bool) {
	if enableFileLogging {
		logFile, err := os.OpenFile("triage_bot.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			log.Printf("Failed to open log file: %v", err)
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, logFile))
			log.Printf("File logging enabled: triage_bot.log")
		}
	} else {
		log.SetOutput(os.Stdout)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
