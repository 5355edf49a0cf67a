package main

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"claude-tg/internal/claude"
	"claude-tg/internal/config"
	"claude-tg/internal/handler"
	"claude-tg/internal/logging"
	"claude-tg/internal/session"
	"claude-tg/internal/storage"
	"claude-tg/internal/transport"
	"claude-tg/internal/tunnel"
	"claude-tg/internal/voice"
	"claude-tg/internal/webui"
)

func main() {
	// .env is optional; secrets may also come from the real environment
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize logging
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Output)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger.Info("Starting Telegram Bot for Claude Code")

	// Create HTTP client for Telegram bot with proxy if enabled
	tgHTTPClient := &http.Client{
		Timeout: 60 * time.Second, // Increased timeout for Telegram API
	}

	if cfg.Proxy.Enabled && cfg.Proxy.URL != "" {
		logger.Infof("Using proxy: %s", cfg.Proxy.URL)
		proxyURL, err := url.Parse(cfg.Proxy.URL)
		if err != nil {
			logger.Fatalf("Invalid proxy URL: %v", err)
		}

		tgHTTPClient.Transport = &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			IdleConnTimeout: 90 * time.Second,
		}
	}

	// Create Telegram bot
	botSettings := telebot.Settings{
		Token: cfg.Telegram.Token,
		Poller: &telebot.LongPoller{
			Timeout: time.Duration(cfg.Telegram.PollingTimeout) * time.Second,
			Limit:   cfg.Telegram.PollingLimit,
		},
		Client:  tgHTTPClient,
		Verbose: cfg.Logging.Level == "debug",
		// Replies are pre-rendered to Telegram-safe HTML
		ParseMode: telebot.ModeHTML,
	}

	tgBot, err := telebot.NewBot(botSettings)
	if err != nil {
		logger.Fatalf("Failed to create Telegram bot: %v", err)
	}

	logger.Infof("Telegram bot authorized as @%s", tgBot.Me.Username)

	// Session storage
	store, err := storage.NewStore(storage.Options{
		Type:     cfg.Storage.Type,
		FilePath: cfg.Storage.FilePath,
	})
	if err != nil {
		logger.Fatalf("Failed to open session storage: %v", err)
	}
	sessions := session.NewManager(store, cfg.Claude.WorkingDir, cfg.Claude.Model)

	// Claude Code CLI runner
	runner := claude.NewRunner(claude.Options{
		Binary:         cfg.Claude.Binary,
		WorkingDir:     cfg.Claude.WorkingDir,
		Model:          cfg.Claude.Model,
		PermissionMode: cfg.Claude.PermissionMode,
		MaxTurns:       cfg.Claude.MaxTurns,
		Timeout:        time.Duration(cfg.Claude.Timeout) * time.Second,
	})

	// Voice transcription
	transcriber := voice.Disabled()
	if cfg.Voice.Enabled {
		transcriber = voice.New(voice.Options{
			APIKey:  cfg.Voice.APIKey,
			BaseURL: cfg.Voice.BaseURL,
			Model:   cfg.Voice.Model,
		})
		logger.Info("Voice transcription enabled")
	}

	// Create bot handler
	botHandler := handler.NewBot(cfg, sessions, runner,
		transport.NewSender(tgBot, cfg.Format.MessageLimit), transcriber)
	botHandler.SetTelegramBot(tgBot)

	// Optional web UI with an optional ngrok tunnel in front of it
	var webServer *webui.Server
	var tun tunnel.Provider
	if cfg.Web.Enabled {
		webServer, err = webui.New(cfg.Claude.WorkingDir, cfg.Web.Listen)
		if err != nil {
			logger.Fatalf("Failed to create web UI: %v", err)
		}
		go func() {
			if err := webServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Web UI stopped: %v", err)
			}
		}()
		webURL := "http://" + cfg.Web.Listen

		if cfg.Tunnel.Enabled {
			_, port, err := net.SplitHostPort(cfg.Web.Listen)
			if err != nil {
				logger.Fatalf("Invalid web listen address: %v", err)
			}
			tun = tunnel.NewNgrok(cfg.Tunnel.NgrokPath)
			publicURL, err := tun.Start(context.Background(), port)
			if err != nil {
				logger.Errorf("Failed to start tunnel, falling back to local address: %v", err)
			} else {
				webURL = publicURL
			}
		}

		botHandler.SetWebURL(webURL)
		logger.Infof("Web UI available at %s", webURL)
	}

	botHandler.Start()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bot is now running. Press Ctrl+C to exit.")

	// Start the bot in a goroutine
	go func() {
		tgBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	logger.Infof("Received signal %v, shutting down...", sig)

	// Stop the bot
	tgBot.Stop()
	botHandler.Close()

	if tun != nil {
		tun.Stop()
	}
	if webServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Web UI shutdown: %v", err)
		}
		cancel()
	}
	if err := store.Close(); err != nil {
		logger.Warnf("Session storage close: %v", err)
	}

	logger.Info("Bot shutdown complete")
}
