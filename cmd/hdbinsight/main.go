package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/hdbinsight/internal/analytics"
	"github.com/rewired-gh/hdbinsight/internal/api"
	"github.com/rewired-gh/hdbinsight/internal/auth"
	"github.com/rewired-gh/hdbinsight/internal/config"
	"github.com/rewired-gh/hdbinsight/internal/dataset"
	"github.com/rewired-gh/hdbinsight/internal/logger"
	"github.com/rewired-gh/hdbinsight/internal/mail"
	"github.com/rewired-gh/hdbinsight/internal/storage"
	"github.com/rewired-gh/hdbinsight/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	fetcher := dataset.NewFetcher(cfg.Dataset.SourceURL, cfg.Dataset.FetchTimeout, cfg.Dataset.MaxRetries, cfg.Dataset.RetryDelayBase)
	if err := fetcher.Ensure(ctx, cfg.Dataset.Path); err != nil {
		logger.Fatal("Dataset unavailable: %v", err)
	}
	table, err := dataset.Load(cfg.Dataset.Path)
	if err != nil {
		logger.Fatal("Failed to load dataset: %v", err)
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		logger.Fatal("Failed to initialize token manager: %v", err)
	}

	var mailer mail.Sender = mail.LogSender{}
	if cfg.Mail.SMTPHost != "" {
		mailer = mail.NewSMTPSender(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.Username, cfg.Mail.Password)
		logger.Info("Mail delivery via %s:%d", cfg.Mail.SMTPHost, cfg.Mail.SMTPPort)
	} else {
		logger.Warn("mail.smtp_host not set, password reset mail will only be logged")
	}

	accounts := auth.NewService(store, store, tokens, mailer, auth.Options{
		BcryptCost:  cfg.Auth.BcryptCost,
		ResetTTL:    cfg.Auth.ResetTokenTTL,
		FrontendURL: cfg.Auth.FrontendURL,
		MailFrom:    cfg.Mail.From,
	})

	srv := api.NewServer(table, accounts, api.NewMetrics(), api.Options{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	})

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	stats := func(ctx context.Context) (telegram.Stats, error) {
		return collectStats(ctx, table, srv.Queries(), store)
	}

	if telegramClient != nil {
		accounts.OnSignup(func(username string) {
			go func() {
				if err := telegramClient.NotifySignup(username); err != nil {
					logger.Warn("Failed to send signup notification to Telegram: %v", err)
				}
			}()
		})
		telegramClient.ListenForCommands(ctx, stats)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	s := startupStats(ctx, stats)
	logger.Info("Serving on %s (%d records, %d towns, years %d-%d)", cfg.Server.Addr, s.Records, s.Towns, s.FirstYear, s.LastYear)
	if telegramClient != nil {
		go func() {
			if err := telegramClient.NotifyStartup(s); err != nil {
				logger.Warn("Failed to send startup notification to Telegram: %v", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
	logger.Info("Service stopped")
}

func collectStats(ctx context.Context, table *dataset.Table, queries *analytics.Service, store *storage.Storage) (telegram.Stats, error) {
	s := telegram.Stats{
		Records: table.Len(),
		Towns:   len(queries.Towns()),
	}
	if years := queries.Years(); len(years) > 0 {
		s.FirstYear, s.LastYear = years[0], years[len(years)-1]
	}

	countCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	users, err := store.CountUsers(countCtx)
	if err != nil {
		return s, err
	}
	s.Users = users
	return s, nil
}

// startupStats returns whatever stats could be collected, warning when some are missing.
func startupStats(ctx context.Context, stats telegram.StatsFunc) telegram.Stats {
	s, err := stats(ctx)
	if err != nil {
		logger.Warn("Failed to collect startup stats: %v", err)
	}
	return s
}
