package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-sentiment/api"
	"github.com/brettboylen/reddit-sentiment/server"
	"github.com/brettboylen/reddit-sentiment/stats"
	"github.com/brettboylen/reddit-sentiment/utils"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.Info("Starting Reddit Sentiment")

	config, err := utils.LoadConfig(*envPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"subreddits":    config.Reddit.Subreddits,
		"lookback_days": config.Analysis.LookbackDays,
		"max_posts":     config.Analysis.MaxPosts,
		"model":         config.Gemini.Model,
		"server_port":   config.Server.Port,
	}).Info("Configuration loaded")

	redditAPI := api.NewRedditAPI(api.RedditConfig{
		ClientID:             config.Reddit.ClientID,
		ClientSecret:         config.Reddit.ClientSecret,
		UserAgent:            config.Reddit.UserAgent,
		BaseURL:              config.Reddit.BaseURL,
		MaxRequestsPerMinute: config.Reddit.MaxRequestsPerMinute,
		SearchLimit:          config.Reddit.SearchLimit,
		MaxPosts:             config.Analysis.MaxPosts,
	}, log)

	gemini := api.NewGeminiClient(api.GeminiConfig{
		BaseURL:        config.Gemini.BaseURL,
		Model:          config.Gemini.Model,
		RequestTimeout: time.Duration(config.Gemini.RequestTimeoutSeconds) * time.Second,
	}, log)

	settings := stats.NewSettingsStore(
		config.Reddit.Subreddits,
		time.Duration(config.Analysis.LookbackDays)*24*time.Hour,
		log,
	)

	analyzer := stats.NewAnalyzer(redditAPI, gemini, settings, config.Gemini.MaxConcurrency, log)

	// without a key here the dashboard has to supply one through /api/init
	if config.Gemini.APIKey != "" {
		if err := analyzer.Initialize(config.Gemini.APIKey); err != nil {
			log.WithError(err).Warn("Could not initialize Gemini API from environment")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startEchoServer(ctx, config.Server.Port, analyzer, log, config.Server.SearchRequestsPerMinute)

	waitForShutdown(cancel, log)
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// startEchoServer starts the Echo HTTP API server and stops it when ctx is cancelled
func startEchoServer(ctx context.Context, port int, analyzer *stats.Analyzer, log *logrus.Logger, searchesPerMinute int) {
	e := server.New(analyzer, log, searchesPerMinute)

	go func() {
		serverAddr := fmt.Sprintf(":%d", port)
		log.WithField("port", port).Info("Starting API server")
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown failed")
	}
}

// waitForShutdown waits for a shutdown signal
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("Reddit Sentiment stopped")
}
