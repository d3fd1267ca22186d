package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lysyi3m/research-digest/app/api"
	"github.com/lysyi3m/research-digest/app/cfg"
	"github.com/lysyi3m/research-digest/app/content"
	"github.com/lysyi3m/research-digest/app/database"
	"github.com/lysyi3m/research-digest/app/feed"
	"github.com/lysyi3m/research-digest/app/papers"
	"github.com/lysyi3m/research-digest/app/pipeline"
	"github.com/lysyi3m/research-digest/app/retry"
	"github.com/lysyi3m/research-digest/app/scheduler"
	"github.com/lysyi3m/research-digest/app/synth"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting Research Digest", "version", appCfg.Version, "timezone", time.Local.String())

	if err := run(appCfg); err != nil {
		slog.Error("Research Digest stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(appCfg *cfg.Cfg) error {
	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "migration_version", version, "dirty", dirty)

	topics, err := papers.LoadTopics(appCfg.TopicsFile)
	if err != nil {
		return err
	}
	slog.Info("Topics loaded", "categories", len(topics.Categories), "keywords", len(topics.Keywords))

	httpClient := &http.Client{}

	sourcePolicy := retry.NewPolicy("arxiv", appCfg.SourceAttempts,
		time.Duration(appCfg.SourceBackoff)*time.Second, papers.IsRetryable)
	source := papers.NewArxivSource(httpClient, appCfg.ArxivEndpoint, topics.Categories,
		papers.NewFilterer(topics.Keywords), sourcePolicy, appCfg.UserAgent,
		time.Duration(appCfg.ArxivTimeout)*time.Second)

	// LLMRetries counts retries, not attempts
	generationPolicy := retry.NewPolicy("llm", appCfg.LLMRetries+1,
		time.Duration(appCfg.LLMBackoff)*time.Second, synth.IsRetryable)
	slog.Info("Retry policies",
		"source_attempts", sourcePolicy.MaxAttempts,
		"source_delays", sourcePolicy.Delays(),
		"llm_attempts", generationPolicy.MaxAttempts,
		"llm_delays", generationPolicy.Delays())

	client := synth.NewClient(httpClient, appCfg.LLMEndpoint, appCfg.LLMAPIKey, appCfg.UserAgent)
	synthesizer := synth.NewSynthesizer(client, generationPolicy,
		time.Duration(appCfg.LLMTimeout)*time.Second, appCfg.LLMMaxResponseChars)

	formatter := content.NewFormatter()
	importer := content.NewImporter(httpClient, formatter, appCfg.UserAgent,
		time.Duration(appCfg.ArxivTimeout)*time.Second)

	postRepo := database.NewPostRepository(db)
	runRepo := database.NewRunRepository(db)
	metrics := pipeline.NewMetrics("research_digest")

	params := synth.Params{
		Model:       appCfg.LLMModel,
		MaxTokens:   appCfg.LLMMaxTokens,
		Temperature: appCfg.LLMTemperature,
		TopP:        0.9,
	}
	orchestrator := pipeline.NewOrchestrator(source, synthesizer, formatter, postRepo, runRepo,
		params, appCfg.MaxResults, metrics)

	var schedule api.ScheduleInterface
	var dailyScheduler *scheduler.Scheduler
	if !appCfg.SchedulerDisabled {
		hour, minute, err := cfg.ParseScheduleTime(appCfg.ScheduleTime)
		if err != nil {
			return err
		}
		dailyScheduler, err = scheduler.NewScheduler(orchestrator, hour, minute, time.Local)
		if err != nil {
			return err
		}
		dailyScheduler.Start()
		schedule = dailyScheduler
	} else {
		slog.Info("Scheduler disabled")
	}

	generator := feed.NewGenerator(appCfg.BaseUrl, appCfg.Port, appCfg.Version)

	handler := api.NewHandler(postRepo, runRepo, orchestrator, formatter, importer, schedule, generator,
		db, metrics.Handler())
	server := api.NewServer(handler, appCfg.APIAccessKey)

	// Synchronous generation can take tens of seconds
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(appCfg.LLMTimeout*(appCfg.LLMRetries+1)+appCfg.ArxivTimeout*appCfg.SourceAttempts+30) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	if dailyScheduler != nil {
		if err := dailyScheduler.Stop(shutdownCtx); err != nil {
			slog.Warn("Scheduler shutdown error", "error", err)
		}
	}

	orchestrator.Wait()

	slog.Info("Shutdown complete")
	return runErr
}
