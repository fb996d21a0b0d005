// Merlin - Motor insurance rating that deploys in 60 seconds.
// Copyright (c) 2026 opensource.insurance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-insurance/merlin/internal/api"
	"github.com/opensource-insurance/merlin/internal/bus"
	"github.com/opensource-insurance/merlin/internal/cache"
	"github.com/opensource-insurance/merlin/internal/domain"
	"github.com/opensource-insurance/merlin/internal/rating"
	"github.com/opensource-insurance/merlin/internal/repository"
	"github.com/opensource-insurance/merlin/internal/rules"
	"github.com/opensource-insurance/merlin/internal/validate"
	"github.com/opensource-insurance/merlin/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MERLIN_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting merlin",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("MERLIN_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Heuristic Engine with builtins plus database rules
	heuristics, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize heuristic engine", "error", err)
		os.Exit(1)
	}
	if err := loadHeuristicsFromDatabase(ctx, repo, heuristics); err != nil {
		slog.Error("failed to load heuristic rules", "error", err)
		os.Exit(1)
	}
	slog.Info("heuristic engine initialized", "rules_count", heuristics.RulesCount())

	// Rating table reads go through a read-through cache; admin writes
	// invalidate the affected lookups.
	deriver := rating.NewDeriver(cfg.Rating)
	factReader := cache.NewFactReader(repo, cacheImpl, cfg.Cache.FactTTL)

	// Overlapping facts are resolved deterministically; the anomaly hook
	// logs them and notifies the bus so the rating table gets cleaned up.
	onAnomaly := func(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, facts []*domain.RatingFact) {
		slog.Warn("overlapping rating facts",
			"tenant_id", tenantID,
			"insurance_type", insuranceType,
			"rating_key", ratingKey,
			"fact_count", len(facts),
		)
		payload, err := json.Marshal(map[string]any{
			"insuranceType": insuranceType,
			"ratingKey":     ratingKey,
			"factCount":     len(facts),
		})
		if err != nil {
			return
		}
		if err := busImpl.Publish(ctx, tenantID, domain.TopicRatingAnomaly, payload); err != nil {
			slog.Warn("failed to publish rating anomaly", "error", err)
		}
	}

	calculator := rating.NewCalculator(factReader, deriver, cfg.Rating, onAnomaly)
	validator := validate.NewValidator(factReader, deriver, heuristics, cfg.Validation)
	slog.Info("rating engine initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("MERLIN_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, calculator, validator)

		var tenantIDs []string
		if envTenants := os.Getenv("MERLIN_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, factReader, calculator, validator, heuristics, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("merlin is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("merlin shutdown complete")
}

// loadHeuristicsFromDatabase loads the builtin heuristics plus any
// global rules configured via POST /heuristics. Database rules with a
// builtin's ID override it.
func loadHeuristicsFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	all := rules.BuiltinHeuristics()

	dbRules, err := repo.ListHeuristicRules(ctx, api.GlobalTenantID)
	if err != nil {
		// Builtins alone are enough to start; database rules can be
		// reloaded via the API once the store recovers.
		slog.Warn("failed to list heuristic rules from database", "error", err)
	} else if len(dbRules) > 0 {
		slog.Info("loading heuristic rules from database", "count", len(dbRules))
		all = append(all, dbRules...)
	}

	return engine.ReloadRules(all)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +------------------------------------------+")
	fmt.Println("  |                 MERLIN                   |")
	fmt.Println("  |      Motor Insurance Rating Engine       |")
	fmt.Println("  |      Every premium, explained.            |")
	fmt.Println("  +------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /quotes            - Calculate a premium quote")
	fmt.Println("    GET  /quotes/{id}       - Get quote by ID")
	fmt.Println("    POST /quotes/validate   - Pre-flight eligibility check")
	fmt.Println("    POST /facts             - Add a rating fact")
	fmt.Println("    GET  /facts             - List facts valid on a date")
	fmt.Println("    GET  /facts/{id}        - Get fact by ID")
	fmt.Println("    DELETE /facts/{id}      - Disable a fact")
	fmt.Println("    GET  /heuristics        - List heuristic rules")
	fmt.Println("    POST /heuristics        - Create a heuristic rule")
	fmt.Println("    POST /heuristics/reload - Hot-reload heuristics")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
