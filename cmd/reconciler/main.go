// cmd/reconciler/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pipeline-engine/internal/common/config"
	"pipeline-engine/internal/common/database"
	"pipeline-engine/internal/common/logger"
	"pipeline-engine/internal/common/metrics"
	"pipeline-engine/internal/common/observability"
	"pipeline-engine/internal/pipeline/applier"
	"pipeline-engine/internal/pipeline/audit"
	"pipeline-engine/internal/pipeline/engine"
	"pipeline-engine/internal/pipeline/recorder"
	"pipeline-engine/internal/pipeline/rules"
	"pipeline-engine/internal/pipeline/snapshot"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	runOnce := flag.Bool("once", false, "run a single reconciliation pass and exit")
	flag.Parse()

	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting substage reconciler...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("substage-reconciler")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (only when the audit mirror is on) ---
	var esClient *database.ElasticsearchClient
	if cfg.Audit.MirrorToElasticsearch {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Build the rule registry (defaults + optional overrides) ---
	ruleSet := rules.DefaultRules()
	if cfg.Engine.RulesOverridePath != "" {
		overrides, err := rules.LoadOverrides(cfg.Engine.RulesOverridePath)
		if err != nil {
			zapLog.Fatal("rule overrides rejected", zap.Error(err), zap.String("path", cfg.Engine.RulesOverridePath))
		}
		ruleSet = rules.MergeRules(ruleSet, overrides)
		zapLog.Info("Rule overrides merged", zap.String("path", cfg.Engine.RulesOverridePath), zap.Int("overrides", len(overrides)))
	}

	registry, err := rules.NewRegistry(ruleSet)
	if err != nil {
		zapLog.Fatal("rule registry rejected", zap.Error(err))
	}
	if err := registry.Validate(); err != nil {
		zapLog.Fatal("rule validation failed", zap.Error(err))
	}
	zapLog.Info("Rule registry loaded", zap.Int("rules", registry.Len()))

	// --- Wire the engine ---
	reader := snapshot.NewReader(pg, registry, log)
	if err := reader.ProbeCapabilities(ctx); err != nil {
		zapLog.Fatal("schema capability probe failed", zap.Error(err))
	}
	for stage, missing := range reader.DisabledStages() {
		zapLog.Warn("Stage disabled for this deployment",
			zap.String("stage", stage),
			zap.Strings("missingColumns", missing),
		)
	}

	trail := audit.NewTrail(esClient, cfg.Audit.Index, log)
	app := applier.New(pg, trail, log)
	rec := recorder.New(redis, 24*time.Hour, config.GetDuration(cfg.Engine.RunLockTTL), log)

	eng := engine.New(registry, reader, app, rec, obs, log, engine.Options{
		StageTimeout:     config.GetDuration(cfg.Engine.StageTimeout),
		StaleAfterDays:   cfg.Engine.StaleAfterDays,
		StaleReportLimit: cfg.Engine.StaleReportLimit,
	})

	if *runOnce {
		metrics.RunsTriggered.WithLabelValues("manual").Inc()
		result, err := eng.RunOnce(ctx)
		if err != nil {
			zapLog.Fatal("reconciliation pass failed", zap.Error(err))
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		zapLog.Info("Single pass complete",
			zap.String("runId", result.RunID),
			zap.Int("transitions", result.Total),
			zap.Duration("duration", result.Duration),
		)
		return
	}

	// --- HTTP Server: trigger, status, health, metrics ---
	mux := http.NewServeMux()

	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		metrics.RunsTriggered.WithLabelValues("http").Inc()
		result, err := eng.RunOnce(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			if errors.Is(err, engine.ErrRunInProgress) {
				metrics.RunsRejected.WithLabelValues("http").Inc()
				metrics.HTTPRequests.WithLabelValues("/run", "409").Inc()
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			metrics.HTTPRequests.WithLabelValues("/run", "500").Inc()
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		metrics.HTTPRequests.WithLabelValues("/run", "200").Inc()
		json.NewEncoder(w).Encode(result)
	})

	mux.HandleFunc("/runs/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		result, err := rec.LatestRun(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		if result == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "no completed runs"})
			return
		}
		json.NewEncoder(w).Encode(result)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pg.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Scheduler loop ---
	interval := config.GetDuration(cfg.Engine.Interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runPass := func() {
		metrics.RunsTriggered.WithLabelValues("schedule").Inc()
		result, err := eng.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, engine.ErrRunInProgress) {
				metrics.RunsRejected.WithLabelValues("schedule").Inc()
				zapLog.Warn("Scheduled pass skipped, previous run still in progress")
				return
			}
			zapLog.Error("Scheduled pass failed", zap.Error(err))
			return
		}
		zapLog.Info("Scheduled pass complete",
			zap.String("runId", result.RunID),
			zap.Int("transitions", result.Total),
			zap.Int("skippedStages", len(result.SkippedStages)),
			zap.Duration("duration", result.Duration),
		)
	}

	zapLog.Info("Scheduler started", zap.Duration("interval", interval))
	runPass()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runPass()
		case <-sigCh:
			zapLog.Info("Shutdown signal received, stopping reconciler...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				zapLog.Error("HTTP server shutdown failed", zap.Error(err))
			}
			zapLog.Info("Reconciler stopped")
			return
		}
	}
}
