package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/DisruptiveDynamics/spotlight-trader/internal/bars"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/bus"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/config"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/db"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/feed"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/handlers"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/history"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/market"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/pipeline"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/replay"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/signals"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/stream"
	"github.com/DisruptiveDynamics/spotlight-trader/internal/triggers"
)

func main() {
	// Load .env (ignore error if file doesn't exist — env vars may be set directly)
	_ = godotenv.Load()

	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg := config.Load()
	slog.Info("configuration loaded", "port", cfg.Port, "symbols", cfg.Symbols, "source", cfg.MarketSource)

	rootCtx, stopAll := context.WithCancel(context.Background())
	defer stopAll()

	// Process epoch: minted once per start; clients resume by watermark when
	// they see it change.
	epoch := stream.NewEpoch()

	// Shared process state (constructed here, passed by reference everywhere)
	eventBus := bus.New()
	store := bars.NewStore(cfg.RingBufferCap)
	checker := market.NewChecker(cfg.Session)

	// Optional persisted bar store (read path for backfill)
	var dbSource history.Source
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(rootCtx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		dbSource = history.NewPGReader(pool)
		slog.Info("bar store pool established")
	}

	// Vendor REST history source
	var vendorSource history.Source
	if cfg.VendorAPIKey != "" {
		vendorSource = history.NewVendorClient(cfg.VendorBaseURL, cfg.VendorAPIKey)
	}

	historySvc := history.NewService(store, dbSource, vendorSource, cfg.MockHistory)

	// Risk governor + pipeline
	governor := signals.NewGovernor(signals.DefaultConfig(), eventBus)
	pipe := pipeline.New(pipeline.Config{
		MicrobarInterval: cfg.MicrobarInterval,
		TriggerConfig:    triggers.DefaultConfig(),
		RollupsEnabled:   cfg.TimeframeRollups,
		Audit:            cfg.MarketAudit,
	}, eventBus, store, governor)
	pipe.Attach(cfg.Symbols...)

	// Upstream feed
	var source feed.TickSource
	switch cfg.MarketSource {
	case "vendor":
		checker.SetSource("vendor", "")
		source = feed.NewVendorWS(cfg.VendorWSURL, cfg.VendorAPIKey, checker)
	default:
		checker.SetSource("sim", "")
		source = feed.NewSimulator(cfg.SimSeed)
	}
	source.Subscribe(cfg.Symbols...)

	go func() {
		if err := source.Start(rootCtx); err != nil {
			slog.Error("feed stopped", "error", err)
		}
	}()
	go pipe.Run(rootCtx, source)

	// Warm indicator state from history in the background
	go func() {
		warmCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
		defer cancel()
		pipe.Warm(warmCtx, historySvc, cfg.Symbols, cfg.HistoryInitLimit)
	}()

	// Replay + SSE fan-out
	replayEngine := replay.NewEngine(eventBus, historySvc)
	sseServer := &stream.Server{
		Bus:       eventBus,
		History:   historySvc,
		Epoch:     epoch,
		SeedLimit: cfg.HistoryInitLimit,
	}

	// Create handlers
	historyHandler := handlers.NewHistoryHandler(historySvc)
	marketHandler := handlers.NewMarketHandler(checker, epoch)
	chartHandler := handlers.NewChartHandler(pipe)
	replayHandler := handlers.NewReplayHandler(replayEngine)

	// Set up router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(slogMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Epoch-Id", "X-Epoch-Start-Ms", "X-Market-Source"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, ok := store.Latest(cfg.Symbols[0]); !ok && !checker.IsMarketOpen() {
			// Cold store outside market hours is still ready: history fills on demand.
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ready","warm":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	// History backfill
	r.Get("/api/history", historyHandler.Get)

	// SSE streaming
	r.Get("/realtime/sse", sseServer.HandleSSE)

	// Chart subscription control
	r.Post("/api/chart/timeframe", chartHandler.Timeframe)

	// Market status routes
	r.Route("/api/market", func(r chi.Router) {
		r.Get("/status", marketHandler.Status)
	})

	// Replay control
	r.Route("/api/replay", func(r chi.Router) {
		r.Post("/start", replayHandler.Start)
		r.Post("/stop", replayHandler.Stop)
		r.Post("/speed", replayHandler.Speed)
	})

	// Create server
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout: SSE connections are long-lived.
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "addr", addr, "epoch", epoch.ID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutting down server", "signal", sig.String())

	stopAll()
	for _, sym := range cfg.Symbols {
		replayEngine.Stop(sym)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

// slogMiddleware is a chi-compatible middleware that logs requests using slog.
func slogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
