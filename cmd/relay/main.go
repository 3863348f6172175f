package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
	"github.com/MegaGrindStone/chat-widget/internal/services"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("Relay failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}

	cfg, err := loadConfig(filepath.Join(cfgDir, "chatwidget", "relay.yaml"))
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel()}))

	persona, err := prompt.LoadPersona(cfg.Persona)
	if err != nil {
		return err
	}

	// The relay keeps serving health without knowledge; chat requests are refused until it is present.
	knowledge, err := prompt.LoadKnowledge(cfg.KnowledgeDir, logger.With(slog.String("module", "knowledge")))
	if err != nil {
		logger.Error("Failed to load knowledge", slog.String("dir", cfg.KnowledgeDir), slog.String("err", err.Error()))
	} else {
		logger.Info("Knowledge loaded",
			slog.Int("documents", len(knowledge.Documents)),
			slog.Int("size", knowledge.Size()))
	}

	markers := cfg.Markers
	if markers == nil {
		markers = prompt.DefaultMarkers
	}
	assembler := prompt.NewAssembler(persona, knowledge, markers)

	var upstream handlers.Upstream
	if cfg.LLM == nil {
		logger.Error("No llm configured")
	} else if llm, err := cfg.LLM.upstream(logger); err != nil {
		logger.Error("Failed to create upstream", slog.String("err", err.Error()))
	} else {
		upstream = services.NewRetrying(llm, cfg.Retry.Attempts, cfg.Retry.Delay, logger)
	}

	relay := handlers.NewRelay(upstream, assembler, handlers.RelayInfo{
		Host:            cfg.Host,
		Port:            cfg.Port,
		Version:         version,
		KnowledgeLoaded: len(knowledge.Documents) > 0,
	}, logger)
	metrics := handlers.NewMetrics()

	trustedProxies, err := handlers.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", relay.HandleRoot)
	mux.HandleFunc("/chat", relay.HandleChat)
	mux.HandleFunc("/health", relay.HandleHealth)
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr: net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: handlers.Chain(mux,
			handlers.LoggingMiddleware(logger, metrics, []string{"/health", "/metrics"}),
			handlers.CORSMiddleware,
			handlers.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst, []string{"/health", "/metrics"},
				trustedProxies),
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Relay starting",
			slog.String("addr", srv.Addr),
			slog.Bool("promptReady", assembler.Ready()),
			slog.Bool("upstreamReady", upstream != nil && upstream.Ready()))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	return nil
}
