package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	chatwidget "github.com/MegaGrindStone/chat-widget"
	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
	"github.com/MegaGrindStone/chat-widget/internal/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "chatwidget")
	if err := os.MkdirAll(cfgPath, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel()}))

	persona, err := prompt.LoadPersona(cfg.Persona)
	if err != nil {
		return err
	}
	var knowledge prompt.Knowledge
	if cfg.KnowledgeDir != "" {
		knowledge, err = prompt.LoadKnowledge(cfg.KnowledgeDir, logger.With(slog.String("module", "knowledge")))
		if err != nil {
			return err
		}
		logger.Info("Knowledge loaded",
			slog.Int("documents", len(knowledge.Documents)),
			slog.Int("size", knowledge.Size()))
	}
	markers := cfg.Markers
	if markers == nil {
		markers = prompt.DefaultMarkers
	}
	assembler := prompt.NewAssembler(persona, knowledge, markers)
	if cfg.Mode == modeDirect && !assembler.Ready() {
		logger.Warn("Direct mode without knowledge, replies will rely on the persona only")
	}

	boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "store.db"))
	if err != nil {
		return err
	}
	defer boltDB.Close()

	m, err := handlers.NewMain(boltDB, assembler, cfg.clientFactory(logger), services.NewMarkdown(cfg.MarkdownStyle),
		logger)
	if err != nil {
		return err
	}

	staticFS, err := fs.Sub(chatwidget.StaticFS, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/clear", m.HandleClear)
	mux.HandleFunc("/settings", m.HandleSettings)
	mux.HandleFunc("/health", m.HandleHealth)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.Chain(mux, handlers.LoggingMiddleware(logger, nil, []string{"/health", "/sse"})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr), slog.String("mode", cfg.Mode))
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
