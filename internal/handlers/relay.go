package handlers

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
)

// Upstream is the LLM vendor the relay forwards to.
type Upstream interface {
	Send(ctx context.Context, p prompt.Prompt) (string, error)
	SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error]
	Ready() bool
}

// Prompter builds the prompt for a user message from the relay's reference material.
type Prompter interface {
	Assemble(message string) prompt.Prompt
	Ready() bool
}

// RelayInfo describes the relay in its health and info answers.
type RelayInfo struct {
	Host            string
	Port            string
	Version         string
	KnowledgeLoaded bool
}

// Relay serves the HTTP surface that chat widgets talk to in relay mode.
type Relay struct {
	upstream Upstream
	prompter Prompter
	info     RelayInfo

	logger *slog.Logger
}

type relayChatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

type relayChatResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

type relayError struct {
	Detail string `json:"detail"`
}

type relayRootResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
	Status    string            `json:"status"`
	Port      string            `json:"port"`
	Host      string            `json:"host"`
}

// NewRelay creates the relay handlers. upstream may be nil when no vendor is configured; chat requests then
// fail with 500 while health keeps answering.
func NewRelay(upstream Upstream, prompter Prompter, info RelayInfo, logger *slog.Logger) Relay {
	return Relay{
		upstream: upstream,
		prompter: prompter,
		info:     info,
		logger:   logger.With(slog.String("module", "relay")),
	}
}

func (rl Relay) upstreamReady() bool {
	return rl.upstream != nil && rl.upstream.Ready()
}

// HandleChat answers a chat request, either as a JSON document or, when stream is set, as a plain text body
// flushed fragment by fragment. An upstream failure before the first fragment is answered with 502; a
// failure after it aborts the connection so the client sees a truncated transfer instead of a short reply.
func (rl Relay) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, relayError{Detail: "Method not allowed"})
		return
	}

	var req relayChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, relayError{Detail: "Invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, relayError{Detail: "Message is required"})
		return
	}
	if !rl.prompter.Ready() || !rl.upstreamReady() {
		rl.logger.Error("Chat requested before the relay is ready",
			slog.Bool("promptReady", rl.prompter.Ready()),
			slog.Bool("upstreamReady", rl.upstreamReady()))
		writeJSON(w, http.StatusInternalServerError, relayError{Detail: "Service is not initialized"})
		return
	}

	p := rl.prompter.Assemble(req.Message)
	if !req.Stream {
		reply, err := rl.upstream.Send(r.Context(), p)
		if err != nil {
			rl.logger.Error("Upstream request failed", slog.String(errLoggerKey, err.Error()))
			writeJSON(w, http.StatusBadGateway, relayError{Detail: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, relayChatResponse{Response: reply, Success: true})
		return
	}

	rc := http.NewResponseController(w)
	started := false
	for fragment, err := range rl.upstream.SendStreaming(r.Context(), p) {
		if err != nil {
			rl.logger.Error("Upstream stream failed",
				slog.Bool("started", started),
				slog.String(errLoggerKey, err.Error()))
			if !started {
				writeJSON(w, http.StatusBadGateway, relayError{Detail: err.Error()})
				return
			}
			panic(http.ErrAbortHandler)
		}
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			rl.logger.Warn("Client went away", slog.String(errLoggerKey, err.Error()))
			return
		}
		if err := rc.Flush(); err != nil {
			rl.logger.Warn("Failed to flush", slog.String(errLoggerKey, err.Error()))
		}
	}
	if !started {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

// HandleHealth reports what the relay has loaded.
func (rl Relay) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, relayError{Detail: "Method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, rl.health())
}

// HandleRoot describes the service.
func (rl Relay) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, relayError{Detail: "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, relayRootResponse{
		Message: "AI Assistant relay",
		Version: rl.info.Version,
		Endpoints: map[string]string{
			"chat":    "/chat",
			"health":  "/health",
			"metrics": "/metrics",
		},
		Status: "running",
		Port:   rl.info.Port,
		Host:   rl.info.Host,
	})
}

func (rl Relay) health() models.Health {
	return models.Health{
		Status:          "healthy",
		KnowledgeLoaded: rl.info.KnowledgeLoaded,
		PromptReady:     rl.prompter.Ready(),
		UpstreamReady:   rl.upstreamReady(),
		Port:            rl.info.Port,
		Host:            rl.info.Host,
	}
}
