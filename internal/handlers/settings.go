package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/chat"
	"github.com/MegaGrindStone/chat-widget/internal/models"
)

const healthCheckTimeout = 3 * time.Second

type settingsRequest struct {
	Streaming *bool   `json:"streaming"`
	Endpoint  *string `json:"endpoint"`
	Theme     *string `json:"theme"`
}

type widgetHealth struct {
	Status     string         `json:"status"`
	State      string         `json:"state"`
	Streaming  bool           `json:"streaming"`
	Relay      *models.Health `json:"relay,omitempty"`
	RelayError string         `json:"relay_error,omitempty"`
}

// HandleSettings returns the settings on GET. On POST it applies a partial JSON update: fields that are
// absent keep their value. A changed backend takes effect for the next submission; while a reply is in
// progress the update is rejected with 409 and nothing is persisted.
func (m Main) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := m.store.Settings(r.Context())
		if err != nil {
			m.logger.Error("Failed to load settings", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPost:
		m.updateSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m Main) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid settings: "+err.Error(), http.StatusBadRequest)
		return
	}

	settings, err := m.store.Settings(r.Context())
	if err != nil {
		m.logger.Error("Failed to load settings", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	prev := settings
	if req.Streaming != nil {
		settings.Streaming = *req.Streaming
	}
	if req.Endpoint != nil {
		settings.Endpoint = strings.TrimSpace(*req.Endpoint)
	}
	if req.Theme != nil {
		theme, err := models.ParseTheme(*req.Theme)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		settings.Theme = theme
	}

	client, err := m.newClient(settings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if m.synchronizer.State() != chat.StateIdle {
		http.Error(w, "A reply is in progress", http.StatusConflict)
		return
	}

	// Settings are saved before the new backend is installed.
	if err := m.store.SaveSettings(r.Context(), settings); err != nil {
		m.logger.Error("Failed to save settings", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.synchronizer.Reconfigure(client, settings.Streaming); err != nil {
		if rbErr := m.store.SaveSettings(r.Context(), prev); rbErr != nil {
			m.logger.Error("Failed to restore settings", slog.String(errLoggerKey, rbErr.Error()))
		}
		if errors.Is(err, chat.ErrBusy) {
			http.Error(w, "A reply is in progress", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.client.Store(&installedClient{client: client})

	m.logger.Info("Settings updated",
		slog.Bool("streaming", settings.Streaming),
		slog.String("endpoint", settings.Endpoint),
		slog.String("theme", string(settings.Theme)))
	writeJSON(w, http.StatusOK, settings)
}

// HandleHealth reports the widget's state and, when the completion client can be probed, the health of the
// relay behind it. An unreachable relay is reported in the body, not as a failed request.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res := widgetHealth{
		Status:    "healthy",
		State:     m.synchronizer.State().String(),
		Streaming: m.synchronizer.Streaming(),
	}

	if ic := m.client.Load(); ic != nil {
		if hc, ok := ic.client.(HealthChecker); ok {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			h, err := hc.Health(ctx)
			cancel()
			if err != nil {
				res.RelayError = err.Error()
			} else {
				res.Relay = &h
			}
		}
	}

	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
