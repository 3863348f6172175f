package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chat-widget/internal/chat"
	"github.com/MegaGrindStone/chat-widget/internal/models"
)

type homePageData struct {
	Messages []message
	Settings models.Settings
	// Busy is set while a reply is in progress, so the page starts with input disabled.
	Busy bool
}

// HandleHome renders the widget page with the persisted transcript and settings.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	transcript, err := m.store.All(r.Context())
	if err != nil {
		m.logger.Error("Failed to load transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	settings, err := m.store.Settings(r.Context())
	if err != nil {
		m.logger.Error("Failed to load settings", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	msgs := make([]message, len(transcript))
	for i, msg := range transcript {
		msgs[i] = toMessage(m.markdown, msg, "", "ended", m.logger)
	}

	data := homePageData{
		Messages: msgs,
		Settings: settings,
		Busy:     m.synchronizer.State() != chat.StateIdle,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
