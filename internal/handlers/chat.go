package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chat-widget/internal/chat"
	"github.com/MegaGrindStone/chat-widget/internal/models"
)

// HandleChats accepts the "message" form field as the next user message. It answers with the rendered user
// message followed by a loading placeholder for the reply; the reply itself arrives through the SSE stream.
//
// A blank message is rejected with 400, and a submission while a reply is in progress with 409.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ticket, err := m.synchronizer.Start(context.WithoutCancel(r.Context()), r.FormValue("message"))
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, "A reply is already in progress", http.StatusConflict)
		return
	case err != nil:
		m.logger.Error("Failed to start chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go m.logReply(ticket)

	err = m.templates.ExecuteTemplate(w, "user_message", toMessage(m.markdown, ticket.User, ticket.SessionID,
		"ended", m.logger))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	err = m.templates.ExecuteTemplate(w, "ai_message", message{
		SessionID:      ticket.SessionID,
		Role:           string(models.RoleAssistant),
		Timestamp:      ticket.User.CreatedAt,
		StreamingState: "loading",
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) logReply(ticket chat.Ticket) {
	reply := <-ticket.Done
	if reply.Err == nil {
		m.logger.Debug("Reply committed",
			slog.String("session", reply.SessionID),
			slog.Int("length", len(reply.Message.Content)))
		return
	}
	m.logger.Warn("Reply not committed",
		slog.String("session", reply.SessionID),
		slog.String("status", reply.Status.String()),
		slog.String(errLoggerKey, reply.Err.Error()))
}

// HandleClear empties the transcript, discarding a reply in progress.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.synchronizer.Clear(r.Context()); err != nil {
		m.logger.Error("Failed to clear transcript", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE streams the widget's live events to a browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
