package handlers

import (
	"bytes"
	"encoding/json"
	"html/template"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SSE event types of the widget's live stream.
const (
	draftSSEType     = "draft"
	committedSSEType = "committed"
	discardedSSEType = "discarded"
	notifySSEType    = "notify"
	inputSSEType     = "input"
	clearedSSEType   = "cleared"
	closeSSEType     = "close"
)

// message is a transcript entry prepared for the templates.
type message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	HTML      template.HTML
	Timestamp time.Time

	StreamingState string
}

type sessionEvent struct {
	Session string `json:"session"`
	ID      string `json:"id,omitempty"`
	Role    string `json:"role,omitempty"`
	HTML    string `json:"html,omitempty"`
}

type inputEvent struct {
	Enabled bool `json:"enabled"`
}

type notifyEvent struct {
	Message string `json:"message"`
}

// sseView publishes the synchronizer's presentation updates to every connected browser.
type sseView struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  Renderer

	logger *slog.Logger
}

func (v sseView) InputEnabled(enabled bool) {
	v.publish(inputSSEType, inputEvent{Enabled: enabled})
}

func (v sseView) Draft(sessionID, content string) {
	html, err := v.markdown.Render(content)
	if err != nil {
		v.logger.Error("Failed to render draft",
			slog.String("session", sessionID),
			slog.String(errLoggerKey, err.Error()))
		html = template.HTMLEscapeString(content)
	}
	v.publish(draftSSEType, sessionEvent{Session: sessionID, HTML: html})
}

func (v sseView) Committed(sessionID string, msg models.Message) {
	rendered, err := v.render(toMessage(v.markdown, msg, sessionID, "ended", v.logger))
	if err != nil {
		v.logger.Error("Failed to render message",
			slog.String("message", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	v.publish(committedSSEType, sessionEvent{
		Session: sessionID,
		ID:      msg.ID,
		Role:    string(msg.Role),
		HTML:    rendered,
	})
}

func (v sseView) Discarded(sessionID string) {
	v.publish(discardedSSEType, sessionEvent{Session: sessionID})
}

func (v sseView) Notify(err error) {
	v.publish(notifySSEType, notifyEvent{Message: err.Error()})
}

func (v sseView) Cleared() {
	v.publish(clearedSSEType, struct{}{})
}

func (v sseView) render(msg message) (string, error) {
	name := "user_message"
	if msg.Role == string(models.RoleAssistant) {
		name = "ai_message"
	}
	var buf bytes.Buffer
	if err := v.templates.ExecuteTemplate(&buf, name, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (v sseView) publish(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		v.logger.Error("Failed to marshal event",
			slog.String("type", typ),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: sse.Type(typ)}
	msg.AppendData(string(data))
	if err := v.sseSrv.Publish(&msg); err != nil {
		v.logger.Error("Failed to publish event",
			slog.String("type", typ),
			slog.String(errLoggerKey, err.Error()))
	}
}

// toMessage prepares msg for the templates. Assistant content is rendered as markdown; user content is
// left to the template's escaping.
func toMessage(md Renderer, msg models.Message, sessionID, streamingState string, logger *slog.Logger) message {
	m := message{
		ID:             msg.ID,
		SessionID:      sessionID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Timestamp:      msg.CreatedAt,
		StreamingState: streamingState,
	}
	if msg.Role != models.RoleAssistant || msg.Content == "" {
		return m
	}

	html, err := md.Render(msg.Content)
	if err != nil {
		logger.Error("Failed to render markdown",
			slog.String("message", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return m
	}
	m.HTML = template.HTML(html)
	return m
}
