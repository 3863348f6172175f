package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"sync/atomic"
	"time"

	chatwidget "github.com/MegaGrindStone/chat-widget"
	"github.com/MegaGrindStone/chat-widget/internal/chat"
	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Store persists the transcript and the user's settings.
type Store interface {
	chat.Transcript

	Settings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error
}

// ClientFactory builds the completion client selected by s.
type ClientFactory func(s models.Settings) (chat.Client, error)

// HealthChecker is implemented by completion clients that can probe the service behind them.
type HealthChecker interface {
	Health(ctx context.Context) (models.Health, error)
}

// Renderer converts message content to HTML.
type Renderer interface {
	Render(src string) (string, error)
}

// Main serves the chat widget: the page, submissions, settings and the live event stream.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	synchronizer *chat.Synchronizer
	store        Store
	markdown     Renderer
	newClient    ClientFactory

	// client is the most recently installed completion client, kept for health probes.
	client *atomic.Pointer[installedClient]

	logger *slog.Logger
}

type installedClient struct {
	client chat.Client
}

const errLoggerKey = "err"

// NewMain creates the widget with the persisted settings of store. newClient is called once here and again
// on every settings change.
func NewMain(store Store, assembler chat.Assembler, newClient ClientFactory, markdown Renderer,
	logger *slog.Logger,
) (Main, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return Main{}, err
	}

	settings, err := store.Settings(context.Background())
	if err != nil {
		return Main{}, fmt.Errorf("failed to load settings: %w", err)
	}
	client, err := newClient(settings)
	if err != nil {
		return Main{}, fmt.Errorf("failed to create completion client: %w", err)
	}

	logger = logger.With(slog.String("module", "main"))
	sseSrv := &sse.Server{}
	view := sseView{
		sseSrv:    sseSrv,
		templates: tmpl,
		markdown:  markdown,
		logger:    logger,
	}

	synchronizer, err := chat.New(chat.Config{
		Client:     client,
		Assembler:  assembler,
		Transcript: store,
		View:       view,
		Streaming:  settings.Streaming,
		Logger:     logger,
	})
	if err != nil {
		return Main{}, fmt.Errorf("failed to create synchronizer: %w", err)
	}

	m := Main{
		sseSrv:       sseSrv,
		templates:    tmpl,
		synchronizer: synchronizer,
		store:        store,
		markdown:     markdown,
		newClient:    newClient,
		client:       &atomic.Pointer[installedClient]{},
		logger:       logger,
	}
	m.client.Store(&installedClient{client: client})

	return m, nil
}

func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"safeHTML": func(s string) template.HTML {
			return template.HTML(s)
		},
		"timestamp": func(t time.Time) string {
			return t.Local().Format("15:04")
		},
	}).ParseFS(
		chatwidget.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

// Shutdown tells connected browsers to stop listening and closes the SSE server, waiting at most 5 seconds
// for connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type(closeSSEType)}
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
