package services

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown renders message content to HTML. Raw HTML in the source is omitted.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown creates a renderer with GitHub flavored extensions and highlighted code blocks in the
// given chroma style.
func NewMarkdown(style string) Markdown {
	if style == "" {
		style = "github"
	}
	return Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle(style)),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// Render converts src to HTML.
func (m Markdown) Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("error converting markdown: %w", err)
	}
	return buf.String(), nil
}
