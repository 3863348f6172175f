package models

import "fmt"

// Theme is the color scheme preference of the widget.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Settings holds the user-adjustable preferences that survive restarts.
type Settings struct {
	// Streaming selects incremental replies instead of a single complete payload.
	Streaming bool `json:"streaming"`
	// Endpoint overrides the configured relay endpoint when not empty.
	Endpoint string `json:"endpoint,omitempty"`
	Theme    Theme  `json:"theme"`
}

// DefaultSettings returns the settings used before the user saved anything.
func DefaultSettings() Settings {
	return Settings{
		Streaming: true,
		Theme:     ThemeLight,
	}
}

// ParseTheme converts s into a Theme. An empty string yields ThemeLight.
func ParseTheme(s string) (Theme, error) {
	switch Theme(s) {
	case "", ThemeLight:
		return ThemeLight, nil
	case ThemeDark:
		return ThemeDark, nil
	default:
		return "", fmt.Errorf("unknown theme %q", s)
	}
}

// Health is the decoded answer of a relay health probe. It is only used for diagnostics.
type Health struct {
	Status          string `json:"status"`
	KnowledgeLoaded bool   `json:"knowledge_loaded"`
	PromptReady     bool   `json:"prompt_ready"`
	UpstreamReady   bool   `json:"upstream_ready"`
	Port            string `json:"port,omitempty"`
	Host            string `json:"host,omitempty"`
}
