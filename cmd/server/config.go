package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/chat"
	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/services"
	"gopkg.in/yaml.v3"
)

const (
	modeRelay  = "relay"
	modeDirect = "direct"

	defaultPort          = "8080"
	defaultRelayEndpoint = "http://localhost:8000"
)

type config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// Mode selects how replies are obtained: through the relay or from the vendor directly.
	Mode   string       `yaml:"mode"`
	Relay  relayConfig  `yaml:"relay"`
	Direct directConfig `yaml:"direct"`

	Persona       string   `yaml:"persona"`
	KnowledgeDir  string   `yaml:"knowledgeDir"`
	Markers       []string `yaml:"markers"`
	MarkdownStyle string   `yaml:"markdownStyle"`
}

type relayConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds a whole relay request including the streamed body. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
}

type directConfig struct {
	APIKey     string                 `yaml:"apiKey"`
	BaseURL    string                 `yaml:"baseURL"`
	Model      string                 `yaml:"model"`
	Inline     *bool                  `yaml:"inline"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

func defaultConfig() config {
	return config{
		Port:     defaultPort,
		LogLevel: "info",
		Mode:     modeRelay,
		Relay: relayConfig{
			Endpoint: defaultRelayEndpoint,
		},
		Direct: directConfig{
			Model:      services.DeepSeekModel,
			Parameters: services.DefaultLLMParameters(),
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. A missing file leaves the defaults in place.
// Secrets and the port fall back to the environment.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if cfg.Direct.APIKey == "" {
		cfg.Direct.APIKey = os.Getenv("DEEPSEEK_API_KEY")
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch c.Mode {
	case modeRelay:
		if c.Relay.Endpoint == "" {
			return fmt.Errorf("relay endpoint is required in relay mode")
		}
	case modeDirect:
	default:
		return fmt.Errorf("unknown mode: %s", c.Mode)
	}
	return nil
}

func (c config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// clientFactory returns the handlers.ClientFactory of the configured mode. In relay mode a non-empty
// Settings.Endpoint replaces the configured endpoint.
func (c config) clientFactory(logger *slog.Logger) func(models.Settings) (chat.Client, error) {
	return func(s models.Settings) (chat.Client, error) {
		switch c.Mode {
		case modeRelay:
			endpoint := c.Relay.Endpoint
			if s.Endpoint != "" {
				endpoint = s.Endpoint
			}
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				return nil, fmt.Errorf("relay endpoint must be an http(s) URL: %q", endpoint)
			}
			return services.NewRelay(endpoint, &http.Client{Timeout: c.Relay.Timeout}, logger), nil
		case modeDirect:
			inline := true
			if c.Direct.Inline != nil {
				inline = *c.Direct.Inline
			}
			return services.NewOpenAI(services.OpenAIConfig{
				APIKey:  c.Direct.APIKey,
				BaseURL: c.Direct.BaseURL,
				Model:   c.Direct.Model,
				Inline:  inline,
				Params:  c.Direct.Parameters,
			}, logger), nil
		default:
			return nil, fmt.Errorf("unknown mode: %s", c.Mode)
		}
	}
}
