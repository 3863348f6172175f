package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/services"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DEEPSEEK_API_KEY", "from-env")

	tests := []struct {
		name    string
		yaml    string
		want    func(t *testing.T, cfg config)
		wantErr bool
	}{
		{
			name: "defaults",
			want: func(t *testing.T, cfg config) {
				if cfg.Mode != modeRelay || cfg.Relay.Endpoint != defaultRelayEndpoint || cfg.Port != defaultPort {
					t.Errorf("cfg = %+v, want relay mode on the default endpoint", cfg)
				}
				if cfg.Direct.APIKey != "from-env" {
					t.Errorf("api key = %q, want the environment fallback", cfg.Direct.APIKey)
				}
			},
		},
		{
			name: "direct",
			yaml: "mode: Direct\ndirect:\n  apiKey: from-file\n  inline: false\n  parameters:\n    maxTokens: 100\n",
			want: func(t *testing.T, cfg config) {
				if cfg.Mode != modeDirect || cfg.Direct.APIKey != "from-file" {
					t.Errorf("cfg = %+v", cfg)
				}
				if cfg.Direct.Inline == nil || *cfg.Direct.Inline {
					t.Error("inline should be disabled")
				}
				if cfg.Direct.Parameters.MaxTokens == nil || *cfg.Direct.Parameters.MaxTokens != 100 {
					t.Error("max tokens should be 100")
				}
				if cfg.Direct.Parameters.Temperature == nil {
					t.Error("default temperature should be kept")
				}
			},
		},
		{
			name:    "unknown mode",
			yaml:    "mode: carrier-pigeon\n",
			wantErr: true,
		},
		{
			name:    "relay without endpoint",
			yaml:    "relay:\n  endpoint: \"\"\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.yaml != "" {
				path = writeConfig(t, tt.yaml)
			}

			cfg, err := loadConfig(path)
			if tt.wantErr {
				if err == nil {
					t.Error("loadConfig() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			tt.want(t, cfg)
		})
	}
}

func TestClientFactory(t *testing.T) {
	relayCfg := defaultConfig()
	directCfg := defaultConfig()
	directCfg.Mode = modeDirect

	tests := []struct {
		name         string
		cfg          config
		settings     models.Settings
		wantEndpoint string
		wantDirect   bool
		wantErr      bool
	}{
		{
			name:         "configured endpoint",
			cfg:          relayCfg,
			wantEndpoint: defaultRelayEndpoint,
		},
		{
			name:         "endpoint override",
			cfg:          relayCfg,
			settings:     models.Settings{Endpoint: "https://relay.example.com/"},
			wantEndpoint: "https://relay.example.com",
		},
		{
			name:     "invalid override",
			cfg:      relayCfg,
			settings: models.Settings{Endpoint: "relay.example.com"},
			wantErr:  true,
		},
		{
			name:       "direct",
			cfg:        directCfg,
			wantDirect: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := tt.cfg.clientFactory(discard())(tt.settings)
			if tt.wantErr {
				if err == nil {
					t.Error("clientFactory() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("clientFactory() error = %v", err)
			}

			switch c := client.(type) {
			case services.Relay:
				if tt.wantDirect {
					t.Fatal("got a relay client, want a direct one")
				}
				if c.Endpoint() != tt.wantEndpoint {
					t.Errorf("endpoint = %q, want %q", c.Endpoint(), tt.wantEndpoint)
				}
			case services.OpenAI:
				if !tt.wantDirect {
					t.Fatal("got a direct client, want a relay one")
				}
			default:
				t.Fatalf("client = %T", client)
			}
		})
	}
}
