package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	upstream(logger *slog.Logger) (handlers.Upstream, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port     string `yaml:"port"`
	Host     string `yaml:"host"`
	LogLevel string `yaml:"logLevel"`

	Persona      string   `yaml:"persona"`
	KnowledgeDir string   `yaml:"knowledgeDir"`
	Markers      []string `yaml:"markers"`

	Retry     retryConfig     `yaml:"retry"`
	RateLimit rateLimitConfig `yaml:"rateLimit"`

	// LLM is decoded by UnmarshalYAML according to its provider.
	LLM llmConfig `yaml:"-"`
}

type retryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type rateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// TrustedProxies lists the IPs or CIDR ranges whose X-Forwarded-For header identifies the client.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// openAIConfig covers DeepSeek and every other vendor with an OpenAI compatible API.
type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
	MaxTokens     int    `yaml:"maxTokens"`
}

func defaultConfig() config {
	return config{
		Port:         "8000",
		Host:         "0.0.0.0",
		LogLevel:     "info",
		KnowledgeDir: "knowledge",
		Retry: retryConfig{
			Attempts: 3,
			Delay:    time.Second,
		},
		RateLimit: rateLimitConfig{
			RPS:   2,
			Burst: 10,
		},
		LLM: &openAIConfig{
			BaseLLMConfig: BaseLLMConfig{
				Provider:   "deepseek",
				Model:      services.DeepSeekModel,
				Parameters: services.DefaultLLMParameters(),
			},
			BaseURL: services.DeepSeekBaseURL,
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. A missing file leaves the defaults in place.
// PORT and HOST override the file.
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
	if host := os.Getenv("HOST"); host != "" {
		cfg.Host = host
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	type plain config
	raw := struct {
		plain `yaml:",inline"`
		LLM   map[string]any `yaml:"llm"`
	}{plain: plain(*c)}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	llm := c.LLM
	if raw.LLM != nil {
		var err error
		if llm, err = decodeLLMConfig(raw.LLM); err != nil {
			return err
		}
	}

	*c = config(raw.plain)
	c.LLM = llm
	return nil
}

func decodeLLMConfig(rawLLM map[string]any) (llmConfig, error) {
	llmProvider, ok := rawLLM["provider"].(string)
	if !ok {
		return nil, fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawLLM)
	if err != nil {
		return nil, err
	}

	var llm llmConfig
	switch llmProvider {
	case "deepseek":
		llm = &openAIConfig{
			BaseLLMConfig: BaseLLMConfig{Model: services.DeepSeekModel, Parameters: services.DefaultLLMParameters()},
			BaseURL:       services.DeepSeekBaseURL,
		}
	case "openai":
		llm = &openAIConfig{BaseLLMConfig: BaseLLMConfig{Parameters: services.DefaultLLMParameters()}}
	case "ollama":
		llm = &ollamaConfig{BaseLLMConfig: BaseLLMConfig{Parameters: services.DefaultLLMParameters()}}
	case "anthropic":
		// Reply length comes from maxTokens unless parameters.maxTokens is set.
		llm = &anthropicConfig{
			BaseLLMConfig: BaseLLMConfig{Parameters: services.LLMParameters{Temperature: services.DefaultLLMParameters().Temperature}},
			MaxTokens:     4000,
		}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return nil, err
	}
	return llm, nil
}

func (c config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (o openAIConfig) upstream(logger *slog.Logger) (handlers.Upstream, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" && o.Provider == "deepseek" {
		apiKey = os.Getenv("DEEPSEEK_API_KEY")
	}
	if apiKey == "" && o.Provider == "openai" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(services.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: o.BaseURL,
		Model:   o.Model,
		Params:  o.Parameters,
	}, logger), nil
}

func (o ollamaConfig) upstream(logger *slog.Logger) (handlers.Upstream, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, o.Parameters, logger)
}

func (a anthropicConfig) upstream(logger *slog.Logger) (handlers.Upstream, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.BaseURL, a.Model, a.MaxTokens, a.Parameters, logger), nil
}
