package services

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	// DeepSeekBaseURL is the OpenAI-compatible API root of DeepSeek.
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	// DeepSeekModel is the default chat model.
	DeepSeekModel = "deepseek-chat"
)

// LLMParameters holds the optional sampling parameters of a completion request. Nil fields are left to the
// vendor's defaults.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	MaxTokens        *int     `yaml:"maxTokens"`
	Stop             []string `yaml:"stop"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
	Seed             *int     `yaml:"seed"`
}

// DefaultLLMParameters returns a temperature of 0.7 and at most 4000 reply tokens.
func DefaultLLMParameters() LLMParameters {
	temperature := float32(0.7)
	maxTokens := 4000
	return LLMParameters{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
}

// OpenAIConfig configures an OpenAI client.
type OpenAIConfig struct {
	APIKey string
	// BaseURL defaults to DeepSeekBaseURL.
	BaseURL string
	// Model defaults to DeepSeekModel.
	Model string
	// Inline sends the whole assembled prompt in the system role together with prompt.DirectPlaceholder,
	// instead of the system text plus the literal user message.
	Inline bool
	Params LLMParameters
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OpenAI is the completion client for any vendor exposing the OpenAI chat completions API, DeepSeek by
// default. It serves both as the direct vendor backend of the widget and as a relay upstream.
type OpenAI struct {
	apiKey string
	model  string
	inline bool

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI client. An empty API key is accepted here and reported as a
// models.PreconditionError by every request, before anything is sent.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) OpenAI {
	c := goopenai.DefaultConfig(cfg.APIKey)
	c.BaseURL = DeepSeekBaseURL
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DeepSeekModel
	}

	return OpenAI{
		apiKey: cfg.APIKey,
		model:  model,
		inline: cfg.Inline,
		params: cfg.Params,
		client: goopenai.NewClientWithConfig(c),
		logger: logger.With(slog.String("module", "openai")),
	}
}

// Ready reports whether a credential is configured.
func (o OpenAI) Ready() bool {
	return o.apiKey != ""
}

// Send returns the complete reply for p.
func (o OpenAI) Send(ctx context.Context, p prompt.Prompt) (string, error) {
	if err := o.precondition(); err != nil {
		return "", err
	}

	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(p, false))
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &models.MalformedResponseError{Detail: "no choices found"}
	}

	return resp.Choices[0].Message.Content, nil
}

// SendStreaming streams the reply for p as content deltas.
func (o OpenAI) SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		if err := o.precondition(); err != nil {
			yield("", err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, o.chatRequest(p, true))
		if err != nil {
			yield("", openAIError(err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", openAIError(err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			if content := response.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
	})
}

func (o OpenAI) precondition() error {
	if o.apiKey == "" {
		return &models.PreconditionError{Reason: "API key is missing"}
	}
	return nil
}

func (o OpenAI) messages(p prompt.Prompt) []goopenai.ChatCompletionMessage {
	system, user := p.System, p.Message
	if o.inline {
		system, user = p.Inline(), prompt.DirectPlaceholder
	}

	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: user,
	})
}

func (o OpenAI) chatRequest(p prompt.Prompt, stream bool) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.messages(p),
		Stream:   stream,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}

	o.logger.Debug("Request",
		slog.String("model", req.Model),
		slog.Bool("stream", stream),
		slog.Int("messages", len(req.Messages)))

	return req
}

func openAIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &models.TransportError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &models.TransportError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &models.TransportError{Err: err}
}
