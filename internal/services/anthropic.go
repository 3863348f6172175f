package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
	"github.com/tmaxmax/go-sse"
)

// Anthropic is a relay upstream backed by the Anthropic messages API.
type Anthropic struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	params    LLMParameters

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	Stop        []string           `json:"stop_sequences,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
	anthropicVersion     = "2023-06-01"
)

// NewAnthropic creates a new Anthropic client. An empty baseURL selects the public API. params.MaxTokens,
// when set, overrides maxTokens; the other parameters the messages API has no field for are ignored.
func NewAnthropic(apiKey, baseURL, model string, maxTokens int, params LLMParameters, logger *slog.Logger) Anthropic {
	if baseURL == "" {
		baseURL = anthropicAPIEndpoint
	}
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	return Anthropic{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		maxTokens: maxTokens,
		params:    params,
		client:    &http.Client{},
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

// Ready reports whether a credential is configured.
func (a Anthropic) Ready() bool {
	return a.apiKey != ""
}

// Send returns the complete reply for p.
func (a Anthropic) Send(ctx context.Context, p prompt.Prompt) (string, error) {
	resp, err := a.doRequest(ctx, p, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", &models.MalformedResponseError{Detail: "error decoding response", Err: err}
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

// SendStreaming streams the text deltas of the reply for p.
func (a Anthropic) SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resp, err := a.doRequest(ctx, p, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield("", &models.TransportError{Err: fmt.Errorf("error reading response: %w", err)})
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield("", &models.MalformedResponseError{Detail: "error unmarshaling error", Err: err})
					return
				}
				yield("", &models.TransportError{Err: fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message)})
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield("", &models.MalformedResponseError{Detail: "error unmarshaling response", Err: err})
					return
				}
				if res.Delta.Text == "" {
					continue
				}
				if !yield(res.Delta.Text, nil) {
					return
				}
			default:
				continue
			}
		}
	})
}

func (a Anthropic) doRequest(ctx context.Context, p prompt.Prompt, stream bool) (*http.Response, error) {
	if a.apiKey == "" {
		return nil, &models.PreconditionError{Reason: "API key is missing"}
	}

	reqBody := anthropicChatRequest{
		Model:       a.model,
		Messages:    []anthropicMessage{{Role: "user", Content: p.Message}},
		System:      p.System,
		MaxTokens:   a.maxTokens,
		Temperature: a.params.Temperature,
		TopP:        a.params.TopP,
		Stop:        a.params.Stop,
		Stream:      stream,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	a.logger.Debug("Request", slog.String("model", a.model), slog.Bool("stream", stream))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &models.TransportError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &models.TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}
