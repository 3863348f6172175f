package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
	"github.com/ollama/ollama/api"
)

// Ollama is a relay upstream backed by an Ollama server.
type Ollama struct {
	host  string
	model string

	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama client for the server at host, e.g. "http://localhost:11434".
func NewOllama(host, model string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host: %w", err)
	}

	return Ollama{
		host:   host,
		model:  model,
		params: params,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Ready reports whether a model is configured.
func (o Ollama) Ready() bool {
	return o.model != ""
}

// Send returns the complete reply for p.
func (o Ollama) Send(ctx context.Context, p prompt.Prompt) (string, error) {
	f := false
	req := o.chatRequest(p, &f)

	var sb strings.Builder
	if err := o.client.Chat(ctx, req, func(res api.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	}); err != nil {
		return "", ollamaError(err)
	}

	return sb.String(), nil
}

// SendStreaming streams the reply for p, one fragment per response chunk of the server.
func (o Ollama) SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		t := true
		req := o.chatRequest(p, &t)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped && errors.Is(err, context.Canceled) {
				return
			}
			if !stopped {
				yield("", ollamaError(err))
			}
		}
	})
}

func (o Ollama) chatRequest(p prompt.Prompt, stream *bool) *api.ChatRequest {
	msgs := make([]api.Message, 0, 2)
	if p.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: p.System})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: p.Message})

	options := map[string]any{}
	if o.params.Temperature != nil {
		options["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		options["top_p"] = *o.params.TopP
	}
	if o.params.MaxTokens != nil {
		options["num_predict"] = *o.params.MaxTokens
	}
	if o.params.Stop != nil {
		options["stop"] = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		options["presence_penalty"] = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		options["frequency_penalty"] = *o.params.FrequencyPenalty
	}
	if o.params.Seed != nil {
		options["seed"] = *o.params.Seed
	}

	return &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   stream,
		Options:  options,
	}
}

func ollamaError(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		return &models.TransportError{StatusCode: se.StatusCode, Body: se.ErrorMessage, Err: err}
	}
	return &models.TransportError{Err: err}
}
