package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
)

// Relay is the completion client for an intermediary HTTP service that holds the vendor credentials. Only
// the literal user message is sent; the relay assembles its own prompt.
type Relay struct {
	endpoint string

	client *http.Client

	logger *slog.Logger
}

type relayChatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

type relayChatResponse struct {
	Success  bool    `json:"success"`
	Response *string `json:"response"`
}

const relayReadSize = 4096

// NewRelay creates a Relay for the service at endpoint, e.g. "http://localhost:8000". A nil client uses a
// fresh http.Client without timeout; a reply may legitimately stream for minutes.
func NewRelay(endpoint string, client *http.Client, logger *slog.Logger) Relay {
	if client == nil {
		client = &http.Client{}
	}
	return Relay{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		logger:   logger.With(slog.String("module", "relay")),
	}
}

// Endpoint returns the base URL requests are sent to.
func (r Relay) Endpoint() string {
	return r.endpoint
}

// Send posts the user message with streaming disabled and returns the complete reply.
func (r Relay) Send(ctx context.Context, p prompt.Prompt) (string, error) {
	resp, err := r.doChat(ctx, p.Message, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var res relayChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", &models.MalformedResponseError{Detail: "error decoding response", Err: err}
	}
	if !res.Success {
		return "", &models.MalformedResponseError{Detail: "relay reported success=false"}
	}
	if res.Response == nil {
		return "", &models.MalformedResponseError{Detail: "response field is missing"}
	}

	return *res.Response, nil
}

// SendStreaming posts the user message with streaming enabled. The response body carries unframed text;
// every read becomes one fragment, trimmed so no fragment ends inside a multi-byte rune.
func (r Relay) SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error] {
	return once(func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		resp, err := r.doChat(ctx, p.Message, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		buf := make([]byte, relayReadSize)
		var pending []byte
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := append(pending, buf[:n]...)
				var complete []byte
				complete, pending = completeRunes(chunk)
				// The split result aliases chunk, which the next append may overwrite.
				pending = bytes.Clone(pending)
				if len(complete) > 0 {
					if !yield(string(complete), nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				yield("", &models.TransportError{Err: fmt.Errorf("error reading response: %w", err)})
				return
			}
		}

		if len(pending) > 0 {
			yield(string(pending), nil)
		}
	})
}

// Health probes the relay's readiness. It is used for diagnostics only.
func (r Relay) Health(ctx context.Context) (models.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", http.NoBody)
	if err != nil {
		return models.Health{}, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return models.Health{}, &models.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return models.Health{}, &models.TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var h models.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return models.Health{}, &models.MalformedResponseError{Detail: "error decoding health", Err: err}
	}
	return h, nil
}

func (r Relay) doChat(ctx context.Context, message string, stream bool) (*http.Response, error) {
	jsonBody, err := json.Marshal(relayChatRequest{Message: message, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	r.logger.Debug("Request", slog.String("endpoint", r.endpoint), slog.Bool("stream", stream))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &models.TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &models.TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp, nil
}
