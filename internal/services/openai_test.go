package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
	"github.com/MegaGrindStone/chat-widget/internal/services"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAI struct {
	fragments []string
	status    int

	calls    atomic.Int32
	requests chan goopenai.ChatCompletionRequest
	auth     atomic.Value
}

func newFakeOpenAI(t *testing.T, f *fakeOpenAI) *httptest.Server {
	t.Helper()
	f.requests = make(chan goopenai.ChatCompletionRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}

		var req goopenai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case f.requests <- req:
		default:
		}

		if f.status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			fmt.Fprintf(w, `{"error":{"message":"denied","type":"invalid_request_error"}}`)
			return
		}

		if !req.Stream {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(goopenai.ChatCompletionResponse{
				Model: req.Model,
				Choices: []goopenai.ChatCompletionChoice{
					{Message: goopenai.ChatCompletionMessage{
						Role:    goopenai.ChatMessageRoleAssistant,
						Content: strings.Join(f.fragments, ""),
					}},
				},
			})
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frag := range f.fragments {
			chunk := goopenai.ChatCompletionStreamResponse{
				Choices: []goopenai.ChatCompletionStreamChoice{
					{Delta: goopenai.ChatCompletionStreamChoiceDelta{Content: frag}},
				},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAISend(t *testing.T) {
	fake := &fakeOpenAI{fragments: []string{"Hello", " world"}}
	srv := newFakeOpenAI(t, fake)

	o := services.NewOpenAI(services.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Params:  services.DefaultLLMParameters(),
	}, discardLogger())

	reply, err := o.Send(context.Background(), prompt.Prompt{System: "be nice", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", reply)

	req := <-fake.requests
	assert.Equal(t, services.DeepSeekModel, req.Model)
	assert.False(t, req.Stream)
	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.Equal(t, 4000, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, goopenai.ChatCompletionMessage{Role: "system", Content: "be nice"}, req.Messages[0])
	assert.Equal(t, goopenai.ChatCompletionMessage{Role: "user", Content: "hi"}, req.Messages[1])
	assert.Equal(t, "Bearer sk-test", fake.auth.Load())
}

func TestOpenAIInlinePrompt(t *testing.T) {
	fake := &fakeOpenAI{fragments: []string{"ok"}}
	srv := newFakeOpenAI(t, fake)

	o := services.NewOpenAI(services.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "custom-model",
		Inline:  true,
	}, discardLogger())

	p := prompt.Prompt{System: "persona", Message: "what now?"}
	_, err := o.Send(context.Background(), p)
	require.NoError(t, err)

	req := <-fake.requests
	assert.Equal(t, "custom-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, p.Inline(), req.Messages[0].Content)
	assert.Equal(t, prompt.DirectPlaceholder, req.Messages[1].Content)
}

func TestOpenAISendStreaming(t *testing.T) {
	fake := &fakeOpenAI{fragments: []string{"Hi", " there", "!"}}
	srv := newFakeOpenAI(t, fake)

	o := services.NewOpenAI(services.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, discardLogger())

	var got []string
	for fragment, err := range o.SendStreaming(context.Background(), prompt.Prompt{Message: "hello"}) {
		require.NoError(t, err)
		got = append(got, fragment)
	}
	assert.Equal(t, []string{"Hi", " there", "!"}, got)

	req := <-fake.requests
	assert.True(t, req.Stream)
	// Without a system text only the user message is sent.
	require.Len(t, req.Messages, 1)
}

func TestOpenAIMissingKeyMakesNoRequest(t *testing.T) {
	fake := &fakeOpenAI{fragments: []string{"x"}}
	srv := newFakeOpenAI(t, fake)

	o := services.NewOpenAI(services.OpenAIConfig{BaseURL: srv.URL + "/v1"}, discardLogger())
	assert.False(t, o.Ready())

	_, err := o.Send(context.Background(), prompt.Prompt{Message: "hello"})
	var pe *models.PreconditionError
	require.ErrorAs(t, err, &pe)

	for _, err := range o.SendStreaming(context.Background(), prompt.Prompt{Message: "hello"}) {
		require.ErrorAs(t, err, &pe)
	}

	assert.Zero(t, fake.calls.Load())
}

func TestOpenAIStatusError(t *testing.T) {
	fake := &fakeOpenAI{status: http.StatusUnauthorized}
	srv := newFakeOpenAI(t, fake)

	o := services.NewOpenAI(services.OpenAIConfig{APIKey: "sk-wrong", BaseURL: srv.URL + "/v1"}, discardLogger())

	_, err := o.Send(context.Background(), prompt.Prompt{Message: "hello"})
	var te *models.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.False(t, te.Temporary())

	for _, err := range o.SendStreaming(context.Background(), prompt.Prompt{Message: "hello"}) {
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	}
}
