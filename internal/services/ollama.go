package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama streams replies from a model served by an Ollama server.
type Ollama struct {
	host  string
	model string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host parameter
// should be a valid URL pointing to an Ollama server.
func NewOllama(host, model string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:   host,
		model:  model,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Connection describes the model as an LLM connection.
func (o Ollama) Connection() models.Connection {
	return models.Connection{
		ID:          "ollama-" + o.model,
		Name:        o.model,
		Description: fmt.Sprintf("Ollama model %s at %s", o.model, o.host),
	}
}

// Chat streams the reply to message. The assistant description, if any, is sent as the system prompt.
func (o Ollama) Chat(ctx context.Context, assistant models.Assistant, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var msgs []api.Message
		if assistant.Description != "" {
			msgs = append(msgs, api.Message{
				Role:    "system",
				Content: assistant.Description,
			})
		}
		msgs = append(msgs, api.Message{
			Role:    "user",
			Content: message,
		})

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
				return context.Canceled
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Error("Chat failed", slog.String(errLoggerKey, err.Error()))
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}
