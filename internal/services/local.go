package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/google/uuid"
)

const errLoggerKey = "err"

// LLM streams a reply to a single message on behalf of an assistant.
type LLM interface {
	Chat(ctx context.Context, assistant models.Assistant, message string) iter.Seq2[string, error]
	Connection() models.Connection
}

// AssistantStore persists locally created assistants.
type AssistantStore interface {
	Assistants(ctx context.Context) ([]models.Assistant, error)
	AddAssistant(ctx context.Context, assistant models.Assistant) error
}

// LocalRouter serves the router API without an upstream router service: replies come straight from an LLM and
// assistants are kept in a local store. The LLM is the only LLM connection and there are no retriever
// connections.
type LocalRouter struct {
	llm   LLM
	store AssistantStore

	logger *slog.Logger
}

// NewLocalRouter creates a LocalRouter.
func NewLocalRouter(llm LLM, store AssistantStore, logger *slog.Logger) LocalRouter {
	return LocalRouter{
		llm:    llm,
		store:  store,
		logger: logger.With(slog.String("module", "local_router")),
	}
}

// Chat streams the LLM reply as plain text through a pipe, so it's decoded the same way as a router response.
// An unknown assistant results in a 404 *models.StatusError.
func (l LocalRouter) Chat(ctx context.Context, chatReq models.ChatRequest) (io.ReadCloser, error) {
	assistant, err := l.Assistant(ctx, chatReq.AssistantName)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, &models.StatusError{StatusCode: http.StatusNotFound, Err: err}
		}
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		for chunk, err := range l.llm.Chat(ctx, assistant, chatReq.Message) {
			if err != nil {
				l.logger.Error("LLM stream failed",
					slog.String("assistant", assistant.Name),
					slog.String(errLoggerKey, err.Error()))
				pw.CloseWithError(err)
				return
			}
			if _, err := io.WriteString(pw, chunk); err != nil {
				// The reader went away.
				return
			}
		}
		pw.Close()
	}()

	return pr, nil
}

// Assistants returns the locally stored assistants.
func (l LocalRouter) Assistants(ctx context.Context) ([]models.Assistant, error) {
	assistants, err := l.store.Assistants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assistants: %w", err)
	}
	return assistants, nil
}

// Assistant returns the assistant with the given name, or an error wrapping models.ErrNotFound.
func (l LocalRouter) Assistant(ctx context.Context, name string) (models.Assistant, error) {
	assistants, err := l.Assistants(ctx)
	if err != nil {
		return models.Assistant{}, err
	}
	a, err := models.FindAssistant(assistants, name)
	if err != nil {
		return models.Assistant{}, fmt.Errorf("assistant %q: %w", name, err)
	}
	return a, nil
}

// CreateAssistant stores a new assistant. The LLM connection must be the local LLM, and retriever connections
// aren't supported.
func (l LocalRouter) CreateAssistant(ctx context.Context, req models.AssistantRequest) error {
	conn := l.llm.Connection()
	if req.LLMConnectionID != "" && req.LLMConnectionID != conn.ID {
		return fmt.Errorf("%w: unknown llm connection %q", models.ErrCreateAssistant, req.LLMConnectionID)
	}
	if req.RetrieverConnectionID != "" {
		return fmt.Errorf("%w: unknown retriever connection %q", models.ErrCreateAssistant, req.RetrieverConnectionID)
	}

	err := l.store.AddAssistant(ctx, models.Assistant{
		Name:          req.Name,
		DisplayName:   req.DisplayName,
		ID:            uuid.NewString(),
		LLMConnection: conn.ID,
		Description:   req.Description,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrCreateAssistant, err)
	}
	return nil
}

// RetrieverConnections always returns an empty list.
func (l LocalRouter) RetrieverConnections(context.Context) ([]models.Connection, error) {
	return []models.Connection{}, nil
}

// LLMConnections returns the local LLM as the single connection.
func (l LocalRouter) LLMConnections(context.Context) ([]models.Connection, error) {
	return []models.Connection{l.llm.Connection()}, nil
}
