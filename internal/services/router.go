package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

// RouterEndpoints holds the URLs of the assistant router API.
type RouterEndpoints struct {
	// ChatURL receives chat requests and answers with a streamed text body.
	ChatURL string
	// InfoURL lists the assistants.
	InfoURL string
	// AssistantsURL receives assistant creation requests.
	AssistantsURL string
	// RetrieverConnectionsURL lists the retriever connections.
	RetrieverConnectionsURL string
	// LLMConnectionsURL lists the LLM connections.
	LLMConnectionsURL string
}

// Router is a client of the assistant router REST API. It implements the Router interface used by the
// handlers.
type Router struct {
	endpoints RouterEndpoints

	client *http.Client

	logger *slog.Logger
}

// NewRouter creates a Router client. If client is nil, a client without timeout is used, since chat streams
// have no upper bound on their duration.
func NewRouter(endpoints RouterEndpoints, client *http.Client, logger *slog.Logger) Router {
	if client == nil {
		client = &http.Client{}
	}
	return Router{
		endpoints: endpoints,
		client:    client,
		logger:    logger.With(slog.String("module", "router")),
	}
}

// Chat sends the chat request and returns the streamed response body. The caller must close it.
//
// A non-2xx status or a missing body results in a *models.StatusError; a transport failure is returned
// wrapped as is.
func (r Router) Chat(ctx context.Context, chatReq models.ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoints.ChatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		r.logger.Warn("Chat request failed",
			slog.String("assistant", chatReq.AssistantName),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(msg)))
		return nil, &models.StatusError{StatusCode: resp.StatusCode}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &models.StatusError{StatusCode: resp.StatusCode, Err: models.ErrEmptyBody}
	}

	return resp.Body, nil
}

// Assistants returns every assistant listed by the info endpoint.
func (r Router) Assistants(ctx context.Context) ([]models.Assistant, error) {
	var assistants []models.Assistant
	if err := r.getJSON(ctx, r.endpoints.InfoURL, &assistants); err != nil {
		return nil, fmt.Errorf("failed to list assistants: %w", err)
	}
	return assistants, nil
}

// Assistant returns the assistant with the given name. It returns an error wrapping models.ErrNotFound if no
// assistant has that name.
func (r Router) Assistant(ctx context.Context, name string) (models.Assistant, error) {
	assistants, err := r.Assistants(ctx)
	if err != nil {
		return models.Assistant{}, err
	}
	a, err := models.FindAssistant(assistants, name)
	if err != nil {
		return models.Assistant{}, fmt.Errorf("assistant %q: %w", name, err)
	}
	return a, nil
}

// CreateAssistant posts a new assistant. Any non-OK answer results in an error wrapping
// models.ErrCreateAssistant.
func (r Router) CreateAssistant(ctx context.Context, assistant models.AssistantRequest) error {
	body, err := json.Marshal(assistant)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoints.AssistantsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrCreateAssistant, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %w", models.ErrCreateAssistant, &models.StatusError{StatusCode: resp.StatusCode})
	}
	return nil
}

// RetrieverConnections lists the retriever connections an assistant can use.
func (r Router) RetrieverConnections(ctx context.Context) ([]models.Connection, error) {
	var conns []models.Connection
	if err := r.getJSON(ctx, r.endpoints.RetrieverConnectionsURL, &conns); err != nil {
		return nil, fmt.Errorf("failed to list retriever connections: %w", err)
	}
	return conns, nil
}

// LLMConnections lists the LLM connections an assistant can use.
func (r Router) LLMConnections(ctx context.Context) ([]models.Connection, error) {
	var conns []models.Connection
	if err := r.getJSON(ctx, r.endpoints.LLMConnectionsURL, &conns); err != nil {
		return nil, fmt.Errorf("failed to list llm connections: %w", err)
	}
	return conns, nil
}

func (r Router) getJSON(ctx context.Context, url string, v any) error {
	if url == "" {
		return errors.New("endpoint is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &models.StatusError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
