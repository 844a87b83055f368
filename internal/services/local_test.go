package services_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"testing"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	chunks []string
	err    error

	gotAssistant models.Assistant
}

func (m *mockLLM) Chat(_ context.Context, assistant models.Assistant, _ string) iter.Seq2[string, error] {
	m.gotAssistant = assistant
	return func(yield func(string, error) bool) {
		for _, c := range m.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}

func (m *mockLLM) Connection() models.Connection {
	return models.Connection{ID: "mock-model", Name: "model"}
}

func TestLocalRouterChatThroughDecoder(t *testing.T) {
	db := newTestBoltDB(t)
	llm := &mockLLM{chunks: []string{"Hel", "lo"}}
	router := services.NewLocalRouter(llm, db, discardLogger())
	ctx := context.Background()

	require.NoError(t, router.CreateAssistant(ctx, models.AssistantRequest{
		Name:            "docs",
		DisplayName:     "Docs",
		Description:     "Be brief.",
		LLMConnectionID: "mock-model",
	}))

	body, err := router.Chat(ctx, models.ChatRequest{Message: "hi", AssistantName: "docs"})
	require.NoError(t, err)
	defer body.Close()

	res, err := stream.Decode(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Message)
	assert.Nil(t, res.Sources)
	assert.Equal(t, "Be brief.", llm.gotAssistant.Description)
}

func TestLocalRouterChatUnknownAssistant(t *testing.T) {
	router := services.NewLocalRouter(&mockLLM{}, newTestBoltDB(t), discardLogger())

	_, err := router.Chat(context.Background(), models.ChatRequest{Message: "hi", AssistantName: "nobody"})
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindNotFound, models.ClassifyError(err))
}

func TestLocalRouterChatStreamError(t *testing.T) {
	db := newTestBoltDB(t)
	boom := errors.New("model crashed")
	router := services.NewLocalRouter(&mockLLM{chunks: []string{"part"}, err: boom}, db, discardLogger())
	ctx := context.Background()

	require.NoError(t, router.CreateAssistant(ctx, models.AssistantRequest{Name: "docs"}))

	body, err := router.Chat(ctx, models.ChatRequest{Message: "hi", AssistantName: "docs"})
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	require.ErrorIs(t, err, boom)
}

func TestLocalRouterCreateAssistant(t *testing.T) {
	db := newTestBoltDB(t)
	router := services.NewLocalRouter(&mockLLM{}, db, discardLogger())
	ctx := context.Background()

	err := router.CreateAssistant(ctx, models.AssistantRequest{Name: "a", LLMConnectionID: "other"})
	require.ErrorIs(t, err, models.ErrCreateAssistant)

	err = router.CreateAssistant(ctx, models.AssistantRequest{Name: "a", RetrieverConnectionID: "r"})
	require.ErrorIs(t, err, models.ErrCreateAssistant)

	require.NoError(t, router.CreateAssistant(ctx, models.AssistantRequest{Name: "a", DisplayName: "A"}))
	err = router.CreateAssistant(ctx, models.AssistantRequest{Name: "a"})
	require.ErrorIs(t, err, models.ErrCreateAssistant)
	require.ErrorIs(t, err, models.ErrAssistantExists)

	a, err := router.Assistant(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "mock-model", a.LLMConnection)
	assert.NotEmpty(t, a.ID)
}

func TestLocalRouterConnections(t *testing.T) {
	router := services.NewLocalRouter(&mockLLM{}, newTestBoltDB(t), discardLogger())

	llms, err := router.LLMConnections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Connection{{ID: "mock-model", Name: "model"}}, llms)

	retrievers, err := router.RetrieverConnections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, retrievers)
}
