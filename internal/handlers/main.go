package handlers

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	assistantwebui "github.com/MegaGrindStone/assistant-web-ui"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
	"github.com/tmaxmax/go-sse"
)

// Router is the assistant router API: chat completions, assistant lookup and creation, and the connection
// lists used by the assistant form.
type Router interface {
	Chat(ctx context.Context, req models.ChatRequest) (io.ReadCloser, error)

	Assistants(ctx context.Context) ([]models.Assistant, error)
	Assistant(ctx context.Context, name string) (models.Assistant, error)
	CreateAssistant(ctx context.Context, req models.AssistantRequest) error

	RetrieverConnections(ctx context.Context) ([]models.Connection, error)
	LLMConnections(ctx context.Context) ([]models.Connection, error)
}

// Store persists sessions with their finalized messages, and uploaded files.
type Store interface {
	AddSession(ctx context.Context, session models.Session) error
	Session(ctx context.Context, id string) (models.Session, error)
	Messages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	AddMessages(ctx context.Context, sessionID string, messages ...models.ChatMessage) error

	Files(ctx context.Context) ([]models.StoredFile, error)
	AddFile(ctx context.Context, file models.StoredFile, data []byte) (models.StoredFile, error)
}

// Options tunes the behavior of Main.
type Options struct {
	// Title prefixes the page title.
	Title string
	// FinalizeMode decides when streamed replies are committed to the transcript.
	FinalizeMode transcript.FinalizeMode
	// MaxUploadSize is the largest accepted file upload, in bytes.
	MaxUploadSize int64
}

// Main serves the chatbot pages and the sidebar flyouts. Replies are streamed from the Router in background
// goroutines and pushed to the browser through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	router Router
	store  Store
	opts   Options

	sessions *sessionRegistry

	// streamCtx bounds every reply stream; it's cancelled on shutdown.
	streamCtx    context.Context
	cancelStream context.CancelFunc
	streams      *sync.WaitGroup

	logger *slog.Logger
}

type sessionEntry struct {
	mu        sync.Mutex
	tr        *transcript.Transcript
	published int
}

type sessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
}

const (
	errLoggerKey = "err"

	defaultTitle         = "Composer AI Studio"
	defaultMaxUploadSize = 10 << 20
)

// SSE event types pushed to a session.
var (
	liveSSEType         = sse.Type("live")
	messagesSSEType     = sse.Type("messages")
	alertSSEType        = sse.Type("alert")
	announcementSSEType = sse.Type("announcement")
	doneSSEType         = sse.Type("done")
)

// NewMain creates a new Main instance. It parses the HTML templates from the embedded filesystem and sets up
// the SSE server: every client subscribes to the default topic, and to its session topic when the request
// carries a session_id.
func NewMain(router Router, store Store, opts Options, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		assistantwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	if opts.Title == "" {
		opts.Title = defaultTitle
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = defaultMaxUploadSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				sessionID := s.Req.URL.Query().Get("session_id")
				if sessionID != "" {
					topics = append(topics, sessionTopic(sessionID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:    tmpl,
		router:       router,
		store:        store,
		opts:         opts,
		sessions:     &sessionRegistry{entries: make(map[string]*sessionEntry)},
		streamCtx:    ctx,
		cancelStream: cancel,
		streams:      &sync.WaitGroup{},
		logger:       logger.With(slog.String("module", "main")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// Shutdown waits for in-flight reply streams until ctx is done, then cancels whatever is left. It then
// broadcasts a close event to all connected clients and waits up to 5 seconds for the SSE connections to
// terminate.
func (m Main) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.streams.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Cancelling in-flight streams")
	}
	m.cancelStream()
	<-done

	e := &sse.Message{Type: sse.Type("closeChat")}
	// Clients only dispatch events that carry data.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// session returns the transcript entry of a session, loading the finalized messages from the store on first
// use.
func (m Main) session(ctx context.Context, sessionID string) (*sessionEntry, error) {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	if e, ok := m.sessions.entries[sessionID]; ok {
		return e, nil
	}

	history, err := m.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	e := &sessionEntry{tr: transcript.New(m.opts.FinalizeMode, history)}
	m.sessions.entries[sessionID] = e
	return e, nil
}

// publish sends an event with the rendered template to the session's subscribers.
func (m Main) publish(sessionID string, typ sse.EventType, name string, data any) {
	html, err := m.render(name, data)
	if err != nil {
		m.logger.Error("Failed to render event",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: typ}
	msg.AppendData(html)
	if err := m.sseSrv.Publish(&msg, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("sessionID", sessionID),
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
	}
}

// publishAnnouncements pushes the announcements of the session that haven't been published yet.
func (m Main) publishAnnouncements(sessionID string, e *sessionEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := e.tr.Announcements(e.published)
	e.published += len(pending)
	for _, a := range pending {
		m.publish(sessionID, announcementSSEType, "announcement", a)
	}
}

func (m Main) render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}
