package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/google/uuid"
)

type message struct {
	ID        string
	Role      string
	Name      string
	Content   template.HTML
	Sources   []models.Source
	Timestamp time.Time

	StreamingState string
}

const (
	streamingStateLoading   = "loading"
	streamingStateStreaming = "streaming"
	streamingStateEnded     = "ended"
)

type homePageData struct {
	PageTitle  string
	Assistants []models.Assistant
}

type chatbotPageData struct {
	PageTitle string
	BaseTitle string
	Assistant models.Assistant
	SessionID string

	Messages []message
	Live     liveData
	Alert    alertData
	Busy     bool

	Announcement string
}

type notFoundPageData struct {
	PageTitle string
	Name      string
}

func newMessage(msg models.ChatMessage, streamingState string) (message, error) {
	content, err := models.RenderMarkdown(msg.Content)
	if err != nil {
		return message{}, err
	}
	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Name:           msg.Name,
		Content:        content,
		Sources:        msg.Sources,
		Timestamp:      msg.Timestamp,
		StreamingState: streamingState,
	}, nil
}

func pageTitle(title, name, announcement string) string {
	t := title
	if name != "" {
		t = fmt.Sprintf("%s | %s", title, name)
	}
	if announcement != "" {
		t = fmt.Sprintf("%s - %s", t, announcement)
	}
	return t
}

// HandleHome renders the landing page with the list of assistants. A failing assistant listing is logged and
// rendered as an empty list.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		m.renderNotFound(w, "")
		return
	}

	assistants, err := m.router.Assistants(r.Context())
	if err != nil {
		m.logger.Error("Failed to list assistants", slog.String(errLoggerKey, err.Error()))
	}

	data := homePageData{
		PageTitle:  pageTitle(m.opts.Title, "", ""),
		Assistants: assistants,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChatbot renders the chatbot of the assistant named in the path. Any failure to look the assistant up
// renders the not found page with a 404 status.
//
// Without a valid session_id query parameter for this assistant, a new session is created and the client is
// redirected to it. Otherwise the transcript of the session is rendered, including a reply that is still
// streaming or waiting to be finalized.
func (m Main) HandleChatbot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.PathValue("name")
	assistant, err := m.router.Assistant(r.Context(), name)
	if err != nil {
		m.logger.Error("Failed to load assistant",
			slog.String("name", name),
			slog.String(errLoggerKey, err.Error()))
		m.renderNotFound(w, name)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if _, err := m.assistantSession(r.Context(), sessionID, name); err != nil {
		session := models.Session{
			ID:                   uuid.NewString(),
			AssistantName:        assistant.Name,
			AssistantDisplayName: assistant.Label(),
			CreatedAt:            time.Now(),
		}
		if err := m.store.AddSession(r.Context(), session); err != nil {
			m.logger.Error("Failed to add session", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		target := fmt.Sprintf("/chatbot/%s?session_id=%s", url.PathEscape(name), url.QueryEscape(session.ID))
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	e, err := m.session(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to load session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	history := e.tr.Messages()
	msgs := make([]message, len(history))
	for i := range history {
		msgs[i], err = newMessage(history[i], streamingStateEnded)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", history[i].ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	busy := e.tr.Busy()
	live, err := m.liveData(sessionID, e, busy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	announcement := e.tr.LastAnnouncement()
	data := chatbotPageData{
		PageTitle:    pageTitle(m.opts.Title, assistant.Name, announcement),
		BaseTitle:    pageTitle(m.opts.Title, assistant.Name, ""),
		Assistant:    assistant,
		SessionID:    sessionID,
		Messages:     msgs,
		Live:         live,
		Alert:        m.alertData(sessionID, assistant.Name, e),
		Busy:         busy,
		Announcement: announcement,
	}
	if err := m.templates.ExecuteTemplate(w, "chatbot.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// assistantSession returns the stored session if it exists and belongs to the assistant.
func (m Main) assistantSession(ctx context.Context, sessionID, assistantName string) (models.Session, error) {
	if sessionID == "" {
		return models.Session{}, models.ErrNotFound
	}
	session, err := m.store.Session(ctx, sessionID)
	if err != nil {
		return models.Session{}, err
	}
	if session.AssistantName != assistantName {
		return models.Session{}, fmt.Errorf("session %s belongs to another assistant: %w", sessionID, models.ErrNotFound)
	}
	return session, nil
}

func (m Main) renderNotFound(w http.ResponseWriter, name string) {
	w.WriteHeader(http.StatusNotFound)
	data := notFoundPageData{
		PageTitle: pageTitle(m.opts.Title, "", ""),
		Name:      name,
	}
	if err := m.templates.ExecuteTemplate(w, "not_found.html", data); err != nil {
		m.logger.Error("Failed to render not found page", slog.String(errLoggerKey, err.Error()))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
