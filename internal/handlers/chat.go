package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/stream"
	"github.com/MegaGrindStone/assistant-web-ui/internal/transcript"
)

type liveData struct {
	SessionID string
	Message   *message
	// OOB marks the fragment for an out-of-band swap when it's sent along another response.
	OOB       bool
}

type alertData struct {
	SessionID     string
	AssistantName string
	Alert         *models.Alert
}

type messagesData struct {
	Messages []message
	Live     liveData
}

// HandleMessages sends a user message to the assistant named in the path.
//
// The handler expects "message" and "session_id" form fields. A pending reply is finalized before the user
// message is appended, and both are rendered in the response together with a loading bubble for the new
// reply. The reply itself is streamed from the router in the background and pushed through SSE.
//
// It answers 400 for a missing message, 404 for an unknown session, and 409 while the previous reply of the
// session is still streaming.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	input := r.FormValue("message")
	if strings.TrimSpace(input) == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	sessionID := r.FormValue("session_id")
	session, err := m.assistantSession(r.Context(), sessionID, r.PathValue("name"))
	if err != nil {
		m.logger.Error("Failed to find session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		if isNotFound(err) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
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

	appended, err := e.tr.Send(input)
	if err != nil {
		if errors.Is(err, transcript.ErrBusy) {
			http.Error(w, "A reply is still streaming", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The transcript is already updated, so a store failure must not stop the reply from streaming.
	if err := m.store.AddMessages(r.Context(), sessionID, appended...); err != nil {
		m.logger.Error("Failed to store messages",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}

	m.streams.Add(1)
	go m.respond(session, e, input)

	m.publishAnnouncements(sessionID, e)

	data := messagesData{
		Live: liveData{
			SessionID: sessionID,
			Message: &message{
				Role:           string(models.RoleBot),
				Name:           models.BotName,
				StreamingState: streamingStateLoading,
			},
			OOB: true,
		},
	}
	for _, msg := range appended {
		mv, err := newMessage(msg, streamingStateEnded)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Messages = append(data.Messages, mv)
	}

	if err := m.templates.ExecuteTemplate(w, "messages", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleDismissAlert clears the alert of the session given by the "session_id" parameter.
func (m Main) HandleDismissAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue("session_id")
	if _, err := m.assistantSession(r.Context(), sessionID, r.PathValue("name")); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	e, err := m.session(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	e.tr.DismissAlert()

	if err := m.templates.ExecuteTemplate(w, "alert", m.alertData(sessionID, r.PathValue("name"), e)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// respond streams the reply to input and mirrors it into the transcript and to the session's subscribers.
func (m Main) respond(session models.Session, e *sessionEntry, input string) {
	defer m.streams.Done()

	logger := m.logger.With(slog.String("sessionID", session.ID))

	body, err := m.router.Chat(m.streamCtx, models.ChatRequest{
		Message:       input,
		AssistantName: session.AssistantName,
	})
	if err != nil {
		m.fail(session, e, err)
		return
	}
	defer body.Close()

	res, err := stream.Decode(m.streamCtx, body, func(chunk string) {
		e.tr.Chunk(chunk)
		m.publishLive(session.ID, e, true)
	})
	if err != nil {
		m.fail(session, e, err)
		return
	}

	logger.Debug("Reply streamed",
		slog.Int("length", len(res.Message)),
		slog.Int("sources", len(res.Sources)))

	msg, finalized := e.tr.Complete(res.Sources)
	if finalized {
		if err := m.store.AddMessages(m.streamCtx, session.ID, msg); err != nil {
			logger.Error("Failed to store reply", slog.String(errLoggerKey, err.Error()))
		}
		mv, err := newMessage(msg, streamingStateEnded)
		if err != nil {
			logger.Error("Failed to render reply", slog.String(errLoggerKey, err.Error()))
		} else {
			m.publish(session.ID, messagesSSEType, "chat_message", mv)
		}
	}
	m.publishLive(session.ID, e, false)
	m.publishAnnouncements(session.ID, e)
	m.publish(session.ID, doneSSEType, "done", nil)
}

func (m Main) fail(session models.Session, e *sessionEntry, err error) {
	alert := models.NewAlert(err, session.AssistantDisplayName)
	m.logger.Error("Chat request failed",
		slog.String("sessionID", session.ID),
		slog.String("assistant", session.AssistantName),
		slog.String("kind", string(alert.Kind)),
		slog.String(errLoggerKey, err.Error()))

	e.tr.Fail(alert)

	m.publish(session.ID, alertSSEType, "alert", m.alertData(session.ID, session.AssistantName, e))
	m.publishLive(session.ID, e, false)
	m.publishAnnouncements(session.ID, e)
	m.publish(session.ID, doneSSEType, "done", nil)
}

func (m Main) publishLive(sessionID string, e *sessionEntry, streaming bool) {
	live, err := m.liveData(sessionID, e, streaming)
	if err != nil {
		return
	}
	m.publish(sessionID, liveSSEType, "live_message", live)
}

// liveData renders the reply that isn't finalized yet. A busy session without reply text gets a loading
// bubble.
func (m Main) liveData(sessionID string, e *sessionEntry, busy bool) (liveData, error) {
	data := liveData{SessionID: sessionID}

	content, sources, ok := e.tr.Live()
	if !ok {
		if busy {
			data.Message = &message{
				Role:           string(models.RoleBot),
				Name:           models.BotName,
				StreamingState: streamingStateLoading,
			}
		}
		return data, nil
	}

	html, err := models.RenderMarkdown(content)
	if err != nil {
		m.logger.Error("Failed to render live reply",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return liveData{}, err
	}

	state := streamingStateEnded
	if busy {
		state = streamingStateStreaming
	}
	data.Message = &message{
		Role:           string(models.RoleBot),
		Name:           models.BotName,
		Content:        html,
		Sources:        sources,
		StreamingState: state,
	}
	return data, nil
}

func (m Main) alertData(sessionID, assistantName string, e *sessionEntry) alertData {
	data := alertData{
		SessionID:     sessionID,
		AssistantName: assistantName,
	}
	if alert, ok := e.tr.Alert(); ok {
		data.Alert = &alert
	}
	return data
}

// HandleSSE serves the server-sent events. A client passes the session_id query parameter to receive the
// events of its session.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
