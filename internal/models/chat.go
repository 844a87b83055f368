package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage represents a single entry of a chat transcript. A message is immutable once it is appended to
// the transcript, and it's never removed for the lifetime of the session.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Source is a single line of the "sources used" block that is attached to a bot message.
type Source struct {
	Link string `json:"link"`
}

// ChatRequest is the body sent to the chat completion endpoint.
type ChatRequest struct {
	Message       string `json:"message"`
	AssistantName string `json:"assistantName"`
}

// Session is a chat session with a single assistant.
type Session struct {
	ID                   string    `json:"id"`
	AssistantName        string    `json:"assistantName"`
	AssistantDisplayName string    `json:"assistantDisplayName"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Role represents the author of a message.
type Role string

const (
	// RoleUser represents a message sent by the person using the chatbot.
	RoleUser Role = "user"
	// RoleBot represents a reply streamed from the assistant.
	RoleBot Role = "bot"

	// UserName is the display name of user messages.
	UserName = "You"
	// BotName is the display name of bot messages.
	BotName = "Chatbot"
)

// NewMessageID returns an opaque message token. The token is time ordered, so comparing two IDs as strings
// gives their creation order in most cases, but it's not meant as a global identifier.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NewUserMessage creates a user message with the given content.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Name:      UserName,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewBotMessage creates a bot message with the given content and sources. Sources may be nil.
func NewBotMessage(content string, sources []Source) ChatMessage {
	return ChatMessage{
		ID:        NewMessageID(),
		Role:      RoleBot,
		Name:      BotName,
		Content:   content,
		Sources:   sources,
		Timestamp: time.Now(),
	}
}
