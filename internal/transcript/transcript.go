// Package transcript keeps the state of one chat session: the finalized messages, the reply that is being
// streamed, the current alert and the accessibility announcements.
package transcript

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

// FinalizeMode decides when a streamed reply is committed to the transcript.
type FinalizeMode string

const (
	// FinalizeOnNextSend commits a reply when the next message is sent. Until then the reply stays live.
	FinalizeOnNextSend FinalizeMode = "next_send"
	// FinalizeOnStreamEnd commits a reply as soon as its stream ends.
	FinalizeOnStreamEnd FinalizeMode = "stream_end"
)

// ErrBusy is returned by Send while the previous request is still streaming.
var ErrBusy = errors.New("a request is already in flight")

// Transcript is safe for concurrent use.
type Transcript struct {
	mu sync.Mutex

	mode     FinalizeMode
	messages []models.ChatMessage

	live        []string
	liveSources []models.Source
	busy        bool

	alert         *models.Alert
	announcements []string
}

// New creates a transcript that starts with the given history. An unknown mode falls back to
// FinalizeOnNextSend.
func New(mode FinalizeMode, history []models.ChatMessage) *Transcript {
	if mode != FinalizeOnStreamEnd {
		mode = FinalizeOnNextSend
	}
	return &Transcript{
		mode:     mode,
		messages: slices.Clone(history),
	}
}

// Send appends a user message. A pending reply is finalized and appended first, so the transcript stays in
// send/receive order. It returns the messages appended by this call, oldest first, and marks the transcript
// busy until Complete or Fail is called.
func (t *Transcript) Send(input string) ([]models.ChatMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.busy {
		return nil, ErrBusy
	}

	var appended []models.ChatMessage
	if msg, ok := t.finalize(); ok {
		appended = append(appended, msg)
	}

	um := models.NewUserMessage(input)
	t.messages = append(t.messages, um)
	appended = append(appended, um)

	t.busy = true
	t.announce(fmt.Sprintf("Message from %s: %s. Message from %s is loading.", models.UserName, input, models.BotName))

	return appended, nil
}

// Chunk appends a piece of the reply and returns the live reply text so far.
func (t *Transcript) Chunk(text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.live = append(t.live, text)
	return strings.Join(t.live, "")
}

// Complete ends the in-flight request. With FinalizeOnStreamEnd the reply is committed right away and returned
// with ok set to true.
func (t *Transcript) Complete(sources []models.Source) (models.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.busy = false
	if len(sources) > 0 {
		t.liveSources = sources
	}
	if len(t.live) > 0 {
		t.announce(fmt.Sprintf("Message from %s: %s", models.BotName, strings.Join(t.live, "")))
	}

	if t.mode != FinalizeOnStreamEnd {
		return models.ChatMessage{}, false
	}
	return t.finalize()
}

// Fail ends the in-flight request with an alert. Text received before the failure stays live.
func (t *Transcript) Fail(alert models.Alert) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.busy = false
	t.alert = &alert
	t.announce(fmt.Sprintf("Error: %s %s", alert.Title, alert.Body))
}

// finalize turns the live reply into a bot message. The caller must hold the lock.
func (t *Transcript) finalize() (models.ChatMessage, bool) {
	if len(t.live) == 0 {
		t.liveSources = nil
		return models.ChatMessage{}, false
	}

	msg := models.NewBotMessage(strings.Join(t.live, ""), t.liveSources)
	t.messages = append(t.messages, msg)
	t.live = nil
	t.liveSources = nil
	return msg, true
}

func (t *Transcript) announce(text string) {
	t.announcements = append(t.announcements, text)
}

// Messages returns a copy of the finalized messages.
func (t *Transcript) Messages() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.messages)
}

// Live returns the reply that hasn't been finalized yet. ok is false when there is none.
func (t *Transcript) Live() (content string, sources []models.Source, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.live) == 0 {
		return "", nil, false
	}
	return strings.Join(t.live, ""), slices.Clone(t.liveSources), true
}

// Busy reports whether a request is in flight.
func (t *Transcript) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.busy
}

// Alert returns the current alert, if any.
func (t *Transcript) Alert() (models.Alert, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.alert == nil {
		return models.Alert{}, false
	}
	return *t.alert, true
}

// DismissAlert clears the current alert.
func (t *Transcript) DismissAlert() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alert = nil
}

// Announcements returns the announcements made after the first n. The queue is append-only, so a consumer
// that remembers how many it has read never misses or repeats one.
func (t *Transcript) Announcements(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n >= len(t.announcements) {
		return nil
	}
	return slices.Clone(t.announcements[n:])
}

// LastAnnouncement returns the latest announcement, or an empty string.
func (t *Transcript) LastAnnouncement() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.announcements) == 0 {
		return ""
	}
	return t.announcements[len(t.announcements)-1]
}
