package models

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when an assistant lookup has no match.
	ErrNotFound = errors.New("not found")
	// ErrCreateAssistant is returned when the assistant creation endpoint answers with a non-OK status.
	ErrCreateAssistant = errors.New("failed to create assistant")
	// ErrEmptyBody is returned when an OK response carries no body to stream.
	ErrEmptyBody = errors.New("response has no body")
	// ErrAssistantExists is returned when an assistant is created with a name that is already taken.
	ErrAssistantExists = errors.New("assistant already exists")
)

// StatusError is returned by upstream calls that got a response with an unexpected status code.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// ErrorKind categorizes a failed chat request for display.
type ErrorKind string

const (
	// ErrorKindNotFound is used for an upstream 404.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindServer is used for an upstream 500.
	ErrorKindServer ErrorKind = "server_error"
	// ErrorKindOther covers every other failure, network errors included.
	ErrorKindOther ErrorKind = "other"
)

// Alert is a dismissible error shown above the transcript.
type Alert struct {
	Kind  ErrorKind
	Title string
	Body  string
}

// ClassifyError maps an error from a chat request to its ErrorKind.
func ClassifyError(err error) ErrorKind {
	var se *StatusError
	if !errors.As(err, &se) {
		return ErrorKindOther
	}
	switch se.StatusCode {
	case http.StatusInternalServerError:
		return ErrorKindServer
	case http.StatusNotFound:
		return ErrorKindNotFound
	default:
		return ErrorKindOther
	}
}

// Title returns the alert title of the kind.
func (k ErrorKind) Title() string {
	switch k {
	case ErrorKindNotFound:
		return "404: Network error"
	case ErrorKindServer:
		return "Server error"
	default:
		return "Error"
	}
}

// Body returns the alert body of the kind for the assistant with the given display name.
func (k ErrorKind) Body(displayName string) string {
	if k == ErrorKindNotFound {
		return fmt.Sprintf("%s is currently unavailable. Use a different assistant or try again later.", displayName)
	}
	return fmt.Sprintf("%s has encountered an error and is unable to answer your question. "+
		"Use a different assistant or try again later.", displayName)
}

// NewAlert builds the alert for err, addressed to the assistant with the given display name.
func NewAlert(err error, displayName string) Alert {
	kind := ClassifyError(err)
	return Alert{
		Kind:  kind,
		Title: kind.Title(),
		Body:  kind.Body(displayName),
	}
}
