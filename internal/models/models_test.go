package models_test

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

func TestNewAlert(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  models.ErrorKind
		wantTitle string
		wantBody  string
	}{
		{
			name:      "404",
			err:       &models.StatusError{StatusCode: http.StatusNotFound},
			wantKind:  models.ErrorKindNotFound,
			wantTitle: "404: Network error",
			wantBody:  "Helper is currently unavailable. Use a different assistant or try again later.",
		},
		{
			name:      "500 wrapped",
			err:       fmt.Errorf("chat: %w", &models.StatusError{StatusCode: http.StatusInternalServerError}),
			wantKind:  models.ErrorKindServer,
			wantTitle: "Server error",
			wantBody: "Helper has encountered an error and is unable to answer your question. " +
				"Use a different assistant or try again later.",
		},
		{
			name:      "other status",
			err:       &models.StatusError{StatusCode: http.StatusBadGateway},
			wantKind:  models.ErrorKindOther,
			wantTitle: "Error",
		},
		{
			name:      "network error",
			err:       errors.New("dial tcp: connection refused"),
			wantKind:  models.ErrorKindOther,
			wantTitle: "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := models.NewAlert(tt.err, "Helper")
			if alert.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", alert.Kind, tt.wantKind)
			}
			if alert.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", alert.Title, tt.wantTitle)
			}
			if tt.wantBody != "" && alert.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", alert.Body, tt.wantBody)
			}
			if !strings.Contains(alert.Body, "Helper") {
				t.Errorf("Body = %q, want to contain display name", alert.Body)
			}
		})
	}
}

func TestStatusErrorUnwrap(t *testing.T) {
	err := &models.StatusError{StatusCode: http.StatusNotFound, Err: models.ErrNotFound}
	if !errors.Is(err, models.ErrNotFound) {
		t.Error("StatusError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("Error() = %q, want to contain status code", err.Error())
	}
}

func TestFindAssistant(t *testing.T) {
	assistants := []models.Assistant{
		{Name: "docs", DisplayName: "Docs bot"},
		{Name: "ops", DisplayName: "Ops bot"},
	}

	got, err := models.FindAssistant(assistants, "ops")
	if err != nil {
		t.Fatalf("FindAssistant() error = %v", err)
	}
	if got.DisplayName != "Ops bot" {
		t.Errorf("FindAssistant() = %+v, want Ops bot", got)
	}

	_, err = models.FindAssistant(assistants, "missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("FindAssistant() error = %v, want ErrNotFound", err)
	}
}

func TestAssistantLabel(t *testing.T) {
	if got := (models.Assistant{Name: "docs"}).Label(); got != "docs" {
		t.Errorf("Label() = %q, want docs", got)
	}
	if got := (models.Assistant{Name: "docs", DisplayName: "Docs"}).Label(); got != "Docs" {
		t.Errorf("Label() = %q, want Docs", got)
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Support Bot":         "support-bot",
		"  Crème brûlée FAQ ": "creme-brulee-faq",
		"v2 -- release notes": "v2-release-notes",
		"!!!":                 "",
	}
	for in, want := range tests {
		if got := models.Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewMessageIDIsTimeOrdered(t *testing.T) {
	a := models.NewMessageID()
	b := models.NewMessageID()
	if a == b {
		t.Fatal("NewMessageID() returned the same token twice")
	}
	if a > b {
		t.Errorf("NewMessageID() tokens not ordered: %s > %s", a, b)
	}
}

func TestRenderMarkdown(t *testing.T) {
	html, err := models.RenderMarkdown("**bold** <script>alert(1)</script>\n\n```go\nfmt.Println(1)\n```")
	if err != nil {
		t.Fatalf("RenderMarkdown() error = %v", err)
	}
	out := string(html)
	if !strings.Contains(out, "<strong>bold</strong>") {
		t.Errorf("RenderMarkdown() = %q, want bold text", out)
	}
	if strings.Contains(out, "<script>") {
		t.Errorf("RenderMarkdown() = %q, raw HTML must be omitted", out)
	}
	if !strings.Contains(out, "<pre") {
		t.Errorf("RenderMarkdown() = %q, want code block", out)
	}
}
