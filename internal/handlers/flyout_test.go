package handlers_test

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MegaGrindStone/assistant-web-ui/internal/handlers"
	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
)

func getFlyout(main handlers.Main, kind, query string) *httptest.ResponseRecorder {
	target := "/flyouts/" + kind
	if query != "" {
		target += "?" + query
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.SetPathValue("kind", kind)
	w := httptest.NewRecorder()

	main.HandleFlyout(w, req)
	return w
}

func TestHandleFlyoutStartScreens(t *testing.T) {
	main := newTestMain(t, newMockRouter(), newMockStore(), handlers.Options{})

	tests := []struct {
		kind     string
		wantBody []string
	}{
		{
			kind: "assistants",
			wantBody: []string{
				"Create your first assistant",
				"Work smarter and faster with tailored assistance",
				"Create assistant",
			},
		},
		{
			kind: "files",
			wantBody: []string{
				"Upload your first file",
				"Analyze information and streamline workflows",
				"Upload files",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			w := getFlyout(main, tt.kind, "")

			if w.Code != http.StatusOK {
				t.Fatalf("HandleFlyout() status = %v, want %v", w.Code, http.StatusOK)
			}
			if !strings.Contains(w.Body.String(), `data-step="start"`) {
				t.Errorf("HandleFlyout() body = %v, want the start step", w.Body.String())
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleFlyout() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
		})
	}
}

func TestHandleFlyoutList(t *testing.T) {
	router := newMockRouter(docsAssistant, models.Assistant{Name: "legal", DisplayName: "Legal Helper"})
	router.llms = []models.Connection{{ID: "m1", Name: "Model One"}}
	router.retrievers = []models.Connection{{ID: "r1", Name: "Retriever One"}}
	main := newTestMain(t, router, newMockStore(), handlers.Options{})

	tests := []struct {
		name        string
		query       string
		wantStatus  int
		wantBody    []string
		notWantBody []string
	}{
		{
			name:       "Default step with items",
			wantStatus: http.StatusOK,
			wantBody:   []string{`data-step="list"`, "Assistants (2)", "Docs", "Legal Helper", "New assistant"},
		},
		{
			name:        "Case insensitive search",
			query:       "q=DOC",
			wantStatus:  http.StatusOK,
			wantBody:    []string{"Assistants (2)", `href="/chatbot/docs"`},
			notWantBody: []string{"Legal Helper", "No results found"},
		},
		{
			name:        "No match",
			query:       "q=zzz",
			wantStatus:  http.StatusOK,
			wantBody:    []string{"No results found"},
			notWantBody: []string{"Legal Helper"},
		},
		{
			name:       "Explicit start step",
			query:      "step=start",
			wantStatus: http.StatusOK,
			wantBody:   []string{"Create your first assistant"},
		},
		{
			name:       "Form step",
			query:      "step=form",
			wantStatus: http.StatusOK,
			wantBody:   []string{`name="title"`, "Model One", "Retriever One", `name="instructions"`},
		},
		{
			name:       "Unknown step",
			query:      "step=review",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := getFlyout(main, "assistants", tt.query)

			if w.Code != tt.wantStatus {
				t.Fatalf("HandleFlyout() status = %v, want %v", w.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleFlyout() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
			for _, notWant := range tt.notWantBody {
				if strings.Contains(w.Body.String(), notWant) {
					t.Errorf("HandleFlyout() body = %v, want not to contain %v", w.Body.String(), notWant)
				}
			}
		})
	}
}

func TestHandleFlyoutErrors(t *testing.T) {
	router := newMockRouter()
	router.assistantsErr = errors.New("router down")
	main := newTestMain(t, router, newMockStore(), handlers.Options{})

	if w := getFlyout(main, "settings", ""); w.Code != http.StatusNotFound {
		t.Errorf("HandleFlyout() status = %v, want %v", w.Code, http.StatusNotFound)
	}
	if w := getFlyout(main, "files", "step=form"); w.Code != http.StatusBadRequest {
		t.Errorf("HandleFlyout() status = %v, want %v", w.Code, http.StatusBadRequest)
	}
	if w := getFlyout(main, "assistants", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("HandleFlyout() status = %v, want %v", w.Code, http.StatusInternalServerError)
	}

	req := httptest.NewRequest(http.MethodPut, "/flyouts/files", nil)
	req.SetPathValue("kind", "files")
	w := httptest.NewRecorder()
	main.HandleFlyout(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("HandleFlyout() status = %v, want %v", w.Code, http.StatusMethodNotAllowed)
	}
}

func postAssistant(main handlers.Main, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/flyouts/assistants", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetPathValue("kind", "assistants")
	w := httptest.NewRecorder()

	main.HandleFlyout(w, req)
	return w
}

func TestHandleFlyoutCreateAssistant(t *testing.T) {
	router := newMockRouter()
	router.llms = []models.Connection{{ID: "m1", Name: "Model One"}}
	main := newTestMain(t, router, newMockStore(), handlers.Options{})

	w := postAssistant(main, url.Values{
		"title":        {"My Docs!"},
		"model":        {"m1"},
		"instructions": {"Be brief."},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("HandleFlyout() status = %v, want %v", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-step="list"`) || !strings.Contains(w.Body.String(), "My Docs!") {
		t.Errorf("HandleFlyout() body = %v, want the list with the new assistant", w.Body.String())
	}

	want := models.AssistantRequest{
		Name:            "my-docs",
		DisplayName:     "My Docs!",
		Description:     "Be brief.",
		LLMConnectionID: "m1",
	}
	if len(router.created) != 1 || router.created[0] != want {
		t.Errorf("created = %+v, want %+v", router.created, want)
	}
}

func TestHandleFlyoutCreateAssistantErrors(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		createErr error
		wantBody  string
	}{
		{
			name:     "Missing title",
			title:    "  ",
			wantBody: "Title is required",
		},
		{
			name:     "Title without letters",
			title:    "!!!",
			wantBody: "Title must contain a letter or a digit",
		},
		{
			name:      "Router rejects",
			title:     "Docs",
			createErr: errors.New("upstream rejected"),
			wantBody:  "upstream rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newMockRouter()
			router.createErr = tt.createErr
			main := newTestMain(t, router, newMockStore(), handlers.Options{})

			w := postAssistant(main, url.Values{"title": {tt.title}, "instructions": {"keep me"}})

			if w.Code != http.StatusOK {
				t.Fatalf("HandleFlyout() status = %v, want %v", w.Code, http.StatusOK)
			}
			for _, want := range []string{`data-step="form"`, tt.wantBody, "keep me"} {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleFlyout() body = %v, want to contain %v", w.Body.String(), want)
				}
			}
			if len(router.created) != 0 {
				t.Errorf("created = %+v, want none", router.created)
			}
		})
	}
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/flyouts/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetPathValue("kind", "files")
	return req
}

func TestHandleFlyoutUploadFile(t *testing.T) {
	store := newMockStore()
	main := newTestMain(t, newMockRouter(), store, handlers.Options{MaxUploadSize: 16})

	tests := []struct {
		name       string
		filename   string
		content    []byte
		wantStatus int
	}{
		{
			name:       "Missing file",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Empty file",
			filename:   "empty.txt",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Too large",
			filename:   "large.txt",
			content:    bytes.Repeat([]byte("x"), 17),
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "Exactly at the limit",
			filename:   "notes.txt",
			content:    bytes.Repeat([]byte("y"), 16),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			main.HandleFlyout(w, uploadRequest(t, tt.filename, tt.content))

			if w.Code != tt.wantStatus {
				t.Errorf("HandleFlyout() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}

	if len(store.files) != 1 {
		t.Fatalf("files = %+v, want 1", store.files)
	}
	f := store.files[0]
	if f.Name != "notes.txt" || f.Size != 16 || !strings.HasPrefix(f.ContentType, "text/plain") {
		t.Errorf("file = %+v, want notes.txt with 16 bytes of text", f)
	}

	w := getFlyout(main, "files", "")
	for _, want := range []string{`data-step="list"`, "Files (1)", "notes.txt", "16 B"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("HandleFlyout() body = %v, want to contain %v", w.Body.String(), want)
		}
	}
}
