package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/dustin/go-humanize"
)

const (
	flyoutAssistants = "assistants"
	flyoutFiles      = "files"

	stepStart = "start"
	stepForm  = "form"
	stepList  = "list"

	// multipartOverhead is the allowance for multipart headers on top of the upload size limit.
	multipartOverhead = 1 << 20
)

type flyoutContent struct {
	Heading     string
	Description string
	Action      string
	ListAction  string
	Noun        string
}

var flyoutContents = map[string]flyoutContent{
	flyoutAssistants: {
		Heading:     "Create your first assistant",
		Description: "Work smarter and faster with tailored assistance",
		Action:      "Create assistant",
		ListAction:  "New assistant",
		Noun:        "Assistants",
	},
	flyoutFiles: {
		Heading:     "Upload your first file",
		Description: "Analyze information and streamline workflows",
		Action:      "Upload files",
		ListAction:  "Upload file",
		Noun:        "Files",
	},
}

var flyoutSteps = map[string][]string{
	flyoutAssistants: {stepStart, stepForm, stepList},
	flyoutFiles:      {stepStart, stepList},
}

type flyoutItem struct {
	Title    string
	Subtitle string
	Link     string
}

type flyoutData struct {
	Kind    string
	Step    string
	Content flyoutContent

	Query string
	Items []flyoutItem
	Total int

	Form assistantForm
}

type assistantForm struct {
	Title        string
	Model        string
	Retriever    string
	Instructions string

	LLMConnections       []models.Connection
	RetrieverConnections []models.Connection

	Error string
}

// HandleFlyout serves the sidebar flyouts. GET renders a step of the flyout named in the path, POST creates
// an assistant or uploads a file depending on the flyout.
//
// Without a step query parameter, the list is rendered when there is anything to list, and the start screen
// otherwise. The list is filtered by the q query parameter.
func (m Main) HandleFlyout(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if _, ok := flyoutContents[kind]; !ok {
		http.Error(w, "Flyout not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		m.renderFlyout(w, r, kind, r.URL.Query().Get("step"), assistantForm{})
	case http.MethodPost:
		if kind == flyoutAssistants {
			m.createAssistant(w, r)
			return
		}
		m.uploadFile(w, r)
	default:
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m Main) renderFlyout(w http.ResponseWriter, r *http.Request, kind, step string, form assistantForm) {
	if step != "" && !validStep(kind, step) {
		http.Error(w, "Unknown step", http.StatusBadRequest)
		return
	}

	items, err := m.flyoutItems(r, kind)
	if err != nil {
		m.logger.Error("Failed to list flyout items",
			slog.String("kind", kind),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if step == "" {
		step = stepStart
		if len(items) > 0 {
			step = stepList
		}
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	data := flyoutData{
		Kind:    kind,
		Step:    step,
		Content: flyoutContents[kind],
		Query:   query,
		Items:   filterItems(items, query),
		Total:   len(items),
		Form:    form,
	}

	if step == stepForm {
		if err := m.loadConnections(r, &data.Form); err != nil {
			m.logger.Error("Failed to list connections", slog.String(errLoggerKey, err.Error()))
			if data.Form.Error == "" {
				data.Form.Error = "Failed to load connections. Try again later."
			}
		}
	}

	if err := m.templates.ExecuteTemplate(w, "flyout", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func validStep(kind, step string) bool {
	for _, s := range flyoutSteps[kind] {
		if s == step {
			return true
		}
	}
	return false
}

func (m Main) flyoutItems(r *http.Request, kind string) ([]flyoutItem, error) {
	if kind == flyoutAssistants {
		assistants, err := m.router.Assistants(r.Context())
		if err != nil {
			return nil, err
		}
		items := make([]flyoutItem, len(assistants))
		for i, a := range assistants {
			items[i] = flyoutItem{
				Title:    a.Label(),
				Subtitle: a.Description,
				Link:     "/chatbot/" + a.Name,
			}
		}
		return items, nil
	}

	files, err := m.store.Files(r.Context())
	if err != nil {
		return nil, err
	}
	items := make([]flyoutItem, len(files))
	for i, f := range files {
		items[i] = flyoutItem{
			Title:    f.Name,
			Subtitle: fmt.Sprintf("%s · %s", humanize.Bytes(uint64(f.Size)), humanize.Time(f.UploadedAt)),
		}
	}
	return items, nil
}

// filterItems keeps the items whose title contains query, ignoring case. An empty query keeps everything.
func filterItems(items []flyoutItem, query string) []flyoutItem {
	if query == "" {
		return items
	}
	q := strings.ToLower(query)
	var res []flyoutItem
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Title), q) {
			res = append(res, it)
		}
	}
	return res
}

func (m Main) loadConnections(r *http.Request, form *assistantForm) error {
	llms, err := m.router.LLMConnections(r.Context())
	if err != nil {
		return err
	}
	retrievers, err := m.router.RetrieverConnections(r.Context())
	if err != nil {
		return err
	}
	form.LLMConnections = llms
	form.RetrieverConnections = retrievers
	return nil
}

func (m Main) createAssistant(w http.ResponseWriter, r *http.Request) {
	form := assistantForm{
		Title:        strings.TrimSpace(r.FormValue("title")),
		Model:        r.FormValue("model"),
		Retriever:    r.FormValue("retriever"),
		Instructions: strings.TrimSpace(r.FormValue("instructions")),
	}

	name := models.Slug(form.Title)
	switch {
	case form.Title == "":
		form.Error = "Title is required"
	case name == "":
		form.Error = "Title must contain a letter or a digit"
	}
	if form.Error != "" {
		m.renderFlyout(w, r, flyoutAssistants, stepForm, form)
		return
	}

	err := m.router.CreateAssistant(r.Context(), models.AssistantRequest{
		Name:                  name,
		DisplayName:           form.Title,
		Description:           form.Instructions,
		LLMConnectionID:       form.Model,
		RetrieverConnectionID: form.Retriever,
	})
	if err != nil {
		m.logger.Error("Failed to create assistant",
			slog.String("name", name),
			slog.String(errLoggerKey, err.Error()))
		form.Error = err.Error()
		m.renderFlyout(w, r, flyoutAssistants, stepForm, form)
		return
	}

	m.logger.Info("Assistant created", slog.String("name", name))
	m.renderFlyout(w, r, flyoutAssistants, stepList, assistantForm{})
}

func (m Main) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, m.opts.MaxUploadSize+multipartOverhead)

	f, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "File is too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, m.opts.MaxUploadSize+1))
	if err != nil {
		m.logger.Error("Failed to read upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > m.opts.MaxUploadSize {
		http.Error(w, "File is too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		http.Error(w, "File is empty", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	file, err := m.store.AddFile(r.Context(), models.StoredFile{
		Name:        header.Filename,
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}, data)
	if err != nil {
		m.logger.Error("Failed to store file",
			slog.String("name", header.Filename),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.logger.Info("File uploaded", slog.String("id", file.ID), slog.Int64("size", file.Size))
	m.renderFlyout(w, r, flyoutFiles, stepList, assistantForm{})
}
