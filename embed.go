package assistantwebui

import "embed"

// TemplateFS holds the HTML templates: the shared layout, one template per page, and the partials that are
// also pushed as fragments through SSE.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS holds the stylesheet and the script served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
