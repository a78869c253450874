package http

import (
	"embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// PageHandler renders the HTML pages.
type PageHandler struct {
	Log *zap.Logger
}

type pageData struct {
	Title      string
	InstanceID string
	Username   string
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, name, title string) {
	data := pageData{Title: title}
	if sc := scope(r); sc != nil {
		data.InstanceID = sc.InstanceID
		if sc.Authenticated() {
			data.Username = sc.User.Username
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.Log.Error("render page", zap.String("page", name), zap.Error(err))
	}
}

// Index renders the landing page.
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "index.html", "Sandboxed notes")
}

// Notes renders the notes page.
func (h *PageHandler) Notes(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "notes.html", "Notes")
}

// NotFound renders the 404 page.
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, "404.html", "Not found")
}
