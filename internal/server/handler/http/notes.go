package http

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/service"
)

// uploadOverhead is the room left for multipart headers and boundaries on
// top of the file size limit.
const uploadOverhead = 16 * 1024

// NoteService defines the note operations required by the handlers.
type NoteService interface {
	Add(ctx context.Context, sc *service.Scope, content string) error
	Upload(ctx context.Context, sc *service.Scope, name string, r io.Reader) error
	List(ctx context.Context, sc *service.Scope) ([]models.NoteView, error)
	Delete(ctx context.Context, sc *service.Scope, id int64) error
	DownloadPath(sc *service.Scope, username, filename string) (string, error)
}

// NotesHandler serves note and file endpoints.
type NotesHandler struct {
	NoteService NoteService
	Log         *zap.Logger
}

// NoteRequest is the payload of POST /api/notes.
type NoteRequest struct {
	Content string `json:"content"`
}

// NotesResponse is the payload of GET /api/notes.
type NotesResponse struct {
	Success bool              `json:"success"`
	Notes   []models.NoteView `json:"notes"`
}

// List returns the caller's notes and unreferenced files.
func (h *NotesHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.NoteService.List(r.Context(), scope(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if notes == nil {
		notes = []models.NoteView{}
	}
	writeJSON(w, http.StatusOK, NotesResponse{Success: true, Notes: notes})
}

// Add stores a text note.
func (h *NotesHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.NoteService.Add(r.Context(), scope(r), req.Content); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, "Note added")
}

// Delete removes a note and its file.
func (h *NotesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.Log, service.ErrNoteNotFound)
		return
	}
	if err := h.NoteService.Delete(r.Context(), scope(r), id); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeOK(w, "Note or file deleted")
}

// Upload stores the multipart field "file". The filename is taken verbatim
// from the part header so that nested names survive until sanitizing.
func (h *NotesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadSize+uploadOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, h.Log, service.ErrNoFile)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, h.Log, service.ErrNoFile)
			return
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, h.Log, service.ErrFileTooLarge)
				return
			}
			writeError(w, h.Log, service.ErrNoFile)
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		err = h.NoteService.Upload(r.Context(), scope(r), rawFilename(part.Header.Get("Content-Disposition")), part)
		_ = part.Close()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = service.ErrFileTooLarge
		}
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeOK(w, "File uploaded successfully")
		return
	}
}

func rawFilename(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// Download serves a file of the caller as an attachment.
func (h *NotesHandler) Download(w http.ResponseWriter, r *http.Request) {
	p, err := h.NoteService.DownloadPath(scope(r), chi.URLParam(r, "username"), chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		writeError(w, h.Log, service.ErrFileNotFound)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(f); err == nil {
		contentType = mt.String()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		writeError(w, h.Log, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(chi.URLParam(r, "*"))}))
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}
