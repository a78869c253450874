package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/atinyakov/sandnotes/internal/instance"
	"github.com/atinyakov/sandnotes/internal/models"
	"github.com/atinyakov/sandnotes/internal/repository"
)

// MaxUploadSize is the largest accepted upload in bytes.
const MaxUploadSize = 20 * 1024

var (
	filenameDisallowed = regexp.MustCompile(`[^A-Za-z0-9_/]`)
	repeatedSlashes    = regexp.MustCompile(`/{2,}`)
	downloadLinkRe     = regexp.MustCompile(`/download/[^/]+/([^"]+)`)
)

// SanitizeFilename keeps letters, digits, '_' and '/', collapses repeated
// slashes and trims leading and trailing ones. The result is always a
// relative path without dot elements.
func SanitizeFilename(name string) string {
	s := filenameDisallowed.ReplaceAllString(name, "")
	s = repeatedSlashes.ReplaceAllString(s, "/")
	return strings.Trim(s, "/")
}

// Sandbox builds paths inside instance sandboxes.
type Sandbox interface {
	Path(id string, segs ...string) string
}

// NoteService manages text notes and uploaded files of the scope's user.
type NoteService struct {
	sandbox Sandbox
	log     *zap.Logger
}

// NewNoteService creates a NoteService storing files under sandbox.
func NewNoteService(sandbox Sandbox, log *zap.Logger) *NoteService {
	return &NoteService{sandbox: sandbox, log: log}
}

func (s *NoteService) userDir(sc *Scope) (string, error) {
	if !sc.Authenticated() {
		return "", ErrLoginRequired
	}
	if !ValidUsername(sc.User.Username) {
		return "", ErrDownloadDenied
	}
	return s.sandbox.Path(sc.InstanceID, instance.NotesDir, sc.User.Username), nil
}

// Add stores a text note.
func (s *NoteService) Add(ctx context.Context, sc *Scope, content string) error {
	if !sc.Authenticated() {
		return ErrLoginRequired
	}
	if content == "" {
		return ErrEmptyContent
	}
	_, err := sc.Data.CreateNote(ctx, &models.Note{UserID: sc.User.ID, Content: content})
	return err
}

// Upload saves a file under the user's notes directory and records a note
// carrying its preview and download link.
func (s *NoteService) Upload(ctx context.Context, sc *Scope, name string, r io.Reader) error {
	dir, err := s.userDir(sc)
	if err != nil {
		return err
	}
	if name == "" {
		return ErrNoFileSelected
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadSize {
		return ErrFileTooLarge
	}

	filename := SanitizeFilename(name)
	if filename == "" {
		return ErrInvalidFilename
	}
	path := filepath.Join(dir, filepath.FromSlash(filename))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.log.Error("create upload dir", zap.String("instance_id", sc.InstanceID), zap.Error(err))
		return ErrSaveFile
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.log.Error("save upload", zap.String("instance_id", sc.InstanceID), zap.Error(err))
		return ErrSaveFile
	}

	link := downloadLink(sc.User.Username, filename)
	_, err = sc.Data.CreateNote(ctx, &models.Note{
		UserID:       sc.User.ID,
		Content:      preview(path, filename),
		Filename:     &filename,
		DownloadLink: &link,
	})
	return err
}

// List returns the user's notes followed by files found on disk that no
// note refers to. The latter have a nil ID.
func (s *NoteService) List(ctx context.Context, sc *Scope) ([]models.NoteView, error) {
	dir, err := s.userDir(sc)
	if err != nil {
		return nil, err
	}
	notes, err := sc.Data.NotesByUser(ctx, sc.User.ID)
	if err != nil {
		return nil, err
	}

	views := make([]models.NoteView, 0, len(notes))
	known := make(map[string]bool)
	for _, n := range notes {
		id := n.ID
		v := models.NoteView{ID: &id, Content: n.Content}
		if n.DownloadLink != nil && *n.DownloadLink != "" {
			v.DownloadLink = *n.DownloadLink
			if n.Filename != nil {
				v.Filename = *n.Filename
			}
		}
		views = append(views, v)

		if m := downloadLinkRe.FindStringSubmatch(n.Content); m != nil {
			known[m[1]] = true
		}
		if n.Filename != nil && *n.Filename != "" {
			known[*n.Filename] = true
		}
	}

	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		if known[name] {
			continue
		}
		views = append(views, models.NoteView{
			Content:      preview(filepath.Join(dir, filepath.FromSlash(name)), name),
			DownloadLink: downloadLink(sc.User.Username, name),
			Filename:     name,
		})
	}
	return views, nil
}

// Delete removes a note and the file it references. If the file exists but
// cannot be removed, the note is kept and ErrDeleteFile is returned.
func (s *NoteService) Delete(ctx context.Context, sc *Scope, id int64) error {
	dir, err := s.userDir(sc)
	if err != nil {
		return err
	}
	n, err := sc.Data.NoteByID(ctx, sc.User.ID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoteNotFound
	}
	if err != nil {
		return err
	}

	if name := referencedFile(n); name != "" {
		path := filepath.Join(dir, filepath.FromSlash(name))
		_, err := os.Stat(path)
		if err == nil {
			err = os.Remove(path)
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Error("delete note file", zap.String("instance_id", sc.InstanceID), zap.Error(err))
			return ErrDeleteFile
		}
	}

	err = sc.Data.DeleteNote(ctx, sc.User.ID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoteNotFound
	}
	return err
}

// DownloadPath returns the on-disk path of a file owned by the scope's
// user. Requests for another user's files are refused before any lookup.
func (s *NoteService) DownloadPath(sc *Scope, username, filename string) (string, error) {
	if !sc.Authenticated() {
		return "", ErrLoginRequired
	}
	if username != sc.User.Username {
		return "", ErrDownloadDenied
	}
	dir, err := s.userDir(sc)
	if err != nil {
		return "", err
	}
	if filename == "" || SanitizeFilename(filename) != filename {
		return "", ErrFileNotFound
	}
	path := filepath.Join(dir, filepath.FromSlash(filename))
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return "", ErrFileNotFound
	}
	return path, nil
}

// referencedFile returns the file a note points to, or "" when the
// reference is missing or not a safe relative name.
func referencedFile(n *models.Note) string {
	name := ""
	if n.Filename != nil && *n.Filename != "" {
		name = *n.Filename
	} else if m := downloadLinkRe.FindStringSubmatch(n.Content); m != nil {
		name = m[1]
	}
	if name == "" || SanitizeFilename(name) != name {
		return ""
	}
	return name
}

func downloadLink(username, filename string) string {
	return "/download/" + username + "/" + filename
}

// listFiles returns the regular files under dir as slash separated paths
// relative to dir, sorted. A missing dir yields no files.
func listFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var (
		mu    sync.Mutex
		files []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		mu.Lock()
		files = append(files, filepath.ToSlash(rel))
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// preview returns the first two lines of a text file, each trimmed. Other
// content gets a placeholder naming the file.
func preview(path, name string) string {
	unavailable := "[Preview not available for " + name + "]"

	f, err := os.Open(path)
	if err != nil {
		return unavailable
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return unavailable
	}
	if !isText(mt) {
		return unavailable
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return unavailable
	}

	br := bufio.NewReader(f)
	lines := make([]string, 0, 2)
	for len(lines) < 2 {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			break
		}
		lines = append(lines, strings.TrimSpace(strings.ToValidUTF8(line, "\uFFFD")))
		if err != nil {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
