package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/atinyakov/sandnotes/internal/instance"
	"github.com/atinyakov/sandnotes/internal/models"
)

type dirSandbox string

func (d dirSandbox) Path(id string, segs ...string) string {
	return filepath.Join(append([]string{string(d), id}, segs...)...)
}

func newNoteFixture(t *testing.T) (*NoteService, *Scope, *memNotes, string) {
	t.Helper()
	root := t.TempDir()
	data := newMemNotes()
	sc := &Scope{
		InstanceID: instA,
		User:       &models.User{ID: 1, Username: "alice", InstanceID: instA},
		Data:       data,
	}
	userDir := filepath.Join(root, instA, instance.NotesDir, "alice")
	return NewNoteService(dirSandbox(root), zap.NewNop()), sc, data, userDir
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.txt":       "reporttxt",
		"../../etc/passwd": "etc/passwd",
		"/abs/path":        "abs/path",
		"a//b///c/":        "a/b/c",
		"...":              "",
		"my file-1.md":     "myfile1md",
		"dir/sub_dir/name": "dir/sub_dir/name",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestSanitizeFilename_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.String().Draw(t, "name")
		got := SanitizeFilename(name)

		if strings.Contains(got, ".") || strings.Contains(got, "\\") {
			t.Fatalf("sanitized %q still contains dots or backslashes: %q", name, got)
		}
		if strings.HasPrefix(got, "/") || strings.HasSuffix(got, "/") || strings.Contains(got, "//") {
			t.Fatalf("sanitized %q has stray slashes: %q", name, got)
		}
		if SanitizeFilename(got) != got {
			t.Fatalf("sanitize is not idempotent for %q", name)
		}

		base := filepath.FromSlash("/sandbox/notes/alice")
		joined := filepath.Join(base, filepath.FromSlash(got))
		if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
			t.Fatalf("%q escapes the user directory: %q", name, joined)
		}
	})
}

func TestAdd(t *testing.T) {
	svc, sc, data, _ := newNoteFixture(t)

	require.Equal(t, ErrEmptyContent, svc.Add(context.Background(), sc, ""))
	require.NoError(t, svc.Add(context.Background(), sc, "hello"))
	assert.Len(t, data.notes, 1)

	anon := &Scope{InstanceID: instA, Data: data}
	assert.Equal(t, ErrLoginRequired, svc.Add(context.Background(), anon, "x"))
}

func TestUpload(t *testing.T) {
	svc, sc, data, userDir := newNoteFixture(t)

	content := "  first line  \nsecond line\nthird line\n"
	require.NoError(t, svc.Upload(context.Background(), sc, "notes.txt", strings.NewReader(content)))

	saved, err := os.ReadFile(filepath.Join(userDir, "notestxt"))
	require.NoError(t, err)
	assert.Equal(t, content, string(saved))

	n := data.notes[1]
	assert.Equal(t, "first line\nsecond line", n.Content)
	require.NotNil(t, n.Filename)
	assert.Equal(t, "notestxt", *n.Filename)
	assert.Equal(t, "/download/alice/notestxt", *n.DownloadLink)
}

func TestUpload_TraversalStaysInUserDir(t *testing.T) {
	svc, sc, _, userDir := newNoteFixture(t)

	require.NoError(t, svc.Upload(context.Background(), sc, "../../etc/passwd", strings.NewReader("root:x")))
	assert.FileExists(t, filepath.Join(userDir, "etc", "passwd"))
}

func TestUpload_Errors(t *testing.T) {
	svc, sc, _, _ := newNoteFixture(t)

	tests := []struct {
		name    string
		file    string
		content []byte
		want    error
	}{
		{"no name", "", []byte("x"), ErrNoFileSelected},
		{"too large", "big", bytes.Repeat([]byte("a"), MaxUploadSize+1), ErrFileTooLarge},
		{"sanitizes to nothing", "...", []byte("x"), ErrInvalidFilename},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Upload(context.Background(), sc, tt.file, bytes.NewReader(tt.content))
			assert.Equal(t, tt.want, err)
		})
	}

	exact := bytes.Repeat([]byte("a"), MaxUploadSize)
	assert.NoError(t, svc.Upload(context.Background(), sc, "exact", bytes.NewReader(exact)))
}

func TestUpload_BinaryPreview(t *testing.T) {
	svc, sc, data, _ := newNoteFixture(t)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	require.NoError(t, svc.Upload(context.Background(), sc, "img", bytes.NewReader(png)))
	assert.Equal(t, "[Preview not available for img]", data.notes[1].Content)
}

func TestList_MergesUnreferencedFiles(t *testing.T) {
	svc, sc, _, userDir := newNoteFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, sc, "plain note"))
	require.NoError(t, svc.Upload(ctx, sc, "known", strings.NewReader("k")))
	require.NoError(t, svc.Add(ctx, sc, `see <a href="/download/alice/linked">file</a>`))

	require.NoError(t, os.WriteFile(filepath.Join(userDir, "linked"), []byte("l"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "stray"), []byte("one\ntwo\nthree"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(userDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "sub", "deep"), []byte("d"), 0o644))

	views, err := svc.List(ctx, sc)
	require.NoError(t, err)
	require.Len(t, views, 5)

	for _, v := range views[:3] {
		assert.NotNil(t, v.ID)
	}
	assert.Equal(t, "known", views[1].Filename)

	assert.Nil(t, views[3].ID)
	assert.Equal(t, "stray", views[3].Filename)
	assert.Equal(t, "one\ntwo", views[3].Content)
	assert.Equal(t, "/download/alice/stray", views[3].DownloadLink)

	assert.Nil(t, views[4].ID)
	assert.Equal(t, "sub/deep", views[4].Filename)
}

func TestList_NoUserDir(t *testing.T) {
	svc, sc, _, _ := newNoteFixture(t)
	views, err := svc.List(context.Background(), sc)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		svc, sc, _, _ := newNoteFixture(t)
		assert.Equal(t, ErrNoteNotFound, svc.Delete(ctx, sc, 42))
	})

	t.Run("removes file and record", func(t *testing.T) {
		svc, sc, data, userDir := newNoteFixture(t)
		require.NoError(t, svc.Upload(ctx, sc, "a", strings.NewReader("x")))
		require.NoError(t, svc.Delete(ctx, sc, 1))
		assert.NoFileExists(t, filepath.Join(userDir, "a"))
		assert.Empty(t, data.notes)
	})

	t.Run("missing file still removes record", func(t *testing.T) {
		svc, sc, data, userDir := newNoteFixture(t)
		require.NoError(t, svc.Upload(ctx, sc, "a", strings.NewReader("x")))
		require.NoError(t, os.Remove(filepath.Join(userDir, "a")))
		require.NoError(t, svc.Delete(ctx, sc, 1))
		assert.Empty(t, data.notes)
	})

	t.Run("unremovable file keeps record", func(t *testing.T) {
		svc, sc, data, userDir := newNoteFixture(t)
		require.NoError(t, svc.Upload(ctx, sc, "a", strings.NewReader("x")))
		path := filepath.Join(userDir, "a")
		require.NoError(t, os.Remove(path))
		require.NoError(t, os.MkdirAll(filepath.Join(path, "child"), 0o755))

		assert.Equal(t, ErrDeleteFile, svc.Delete(ctx, sc, 1))
		assert.Len(t, data.notes, 1)
	})

	t.Run("unreadable parent keeps record", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permissions are not enforced for root")
		}
		svc, sc, data, userDir := newNoteFixture(t)
		require.NoError(t, svc.Upload(ctx, sc, "sub/a", strings.NewReader("x")))
		sub := filepath.Join(userDir, "sub")
		require.NoError(t, os.Chmod(sub, 0o000))
		t.Cleanup(func() { _ = os.Chmod(sub, 0o755) })

		assert.Equal(t, ErrDeleteFile, svc.Delete(ctx, sc, 1))
		assert.Len(t, data.notes, 1)
	})

	t.Run("stat failure keeps record", func(t *testing.T) {
		svc, sc, data, userDir := newNoteFixture(t)
		require.NoError(t, os.MkdirAll(userDir, 0o755))
		long := strings.Repeat("a", 300)
		link := downloadLink("alice", long)
		_, err := data.CreateNote(ctx, &models.Note{UserID: 1, Content: "x", Filename: &long, DownloadLink: &link})
		require.NoError(t, err)

		assert.Equal(t, ErrDeleteFile, svc.Delete(ctx, sc, 1))
		assert.Len(t, data.notes, 1)
	})

	t.Run("link in content", func(t *testing.T) {
		svc, sc, data, userDir := newNoteFixture(t)
		require.NoError(t, os.MkdirAll(userDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(userDir, "linked"), []byte("x"), 0o644))
		require.NoError(t, svc.Add(ctx, sc, `"/download/alice/linked"`))

		require.NoError(t, svc.Delete(ctx, sc, 1))
		assert.NoFileExists(t, filepath.Join(userDir, "linked"))
		assert.Empty(t, data.notes)
	})

	t.Run("traversal link ignored", func(t *testing.T) {
		svc, sc, data, userDir := newNoteFixture(t)
		outside := filepath.Join(filepath.Dir(userDir), "victim")
		require.NoError(t, os.MkdirAll(filepath.Dir(outside), 0o755))
		require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
		require.NoError(t, svc.Add(ctx, sc, "/download/alice/../victim"))

		require.NoError(t, svc.Delete(ctx, sc, 1))
		assert.FileExists(t, outside)
		assert.Empty(t, data.notes)
	})
}

func TestDownloadPath(t *testing.T) {
	svc, sc, _, userDir := newNoteFixture(t)
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "report"), []byte("x"), 0o644))

	path, err := svc.DownloadPath(sc, "alice", "report")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(userDir, "report"), path)

	_, err = svc.DownloadPath(sc, "alice", "missing")
	assert.Equal(t, ErrFileNotFound, err)

	_, err = svc.DownloadPath(sc, "alice", "../alice/report")
	assert.Equal(t, ErrFileNotFound, err)
}

func TestDownloadPath_OtherUserForbidden(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		svc := NewNoteService(dirSandbox("/nonexistent"), zap.NewNop())
		sc := &Scope{InstanceID: instA, User: &models.User{ID: 2, Username: "bob", InstanceID: instA}}

		owner := rapid.StringMatching(`[A-Za-z0-9_.-]{1,12}`).Filter(func(s string) bool { return s != "bob" }).Draw(t, "owner")
		file := rapid.String().Draw(t, "file")

		if _, err := svc.DownloadPath(sc, owner, file); err != ErrDownloadDenied {
			t.Fatalf("DownloadPath(%q, %q) error = %v; want %v", owner, file, err, ErrDownloadDenied)
		}
	})
}
