package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	base := t.TempDir()
	ws, err := NewWorkspace(filepath.Join(base, "uploads"), filepath.Join(base, "processed"))
	require.NoError(t, err)
	return ws
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	path, err := SafeJoin(base, "a/b/c.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "a", "b", "c.png"), path)

	for _, key := range []string{"../x.png", "a/../../x.png", ".."} {
		_, err := SafeJoin(base, key)
		assert.ErrorIs(t, err, ErrPathTraversal, key)
	}

	// ".." as part of a name is not a parent segment
	_, err = SafeJoin(base, "a..b.png")
	assert.NoError(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"photos.zip":             "photos.zip",
		"../../etc/passwd.png":   "passwd.png",
		`C:\Users\me\set.zip`:    "set.zip",
		`we<ird>:"na|me?*.jpg`:   "we_ird___na_me__.jpg",
		"..":                     "upload",
		"":                       "upload",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}

	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	got := SanitizeFilename(string(long) + ".png")
	assert.Len(t, got, 104)

	wide := strings.Repeat("é", 99) + "日本" + ".jpg"
	got = SanitizeFilename(wide)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 99)+"日.jpg", got)
}

func TestWorkspaceLayout(t *testing.T) {
	ws := newWorkspace(t)

	assert.Equal(t, filepath.Join(ws.JobDir("j1"), "extracted"), ws.ExtractDir("j1"))
	assert.Equal(t, "j1_cleaned.zip", filepath.Base(ws.ArchivePath("j1")))
	assert.Equal(t, filepath.Dir(ws.ArchivePath("j1")), filepath.Dir(ws.OutputDir("j1")))
}

func TestSaveUploadAndCleanup(t *testing.T) {
	ws := newWorkspace(t)

	path, err := ws.SaveUpload("job-1", "../../dataset.zip", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.JobDir("job-1"), "dataset.zip"), path)
	assert.DirExists(t, ws.ExtractDir("job-1"))

	require.NoError(t, os.MkdirAll(ws.OutputDir("job-1"), 0o755))
	require.NoError(t, os.WriteFile(ws.ArchivePath("job-1"), []byte("zip"), 0o644))

	exists, err := ws.Exists("job-1")
	require.NoError(t, err)
	assert.True(t, exists)

	usage, err := ws.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(len("payload")), usage.UploadBytes)
	assert.Equal(t, int64(len("zip")), usage.ProcessedBytes)

	require.NoError(t, ws.Cleanup("job-1"))
	exists, err = ws.Exists("job-1")
	require.NoError(t, err)
	assert.False(t, exists)

	// Idempotent
	require.NoError(t, ws.Cleanup("job-1"))
}

func TestCleanupRejectsPathLikeIDs(t *testing.T) {
	ws := newWorkspace(t)
	for _, id := range []string{"", "..", "a/b", "../x"} {
		assert.ErrorIs(t, ws.Cleanup(id), ErrPathTraversal, id)
	}
}
