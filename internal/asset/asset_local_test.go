package asset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"notice.pdf":           "notice.pdf",
		"My Notice 2024.png":   "My_Notice_2024.png",
		"../../etc/passwd":     "etc_passwd",
		"  .hidden.jpg":        "hidden.jpg",
		"résumé.docx":          "resume.docx",
		"a\\b/c.mp4":           "a_b_c.mp4",
		"семинар.pdf":          "pdf",
		"???":                  "",
		"exam (final) v2.xlsx": "exam_final_v2.xlsx",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestExtensionAndBaseName(t *testing.T) {
	assert.Equal(t, "pdf", Extension("Syllabus.PDF"))
	assert.Equal(t, "", Extension("README"))
	assert.Equal(t, "Syllabus", BaseName("Syllabus.PDF"))
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	ref1, err := s.Store(ctx, "poster.png", strings.NewReader("one"))
	require.NoError(t, err)
	ref2, err := s.Store(ctx, "poster.png", strings.NewReader("two"))
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref2)
	assert.True(t, strings.HasSuffix(ref1, "_poster.png"))

	rc, err := s.Retrieve(ctx, ref2)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	require.NoError(t, s.Delete(ctx, ref1))
	_, err = s.Retrieve(ctx, ref1)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, s.Delete(ctx, ref1))
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644))

	_, err = s.Retrieve(ctx, "../secret.txt")
	assert.ErrorIs(t, err, ErrInvalidRef)
	assert.ErrorIs(t, s.Delete(ctx, "../secret.txt"), ErrInvalidRef)

	_, err = s.Store(ctx, "???", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidRef)
}
