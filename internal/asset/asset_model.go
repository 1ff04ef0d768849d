package asset

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNotFound   = errors.New("asset not found")
	ErrInvalidRef = errors.New("invalid asset reference")
)

// Storage persists uploaded assets and hands out opaque references. Delete is
// best effort; callers log its error and carry on.
type Storage interface {
	Store(ctx context.Context, name string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
	Retrieve(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Rasterizer renders each page of a PDF into a JPEG image, in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf io.Reader) ([][]byte, error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename reduces an uploaded file name to a safe flat name: ASCII
// only, path separators and whitespace folded to underscores, no leading dots.
// It returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range name {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	name = b.String()
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// BaseName returns name without its extension.
func BaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// newRef prefixes a sanitized name with a short random id so two uploads of
// the same file never collide.
func newRef(name string) (string, error) {
	clean := SanitizeFilename(name)
	if clean == "" {
		return "", ErrInvalidRef
	}
	return strings.SplitN(uuid.NewString(), "-", 2)[0] + "_" + clean, nil
}

// validRef rejects references that could escape the storage root.
func validRef(ref string) bool {
	return ref != "" && ref == SanitizeFilename(ref) && !strings.Contains(ref, "..")
}
