package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// PopplerRasterizer shells out to poppler's pdftoppm.
type PopplerRasterizer struct {
	Binary string
	DPI    int
}

// NewPopplerRasterizer renders pages at dpi using pdftoppm from PATH.
func NewPopplerRasterizer(dpi int) *PopplerRasterizer {
	return &PopplerRasterizer{Binary: "pdftoppm", DPI: dpi}
}

// Rasterize returns one JPEG per page, in page order.
func (p *PopplerRasterizer) Rasterize(ctx context.Context, pdf io.Reader) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "noticeboard-pdf-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	f, err := os.Create(in)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(f, pdf); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	prefix := filepath.Join(dir, "page")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Binary, "-jpeg", "-r", strconv.Itoa(p.DPI), in, prefix)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	matches, err := filepath.Glob(prefix + "-*.jpg")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errors.New("pdftoppm produced no pages")
	}
	// pdftoppm zero-pads page numbers by page count, sort numerically anyway
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(matches[i]) < pageNumber(matches[j])
	})

	pages := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		pages = append(pages, b)
	}
	return pages, nil
}

func pageNumber(path string) int {
	s := strings.TrimSuffix(filepath.Base(path), ".jpg")
	n, _ := strconv.Atoi(s[strings.LastIndex(s, "-")+1:])
	return n
}
