package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gouthamgo/privascan/internal/jobs"
)

// FilesystemHandler saves text documents to a local directory.
type FilesystemHandler struct {
	directory string
}

// NewFilesystemHandler creates a new filesystem output handler.
func NewFilesystemHandler(dir string) *FilesystemHandler {
	return &FilesystemHandler{directory: dir}
}

func (h *FilesystemHandler) Name() string { return "filesystem" }

func (h *FilesystemHandler) Available() bool {
	return h.directory != ""
}

// Send writes the document into the directory. Existing files are never
// overwritten; a numeric suffix is added instead.
func (h *FilesystemHandler) Send(ctx context.Context, doc *jobs.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(h.directory, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := createUnique(h.directory, filepath.Base(doc.Filename))
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, doc.Reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return f.Close()
}

func createUnique(dir, name string) (*os.File, error) {
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]

	for i := 0; i < 100; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if os.IsExist(err) {
			continue
		}
		return f, err
	}
	return nil, fmt.Errorf("no free file name for %s", name)
}
