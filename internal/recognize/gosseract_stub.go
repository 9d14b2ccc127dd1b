//go:build !ocr

package recognize

import "context"

// GosseractEnabled reports whether in-process Tesseract is compiled in.
// Rebuild with -tags ocr to enable it.
const GosseractEnabled = false

// Gosseract is the placeholder used when the "ocr" build tag is not set.
type Gosseract struct{}

// NewGosseract returns ErrNotEnabled.
func NewGosseract() (*Gosseract, error) {
	return nil, ErrNotEnabled
}

func (e *Gosseract) Name() string { return "gosseract" }

// Recognize returns ErrNotEnabled.
func (e *Gosseract) Recognize(context.Context, []byte, Options, ProgressFunc) (Result, error) {
	return Result{}, ErrNotEnabled
}
