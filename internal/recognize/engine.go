// Package recognize adapts external text recognition engines.
//
// Recognition itself is delegated: the tesseract command line tool is always
// available through TesseractCLI, and in-process Tesseract through gosseract
// is compiled in with the "ocr" build tag.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
)

var (
	// ErrRecognitionFailed wraps every engine failure other than cancellation.
	ErrRecognitionFailed = errors.New("recognition failed")
	// ErrNotEnabled is returned by engines that were not compiled in.
	ErrNotEnabled = errors.New("engine not enabled in this build")
)

// Options tunes a single recognition call.
type Options struct {
	Language    string
	PageSegMode int
	Timeout     time.Duration
}

// Result is the raw output of an engine.
type Result struct {
	Text string `json:"text"`
	// Confidence is the mean word confidence in [0,1], or 0 when unknown.
	Confidence float64       `json:"confidence"`
	Engine     string        `json:"engine"`
	Duration   time.Duration `json:"duration"`
}

// ProgressFunc receives progress in [0,1] for a named stage.
type ProgressFunc func(stage string, p float64)

// Engine turns a PNG image into text.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, png []byte, opts Options, progress ProgressFunc) (Result, error)
}

// Monotonic wraps fn so that reported values are clamped to [0,1] and never
// decrease. A nil fn yields a no-op.
func Monotonic(fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return func(string, float64) {}
	}

	var (
		mu   sync.Mutex
		last float64
	)
	return func(stage string, p float64) {
		mu.Lock()
		defer mu.Unlock()

		p = min(max(p, 0), 1)
		if p < last {
			p = last
		}
		last = p
		fn(stage, p)
	}
}

// New returns the engine selected by cfg.Engine.
func New(cfg config.OCRConfig) (Engine, error) {
	switch cfg.Engine {
	case "", "auto":
		if GosseractEnabled {
			return newGosseract()
		}
		return NewTesseractCLI(cfg.TesseractPath), nil
	case "tesseract":
		return NewTesseractCLI(cfg.TesseractPath), nil
	case "gosseract":
		return newGosseract()
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
}

func newGosseract() (Engine, error) {
	g, err := NewGosseract()
	if err != nil {
		return nil, err
	}
	return g, nil
}

// OptionsFromConfig returns the engine options configured for the server.
func OptionsFromConfig(cfg config.OCRConfig) Options {
	return Options{
		Language:    cfg.Language,
		PageSegMode: cfg.PageSegMode,
		Timeout:     cfg.Timeout.Duration(),
	}
}

func (o Options) language() string {
	if o.Language == "" {
		return "eng"
	}
	return o.Language
}

func (o Options) pageSegMode() int {
	if o.PageSegMode <= 0 {
		return 3
	}
	return o.PageSegMode
}

// failure classifies an engine error: context errors pass through, anything
// else is wrapped in ErrRecognitionFailed.
func failure(ctx context.Context, engine string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s: %v", ErrRecognitionFailed, engine, err)
}
