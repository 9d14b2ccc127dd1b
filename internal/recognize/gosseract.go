//go:build ocr

package recognize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// GosseractEnabled reports whether in-process Tesseract is compiled in.
const GosseractEnabled = true

// Gosseract recognizes text in-process through the Tesseract C API. Each call
// uses its own client, so one engine serves concurrent jobs.
type Gosseract struct {
	clientFactory func() *gosseract.Client
}

// NewGosseract returns the in-process engine.
func NewGosseract() (*Gosseract, error) {
	return &Gosseract{clientFactory: gosseract.NewClient}, nil
}

func (e *Gosseract) Name() string { return "gosseract" }

// Recognize runs Tesseract on png. The C call cannot be interrupted; on
// cancellation the result is abandoned and the call finishes in the
// background.
func (e *Gosseract) Recognize(ctx context.Context, png []byte, opts Options, progress ProgressFunc) (Result, error) {
	progress = Monotonic(progress)
	start := time.Now()

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	type outcome struct {
		text string
		conf float64
		err  error
	}
	done := make(chan outcome, 1)

	progress("recognizing", 0)
	go func() {
		text, conf, err := e.run(png, opts)
		done <- outcome{text, conf, err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w: gosseract: timed out after %s", ErrRecognitionFailed, opts.Timeout)
		}
		return Result{}, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return Result{}, failure(ctx, e.Name(), out.err)
		}
		progress("recognizing", 1)
		return Result{
			Text:       out.text,
			Confidence: out.conf,
			Engine:     e.Name(),
			Duration:   time.Since(start),
		}, nil
	}
}

func (e *Gosseract) run(png []byte, opts Options) (string, float64, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(strings.Split(opts.language(), "+")...); err != nil {
		return "", 0, fmt.Errorf("set language: %w", err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(opts.pageSegMode())); err != nil {
		return "", 0, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return "", 0, fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", 0, fmt.Errorf("recognize text: %w", err)
	}

	return strings.TrimSpace(text), meanConfidence(c), nil
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100
}
