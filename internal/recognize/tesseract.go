package recognize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// TesseractCLI runs the tesseract binary once per image, feeding the PNG on
// stdin and reading TSV from stdout.
type TesseractCLI struct {
	path string
}

// NewTesseractCLI returns an engine using the binary at path, or "tesseract"
// from PATH when path is empty.
func NewTesseractCLI(path string) *TesseractCLI {
	if path == "" {
		path = "tesseract"
	}
	return &TesseractCLI{path: path}
}

func (e *TesseractCLI) Name() string { return "tesseract" }

// Available reports whether the binary can be found.
func (e *TesseractCLI) Available() bool {
	_, err := exec.LookPath(e.path)
	return err == nil
}

// Recognize runs tesseract on png.
func (e *TesseractCLI) Recognize(ctx context.Context, png []byte, opts Options, progress ProgressFunc) (Result, error) {
	progress = Monotonic(progress)
	start := time.Now()

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{
		"stdin", "stdout",
		"-l", opts.language(),
		"--psm", strconv.Itoa(opts.pageSegMode()),
		"tsv",
	}

	cmd := exec.CommandContext(runCtx, e.path, args...)
	cmd.Stdin = bytes.NewReader(png)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running tesseract", "args", args, "bytes", len(png))
	progress("recognizing", 0)

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w: tesseract: timed out after %s", ErrRecognitionFailed, opts.Timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w (%s)", err, msg)
		}
		return Result{}, failure(ctx, e.Name(), err)
	}

	text, conf := parseTSV(stdout.String())
	progress("recognizing", 1)

	return Result{
		Text:       text,
		Confidence: conf,
		Engine:     e.Name(),
		Duration:   time.Since(start),
	}, nil
}

// TSV columns emitted by tesseract.
const (
	tsvLevel = iota
	tsvPage
	tsvBlock
	tsvPar
	tsvLine
	tsvWord
	tsvLeft
	tsvTop
	tsvWidth
	tsvHeight
	tsvConf
	tsvText
	tsvColumns
)

const tsvWordLevel = "5"

// parseTSV rebuilds the plain text layout from tesseract TSV output: words
// of one line are joined by spaces, lines by newlines and paragraphs by a
// blank line. It returns the text and the mean word confidence in [0,1].
func parseTSV(tsv string) (string, float64) {
	var (
		b        strings.Builder
		lineKey  string
		parKey   string
		confSum  float64
		confN    int
		hasWords bool
	)

	for i, row := range strings.Split(tsv, "\n") {
		if i == 0 && strings.HasPrefix(row, "level") {
			continue
		}
		cols := strings.Split(strings.TrimRight(row, "\r"), "\t")
		if len(cols) < tsvColumns || cols[tsvLevel] != tsvWordLevel {
			continue
		}
		word := strings.TrimSpace(cols[tsvText])
		if word == "" {
			continue
		}

		par := cols[tsvPage] + "/" + cols[tsvBlock] + "/" + cols[tsvPar]
		line := par + "/" + cols[tsvLine]
		switch {
		case !hasWords:
		case par != parKey:
			b.WriteString("\n\n")
		case line != lineKey:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		hasWords = true
		parKey, lineKey = par, line

		if conf, err := strconv.ParseFloat(cols[tsvConf], 64); err == nil && conf >= 0 {
			confSum += conf
			confN++
		}
	}

	if confN == 0 {
		return b.String(), 0
	}
	return b.String(), confSum / float64(confN) / 100
}
