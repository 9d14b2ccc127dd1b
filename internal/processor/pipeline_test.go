package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/gouthamgo/privascan/internal/preprocess"
	"github.com/gouthamgo/privascan/internal/recognize"
)

const noisyText = "ES ERNE RE EEE\nThe quick brown fox jumps over the lazy dog.\n(3) random\n"

// fakeEngine returns a fixed text and records what it was given.
type fakeEngine struct {
	text  string
	err   error
	calls atomic.Int32
	gray  atomic.Bool
	opts  recognize.Options
	block chan struct{}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Recognize(ctx context.Context, png []byte, opts recognize.Options, progress recognize.ProgressFunc) (recognize.Result, error) {
	e.calls.Add(1)
	e.opts = opts

	img, _, err := preprocess.DecodeBytes(png)
	if err != nil {
		return recognize.Result{}, err
	}
	e.gray.Store(isGray(img))

	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return recognize.Result{}, ctx.Err()
		}
	}

	progress("recognizing", 0.5)
	progress("recognizing", 1)
	if e.err != nil {
		return recognize.Result{}, e.err
	}
	return recognize.Result{Text: e.text, Confidence: 0.8, Engine: e.Name()}, nil
}

func isGray(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r != g || g != bl {
				return false
			}
		}
	}
	return true
}

// testImage returns a PNG with a colored, non-blank pattern.
func testImage(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x*8) + seed, G: uint8(y * 8), B: 60, A: 255})
		}
	}
	data, err := preprocess.PNGBytes(img)
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return data
}

func testProfile(t *testing.T, id string) *config.Profile {
	t.Helper()
	store, err := config.NewProfileStore("")
	if err != nil {
		t.Fatalf("profile store: %v", err)
	}
	p, ok := store.Get(id)
	if !ok {
		t.Fatalf("profile %s not found", id)
	}
	return p
}

func newTestPipeline(engine recognize.Engine) *Pipeline {
	cfg := config.DefaultConfig().Processing
	return NewPipeline(engine, cfg)
}

func TestRunCleansText(t *testing.T) {
	engine := &fakeEngine{text: noisyText}
	p := newTestPipeline(engine)

	var stages []string
	var percents []int
	res, err := p.Run(context.Background(), testImage(t, 0), testProfile(t, "standard"), func(stage string, percent int) {
		stages = append(stages, stage)
		percents = append(percents, percent)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Text != "The quick brown fox jumps over the lazy dog." {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.RawText != noisyText {
		t.Fatalf("raw text should be kept, got %q", res.RawText)
	}
	if !engine.gray.Load() {
		t.Fatal("engine should receive a normalized grayscale image")
	}

	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
	if percents[len(percents)-1] != 100 || stages[len(stages)-1] != StageDone {
		t.Fatalf("expected to finish at done/100, got %s/%d", stages[len(stages)-1], percents[len(percents)-1])
	}
	want := map[int]bool{25: false, 60: false, 95: false}
	for _, pc := range percents {
		if _, ok := want[pc]; ok {
			want[pc] = true
		}
	}
	for pc, seen := range want {
		if !seen {
			t.Errorf("expected progress checkpoint %d in %v", pc, percents)
		}
	}
}

func TestRunRawProfile(t *testing.T) {
	engine := &fakeEngine{text: noisyText}
	p := newTestPipeline(engine)

	res, err := p.Run(context.Background(), testImage(t, 0), testProfile(t, "raw"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "ES ERNE RE EEE\nThe quick brown fox jumps over the lazy dog.\n(3) random" {
		t.Fatalf("raw profile should only trim, got %q", res.Text)
	}
	if engine.gray.Load() {
		t.Fatal("raw profile should not normalize the image")
	}
}

func TestRunProfileOCROptions(t *testing.T) {
	engine := &fakeEngine{text: "Hello world"}
	p := newTestPipeline(engine)

	profile := testProfile(t, "standard")
	profile.OCR.Language = "deu"
	if _, err := p.Run(context.Background(), testImage(t, 0), profile, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if engine.opts.Language != "deu" || engine.opts.PageSegMode != 3 {
		t.Fatalf("unexpected engine options %+v", engine.opts)
	}
}

func TestRunCachesResults(t *testing.T) {
	engine := &fakeEngine{text: "Cached text here"}
	p := newTestPipeline(engine)
	profile := testProfile(t, "standard")
	img := testImage(t, 0)

	first, err := p.Run(context.Background(), img, profile, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(context.Background(), img, profile, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if engine.calls.Load() != 1 {
		t.Fatalf("expected 1 engine call, got %d", engine.calls.Load())
	}
	if first.Cached || !second.Cached || second.Text != first.Text {
		t.Fatalf("unexpected cache behaviour: %+v / %+v", first, second)
	}

	// A different profile must not reuse the result.
	if _, err := p.Run(context.Background(), img, testProfile(t, "strict"), nil); err != nil {
		t.Fatalf("strict run: %v", err)
	}
	if engine.calls.Load() != 2 {
		t.Fatalf("expected 2 engine calls, got %d", engine.calls.Load())
	}
}

func TestRunInvalidImage(t *testing.T) {
	engine := &fakeEngine{text: "unused"}
	p := newTestPipeline(engine)

	_, err := p.Run(context.Background(), []byte("not an image"), testProfile(t, "standard"), nil)
	if !errors.Is(err, preprocess.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
	if engine.calls.Load() != 0 {
		t.Fatal("engine must not run for invalid input")
	}
}

func TestRunEngineFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.Join(recognize.ErrRecognitionFailed, errors.New("boom"))}
	p := newTestPipeline(engine)

	_, err := p.Run(context.Background(), testImage(t, 0), testProfile(t, "standard"), nil)
	if !errors.Is(err, recognize.ErrRecognitionFailed) {
		t.Fatalf("expected ErrRecognitionFailed, got %v", err)
	}
}

func TestRunBlankPage(t *testing.T) {
	white := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for i := range white.Pix {
		white.Pix[i] = 255
	}
	data, _ := preprocess.PNGBytes(white)

	engine := &fakeEngine{text: "unused"}
	p := newTestPipeline(engine)

	res, err := p.Run(context.Background(), data, testProfile(t, "standard"), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Blank || res.Text != "" {
		t.Fatalf("expected blank result, got %+v", res)
	}
	if engine.calls.Load() != 0 {
		t.Fatal("engine must not run for a blank page")
	}
}

func TestRunCancelled(t *testing.T) {
	engine := &fakeEngine{text: "never", block: make(chan struct{})}
	p := newTestPipeline(engine)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Run(ctx, testImage(t, 0), testProfile(t, "standard"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunBatchKeepsOrder(t *testing.T) {
	engine := &fakeEngine{text: "Batch page text"}
	p := newTestPipeline(engine)

	items := []BatchItem{
		{Name: "a.png", Image: testImage(t, 1)},
		{Name: "broken.png", Image: []byte("garbage")},
		{Name: "c.png", Image: testImage(t, 3)},
	}

	results, err := p.RunBatch(context.Background(), items, testProfile(t, "standard"), 2)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Name != items[i].Name {
			t.Fatalf("result %d is %s, want %s", i, r.Name, items[i].Name)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("unexpected errors: %v / %v", results[0].Err, results[2].Err)
	}
	if !errors.Is(results[1].Err, preprocess.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage for broken item, got %v", results[1].Err)
	}
}

func TestProcessCompletesJob(t *testing.T) {
	engine := &fakeEngine{text: noisyText}
	p := newTestPipeline(engine)

	job := jobs.NewJob("standard", testImage(t, 0), "receipt.jpg", jobs.OutputConfig{})
	doc, err := p.Process(context.Background(), job, testProfile(t, "standard"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	snap := job.Snapshot()
	if snap.Status != jobs.StatusCompleted || snap.Progress != 100 {
		t.Fatalf("unexpected job state %s %d", snap.Status, snap.Progress)
	}
	if snap.Text != "The quick brown fox jumps over the lazy dog." {
		t.Fatalf("unexpected job text %q", snap.Text)
	}

	body, _ := io.ReadAll(doc.Reader)
	if !bytes.Equal(body, []byte(snap.Text+"\n")) {
		t.Fatalf("unexpected document body %q", body)
	}
	if doc.Size != int64(len(body)) {
		t.Fatalf("size %d does not match body length %d", doc.Size, len(body))
	}
	if want := "receipt_" + snap.CreatedAt.Format("20060102_150405") + ".txt"; doc.Filename != want {
		t.Fatalf("expected filename %s, got %s", want, doc.Filename)
	}
}

func TestFilterForProfile(t *testing.T) {
	if FilterForProfile(testProfile(t, "raw")) != nil {
		t.Fatal("raw profile should have no filter")
	}

	std := FilterForProfile(testProfile(t, "standard"))
	if std == nil {
		t.Fatal("standard profile should have a filter")
	}
	if FilterForProfile(testProfile(t, "standard")) != std {
		t.Fatal("filters with equal thresholds should be shared")
	}

	strict := FilterForProfile(testProfile(t, "strict"))
	if got := strict.Classifier().Thresholds().ShortWordRatio; got != 0.5 {
		t.Fatalf("expected strict ratio 0.5, got %f", got)
	}
}

func TestNormalizerOptions(t *testing.T) {
	opts := NormalizerOptions(testProfile(t, "strict"))
	if opts.Contrast != 1.8 || opts.WhiteCutoff != 190 || opts.BlackCutoff != 110 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestProfileZeroSettings(t *testing.T) {
	p := &config.Profile{
		ID: "faint",
		Preprocess: config.ProfilePreprocess{
			Enabled:     true,
			BlackCutoff: config.Ptr(0),
			WhiteCutoff: config.Ptr(255),
		},
		Cleaning: config.ProfileCleaning{
			Enabled:    true,
			AlphaRatio: config.Ptr(0.0),
		},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	opts := NormalizerOptions(p)
	if opts.BlackCutoff != 0 || opts.WhiteCutoff != 255 {
		t.Fatalf("zero cutoffs replaced: %+v", opts)
	}
	// (80-128)*1.5+128 = 56 must not be clamped to black.
	if got := opts.Level(80, 80, 80); got != 56 {
		t.Fatalf("expected 56, got %d", got)
	}

	if got := Thresholds(p).AlphaRatio; got != 0 {
		t.Fatalf("expected alpha ratio 0, got %f", got)
	}
	if got := FilterForProfile(p).Classifier().Thresholds().AlphaRatio; got != 0 {
		t.Fatalf("filter uses alpha ratio %f, want 0", got)
	}

	unset := &config.Profile{ID: "faint", Preprocess: config.ProfilePreprocess{Enabled: true}}
	if got := NormalizerOptions(unset).BlackCutoff; got != 100 {
		t.Fatalf("unset black cutoff should default to 100, got %d", got)
	}
	if got := Thresholds(unset).AlphaRatio; got != 0.5 {
		t.Fatalf("unset alpha ratio should default to 0.5, got %f", got)
	}
}

func TestCacheKeyUsesEffectiveSettings(t *testing.T) {
	pl := NewPipeline(&fakeEngine{}, config.ProcessingConfig{})
	img := []byte("image")

	unset := &config.Profile{ID: "p", Preprocess: config.ProfilePreprocess{Enabled: true}}
	explicit := &config.Profile{ID: "p", Preprocess: config.ProfilePreprocess{Enabled: true, BlackCutoff: config.Ptr(100)}}
	zero := &config.Profile{ID: "p", Preprocess: config.ProfilePreprocess{Enabled: true, BlackCutoff: config.Ptr(0)}}

	if pl.cacheKey(img, unset) != pl.cacheKey(img, explicit) {
		t.Fatal("equal effective settings should share a cache key")
	}
	if pl.cacheKey(img, unset) == pl.cacheKey(img, zero) {
		t.Fatal("a zero cutoff must change the cache key")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal Name", "Normal_Name"},
		{"file.txt", "file.txt"},
		{"Hello World!", "Hello_World"},
		{"", "document"},
		{"test-file_123", "test-file_123"},
	}

	for _, tt := range tests {
		result := sanitizeFilename(tt.input)
		if result != tt.expected {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
