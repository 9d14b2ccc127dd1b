package processor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/gouthamgo/privascan/internal/preprocess"
	"github.com/gouthamgo/privascan/internal/recognize"
	"github.com/gouthamgo/privascan/internal/textclean"
	gcache "github.com/patrickmn/go-cache"
)

// Pipeline stages reported to progress callbacks.
const (
	StagePreprocessing = "preprocessing"
	StageRecognizing   = "recognizing"
	StageCleaning      = "cleaning"
	StageDone          = "done"
)

// Progress checkpoints in percent.
const (
	progressPreprocessed = 25
	progressRecognized   = 95
	progressDone         = 100
)

// ProgressFunc receives the current stage and overall progress in percent.
type ProgressFunc func(stage string, percent int)

// Result is the outcome of one pipeline run.
type Result struct {
	Text       string        `json:"text"`
	RawText    string        `json:"raw_text"`
	Confidence float64       `json:"confidence"`
	Engine     string        `json:"engine"`
	Blank      bool          `json:"blank,omitempty"`
	Cached     bool          `json:"cached,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Pipeline runs decode, normalization, recognition and cleaning in a fixed
// order.
type Pipeline struct {
	engine recognize.Engine
	ocr    recognize.Options
	cache  *gcache.Cache
}

// NewPipeline creates a pipeline around engine. Results are cached for
// cfg.CacheTTL; a zero TTL disables the cache.
func NewPipeline(engine recognize.Engine, cfg config.ProcessingConfig) *Pipeline {
	p := &Pipeline{
		engine: engine,
		ocr:    recognize.OptionsFromConfig(cfg.OCR),
	}
	if ttl := cfg.CacheTTL.Duration(); ttl > 0 {
		p.cache = gcache.New(ttl, 2*ttl)
	}
	return p
}

// Engine returns the recognition engine in use.
func (p *Pipeline) Engine() recognize.Engine {
	return p.engine
}

// Run processes one encoded image with the given profile. Errors from
// decoding wrap preprocess.ErrInvalidImage, errors from recognition wrap
// recognize.ErrRecognitionFailed, and cancellation returns the context error.
func (p *Pipeline) Run(ctx context.Context, image []byte, profile *config.Profile, progress ProgressFunc) (Result, error) {
	if progress == nil {
		progress = func(string, int) {}
	}
	start := time.Now()

	key := p.cacheKey(image, profile)
	if p.cache != nil {
		if v, ok := p.cache.Get(key); ok {
			res := v.(Result)
			res.Cached = true
			progress(StageDone, progressDone)
			return res, nil
		}
	}

	progress(StagePreprocessing, 0)
	img, format, err := preprocess.DecodeBytes(image)
	if err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}
	slog.Debug("image decoded", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	if profile.Preprocess.Enabled {
		img = NormalizerOptions(profile).Normalize(img)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if profile.Preprocess.SkipBlank && preprocess.IsBlank(img, profile.Preprocess.BlankThreshold) {
		slog.Info("blank page, skipping recognition")
		res := Result{Blank: true, Engine: p.engine.Name(), Duration: time.Since(start)}
		p.store(key, res)
		progress(StageDone, progressDone)
		return res, nil
	}

	png, err := preprocess.PNGBytes(img)
	if err != nil {
		return Result{}, fmt.Errorf("prepare image: %w", err)
	}
	progress(StagePreprocessing, progressPreprocessed)

	opts := RecognizeOptions(p.ocr, profile)
	rec, err := p.engine.Recognize(ctx, png, opts, func(_ string, f float64) {
		progress(StageRecognizing, progressPreprocessed+int(f*70))
	})
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	progress(StageCleaning, progressRecognized)
	text := strings.TrimSpace(rec.Text)
	if f := FilterForProfile(profile); f != nil {
		text = f.Clean(rec.Text)
	}

	res := Result{
		Text:       text,
		RawText:    rec.Text,
		Confidence: rec.Confidence,
		Engine:     rec.Engine,
		Duration:   time.Since(start),
	}
	p.store(key, res)
	progress(StageDone, progressDone)
	return res, nil
}

func (p *Pipeline) store(key string, res Result) {
	if p.cache != nil {
		p.cache.SetDefault(key, res)
	}
}

// cacheKey identifies a result by image content, the effective value of
// every setting that affects the output, and the cleaning ruleset version.
func (p *Pipeline) cacheKey(image []byte, profile *config.Profile) string {
	h := sha256.New()
	h.Write(image)
	t := Thresholds(profile)
	fmt.Fprintf(h, "|%s|%t|%+v|%t|%g|%+v|%t|%g|%g|%g|%s|%+v|%d",
		profile.ID,
		profile.Preprocess.Enabled, NormalizerOptions(profile),
		profile.Preprocess.SkipBlank, profile.Preprocess.BlankThreshold,
		RecognizeOptions(p.ocr, profile),
		profile.Cleaning.Enabled, t.ShortWordRatio, t.AlphaRatio, t.MinAvgWordLength,
		p.engine.Name(), p.ocr, textclean.RulesetVersion)
	return hex.EncodeToString(h.Sum(nil))
}

// Process runs a server job through the pipeline, keeping the job's status,
// progress and result current, and returns the text document for delivery.
func (p *Pipeline) Process(ctx context.Context, job *jobs.Job, profile *config.Profile) (*jobs.Document, error) {
	slog.Info("processing job", "job_id", job.ID, "profile", profile.ID)

	lastStage := ""
	res, err := p.Run(ctx, job.Image(), profile, func(stage string, percent int) {
		if status, ok := stageStatus[stage]; ok && stage != lastStage {
			job.SetStatus(status)
		}
		job.SetProgress(stage, percent)
		job.SendProgress(jobs.ProgressUpdate{
			Type:     "progress",
			Status:   string(job.CurrentStatus()),
			Progress: percent,
			Message:  stage,
		})
		lastStage = stage
	})
	if err != nil {
		return nil, err
	}

	job.Complete(res.Text, res.RawText, res.Confidence, res.Engine, res.Cached)

	slog.Info("job text ready",
		"job_id", job.ID,
		"engine", res.Engine,
		"chars", len(res.Text),
		"cached", res.Cached,
		"duration", res.Duration)

	return NewDocument(job.Snapshot()), nil
}

var stageStatus = map[string]jobs.JobStatus{
	StagePreprocessing: jobs.StatusPreprocessing,
	StageRecognizing:   jobs.StatusRecognizing,
	StageCleaning:      jobs.StatusCleaning,
}

// NewDocument wraps a completed job's text as a UTF-8 text document.
func NewDocument(job jobs.Snapshot) *jobs.Document {
	data := []byte(job.Text)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		data = append(data, '\n')
	}
	return &jobs.Document{
		Filename: generateFilename(job),
		Title:    documentTitle(job),
		Reader:   bytes.NewReader(data),
		Size:     int64(len(data)),
	}
}

func documentTitle(job jobs.Snapshot) string {
	name := job.Output.Filename
	if name == "" {
		name = job.Filename
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func generateFilename(job jobs.Snapshot) string {
	timestamp := job.CreatedAt.Format("20060102_150405")
	title := "scan"
	if t := documentTitle(job); t != "" {
		title = sanitizeFilename(t)
	}
	return fmt.Sprintf("%s_%s.txt", title, timestamp)
}

func sanitizeFilename(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' {
			result = append(result, c)
		} else if c == ' ' {
			result = append(result, '_')
		}
	}
	if len(result) == 0 {
		return "document"
	}
	return string(result)
}
