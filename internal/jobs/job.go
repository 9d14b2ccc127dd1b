package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gouthamgo/privascan/internal/preprocess"
	"github.com/gouthamgo/privascan/internal/recognize"
)

// JobStatus represents the current state of an OCR job.
type JobStatus string

const (
	StatusPending       JobStatus = "pending"
	StatusPreprocessing JobStatus = "preprocessing"
	StatusRecognizing   JobStatus = "recognizing"
	StatusCleaning      JobStatus = "cleaning"
	StatusCompleted     JobStatus = "completed"
	StatusFailed        JobStatus = "failed"
	StatusCancelled     JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one uploaded image moving through the OCR pipeline.
type Job struct {
	ID         string       `json:"id"`
	Status     JobStatus    `json:"status"`
	Profile    string       `json:"profile"`
	Filename   string       `json:"filename,omitempty"`
	Progress   int          `json:"progress"`
	Stage      string       `json:"stage,omitempty"`
	Text       string       `json:"text,omitempty"`
	RawText    string       `json:"raw_text,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Engine     string       `json:"engine,omitempty"`
	Cached     bool         `json:"cached,omitempty"`
	Error      string       `json:"error,omitempty"`
	Output     OutputConfig `json:"output"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`

	mu       sync.RWMutex
	image    []byte
	cancel   context.CancelFunc
	progress chan ProgressUpdate
}

// OutputConfig defines where to deliver the recognized text.
type OutputConfig struct {
	Target   string `json:"target,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ProgressUpdate is sent via WebSocket to report job progress.
type ProgressUpdate struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Document is a finished text document ready for output.
type Document struct {
	Filename string
	Title    string
	Reader   io.Reader
	Size     int64
}

// Snapshot is a consistent copy of a job's public fields.
type Snapshot struct {
	ID         string       `json:"id"`
	Status     JobStatus    `json:"status"`
	Profile    string       `json:"profile"`
	Filename   string       `json:"filename,omitempty"`
	Progress   int          `json:"progress"`
	Stage      string       `json:"stage,omitempty"`
	Text       string       `json:"text,omitempty"`
	RawText    string       `json:"raw_text,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Engine     string       `json:"engine,omitempty"`
	Cached     bool         `json:"cached,omitempty"`
	Error      string       `json:"error,omitempty"`
	Output     OutputConfig `json:"output"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewJob creates a pending job for the given image bytes.
func NewJob(profile string, image []byte, filename string, output OutputConfig) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Profile:   profile,
		Filename:  filename,
		Output:    output,
		CreatedAt: now,
		UpdatedAt: now,
		image:     image,
		progress:  make(chan ProgressUpdate, 100),
	}
}

// Image returns the uploaded bytes. They are released once the job finishes.
func (j *Job) Image() []byte {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.image
}

// Snapshot returns a copy of the job's public state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{
		ID:         j.ID,
		Status:     j.Status,
		Profile:    j.Profile,
		Filename:   j.Filename,
		Progress:   j.Progress,
		Stage:      j.Stage,
		Text:       j.Text,
		RawText:    j.RawText,
		Confidence: j.Confidence,
		Engine:     j.Engine,
		Cached:     j.Cached,
		Error:      j.Error,
		Output:     j.Output,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

// CurrentStatus returns the status under the job lock.
func (j *Job) CurrentStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetStatus updates the job status thread-safely. Terminal states are final.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.UpdatedAt = time.Now()
}

// SetProgress records the stage and percentage. Progress never decreases.
func (j *Job) SetProgress(stage string, percent int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	if percent > j.Progress {
		j.Progress = min(percent, 100)
	}
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// Complete stores the result and marks the job completed.
func (j *Job) Complete(text, rawText string, confidence float64, engine string, cached bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusCompleted
	j.Progress = 100
	j.Stage = ""
	j.Text = text
	j.RawText = rawText
	j.Confidence = confidence
	j.Engine = engine
	j.Cached = cached
	j.image = nil
	j.UpdatedAt = time.Now()
}

// SetError marks the job as failed. The stored message is the user-facing
// form of err; see PublicError.
func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusFailed
	j.Error = PublicError(err)
	j.image = nil
	j.UpdatedAt = time.Now()
}

// SetCancel stores the cancel function for the job context.
func (j *Job) SetCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

// Cancel cancels the job unless it already finished.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	j.Status = StatusCancelled
	j.image = nil
	j.UpdatedAt = time.Now()
	return true
}

// SendProgress sends a progress update for this job.
func (j *Job) SendProgress(update ProgressUpdate) {
	update.JobID = j.ID
	j.mu.RLock()
	defer j.mu.RUnlock()
	select {
	case j.progress <- update:
	default:
		// Channel full, drop update
	}
}

// ProgressChan returns the progress channel for this job.
func (j *Job) ProgressChan() <-chan ProgressUpdate {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// closeProgress ends the forwarding goroutine started by Queue.Submit.
func (j *Job) closeProgress() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.progress == nil {
		return
	}
	close(j.progress)
	j.progress = nil
}

// PublicError maps an internal error to a message that is safe to show to
// users. Engine output and file paths only go to the log.
func PublicError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, preprocess.ErrImageTooLarge):
		return "image is too large"
	case errors.Is(err, preprocess.ErrInvalidImage):
		return "image could not be decoded"
	case errors.Is(err, recognize.ErrNotEnabled):
		return "text recognition engine is not available"
	case errors.Is(err, recognize.ErrRecognitionFailed):
		return "text recognition failed"
	default:
		return "processing failed"
	}
}
