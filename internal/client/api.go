package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/output"
	"github.com/gouthamgo/privascan/internal/textclean"
)

// Client communicates with the privascan server API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// SubmitRequest describes an image upload.
type SubmitRequest struct {
	Filename string
	Image    io.Reader
	Profile  string
	// Output names a delivery target; empty uses the profile default.
	Output         string
	OutputFilename string
}

// Job represents an OCR job returned by the API.
type Job struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Profile    string    `json:"profile"`
	Filename   string    `json:"filename,omitempty"`
	Progress   int       `json:"progress"`
	Stage      string    `json:"stage,omitempty"`
	Text       string    `json:"text,omitempty"`
	RawText    string    `json:"raw_text,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Engine     string    `json:"engine,omitempty"`
	Cached     bool      `json:"cached,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Done reports whether the job reached a final state.
func (j *Job) Done() bool {
	switch j.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// ServerStatus contains the server status response.
type ServerStatus struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Engine      string `json:"engine"`
	Ruleset     int    `json:"ruleset"`
	Workers     int    `json:"workers"`
	PendingJobs int    `json:"pending_jobs"`
	ActiveJobs  int    `json:"active_jobs"`
	TotalJobs   int    `json:"total_jobs"`
}

// CleanResult is the response of the clean endpoint.
type CleanResult struct {
	Text    string `json:"text"`
	Profile string `json:"profile"`
	Ruleset int    `json:"ruleset"`
}

// ProgressUpdate is received via WebSocket.
type ProgressUpdate struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.getJSON(ctx, "/api/v1/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListProfiles returns the server's cleaning profiles.
func (c *Client) ListProfiles(ctx context.Context) ([]config.Profile, error) {
	var result struct {
		Profiles []config.Profile `json:"profiles"`
	}
	if err := c.getJSON(ctx, "/api/v1/profiles", &result); err != nil {
		return nil, err
	}
	return result.Profiles, nil
}

// GetProfile returns a specific cleaning profile.
func (c *Client) GetProfile(ctx context.Context, name string) (*config.Profile, error) {
	var profile config.Profile
	if err := c.getJSON(ctx, "/api/v1/profiles/"+name, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListOutputs returns the configured delivery targets.
func (c *Client) ListOutputs(ctx context.Context) ([]output.Target, error) {
	var result struct {
		Outputs []output.Target `json:"outputs"`
	}
	if err := c.getJSON(ctx, "/api/v1/outputs", &result); err != nil {
		return nil, err
	}
	return result.Outputs, nil
}

// SubmitImage uploads an image and returns the queued job.
func (c *Client) SubmitImage(ctx context.Context, req SubmitRequest) (*Job, error) {
	fields := map[string]string{
		"profile":  req.Profile,
		"output":   req.Output,
		"filename": req.OutputFilename,
	}
	resp, err := c.doMultipart(ctx, "/api/v1/ocr", req.Filename, req.Image, fields)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &job, nil
}

// GetJob returns the current state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.getJSON(ctx, "/api/v1/ocr/"+jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetText downloads the cleaned text of a completed job.
func (c *Client) GetText(ctx context.Context, jobID string) (string, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/ocr/"+jobID+"/text", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(data), nil
}

// CancelJob cancels a pending or running job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	resp, err := c.doRequest(ctx, "DELETE", "/api/v1/ocr/"+jobID, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SendOutput delivers a completed job's text to target.
func (c *Client) SendOutput(ctx context.Context, jobID, target string) error {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/ocr/"+jobID+"/send", map[string]string{"target": target})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Clean runs the server-side text cleaner.
func (c *Client) Clean(ctx context.Context, text, profile string) (*CleanResult, error) {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/clean", map[string]string{"text": text, "profile": profile})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result CleanResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Classify returns the per-line verdicts of the server-side classifier.
func (c *Client) Classify(ctx context.Context, text, profile string) ([]textclean.LineReport, error) {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/classify", map[string]string{"text": text, "profile": profile})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Lines []textclean.LineReport `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Lines, nil
}

// Normalize uploads an image and returns the normalized PNG.
func (c *Client) Normalize(ctx context.Context, filename string, image io.Reader, profile string) ([]byte, error) {
	resp, err := c.doMultipart(ctx, "/api/v1/normalize", filename, image, map[string]string{"profile": profile})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doMultipart(ctx context.Context, path, filename string, file io.Reader, fields map[string]string) (*http.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("create form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

// ServerError is returned for HTTP error responses.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error: %d", e.StatusCode)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	return resp, nil
}
