package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/gouthamgo/privascan/internal/output"
	"github.com/gouthamgo/privascan/internal/preprocess"
	"github.com/gouthamgo/privascan/internal/processor"
	"github.com/gouthamgo/privascan/internal/recognize"
	"github.com/gouthamgo/privascan/internal/textclean"
	"golang.org/x/crypto/bcrypt"
)

const recognizedText = "ES ERNE RE EEE\nThe quick brown fox jumps over the lazy dog.\n(3) random\n"

type fakeEngine struct {
	block chan struct{}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Recognize(ctx context.Context, _ []byte, _ recognize.Options, progress recognize.ProgressFunc) (recognize.Result, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return recognize.Result{}, ctx.Err()
		}
	}
	progress("recognizing", 1)
	return recognize.Result{Text: recognizedText, Confidence: 0.9, Engine: "fake"}, nil
}

func newTestServerWith(t *testing.T, cfg *config.Config, engine recognize.Engine) *Server {
	t.Helper()

	cfg.Output.Filesystem.Directory = filepath.Join(t.TempDir(), "documents")

	q := jobs.NewQueue(cfg.Processing.QueueSize)
	profiles, err := config.NewProfileStore("")
	if err != nil {
		t.Fatalf("profile store: %v", err)
	}
	pipeline := processor.NewPipeline(engine, cfg.Processing)
	outputs := output.NewManager(cfg.Output)

	srv, err := NewServer(cfg, q, profiles, pipeline, outputs)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.Auth.Enabled = false // Disable auth for tests
	return newTestServerWith(t, cfg, &fakeEngine{})
}

func pageImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	data, err := preprocess.PNGBytes(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func multipartRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if image != nil {
		fw, err := mw.CreateFormFile("image", "page.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write(image)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func waitForStatus(t *testing.T, srv *Server, id string, want jobs.JobStatus) jobs.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := serve(srv, httptest.NewRequest("GET", "/api/v1/ocr/"+id, nil))
		var snap jobs.Snapshot
		json.NewDecoder(w.Body).Decode(&snap)
		if snap.Status == want {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s", id, want)
	return jobs.Snapshot{}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)

	if resp["status"] != "ok" {
		t.Fatalf("expected status 'ok', got %s", resp["status"])
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/health", nil))

	for header, want := range map[string]string{
		"X-Frame-Options":              "DENY",
		"X-Content-Type-Options":       "nosniff",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Cross-Origin-Resource-Policy": "same-origin",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" || w.Header().Get("Permissions-Policy") == "" {
		t.Error("expected CSP and Permissions-Policy headers")
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent without TLS")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	json.NewDecoder(w.Body).Decode(&resp)

	if resp["status"] != "ok" || resp["engine"] != "fake" {
		t.Fatalf("unexpected status response %v", resp)
	}
	if resp["ruleset"] != float64(textclean.RulesetVersion) {
		t.Fatalf("expected ruleset %d, got %v", textclean.RulesetVersion, resp["ruleset"])
	}
}

func TestSubmitOCRAndDownloadText(t *testing.T) {
	srv := newTestServer(t)
	srv.StartWorkers()

	w := serve(srv, multipartRequest(t, "/api/v1/ocr", pageImage(t), map[string]string{"filename": "letter"}))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var job jobs.Snapshot
	json.NewDecoder(w.Body).Decode(&job)
	if job.ID == "" || job.Profile != "standard" {
		t.Fatalf("unexpected job %+v", job)
	}

	snap := waitForStatus(t, srv, job.ID, jobs.StatusCompleted)
	if snap.Text != "The quick brown fox jumps over the lazy dog." {
		t.Fatalf("unexpected text %q", snap.Text)
	}
	if snap.RawText != recognizedText {
		t.Fatalf("unexpected raw text %q", snap.RawText)
	}

	w = serve(srv, httptest.NewRequest("GET", "/api/v1/ocr/"+job.ID+"/text", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if w.Body.String() != snap.Text+"\n" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}

	// Deliver to the filesystem target.
	body, _ := json.Marshal(map[string]string{"target": "filesystem"})
	w = serve(srv, httptest.NewRequest("POST", "/api/v1/ocr/"+job.ID+"/send", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	entries, err := os.ReadDir(srv.cfg.Output.Filesystem.Directory)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one delivered file, got %v (%v)", entries, err)
	}
}

func TestSubmitOCRWithOutputTarget(t *testing.T) {
	srv := newTestServer(t)
	srv.StartWorkers()

	w := serve(srv, multipartRequest(t, "/api/v1/ocr", pageImage(t), map[string]string{"output": "filesystem"}))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var job jobs.Snapshot
	json.NewDecoder(w.Body).Decode(&job)
	waitForStatus(t, srv, job.ID, jobs.StatusCompleted)

	dir := srv.cfg.Output.Filesystem.Directory
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if entries, _ := os.ReadDir(dir); len(entries) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("document was not delivered")
}

func TestSubmitOCRRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		image  []byte
		fields map[string]string
		status int
	}{
		{"missing image", nil, nil, http.StatusBadRequest},
		{"not an image", []byte("hello"), nil, http.StatusBadRequest},
		{"unknown profile", pageImage(t), map[string]string{"profile": "nope"}, http.StatusBadRequest},
		{"unknown output", pageImage(t), map[string]string{"output": "paperless"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(srv, multipartRequest(t, "/api/v1/ocr", tt.image, tt.fields))
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}

	if n := len(srv.jobQueue.List()); n != 0 {
		t.Fatalf("rejected uploads must not create jobs, got %d", n)
	}
}

func TestSubmitOCRTooLarge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.MaxUploadMB = 1
	srv := newTestServerWith(t, cfg, &fakeEngine{})

	w := serve(srv, multipartRequest(t, "/api/v1/ocr", make([]byte, 3<<20), nil))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCancelJob(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	srv := newTestServerWith(t, config.DefaultConfig(), engine)
	srv.StartWorkers()

	w := serve(srv, multipartRequest(t, "/api/v1/ocr", pageImage(t), nil))
	var job jobs.Snapshot
	json.NewDecoder(w.Body).Decode(&job)

	waitForStatus(t, srv, job.ID, jobs.StatusPreprocessing)

	w = serve(srv, httptest.NewRequest("DELETE", "/api/v1/ocr/"+job.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	snap := waitForStatus(t, srv, job.ID, jobs.StatusCancelled)
	if snap.Text != "" {
		t.Fatal("cancelled job must not carry text")
	}

	w = serve(srv, httptest.NewRequest("GET", "/api/v1/ocr/"+job.ID+"/text", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for cancelled job text, got %d", w.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	srv := newTestServer(t)

	for _, req := range []*http.Request{
		httptest.NewRequest("GET", "/api/v1/ocr/nonexistent-id", nil),
		httptest.NewRequest("GET", "/api/v1/ocr/nonexistent-id/text", nil),
		httptest.NewRequest("DELETE", "/api/v1/ocr/nonexistent-id", nil),
	} {
		if w := serve(srv, req); w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", req.Method, req.URL.Path, w.Code)
		}
	}
}

func TestCleanEndpoint(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		profile string
		want    string
	}{
		{"", "The quick brown fox jumps over the lazy dog."},
		{"raw", recognizedText},
	}

	for _, tt := range tests {
		body, _ := json.Marshal(map[string]string{"text": recognizedText, "profile": tt.profile})
		w := serve(srv, httptest.NewRequest("POST", "/api/v1/clean", bytes.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		var resp struct {
			Text string `json:"text"`
		}
		json.NewDecoder(w.Body).Decode(&resp)
		if resp.Text != tt.want {
			t.Errorf("profile %q: got %q, want %q", tt.profile, resp.Text, tt.want)
		}
	}
}

func TestClassifyEndpoint(t *testing.T) {
	srv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"text": "I am a cat\n1234 5678 90 ab"})
	w := serve(srv, httptest.NewRequest("POST", "/api/v1/classify", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Lines []struct {
			Line    string `json:"line"`
			Verdict string `json:"verdict"`
		} `json:"lines"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %+v", resp.Lines)
	}
	if resp.Lines[0].Verdict != "keep" || resp.Lines[1].Verdict != "drop" {
		t.Fatalf("unexpected verdicts %+v", resp.Lines)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, multipartRequest(t, "/api/v1/normalize", pageImage(t), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %s", w.Header().Get("Content-Type"))
	}

	img, _, err := preprocess.Decode(w.Body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if img.Bounds().Dx() != 24 || img.Bounds().Dy() != 24 {
		t.Fatalf("dimensions changed: %v", img.Bounds())
	}
	r, g, b, _ := img.At(5, 7).RGBA()
	if r != g || g != b {
		t.Fatal("normalized image must be grayscale")
	}
}

func TestListOutputsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/outputs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Outputs []output.Target `json:"outputs"`
	}
	json.NewDecoder(w.Body).Decode(&resp)

	if len(resp.Outputs) != 1 || resp.Outputs[0].Name != "filesystem" {
		t.Fatalf("expected the filesystem output, got %+v", resp.Outputs)
	}
}

func TestProfilesEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, httptest.NewRequest("GET", "/api/v1/profiles", nil))
	var list struct {
		Profiles []config.Profile `json:"profiles"`
	}
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(list.Profiles))
	}

	create := `{"id":"receipts","profile":{"name":"Receipts"},"preprocess":{"enabled":true,"contrast":2},"cleaning":{"enabled":true,"alpha_ratio":0.4}}`
	w = serve(srv, httptest.NewRequest("POST", "/api/v1/profiles", bytes.NewBufferString(create)))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	w = serve(srv, httptest.NewRequest("POST", "/api/v1/profiles", bytes.NewBufferString(create)))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for duplicate, got %d", w.Code)
	}

	w = serve(srv, httptest.NewRequest("POST", "/api/v1/profiles", bytes.NewBufferString(`{"id":"Bad Name"}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for invalid id, got %d", w.Code)
	}

	update := `{"profile":{"name":"Receipts"},"cleaning":{"enabled":true,"alpha_ratio":1.5}}`
	w = serve(srv, httptest.NewRequest("PUT", "/api/v1/profiles/receipts", bytes.NewBufferString(update)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for out-of-range ratio, got %d", w.Code)
	}

	w = serve(srv, httptest.NewRequest("GET", "/api/v1/profiles/receipts", nil))
	var got config.Profile
	json.NewDecoder(w.Body).Decode(&got)
	if got.ID != "receipts" || got.Preprocess.Contrast != 2 {
		t.Fatalf("unexpected profile %+v", got)
	}

	w = serve(srv, httptest.NewRequest("PUT", "/api/v1/profiles/missing", bytes.NewBufferString(update)))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Server.Auth.Enabled = true
	cfg.Server.Auth.APIKeys = []string{"test-key-123"}
	cfg.Server.Auth.BasicAuthUser = "admin"
	cfg.Server.Auth.BasicAuthPassHash = string(hash)
	srv := newTestServerWith(t, cfg, &fakeEngine{})

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"no credentials", func(r *http.Request) {}, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer test-key-123") }, http.StatusOK},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"x-api-key", func(r *http.Request) { r.Header.Set("X-API-Key", "test-key-123") }, http.StatusOK},
		{"query", func(r *http.Request) { r.URL.RawQuery = "api_key=test-key-123" }, http.StatusOK},
		{"basic", func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") }, http.StatusOK},
		{"basic wrong password", func(r *http.Request) { r.SetBasicAuth("admin", "guess") }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/status", nil)
			tt.setup(req)
			if w := serve(srv, req); w.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, w.Code)
			}
		})
	}

	// Health stays public.
	if w := serve(srv, httptest.NewRequest("GET", "/api/v1/health", nil)); w.Code != http.StatusOK {
		t.Fatalf("expected health without auth, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))

	req := httptest.NewRequest("OPTIONS", "/api/v1/status", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allowed origin %q", got)
	}

	req = httptest.NewRequest("GET", "/api/v1/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin must not be allowed, got %q", got)
	}
}
