package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/gouthamgo/privascan/internal/output"
	"github.com/gouthamgo/privascan/internal/preprocess"
	"github.com/gouthamgo/privascan/internal/processor"
	"github.com/gouthamgo/privascan/internal/textclean"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// Server status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := s.jobQueue.Counts()

	active, total := 0, 0
	for status, n := range counts {
		total += n
		if !status.Terminal() && status != jobs.StatusPending {
			active += n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"version":      Version,
		"engine":       s.pipeline.Engine().Name(),
		"ruleset":      textclean.RulesetVersion,
		"workers":      s.workers.Cap(),
		"pending_jobs": counts[jobs.StatusPending],
		"active_jobs":  active,
		"total_jobs":   total,
		"ws_clients":   s.wsHub.Count(),
	})
}

// OCR jobs

// readUpload returns the bytes and file name of the "image" form field.
func readUpload(r *http.Request, limit int64) ([]byte, string, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", fmt.Errorf("missing image field: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", preprocess.ErrImageTooLarge
	}
	return data, filepath.Base(header.Filename), nil
}

func uploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, preprocess.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, jobs.PublicError(preprocess.ErrImageTooLarge))
	case errors.Is(err, preprocess.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, jobs.PublicError(err))
	default:
		writeError(w, http.StatusBadRequest, "an image file is required in the \"image\" field")
	}
}

func (s *Server) handleSubmitOCR(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		uploadError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, name, err := readUpload(r, s.cfg.MaxUploadBytes())
	if err != nil {
		uploadError(w, err)
		return
	}
	if _, err := preprocess.Probe(data); err != nil {
		uploadError(w, err)
		return
	}

	profile := r.FormValue("profile")
	if profile == "" {
		profile = s.cfg.Processing.DefaultProfile
	}
	if _, ok := s.profiles.Get(profile); !ok {
		writeError(w, http.StatusBadRequest, "unknown profile: "+profile)
		return
	}

	out := jobs.OutputConfig{
		Target:   r.FormValue("output"),
		Filename: r.FormValue("filename"),
	}
	if out.Target != "" && !s.hasTarget(out.Target) {
		writeError(w, http.StatusBadRequest, "unknown output target: "+out.Target)
		return
	}

	job := jobs.NewJob(profile, data, name, out)
	if err := s.jobQueue.Submit(job); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "too many pending jobs, try again later")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "server is not accepting jobs")
		return
	}

	slog.Info("ocr job submitted via API", "job_id", job.ID, "profile", profile, "bytes", len(data))
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list := s.jobQueue.List()
	snaps := make([]jobs.Snapshot, 0, len(list))
	for _, j := range list {
		snap := j.Snapshot()
		snap.Text, snap.RawText = "", ""
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": snaps})
}

func (s *Server) jobFromRequest(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, ok := s.jobQueue.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleGetText(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}

	snap := job.Snapshot()
	if snap.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, "job is "+string(snap.Status))
		return
	}

	doc := processor.NewDocument(snap)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, doc.Reader)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobQueue.Cancel(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, _ := s.jobQueue.Get(jobID)
	if job != nil {
		s.broadcastJobUpdate(job)
		writeJSON(w, http.StatusOK, map[string]string{"status": string(job.CurrentStatus())})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Output targets
func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	outputs := s.outputs.ListTargets()
	writeJSON(w, http.StatusOK, map[string]interface{}{"outputs": outputs})
}

func (s *Server) hasTarget(name string) bool {
	for _, t := range s.outputs.ListTargets() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) handleSendOutput(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap := job.Snapshot()
	if snap.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, "job is "+string(snap.Status))
		return
	}

	if err := s.outputs.Send(r.Context(), req.Target, processor.NewDocument(snap)); err != nil {
		if errors.Is(err, output.ErrUnknownTarget) {
			writeError(w, http.StatusBadRequest, "unknown output target: "+req.Target)
			return
		}
		slog.Error("output failed", "job_id", snap.ID, "target", req.Target, "error", err)
		writeError(w, http.StatusBadGateway, "delivery to "+req.Target+" failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "target": req.Target})
}

// Stateless text operations

type textRequest struct {
	Text    string `json:"text"`
	Profile string `json:"profile"`
}

func (s *Server) decodeTextRequest(w http.ResponseWriter, r *http.Request) (*textRequest, *config.Profile, bool) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	if req.Profile == "" {
		req.Profile = s.cfg.Processing.DefaultProfile
	}
	profile, ok := s.profiles.Get(req.Profile)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown profile: "+req.Profile)
		return nil, nil, false
	}
	return &req, profile, true
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	req, profile, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	text := req.Text
	if f := processor.FilterForProfile(profile); f != nil {
		text = f.Clean(req.Text)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"text":    text,
		"profile": profile.ID,
		"ruleset": textclean.RulesetVersion,
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, profile, ok := s.decodeTextRequest(w, r)
	if !ok {
		return
	}

	f := processor.FilterForProfile(profile)
	if f == nil {
		f = textclean.New(textclean.WithThresholds(processor.Thresholds(profile)))
	}

	lines := f.Explain(req.Text)
	if lines == nil {
		lines = []textclean.LineReport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines":   lines,
		"profile": profile.ID,
		"ruleset": textclean.RulesetVersion,
	})
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		uploadError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, _, err := readUpload(r, s.cfg.MaxUploadBytes())
	if err != nil {
		uploadError(w, err)
		return
	}

	img, _, err := preprocess.DecodeBytes(data)
	if err != nil {
		uploadError(w, err)
		return
	}

	opts := preprocess.DefaultOptions()
	if name := r.FormValue("profile"); name != "" {
		profile, ok := s.profiles.Get(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown profile: "+name)
			return
		}
		opts = processor.NormalizerOptions(profile)
	}

	png, err := preprocess.PNGBytes(opts.Normalize(img))
	if err != nil {
		slog.Error("encode normalized image", "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Profiles
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := s.profiles.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": profiles})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	profile, ok := s.profiles.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var profile config.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if profile.ID == "" {
		writeError(w, http.StatusBadRequest, "profile id is required")
		return
	}
	if _, exists := s.profiles.Get(profile.ID); exists {
		writeError(w, http.StatusConflict, "profile already exists")
		return
	}

	if err := s.profiles.Set(profile.ID, &profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.profiles.Get(name); !ok {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	var profile config.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.profiles.Set(name, &profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile.ID = name
	writeJSON(w, http.StatusOK, profile)
}
