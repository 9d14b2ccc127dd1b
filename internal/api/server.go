package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
	"github.com/gouthamgo/privascan/internal/output"
	"github.com/gouthamgo/privascan/internal/processor"
	"github.com/panjf2000/ants/v2"
)

// Version is reported by the health and status endpoints.
var Version = "0.1.0"

const pruneInterval = 5 * time.Minute

// Server is the HTTP API server.
type Server struct {
	cfg      *config.Config
	router   chi.Router
	jobQueue *jobs.Queue
	profiles *config.ProfileStore
	pipeline *processor.Pipeline
	outputs  *output.Manager
	wsHub    *WebSocketHub
	workers  *ants.PoolWithFunc
	server   *http.Server

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	once sync.Once
}

// NewServer creates a new API server. Jobs are processed by a worker pool
// sized by processing.max_concurrent_jobs.
func NewServer(cfg *config.Config, q *jobs.Queue, profiles *config.ProfileStore, pipeline *processor.Pipeline, outputs *output.Manager) (*Server, error) {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		jobQueue: q,
		profiles: profiles,
		pipeline: pipeline,
		outputs:  outputs,
		wsHub:    NewWebSocketHub(),
		ctx:      ctx,
		stop:     stop,
	}

	workers, err := ants.NewPoolWithFunc(max(cfg.Processing.MaxConcurrentJobs, 1), func(arg any) {
		s.processJob(arg.(*jobs.Job))
	}, ants.WithPanicHandler(func(p any) {
		slog.Error("job worker panic", "panic", p)
	}))
	if err != nil {
		stop()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	s.workers = workers

	s.setupRouter()
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(s.cfg.Server.TLS.Enabled))
	r.Use(CORSMiddleware(s.cfg.Server.CORSOrigins))

	// Health check (no auth required)
	r.Get("/api/v1/health", s.handleHealth)

	// API routes (with auth)
	r.Group(func(r chi.Router) {
		if s.cfg.Server.Auth.Enabled {
			r.Use(AuthMiddleware(s.cfg.Server.Auth))
		}

		// WebSocket connections are long-lived; no request timeout.
		r.Get("/api/v1/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			// Multipart framing on top of the image itself.
			r.Use(MaxBytes(s.cfg.MaxUploadBytes() + 1<<20))

			// OCR jobs
			r.Post("/api/v1/ocr", s.handleSubmitOCR)
			r.Get("/api/v1/ocr", s.handleListJobs)
			r.Get("/api/v1/ocr/{jobID}", s.handleGetJob)
			r.Get("/api/v1/ocr/{jobID}/text", s.handleGetText)
			r.Delete("/api/v1/ocr/{jobID}", s.handleCancelJob)
			r.Post("/api/v1/ocr/{jobID}/send", s.handleSendOutput)

			// Stateless text and image operations
			r.Post("/api/v1/clean", s.handleClean)
			r.Post("/api/v1/classify", s.handleClassify)
			r.Post("/api/v1/normalize", s.handleNormalize)

			// Output
			r.Get("/api/v1/outputs", s.handleListOutputs)

			// Profiles
			r.Get("/api/v1/profiles", s.handleListProfiles)
			r.Get("/api/v1/profiles/{name}", s.handleGetProfile)
			r.Post("/api/v1/profiles", s.handleCreateProfile)
			r.Put("/api/v1/profiles/{name}", s.handleUpdateProfile)

			// System
			r.Get("/api/v1/status", s.handleStatus)
		})
	})

	s.router = r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP connections. It blocks until the server
// is shut down.
func (s *Server) Start() error {
	s.StartWorkers()

	slog.Info("API server starting", "addr", s.server.Addr, "tls", s.cfg.Server.TLS.Enabled)

	var err error
	if s.cfg.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.cfg.Server.TLS.CertFile,
			s.cfg.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartWorkers runs the WebSocket hub, the job dispatcher and the job
// pruner. Start calls it; callers serving Handler themselves must call it
// once. It is safe to call more than once.
func (s *Server) StartWorkers() {
	s.once.Do(func() {
		s.wg.Add(3)
		go func() {
			defer s.wg.Done()
			s.wsHub.Run(s.ctx)
		}()
		go func() {
			defer s.wg.Done()
			s.dispatchJobs()
		}()
		go func() {
			defer s.wg.Done()
			s.pruneJobs()
		}()
	})
}

// Shutdown gracefully stops the server: no new jobs are accepted, running
// jobs get until ctx is done to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")

	err := s.server.Shutdown(ctx)

	s.jobQueue.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if perr := s.workers.ReleaseTimeout(time.Until(deadline)); perr != nil {
			slog.Warn("job workers did not finish in time", "error", perr)
		}
	} else {
		s.workers.Release()
	}

	s.stop()
	s.wg.Wait()
	return err
}

// dispatchJobs hands pending jobs to the worker pool. Invoke blocks while
// every worker is busy, so the queue channel provides back-pressure.
func (s *Server) dispatchJobs() {
	for job := range s.jobQueue.Pending() {
		if err := s.workers.Invoke(job); err != nil {
			slog.Error("failed to dispatch job", "job_id", job.ID, "error", err)
			job.SetError(err)
			s.broadcastJobUpdate(job)
		}
	}
}

func (s *Server) pruneJobs() {
	retention := s.cfg.Processing.JobRetention.Duration()
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(min(pruneInterval, retention))
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.jobQueue.Prune(now.Add(-retention))
		}
	}
}

func (s *Server) processJob(job *jobs.Job) {
	if job.CurrentStatus().Terminal() {
		// Cancelled while waiting in the queue.
		s.broadcastJobUpdate(job)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	job.SetCancel(cancel)
	defer cancel()

	updates := s.jobQueue.Subscribe(job.ID)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for update := range updates {
			s.wsHub.Broadcast(update)
		}
	}()
	defer func() {
		s.jobQueue.Unsubscribe(job.ID, updates)
		<-relayed
	}()

	profile, ok := s.profiles.Get(job.Profile)
	if !ok {
		slog.Error("job profile not found", "job_id", job.ID, "profile", job.Profile)
		job.SetError(fmt.Errorf("profile %q not found", job.Profile))
		s.broadcastJobUpdate(job)
		return
	}

	doc, err := s.pipeline.Process(ctx, job, profile)
	if err != nil {
		slog.Error("job failed", "job_id", job.ID, "error", err)
		job.SetError(err)
		s.broadcastJobUpdate(job)
		return
	}
	s.broadcastJobUpdate(job)

	target := job.Output.Target
	if target == "" {
		target = profile.Output.DefaultTarget
	}
	if target == "" {
		return
	}

	if err := s.outputs.Send(ctx, target, doc); err != nil {
		slog.Error("output failed", "job_id", job.ID, "target", target, "error", err)
		s.wsHub.Broadcast(jobs.ProgressUpdate{
			Type:   "output_failed",
			JobID:  job.ID,
			Status: string(job.CurrentStatus()),
			Error:  "delivery to " + target + " failed",
		})
		return
	}

	s.wsHub.Broadcast(jobs.ProgressUpdate{
		Type:     "delivered",
		JobID:    job.ID,
		Status:   string(job.CurrentStatus()),
		Progress: 100,
		Message:  target,
	})
	slog.Info("job delivered", "job_id", job.ID, "target", target)
}

func (s *Server) broadcastJobUpdate(job *jobs.Job) {
	snap := job.Snapshot()
	s.wsHub.Broadcast(jobs.ProgressUpdate{
		Type:     "job_update",
		JobID:    snap.ID,
		Status:   string(snap.Status),
		Progress: snap.Progress,
		Message:  snap.Stage,
		Error:    snap.Error,
	})
}
