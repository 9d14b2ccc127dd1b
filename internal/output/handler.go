package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gouthamgo/privascan/internal/config"
	"github.com/gouthamgo/privascan/internal/jobs"
)

// ErrUnknownTarget is returned when a document is sent to a target that is
// not configured.
var ErrUnknownTarget = errors.New("unknown output target")

// Handler is the interface for all output targets.
type Handler interface {
	Name() string
	Send(ctx context.Context, doc *jobs.Document) error
	Available() bool
}

// Target describes a configured output target.
type Target struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
}

// Manager routes text documents to the appropriate output handler.
type Manager struct {
	handlers map[string]Handler
}

// NewManager creates a new output manager from the server configuration.
func NewManager(cfg config.OutputConfig) *Manager {
	m := &Manager{
		handlers: make(map[string]Handler),
	}

	if cfg.Filesystem.Enabled {
		m.Register(NewFilesystemHandler(cfg.Filesystem.Directory))
	}

	if cfg.SMB.Enabled {
		m.Register(NewSMBHandler(cfg.SMB))
	}

	if cfg.Email.Enabled {
		m.Register(NewEmailHandler(cfg.Email))
	}

	slog.Info("output handlers initialized", "count", len(m.handlers))
	return m
}

// Register adds or replaces a handler under its name.
func (m *Manager) Register(h Handler) {
	m.handlers[h.Name()] = h
}

// Send routes a document to the specified output target.
func (m *Manager) Send(ctx context.Context, target string, doc *jobs.Document) error {
	handler, ok := m.handlers[target]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	slog.Info("sending document to output",
		"target", target,
		"filename", doc.Filename,
		"size", doc.Size)

	if err := handler.Send(ctx, doc); err != nil {
		return fmt.Errorf("output %s: %w", target, err)
	}

	slog.Info("document sent", "target", target)
	return nil
}

// ListTargets returns all configured output targets sorted by name.
func (m *Manager) ListTargets() []Target {
	targets := make([]Target, 0, len(m.handlers))
	for name, h := range m.handlers {
		targets = append(targets, Target{
			Name:      name,
			Type:      h.Name(),
			Enabled:   true,
			Available: h.Available(),
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets
}
