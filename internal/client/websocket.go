package client

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// PollInterval is the job status polling interval used when no WebSocket
// connection is available.
var PollInterval = time.Second

// ConnectWebSocket establishes a WebSocket connection for live updates of
// one job, or of all jobs when jobID is empty.
func (c *Client) ConnectWebSocket(ctx context.Context, jobID string) (<-chan ProgressUpdate, error) {
	wsURL := c.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	query := url.Values{}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	if jobID != "" {
		query.Set("job_id", jobID)
	}
	wsURL += "/api/v1/ws"
	if len(query) > 0 {
		wsURL += "?" + query.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	updates := make(chan ProgressUpdate, 100)

	go func() {
		defer close(updates)
		defer conn.Close()

		// Close connection when context is done
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		for {
			var update ProgressUpdate
			if err := conn.ReadJSON(&update); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket error", "error", err)
				}
				return
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}

// WaitForJob waits until the job reaches a final state, following the
// WebSocket stream and falling back to polling when it is unavailable.
func (c *Client) WaitForJob(ctx context.Context, jobID string, onUpdate func(Job)) (*Job, error) {
	wsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := c.ConnectWebSocket(wsCtx, jobID)
	if err != nil {
		slog.Debug("websocket unavailable, polling", "error", err)
		return c.pollJobStatus(ctx, jobID, onUpdate)
	}

	// The job may have finished before the connection was established.
	if job, err := c.checkJob(ctx, jobID, onUpdate); err != nil || job.Done() {
		return job, err
	}

	for update := range updates {
		if update.JobID != jobID {
			continue
		}
		job, err := c.checkJob(ctx, jobID, onUpdate)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.pollJobStatus(ctx, jobID, onUpdate)
}

func (c *Client) checkJob(ctx context.Context, jobID string, onUpdate func(Job)) (*Job, error) {
	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if onUpdate != nil {
		onUpdate(*job)
	}
	return job, nil
}

func (c *Client) pollJobStatus(ctx context.Context, jobID string, onUpdate func(Job)) (*Job, error) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		job, err := c.checkJob(ctx, jobID, onUpdate)
		if err != nil {
			return nil, err
		}
		if job.Done() {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
