package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gouthamgo/privascan/internal/client"
	"github.com/gouthamgo/privascan/internal/config"
)

const pollInterval = 500 * time.Millisecond

// jobModel uploads the image and follows the job to a final state.
type jobModel struct {
	client   *client.Client
	config   *config.ClientConfig
	image    string
	profile  string
	job      *client.Job
	status   string
	err      error
	quitting bool
	done     bool
}

type jobStartedMsg struct {
	job *client.Job
}

type jobUpdateMsg struct {
	job *client.Job
}

type jobErrorMsg struct {
	err error
}

type pollMsg struct{}

func newJobModel(c *client.Client, cfg *config.ClientConfig, image, profile string) jobModel {
	return jobModel{
		client:  c,
		config:  cfg,
		image:   image,
		profile: profile,
		status:  "uploading",
	}
}

func (m jobModel) init() tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(m.image)
		if err != nil {
			return jobErrorMsg{err: err}
		}
		defer f.Close()

		job, err := m.client.SubmitImage(context.Background(), client.SubmitRequest{
			Filename: filepath.Base(m.image),
			Image:    f,
			Profile:  m.profile,
			Output:   m.config.Defaults.Output,
		})
		if err != nil {
			return jobErrorMsg{err: err}
		}
		return jobStartedMsg{job: job}
	}
}

func (m jobModel) update(msg tea.Msg) (jobModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "c":
			if m.job != nil && !m.done {
				m.status = "cancelling"
				return m, m.cancelJob()
			}
		case "q", "esc", "ctrl+c":
			if m.job != nil && !m.done {
				m.client.CancelJob(context.Background(), m.job.ID)
			}
			m.quitting = true
			return m, nil
		}

	case jobStartedMsg:
		m.job = msg.job
		m.status = msg.job.Status
		return m, m.pollJob()

	case pollMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		m.job = msg.job
		m.status = msg.job.Status
		if msg.job.Stage != "" && !msg.job.Done() {
			m.status = msg.job.Stage
		}
		if msg.job.Done() {
			m.done = true
			if msg.job.Status == "failed" {
				m.err = fmt.Errorf("%s", msg.job.Error)
			}
			return m, nil
		}
		return m, m.pollJob()

	case jobErrorMsg:
		m.err = msg.err
		m.done = true
	}

	return m, nil
}

func (m jobModel) view(width int) string {
	s := titleStyle.Render("privascan") + "\n"
	s += statusStyle.Render(fmt.Sprintf("Image: %s  Profile: %s", filepath.Base(m.image), m.profile)) + "\n\n"

	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
		s += helpStyle.Render("q Quit")
		return s
	}

	if m.job != nil {
		s += fmt.Sprintf("Job:    %s\n", shortID(m.job.ID))
	}
	s += fmt.Sprintf("Status: %s\n", m.status)

	progress := 0
	if m.job != nil {
		progress = m.job.Progress
	}
	if !m.done {
		s += "\n" + progressBar(progress, 30) + fmt.Sprintf(" %d%%\n", progress)
		s += helpStyle.Render("c Cancel  q Quit")
		return s
	}

	switch m.job.Status {
	case "completed":
		s += "\n" + successStyle.Render("Text extracted") + "\n\n"
		text := m.job.Text
		if text == "" {
			text = statusStyle.Render("(no text)")
		}
		if width > 4 {
			s += textStyle.Width(width-4).Render(text) + "\n"
		} else {
			s += textStyle.Render(text) + "\n"
		}
	case "cancelled":
		s += "\nCancelled\n"
	}
	s += helpStyle.Render("q Quit")
	return s
}

func (m jobModel) pollJob() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return pollMsg{}
	})
}

func (m jobModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		if m.job == nil {
			return nil
		}
		job, err := m.client.GetJob(context.Background(), m.job.ID)
		if err != nil {
			return jobErrorMsg{err: err}
		}
		return jobUpdateMsg{job: job}
	}
}

func (m jobModel) cancelJob() tea.Cmd {
	return func() tea.Msg {
		if err := m.client.CancelJob(context.Background(), m.job.ID); err != nil {
			return jobErrorMsg{err: err}
		}
		job, err := m.client.GetJob(context.Background(), m.job.ID)
		if err != nil {
			return jobErrorMsg{err: err}
		}
		return jobUpdateMsg{job: job}
	}
}

func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := width * percent / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
