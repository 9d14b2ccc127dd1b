package tui

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gouthamgo/privascan/internal/client"
	"github.com/gouthamgo/privascan/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)

	textStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)
)

// applyTheme adjusts the muted colors for light terminals.
func applyTheme(theme string) {
	if theme != "light" {
		return
	}
	statusStyle = statusStyle.Foreground(lipgloss.Color("244"))
	helpStyle = helpStyle.Foreground(lipgloss.Color("244"))
	successStyle = successStyle.Foreground(lipgloss.Color("28"))
	textStyle = textStyle.BorderForeground(lipgloss.Color("244"))
}

// App is the interactive terminal UI for one image.
type App struct {
	client *client.Client
	config *config.ClientConfig
	image  string
}

// New creates a TUI that extracts text from the image at path.
func New(c *client.Client, cfg *config.ClientConfig, path string) *App {
	return &App{
		client: c,
		config: cfg,
		image:  path,
	}
}

// Run starts the TUI and blocks until the user quits.
func (a *App) Run() error {
	applyTheme(a.config.TUI.Theme)
	model := newMainModel(a.client, a.config, a.image)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type view int

const (
	viewProfiles view = iota
	viewJob
)

// mainModel lets the user pick a profile and then follows the job.
type mainModel struct {
	client   *client.Client
	config   *config.ClientConfig
	image    string
	view     view
	profiles []config.Profile
	jobModel jobModel
	cursor   int
	width    int
	height   int
	err      error
}

type profilesMsg struct {
	profiles []config.Profile
}

type errMsg struct {
	err error
}

func newMainModel(c *client.Client, cfg *config.ClientConfig, image string) mainModel {
	return mainModel{
		client: c,
		config: cfg,
		image:  image,
		view:   viewProfiles,
	}
}

func (m mainModel) Init() tea.Cmd {
	return func() tea.Msg {
		profiles, err := m.client.ListProfiles(context.Background())
		if err != nil {
			return errMsg{err: err}
		}
		return profilesMsg{profiles: profiles}
	}
}

func (m mainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case profilesMsg:
		m.profiles = msg.profiles
		for i, p := range m.profiles {
			if p.ID == m.config.Defaults.Profile {
				m.cursor = i
			}
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	if m.view == viewJob {
		var cmd tea.Cmd
		m.jobModel, cmd = m.jobModel.update(msg)
		if m.jobModel.quitting {
			return m, tea.Quit
		}
		return m, cmd
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.profiles)-1 {
			m.cursor++
		}

	case "enter":
		if len(m.profiles) == 0 {
			return m, nil
		}
		m.view = viewJob
		m.jobModel = newJobModel(m.client, m.config, m.image, m.profiles[m.cursor].ID)
		return m, m.jobModel.init()
	}

	return m, nil
}

func (m mainModel) View() string {
	if m.view == viewJob {
		return m.jobModel.view(m.width)
	}

	s := titleStyle.Render("privascan") + "\n"
	s += statusStyle.Render("Image: "+filepath.Base(m.image)) + "\n\n"

	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", m.err)) + "\n"
		s += helpStyle.Render("q Quit")
		return s
	}
	if m.profiles == nil {
		return s + "Loading profiles...\n"
	}

	s += "Choose a profile:\n\n"
	for i, p := range m.profiles {
		cursor := "  "
		item := fmt.Sprintf("%-10s %s", p.ID, statusStyle.Render(p.Profile.Description))
		if i == m.cursor {
			cursor = "> "
			item = lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%-10s", p.ID)) +
				" " + statusStyle.Render(p.Profile.Description)
		}
		s += cursor + item + "\n"
	}

	s += helpStyle.Render("\n↑/↓ Navigate  Enter Extract text  q Quit")
	return s
}
