// Package tui is the interactive chat front end for ragd.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nickcecere/ragd/internal/rag"
	"github.com/nickcecere/ragd/internal/ui"
)

// Answerer is the part of the RAG service the chat needs.
type Answerer interface {
	Answer(ctx context.Context, query string, k int) (*rag.Result, error)
}

// Renderer turns answer markdown into terminal output. Nil leaves the text
// as is.
type Renderer func(markdown string, width int) string

type exchange struct {
	question string
	result   *rag.Result
	err      error
}

type answerMsg struct {
	question string
	result   *rag.Result
	err      error
}

// Model is the Bubble Tea model for the chat.
type Model struct {
	ctx      context.Context
	service  Answerer
	k        int
	render   Renderer
	title    string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	history  []exchange
	pending  string
	width    int
	ready    bool
}

// New creates a chat model. k is passed to every Answer call.
func New(ctx context.Context, service Answerer, k int, title string, render Renderer) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 1000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ui.ColorHighlight)

	return Model{
		ctx:      ctx,
		service:  service,
		k:        k,
		render:   render,
		title:    title,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
	}
}

// Init starts the cursor blink.
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles input, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, fh := boxStyle.GetFrameSize()
		// title + status + input box
		reserved := 2 + 3
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-fh)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending != "" {
				return m, nil
			}
			m.pending = q
			m.input.SetValue("")
			m.refresh()
			return m, tea.Batch(m.spinner.Tick, m.ask(q))
		}

	case answerMsg:
		m.pending = ""
		m.history = append(m.history, exchange{question: msg.question, result: msg.result, err: msg.err})
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.service.Answer(m.ctx, q, m.k)
		return answerMsg{question: q, result: res, err: err}
	}
}

// View renders the transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	status := ui.Dim.Render("Enter to ask, up/down to scroll, Esc to quit")
	if m.pending != "" {
		status = m.spinner.View() + " Thinking..."
	}

	return ui.Header.Render(m.title) + "\n" +
		boxStyle.Width(max(20, m.width-2)).Render(m.viewport.View()) + "\n" +
		m.input.View() + "\n" +
		status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	if len(m.history) == 0 && m.pending == "" {
		return ui.Dim.Render("No questions yet.")
	}

	width := max(20, m.viewport.Width-4)
	var sb strings.Builder
	for _, ex := range m.history {
		sb.WriteString(questionStyle.Render("You: "+ex.question) + "\n\n")
		if ex.err != nil {
			sb.WriteString(ui.Error.Render("Error: "+ex.err.Error()) + "\n\n")
			continue
		}
		sb.WriteString(m.renderAnswer(ex.result.Answer, width) + "\n")
		if s := FormatSources(ex.result); s != "" {
			sb.WriteString(s + "\n")
		}
		sb.WriteString("\n")
	}
	if m.pending != "" {
		sb.WriteString(questionStyle.Render("You: "+m.pending) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m Model) renderAnswer(text string, width int) string {
	if m.render != nil {
		return strings.TrimRight(m.render(text, width), "\n")
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

// FormatSources lists the retrieved sources, starring the cited ones.
func FormatSources(res *rag.Result) string {
	if res == nil || len(res.Sources) == 0 {
		return ""
	}

	used := make(map[int]bool, len(res.UsedSourceIndexes))
	for _, i := range res.UsedSourceIndexes {
		used[i] = true
	}

	lines := []string{ui.Dim.Render("Sources:")}
	for i, src := range res.Sources {
		label := src.ID
		if v, ok := src.Metadata["source"]; ok {
			label = fmt.Sprint(v)
		}
		if label == "" {
			label = "untitled"
		}
		line := fmt.Sprintf("  [%d] %s %s", i+1, label, ui.Dim.Render(fmt.Sprintf("(%.3f)", src.Distance)))
		if used[i+1] {
			line = ui.Citation.Render(fmt.Sprintf("* [%d]", i+1)) + fmt.Sprintf(" %s %s", label, ui.Dim.Render(fmt.Sprintf("(%.3f)", src.Distance)))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

var (
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle = lipgloss.NewStyle().Foreground(ui.ColorSecondary).Bold(true)
)
