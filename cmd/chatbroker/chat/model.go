package chatcmder

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/chatbroker/pkg/llm"
)

// askFunc sends one message through the broker and waits for the reply.
type askFunc func(ctx context.Context, message string) (*llm.OutboundResponse, error)

type replyMsg struct {
	resp *llm.OutboundResponse
	err  error
}

type entry struct {
	role   llm.Role
	text   string
	failed bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Rows taken by the header and by the status line plus input.
const (
	headerLines = 2
	footerLines = 3
)

type model struct {
	ctx      context.Context
	ask      askFunc
	session  string
	style    string
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	entries  []entry
	waiting  bool
	width    int
}

func newModel(ctx context.Context, ask askFunc, session, style string) model {
	input := textinput.New()
	input.Placeholder = "Describe your symptoms..."
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	return model{
		ctx:      ctx,
		ask:      ask,
		session:  session,
		style:    style,
		input:    input,
		viewport: viewport.New(80, 20),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		width:    80,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case replyMsg:
		m.waiting = false
		switch {
		case msg.err != nil:
			m.entries = append(m.entries, entry{role: llm.RoleAssistant, text: msg.err.Error(), failed: true})
		case msg.resp.Failed():
			m.entries = append(m.entries, entry{role: llm.RoleAssistant, text: msg.resp.Error, failed: true})
		default:
			m.entries = append(m.entries, entry{role: llm.RoleAssistant, text: strings.TrimSpace(msg.resp.Response)})
		}
		m.refresh()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerLines-footerLines, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.renderer = nil
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
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

func (m model) submit() (tea.Model, tea.Cmd) {
	message := strings.TrimSpace(m.input.Value())
	if m.waiting || message == "" {
		return m, nil
	}

	m.entries = append(m.entries, entry{role: llm.RoleUser, text: message})
	m.waiting = true
	m.input.Reset()
	m.refresh()

	return m, tea.Batch(m.send(message), m.spinner.Tick)
}

func (m model) send(message string) tea.Cmd {
	ask, ctx := m.ask, m.ctx
	return func() tea.Msg {
		resp, err := ask(ctx, message)
		return replyMsg{resp: resp, err: err}
	}
}

// refresh re-renders the conversation into the viewport and scrolls to the
// newest message.
func (m *model) refresh() {
	var b strings.Builder
	for _, e := range m.entries {
		switch {
		case e.role == llm.RoleUser:
			b.WriteString(userStyle.Render("You: ") + e.text + "\n\n")
		case e.failed:
			b.WriteString(errorStyle.Render(e.text) + "\n\n")
		default:
			b.WriteString(m.markdown(e.text) + "\n")
		}
	}

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// markdown renders an assistant reply, falling back to the raw text.
func (m *model) markdown(text string) string {
	if m.renderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.style),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		if err != nil {
			return text
		}
		m.renderer = r
	}

	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}

func (m model) View() string {
	header := titleStyle.Render("chatbroker") + " " + mutedStyle.Render("session "+m.session)

	status := mutedStyle.Render("enter to send, esc to quit")
	if m.waiting {
		status = fmt.Sprintf("%s %s", m.spinner.View(), mutedStyle.Render("waiting for reply..."))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		"",
		m.viewport.View(),
		status,
		m.input.View(),
	)
}
