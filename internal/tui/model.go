package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"askdoc/internal/client"
)

type (
	cacheChangedMsg struct{}
	pagesLoadedMsg  struct{ err error }
	olderLoadedMsg  struct {
		more bool
		err  error
	}
	sendDoneMsg struct{ err error }
)

// Model is the Bubble Tea model for a chat about one document. The message list is
// always rendered from the cache, so optimistic and streamed entries show up as the
// controller writes them.
type Model struct {
	ctx        context.Context
	title      string
	controller *client.Controller
	cache      *client.MessageCache
	changes    chan struct{}

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	status   string
	ready    bool
	sending  bool
}

func New(ctx context.Context, title string, controller *client.Controller, cache *client.MessageCache) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the document and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = thinkingStyle

	changes := make(chan struct{}, 1)
	cache.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	return Model{
		ctx:        ctx,
		title:      title,
		controller: controller,
		cache:      cache,
		changes:    changes,
		input:      ti,
		viewport:   viewport.New(0, 0),
		spinner:    sp,
		status:     "Loading conversation...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForChange(), m.loadPages())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := messageBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input line, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case cacheChangedMsg:
		m.refresh()
		return m, m.waitForChange()

	case pagesLoadedMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else if !m.sending {
			m.status = "Ready."
		}
		m.refresh()
		return m, nil

	case olderLoadedMsg:
		switch {
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		case !msg.more:
			m.status = "Start of conversation."
		}
		return m, nil

	case sendDoneMsg:
		m.sending = false
		switch {
		case msg.err == nil:
			m.status = "Ready."
		case errors.Is(msg.err, client.ErrStreamInterrupted):
			m.status = "Answer interrupted. Showing what was saved."
		default:
			m.status = "Send failed: " + msg.err.Error()
			m.input.SetValue(m.controller.Input())
			m.input.CursorEnd()
		}
		return m, m.loadPages()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.controller.Thinking() {
			m.refresh()
		}
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.sending || strings.TrimSpace(m.input.Value()) == "" {
				return m, nil
			}
			m.controller.SetInput(m.input.Value())
			m.input.SetValue("")
			m.sending = true
			m.status = "Sending..."
			return m, m.send()
		case tea.KeyPgUp:
			if m.viewport.AtTop() {
				return m, m.loadOlder()
			}
			m.viewport.HalfPageUp()
			return m, nil
		case tea.KeyPgDown:
			m.viewport.HalfPageDown()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render(m.title)
	messages := messageBoxStyle.Render(m.viewport.View())
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + messages + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderConversation(m.cache.Peek(), m.controller.Thinking(), m.spinner.View(), m.viewport.Width))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) waitForChange() tea.Cmd {
	changes := m.changes
	return func() tea.Msg {
		<-changes
		return cacheChangedMsg{}
	}
}

func (m Model) loadPages() tea.Cmd {
	ctx, cache := m.ctx, m.cache
	return func() tea.Msg {
		_, err := cache.Pages(ctx)
		return pagesLoadedMsg{err: err}
	}
}

func (m Model) loadOlder() tea.Cmd {
	ctx, cache := m.ctx, m.cache
	return func() tea.Msg {
		more, err := cache.FetchNextPage(ctx)
		return olderLoadedMsg{more: more, err: err}
	}
}

func (m Model) send() tea.Cmd {
	ctx, controller := m.ctx, m.controller
	return func() tea.Msg {
		return sendDoneMsg{err: controller.Send(ctx)}
	}
}

// renderConversation lays messages out oldest first. A pending assistant turn with no
// text yet is shown as the thinking indicator.
func renderConversation(pages []client.Page, thinking bool, indicator string, width int) string {
	var msgs []client.CachedMessage
	for i := len(pages) - 1; i >= 0; i-- {
		page := pages[i].Messages
		for j := len(page) - 1; j >= 0; j-- {
			msgs = append(msgs, page[j])
		}
	}
	if len(msgs) == 0 && !thinking {
		return emptyStyle.Render("No messages yet.")
	}

	wrap := lipgloss.NewStyle().Width(max(10, width-4))
	var b strings.Builder
	answered := false
	for _, msg := range msgs {
		label := assistantLabel
		if msg.Role == client.RoleUser {
			label = userLabel
		} else if msg.Kind == client.KindProvisional {
			answered = true
		}
		text := msg.Text
		if msg.Kind == client.KindProvisional {
			text = provisionalStyle.Render(text)
		}
		fmt.Fprintf(&b, "%s\n%s\n\n", label, wrap.Render(text))
	}
	if thinking && !answered {
		fmt.Fprintf(&b, "%s\n%s thinking\n", assistantLabel, indicator)
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	headerStyle      = lipgloss.NewStyle().Bold(true)
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	thinkingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	emptyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	provisionalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	messageBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	userLabel      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Render("You")
	assistantLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")).Render("Assistant")
)
