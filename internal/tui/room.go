package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/journal"
	"github.com/ashureev/twochairs/internal/room"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RoomSession is what the therapist-room screen drives.
type RoomSession interface {
	Send(ctx context.Context, raw string) (*room.Reply, error)
	NewSession(ctx context.Context) error
	SyncLog(ctx context.Context) ([]domain.TranscriptEntry, error)
	History(ctx context.Context) ([]domain.TranscriptEntry, error)
	Locked() bool
	Alert() *domain.Alert
}

type sendDoneMsg struct {
	text  string
	reply *room.Reply
	err   error
}

type newSessionDoneMsg struct {
	err error
}

type syncDoneMsg struct {
	entries []domain.TranscriptEntry
	err     error
}

// RoomModel is the bubbletea model of the therapist room.
type RoomModel struct {
	ctx     context.Context
	session RoomSession
	health  HealthFunc

	lines      []line
	statusLine string
	errLine    string
	inflight   bool

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme
}

// NewRoomModel builds the therapist-room screen.
func NewRoomModel(ctx context.Context, session RoomSession, health HealthFunc, maxTextLen int) RoomModel {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = maxTextLen
	input.Placeholder = "Share what's on your mind..."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return RoomModel{
		ctx:        ctx,
		session:    session,
		health:     health,
		statusLine: "connecting...",
		input:      input,
		timeline:   viewport.New(0, 0),
		spinner:    sp,
		theme:      newTheme(),
	}
}

func (m RoomModel) Init() tea.Cmd {
	ctx, session, health := m.ctx, m.session, m.health
	return tea.Batch(
		textinput.Blink,
		func() tea.Msg {
			if health == nil {
				return healthDoneMsg{}
			}
			return healthDoneMsg{err: health(ctx)}
		},
		func() tea.Msg {
			entries, err := session.History(ctx)
			return historyLoadedMsg{entries: entries, err: err}
		},
	)
}

func (m RoomModel) sendCmd(text string) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		reply, err := session.Send(ctx, text)
		return sendDoneMsg{text: text, reply: reply, err: err}
	}
}

func (m RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.timeline.Width = max(m.width-2, 20)
		m.timeline.Height = max(m.height-12, 5)
		m.input.Width = m.timeline.Width - 6
		m.render()
	case healthDoneMsg:
		if msg.err != nil {
			m.statusLine = "server unreachable"
			m.errLine = msg.err.Error()
		} else {
			m.statusLine = "connected"
		}
	case historyLoadedMsg:
		if msg.err == nil && len(m.lines) == 0 {
			m.setEntries(msg.entries)
		}
	case sendDoneMsg:
		m.inflight = false
		m.applySend(msg)
	case newSessionDoneMsg:
		m.inflight = false
		m.lines = nil
		if msg.err != nil {
			m.errLine = msg.err.Error()
		} else {
			m.errLine = ""
			m.statusLine = "new session"
		}
		m.input.Focus()
		m.render()
	case syncDoneMsg:
		m.inflight = false
		if msg.err != nil {
			m.errLine = "could not load the log: " + msg.err.Error()
			break
		}
		m.setEntries(msg.entries)
		m.statusLine = "log synced"
	case spinner.TickMsg:
		if m.inflight {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+n":
			if m.inflight {
				return m, nil
			}
			m.inflight = true
			ctx, session := m.ctx, m.session
			return m, func() tea.Msg { return newSessionDoneMsg{err: session.NewSession(ctx)} }
		case "ctrl+l":
			if m.inflight {
				return m, nil
			}
			m.inflight = true
			ctx, session := m.ctx, m.session
			return m, tea.Batch(m.spinner.Tick, func() tea.Msg {
				entries, err := session.SyncLog(ctx)
				return syncDoneMsg{entries: entries, err: err}
			})
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.inflight || m.session.Locked() {
				return m, nil
			}
			m.inflight = true
			m.statusLine = "Lumen is thinking..."
			return m, tea.Batch(m.spinner.Tick, m.sendCmd(text))
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *RoomModel) applySend(msg sendDoneMsg) {
	switch {
	case errors.Is(msg.err, domain.ErrEmptyText), errors.Is(msg.err, domain.ErrTextTooLong),
		errors.Is(msg.err, room.ErrBusy), errors.Is(msg.err, room.ErrReset):
		m.statusLine = "not sent"
		return
	case msg.err != nil:
		m.errLine = "could not reach the server, your text is still here: " + msg.err.Error()
		m.statusLine = "send failed"
		return
	}
	m.errLine = ""
	m.lines = append(m.lines, line{role: domain.RoleSelf, text: msg.text})
	m.input.Reset()
	if msg.reply.Alert != nil {
		m.statusLine = "safety check"
		if m.session.Locked() {
			m.input.Blur()
		}
	} else {
		m.lines = append(m.lines, line{role: domain.RoleLumen, text: msg.reply.Text})
		m.statusLine = "connected"
	}
	m.render()
}

func (m *RoomModel) setEntries(entries []domain.TranscriptEntry) {
	m.lines = m.lines[:0]
	for _, e := range entries {
		m.lines = append(m.lines, line{role: e.Role, text: e.Text})
	}
	m.render()
}

func (m *RoomModel) render() {
	m.timeline.SetContent(renderLines(m.theme, m.lines, journal.Label, m.timeline.Width))
	m.timeline.GotoBottom()
}

func (m RoomModel) View() string {
	status := m.theme.status.Render(m.statusLine)
	if m.inflight {
		status = m.spinner.View() + " " + status
	}
	parts := []string{
		m.theme.header.Render("Therapist Room  " + status),
		m.timeline.View(),
	}
	if alert := m.session.Alert(); alert != nil {
		parts = append(parts, renderAlert(m.theme, alert, "ctrl+n"))
	}
	if m.errLine != "" {
		parts = append(parts, m.theme.errorStatus.Render(m.errLine))
	}
	parts = append(parts,
		m.theme.inputPanel.Render(m.input.View()),
		m.theme.footer.Render("enter send · ctrl+l sync log · ctrl+n new session · esc quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
