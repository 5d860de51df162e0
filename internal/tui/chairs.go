package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/twochairs/internal/chairs"
	"github.com/ashureev/twochairs/internal/domain"
	"github.com/ashureev/twochairs/internal/journal"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ChairsSession is what the two-chairs screen drives.
type ChairsSession interface {
	Submit(ctx context.Context, raw string) (chairs.Result, error)
	Reset(ctx context.Context) error
	Snapshot() chairs.Snapshot
	Entries(ctx context.Context) ([]domain.TranscriptEntry, error)
}

// HealthFunc probes the server; nil skips the probe.
type HealthFunc func(ctx context.Context) error

type submitDoneMsg struct {
	text string
	res  chairs.Result
	err  error
}

type resetDoneMsg struct {
	err error
}

type healthDoneMsg struct {
	err error
}

type historyLoadedMsg struct {
	entries []domain.TranscriptEntry
	err     error
}

// ChairsModel is the bubbletea model of the two-chairs dialogue.
type ChairsModel struct {
	ctx     context.Context
	session ChairsSession
	health  HealthFunc

	lines      []line
	statusLine string
	errLine    string
	inflight   bool
	threshold  int
	suggestIdx int

	width  int
	height int

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	theme    uiTheme
}

// NewChairsModel builds the two-chairs screen.
func NewChairsModel(ctx context.Context, session ChairsSession, health HealthFunc, maxTextLen, threshold int) ChairsModel {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = maxTextLen
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	if threshold <= 0 {
		threshold = domain.DefaultStepThreshold
	}

	m := ChairsModel{
		ctx:        ctx,
		session:    session,
		health:     health,
		statusLine: "connecting...",
		threshold:  threshold,
		input:      input,
		timeline:   viewport.New(0, 0),
		spinner:    sp,
		theme:      newTheme(),
	}
	m.syncPlaceholder()
	return m
}

func (m ChairsModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.healthCmd(), m.historyCmd())
}

func (m ChairsModel) healthCmd() tea.Cmd {
	if m.health == nil {
		return func() tea.Msg { return healthDoneMsg{} }
	}
	ctx, health := m.ctx, m.health
	return func() tea.Msg {
		return healthDoneMsg{err: health(ctx)}
	}
}

func (m ChairsModel) historyCmd() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		entries, err := session.Entries(ctx)
		return historyLoadedMsg{entries: entries, err: err}
	}
}

func (m ChairsModel) submitCmd(text string) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		res, err := session.Submit(ctx, text)
		return submitDoneMsg{text: text, res: res, err: err}
	}
}

func (m ChairsModel) resetCmd() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		return resetDoneMsg{err: session.Reset(ctx)}
	}
}

func (m ChairsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
	case healthDoneMsg:
		if msg.err != nil {
			m.statusLine = "server unreachable"
			m.errLine = msg.err.Error()
		} else {
			m.statusLine = "connected"
		}
	case historyLoadedMsg:
		if msg.err == nil && len(m.lines) == 0 {
			for _, e := range msg.entries {
				m.lines = append(m.lines, line{role: e.Role, text: e.Text})
			}
			m.render()
		}
	case submitDoneMsg:
		m.inflight = false
		m.applySubmit(msg)
	case resetDoneMsg:
		m.inflight = false
		m.lines = nil
		m.suggestIdx = 0
		if msg.err != nil {
			m.errLine = "new session will start with your next message: " + msg.err.Error()
		} else {
			m.errLine = ""
			m.statusLine = "new session"
		}
		m.input.Focus()
		m.render()
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
		case "ctrl+r":
			if m.inflight {
				return m, nil
			}
			m.inflight = true
			m.statusLine = "starting over..."
			return m, tea.Batch(m.spinner.Tick, m.resetCmd())
		case "tab":
			m.cycleSuggestion()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.inflight || m.session.Snapshot().Locked() {
				return m, nil
			}
			m.inflight = true
			m.statusLine = "listening..."
			if m.session.Snapshot().Turn.SynthesisDue(m.threshold) {
				m.statusLine = "Lumen is reflecting..."
			}
			return m, tea.Batch(m.spinner.Tick, m.submitCmd(text))
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *ChairsModel) applySubmit(msg submitDoneMsg) {
	if msg.err != nil {
		m.errLine = "could not reach the server, your text is still here: " + msg.err.Error()
		m.statusLine = "send failed"
		return
	}
	m.errLine = ""
	res := msg.res
	if res.Outcome == chairs.OutcomeSkipped {
		m.statusLine = "not sent (" + res.Skip.String() + ")"
		return
	}

	m.lines = append(m.lines, line{role: res.Role, text: msg.text})
	m.input.Reset()
	m.suggestIdx = 0
	switch res.Outcome {
	case chairs.OutcomeAwaitMore:
		m.statusLine = fmt.Sprintf("now %s speaks", journal.Label(res.Turn.Role))
	case chairs.OutcomeComplete:
		if res.Reply != "" {
			m.lines = append(m.lines, line{role: domain.RoleLumen, text: res.Reply})
		}
		m.statusLine = "round complete"
	case chairs.OutcomeCrisis:
		m.statusLine = "paused for your safety"
		m.input.Blur()
	}
	m.syncPlaceholder()
	m.render()
}

func (m *ChairsModel) cycleSuggestion() {
	snap := m.session.Snapshot()
	if len(snap.Suggestions) == 0 || snap.Turn.Role != domain.RoleSelf {
		return
	}
	m.input.SetValue(snap.Suggestions[m.suggestIdx%len(snap.Suggestions)])
	m.input.CursorEnd()
	m.suggestIdx++
}

func (m *ChairsModel) syncPlaceholder() {
	if m.session.Snapshot().Turn.Role == domain.RoleMonster {
		m.input.Placeholder = "Let the monster speak..."
	} else {
		m.input.Placeholder = "Speak as yourself..."
	}
}

func (m *ChairsModel) layout() {
	w := max(m.width-2, 20)
	m.input.Width = w - 6
	m.timeline.Width = w
	m.timeline.Height = max(m.height-16, 5)
	m.render()
}

func (m *ChairsModel) render() {
	m.timeline.SetContent(renderLines(m.theme, m.lines, journal.Label, m.timeline.Width))
	m.timeline.GotoBottom()
}

func (m ChairsModel) View() string {
	snap := m.session.Snapshot()

	turn := fmt.Sprintf("Speaking as %s · step %d/%d", journal.Label(snap.Turn.Role), snap.Turn.Steps, m.threshold)
	status := m.theme.status.Render(m.statusLine)
	if m.inflight {
		status = m.spinner.View() + " " + status
	}
	header := m.theme.header.Render(lipgloss.JoinHorizontal(lipgloss.Top, "Two Chairs  ", turn, "  ", status))

	var side string
	switch {
	case snap.Alert != nil:
		side = renderAlert(m.theme, snap.Alert, "ctrl+r")
	case snap.Referral != "":
		side = m.theme.panel.Render(m.theme.panelTitle.Render(snap.Referral) + "\n" +
			"Run `twochairs room` to talk one-on-one, or keep going here.")
	case snap.Turn.Role == domain.RoleMonster:
		side = m.theme.panel.Render(m.theme.panelTitle.Render("Giving the monster a voice") + "\n" + bullets(chairs.MonsterGuide()))
	case len(snap.Suggestions) > 0:
		side = m.theme.panel.Render(m.theme.panelTitle.Render("Ideas to answer with (tab)") + "\n" + bullets(snap.Suggestions))
	}

	parts := []string{header, m.timeline.View()}
	if side != "" {
		parts = append(parts, side)
	}
	if m.errLine != "" {
		parts = append(parts, m.theme.errorStatus.Render(m.errLine))
	}
	parts = append(parts,
		m.theme.inputPanel.Render(m.input.View()),
		m.theme.footer.Render("enter send · tab suggestion · ctrl+r new session · esc quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func bullets(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("• " + it)
	}
	return b.String()
}
