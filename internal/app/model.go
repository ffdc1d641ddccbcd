package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"

	"localops/internal/logging"
	"localops/internal/runwatch"
	"localops/internal/sanitizer"
)

const (
	defaultLogLines   = 2000
	commandTimeout    = 15 * time.Second
	toastDuration     = 4 * time.Second
	minViewportWidth  = 20
	minContentHeight  = 12
	maxStepRows       = 8
	statusLinePadding = 1
)

// RunSession is the part of a run session the UI drives.
type RunSession interface {
	RunID() int64
	Updates() <-chan runwatch.View
	View() runwatch.View
	Refresh()
	Approve(ctx context.Context) error
	Cancel(ctx context.Context) error
}

type Options struct {
	// LogLines caps how many of the most recent log lines are rendered.
	LogLines int
	Logger   logging.Logger
	// DarkBackground selects the markdown palette.
	DarkBackground bool
}

type Model struct {
	session   RunSession
	logger    logging.Logger
	sanitizer sanitizer.InputSanitizer
	clipboard clipboardWriter

	view      runwatch.View
	logs      viewport.Model
	detail    viewport.Model
	tab       detailTab
	follow    bool
	logLimit  int
	logLines  []string
	dark      bool
	detailKey detailCacheKey

	width  int
	height int

	confirmCancel bool
	pending       runwatch.Command
	toast         string
	toastIsError  bool
	toastUntil    time.Time
	closed        bool
}

type viewMsg struct {
	view runwatch.View
	ok   bool
}

type commandResultMsg struct {
	command runwatch.Command
	err     error
}

type toastExpiredMsg struct{}

func NewModel(session RunSession, opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.LogLines <= 0 {
		opts.LogLines = defaultLogLines
	}
	logs := viewport.New(minViewportWidth, 1)
	detail := viewport.New(minViewportWidth, 1)
	m := Model{
		session:   session,
		logger:    opts.Logger.With(logging.F("run_id", session.RunID())),
		sanitizer: sanitizer.NewTerminalSanitizer(sanitizer.LogLineConfig()),
		clipboard: newClipboardWriter(),
		logs:      logs,
		detail:    detail,
		tab:       tabArtifacts,
		follow:    true,
		logLimit:  opts.LogLines,
		dark:      opts.DarkBackground,
	}
	m.applyView(session.View())
	return m
}

func Run(session RunSession, opts Options) error {
	opts.DarkBackground = lipgloss.HasDarkBackground()
	model := NewModel(session, opts)
	p := tea.NewProgram(&model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return waitForViewCmd(m.session.Updates())
}

func waitForViewCmd(updates <-chan runwatch.View) tea.Cmd {
	return func() tea.Msg {
		view, ok := <-updates
		return viewMsg{view: view, ok: ok}
	}
}

func commandCmd(session RunSession, command runwatch.Command) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		var err error
		switch command {
		case runwatch.CommandApprove:
			err = session.Approve(ctx)
		case runwatch.CommandCancel:
			err = session.Cancel(ctx)
		}
		return commandResultMsg{command: command, err: err}
	}
}

func toastExpiryCmd() tea.Cmd {
	return tea.Tick(toastDuration, func(time.Time) tea.Msg {
		return toastExpiredMsg{}
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case viewMsg:
		if !msg.ok {
			m.closed = true
			return m, m.setToast("session closed", true)
		}
		m.applyView(msg.view)
		return m, waitForViewCmd(m.session.Updates())
	case commandResultMsg:
		m.pending = ""
		if msg.err != nil {
			m.logger.Warn("ui_command_failed", logging.F("command", string(msg.command)), logging.Err(msg.err))
			return m, m.setToast(msg.err.Error(), true)
		}
		m.logger.Info("ui_command_sent", logging.F("command", string(msg.command)))
		return m, m.setToast(string(msg.command)+" sent", false)
	case toastExpiredMsg:
		if !m.toastUntil.IsZero() && !time.Now().Before(m.toastUntil) {
			m.toast = ""
			m.toastIsError = false
			m.toastUntil = time.Time{}
		}
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		m.follow = m.logs.AtBottom()
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()
	if m.confirmCancel {
		m.confirmCancel = false
		if key == "y" || key == "Y" {
			return m.dispatch(runwatch.CommandCancel)
		}
		return m.setToast("cancel aborted", false)
	}
	switch key {
	case "q", "ctrl+c":
		return tea.Quit
	case "a":
		return m.dispatch(runwatch.CommandApprove)
	case "c":
		if m.closed {
			return m.setToast("session closed", true)
		}
		m.confirmCancel = true
		return nil
	case "r":
		m.session.Refresh()
		return m.setToast("refreshing", false)
	case "tab":
		m.tab = m.tab.next()
		m.renderDetail()
		return nil
	case "shift+tab":
		m.tab = m.tab.prev()
		m.renderDetail()
		return nil
	case "y":
		return m.copyLogs()
	case "f":
		m.follow = !m.follow
		if m.follow {
			m.logs.GotoBottom()
		}
		return nil
	case "pgdown", "pgup", "up", "down", "k", "j", "home", "end":
		var cmd tea.Cmd
		m.logs, cmd = m.logs.Update(msg)
		m.follow = m.logs.AtBottom()
		return cmd
	case "J", "K":
		if key == "J" {
			m.detail.SetYOffset(m.detail.YOffset + 1)
		} else {
			m.detail.SetYOffset(m.detail.YOffset - 1)
		}
		return nil
	}
	return nil
}

func (m *Model) dispatch(command runwatch.Command) tea.Cmd {
	if m.closed {
		return m.setToast("session closed", true)
	}
	if m.pending != "" {
		return m.setToast(string(m.pending)+" in progress", false)
	}
	m.pending = command
	return commandCmd(m.session, command)
}

func (m *Model) copyLogs() tea.Cmd {
	if len(m.view.Logs) == 0 {
		return m.setToast("no logs to copy", false)
	}
	text := strings.Join(sanitizer.Lines(m.sanitizer, m.view.Logs), "\n")
	method, err := m.clipboard.Copy(text)
	if err != nil {
		return m.setToast("copy failed: "+err.Error(), true)
	}
	return m.setToast(fmt.Sprintf("copied %d log lines to %s", len(m.view.Logs), method), false)
}

func (m *Model) setToast(text string, isError bool) tea.Cmd {
	m.toast = text
	m.toastIsError = isError
	m.toastUntil = time.Now().Add(toastDuration)
	return toastExpiryCmd()
}

func (m *Model) applyView(view runwatch.View) {
	prevSteps := 0
	if m.view.Run != nil {
		prevSteps = len(m.view.Run.Steps)
	}
	m.view = view
	m.appendLogs(view.Logs)
	steps := 0
	if view.Run != nil {
		steps = len(view.Run.Steps)
	}
	if steps != prevSteps && m.height > 0 {
		m.resize(m.width, m.height)
		return
	}
	m.renderDetail()
}

// appendLogs sanitizes only the lines not seen yet; the buffer behind the
// view never changes lines it already handed out.
func (m *Model) appendLogs(lines []string) {
	if len(lines) < len(m.logLines) {
		m.logLines = nil
	}
	if len(lines) == len(m.logLines) && len(lines) > 0 {
		return
	}
	for _, line := range lines[len(m.logLines):] {
		m.logLines = append(m.logLines, m.sanitizer.Sanitize(line))
	}
	m.renderLogs()
}

func (m *Model) renderLogs() {
	lines := m.logLines
	if len(lines) > m.logLimit {
		lines = lines[len(lines)-m.logLimit:]
	}
	if len(lines) == 0 {
		m.logs.SetContent(placeholderStyle.Render("Waiting for logs..."))
		return
	}
	width := max(1, m.logs.Width)
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = xansi.Truncate(line, width, "…")
	}
	m.logs.SetContent(strings.Join(out, "\n"))
	if m.follow {
		m.logs.GotoBottom()
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	contentWidth := max(minViewportWidth, width)
	contentHeight := max(minContentHeight, height)

	// header, error line, steps title, step rows, logs title, tab bar, status line
	fixed := 1 + 1 + 1 + m.stepRows() + 1 + 1 + 1
	remaining := max(2, contentHeight-fixed)
	logHeight := max(1, remaining/2)
	detailHeight := max(1, remaining-logHeight)

	m.logs.Width = contentWidth
	m.logs.Height = logHeight
	m.detail.Width = contentWidth
	m.detail.Height = detailHeight
	m.detailKey = detailCacheKey{}
	m.renderLogs()
	m.renderDetail()
}

func (m *Model) stepRows() int {
	if m.view.Run == nil || len(m.view.Run.Steps) == 0 {
		return 1
	}
	return min(len(m.view.Run.Steps), maxStepRows)
}

func (m *Model) View() string {
	width := max(minViewportWidth, m.width)
	sections := []string{
		m.renderHeader(width),
		m.renderErrorLine(width),
		sectionStyle.Render("Steps"),
		m.renderSteps(width),
		sectionStyle.Render("Logs") + m.followIndicator(),
		m.logs.View(),
		m.renderTabBar(),
		m.detail.View(),
		m.renderStatusLine(width),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) followIndicator() string {
	if m.follow {
		return helpStyle.Render("  following")
	}
	return helpStyle.Render("  paused")
}

func (m *Model) renderStatusLine(width int) string {
	help := helpStyle.Render("a approve  c cancel  r refresh  tab switch  y copy logs  f follow  q quit")
	status := ""
	switch {
	case m.confirmCancel:
		status = confirmStyle.Render(fmt.Sprintf("cancel run %d? y/n", m.view.RunID))
	case m.pending != "":
		status = statusStyle.Render(string(m.pending) + "...")
	case m.toast != "" && m.toastIsError:
		status = toastErrorStyle.Render(" " + m.toast + " ")
	case m.toast != "":
		status = toastInfoStyle.Render(" " + m.toast + " ")
	}
	return renderStatusLine(width, help, status)
}

func renderStatusLine(width int, help, status string) string {
	if width <= 0 {
		return help + " " + status
	}
	helpWidth := lipgloss.Width(help)
	statusWidth := lipgloss.Width(status)
	if helpWidth+statusWidth+statusLinePadding > width {
		help = xansi.Truncate(help, max(0, width-statusWidth-statusLinePadding), "…")
		helpWidth = lipgloss.Width(help)
	}
	padding := max(statusLinePadding, width-helpWidth-statusWidth)
	return help + strings.Repeat(" ", padding) + status
}
