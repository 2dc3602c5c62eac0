package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	cursor "github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/kong/agentchat/internal/chat/message"
	"github.com/kong/agentchat/internal/chat/reducer"
	"github.com/kong/agentchat/internal/chat/render"
	"github.com/kong/agentchat/internal/chat/session"
	"github.com/kong/agentchat/internal/chat/transport"
	"github.com/kong/agentchat/internal/chat/validation"
	"github.com/kong/agentchat/internal/iostreams"
	applog "github.com/kong/agentchat/internal/log"
	"github.com/kong/agentchat/internal/meta"
	"github.com/kong/agentchat/internal/theme"
)

// Controller is the session surface the chat view drives.
type Controller interface {
	Submit(content string) error
	Retry(messageID string) error
	Cancel() error
	Clear() error
	Snapshot() reducer.Snapshot
	Connection() transport.Status
	Updates() <-chan reducer.Snapshot
	Done() <-chan struct{}
}

// Options configure the interactive chat experience.
type Options struct {
	UseColor         bool
	Version          string
	BaseURL          string
	WorkingDirectory string
	TranscriptDir    string
	Theme            theme.Palette
}

const (
	defaultPrompt      = "Send a message... Enter to send, Ctrl+C to exit"
	promptSymbol       = "› "
	promptMinHeight    = 1
	promptMaxHeight    = 8
	defaultPromptWidth = 60
	activityRows       = 8
	helpText           = "ctrl+r retry · ctrl+t cancel · ctrl+l clear · ctrl+a activity"
)

type styles struct {
	header   lipgloss.Style
	status   lipgloss.Style
	thinking lipgloss.Style
	notice   lipgloss.Style
	errText  lipgloss.Style
	muted    lipgloss.Style
	border   lipgloss.Style
	prompt   lipgloss.AdaptiveColor
}

func buildStyles(p theme.Palette) styles {
	return styles{
		header: p.ForegroundStyle(theme.ColorAccent).Bold(true),
		status: lipgloss.NewStyle().
			Foreground(p.Adaptive(theme.ColorSuccessText)).
			Background(p.Adaptive(theme.ColorSuccess)),
		thinking: p.ForegroundStyle(theme.ColorWarning),
		notice:   p.ForegroundStyle(theme.ColorNotice).Italic(true),
		errText:  p.ForegroundStyle(theme.ColorDanger),
		muted:    p.ForegroundStyle(theme.ColorTextMuted),
		border:   p.ForegroundStyle(theme.ColorBorder),
		prompt:   p.Adaptive(theme.ColorAccent),
	}
}

type model struct {
	ctx        context.Context
	opts       Options
	controller Controller
	styles     styles

	input        textarea.Model
	spinner      spinner.Model
	viewport     viewport.Model
	snap         reducer.Snapshot
	conn         transport.Status
	inputErr     string
	showActivity bool
	width        int
	height       int
	ready        bool
}

type (
	snapshotMsg     struct{ snap reducer.Snapshot }
	sessionDoneMsg  struct{}
	intentResultMsg struct {
		intent string
		err    error
	}
)

// Run launches the interactive chat. It returns when the user quits or the
// controller stops.
func Run(ctx context.Context, streams *iostreams.IOStreams, controller Controller, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := applog.FromContext(ctx)
	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "chat ui start",
			slog.String("base_url", opts.BaseURL),
			slog.String("working_directory", opts.WorkingDirectory))
	}

	m := newModel(ctx, controller, opts)
	program := tea.NewProgram(m,
		tea.WithInput(streams.In),
		tea.WithOutput(streams.Out),
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
		tea.WithContext(ctx),
	)
	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}

	if logger != nil {
		logger.LogAttrs(ctx, slog.LevelInfo, "chat ui end",
			slog.Bool("had_error", err != nil))
	}
	return err
}

func newModel(ctx context.Context, controller Controller, opts Options) *model {
	pal := opts.Theme
	if pal.Name == "" {
		pal, _ = theme.Get(theme.DefaultName)
	}
	st := buildStyles(pal)

	input := textarea.New()
	input.Placeholder = defaultPrompt
	input.Prompt = promptSymbol
	input.ShowLineNumbers = false
	input.CharLimit = 0
	input.MaxHeight = promptMaxHeight
	input.SetHeight(promptMinHeight)
	input.Focus()
	input.Cursor.SetMode(cursor.CursorStatic)
	focusedStyle, blurredStyle := textarea.DefaultStyles()
	resetTextareaStyle := func(style *textarea.Style) {
		style.Base = lipgloss.NewStyle()
		style.CursorLine = lipgloss.NewStyle()
		style.EndOfBuffer = lipgloss.NewStyle()
		style.Text = lipgloss.NewStyle()
		style.Placeholder = st.muted
		style.Prompt = lipgloss.NewStyle().Foreground(st.prompt)
	}
	resetTextareaStyle(&focusedStyle)
	resetTextareaStyle(&blurredStyle)
	input.FocusedStyle = focusedStyle
	input.BlurredStyle = blurredStyle
	input.SetWidth(defaultPromptWidth)
	input.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.thinking

	vp := viewport.New(defaultPromptWidth, 10)

	return &model{
		ctx:        ctx,
		opts:       opts,
		controller: controller,
		styles:     st,
		input:      input,
		spinner:    sp,
		viewport:   vp,
		snap:       controller.Snapshot(),
		conn:       controller.Connection(),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, waitForSnapshot(m.controller))
}

func waitForSnapshot(c Controller) tea.Cmd {
	return func() tea.Msg {
		select {
		case snap := <-c.Updates():
			return snapshotMsg{snap: snap}
		case <-c.Done():
			return sessionDoneMsg{}
		}
	}
}

func intentCmd(intent string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return intentResultMsg{intent: intent, err: fn()}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = msg.snap
		m.conn = m.controller.Connection()
		m.refreshViewport()
		return m, waitForSnapshot(m.controller)
	case sessionDoneMsg:
		return m, tea.Quit
	case intentResultMsg:
		m.inputErr = intentError(msg.intent, msg.err)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(max(msg.Width-4, 20))
		m.ready = true
		m.layout()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+d":
		return m, tea.Quit
	case "ctrl+t":
		return m, intentCmd("cancel", m.controller.Cancel)
	case "ctrl+l":
		m.inputErr = ""
		return m, intentCmd("clear", m.controller.Clear)
	case "ctrl+a":
		m.showActivity = !m.showActivity
		m.layout()
		return m, nil
	case "ctrl+r":
		id, ok := lastFailed(m.snap.Messages)
		if !ok {
			m.inputErr = "Nothing to retry."
			return m, nil
		}
		return m, intentCmd("retry", func() error { return m.controller.Retry(id) })
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case "enter":
		value := m.input.Value()
		if m.snap.IsProcessing {
			return m, nil
		}
		m.input.Reset()
		m.layout()
		return m, intentCmd("send", func() error { return m.controller.Submit(value) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.inputErr = ""
	m.layout()
	return m, cmd
}

func intentError(intent string, err error) string {
	if err == nil {
		return ""
	}
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, session.ErrBusy):
		return "Wait for the current reply to finish."
	case errors.Is(err, session.ErrNoTask):
		return "No task is running."
	default:
		return fmt.Sprintf("Could not %s: %s", intent, err)
	}
}

func lastFailed(log message.Log) (string, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Sender == message.SenderSelf && log[i].Status == message.StatusError {
			return log[i].ID, true
		}
	}
	return "", false
}

// layout sizes the viewport to whatever the header, prompt and footer leave.
func (m *model) layout() {
	if !m.ready {
		return
	}
	m.adjustInputHeight()
	reserved := 1 + m.input.Height() + 2 + 2
	if m.showActivity {
		reserved += activityRows + 1
	}
	if m.snap.IsTyping {
		reserved++
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-reserved, 3)
	m.refreshViewport()
}

func (m *model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	width := m.width
	if width <= 0 {
		width = defaultPromptWidth
	}
	m.viewport.SetContent(m.renderMessages(width))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *model) adjustInputHeight() {
	lines := strings.Count(m.input.Value(), "\n") + 1
	height := min(max(lines, promptMinHeight), promptMaxHeight)
	if m.input.Height() != height {
		m.input.SetHeight(height)
	}
}

func (m *model) renderMessages(width int) string {
	opts := render.Options{NoColor: !m.opts.UseColor, Width: max(width-2, 20)}
	parts := make([]string, 0, len(m.snap.Messages))
	for _, msg := range m.snap.Messages {
		if msg.Sender == message.SenderOther && strings.TrimSpace(msg.Content) == "" {
			continue
		}
		text := render.Message(msg, opts)
		switch {
		case !m.opts.UseColor:
		case msg.Sender == message.SenderSystem:
			text = m.styles.notice.Render(text)
		case msg.Status == message.StatusError && msg.Sender == message.SenderSelf:
			text = m.styles.errText.Render(text)
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		intro := "No messages yet."
		if m.opts.WorkingDirectory != "" {
			intro += "\nWorking directory: " + m.opts.WorkingDirectory
		}
		if m.opts.TranscriptDir != "" {
			intro += "\nRecording transcript to " + m.opts.TranscriptDir
		}
		return m.styles.muted.Render(intro)
	}
	return strings.Join(parts, "\n\n")
}

func (m *model) View() string {
	if !m.ready {
		return "Starting chat...\n"
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.snap.IsTyping {
		label := m.snap.TypingLabel
		if label == "" {
			label = "Working…"
		}
		line := fmt.Sprintf("%s %s", m.spinner.View(), label)
		b.WriteString(truncate.StringWithTail(line, uint(max(m.width, 10)), "…"))
		b.WriteString("\n")
	}

	if m.showActivity {
		b.WriteString(m.renderActivity())
		b.WriteString("\n")
	}

	b.WriteString(m.renderPrompt())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *model) renderHeader() string {
	title := meta.CLIName
	if m.opts.Version != "" {
		title += " " + m.opts.Version
	}
	right := string(m.conn)
	if conv := m.snap.ConversationID; conv != "" {
		right = fmt.Sprintf("%s · %s", truncate.StringWithTail(conv, 12, "…"), right)
	}
	if m.opts.UseColor {
		title = m.styles.header.Render(title)
	}
	space := max(m.width-lipgloss.Width(title)-lipgloss.Width(right), 1)
	return title + strings.Repeat(" ", space) + right
}

func (m *model) renderActivity() string {
	width := max(m.width, 20)
	header := "Activity"
	if n := len(m.snap.Tools); n > 0 {
		header = fmt.Sprintf("Activity · %d tool call(s)", n)
	}
	lines := []string{header}

	entries := m.snap.Activity
	if len(entries) > activityRows-1 {
		entries = entries[len(entries)-(activityRows-1):]
	}
	for _, a := range entries {
		line := fmt.Sprintf("%s %-11s %s", a.Time.Format("15:04:05"), a.Kind, a.Text)
		lines = append(lines, truncate.StringWithTail(line, uint(width), "…"))
	}
	for len(lines) < activityRows {
		lines = append(lines, "")
	}
	out := strings.Join(lines, "\n")
	if m.opts.UseColor {
		out = m.styles.muted.Render(out)
	}
	return out
}

func (m *model) renderPrompt() string {
	width := max(m.input.Width()+lipgloss.Width(promptSymbol), 1)
	border := strings.Repeat("─", width)
	if m.opts.UseColor {
		border = m.styles.border.Render(border)
	}
	view := strings.TrimRight(m.input.View(), "\n")
	out := fmt.Sprintf("%s\n%s\n%s", border, view, border)
	if m.inputErr != "" {
		errLine := wordwrap.String(m.inputErr, max(m.width, 20))
		if m.opts.UseColor {
			errLine = m.styles.errText.Render(errLine)
		}
		out += "\n" + errLine
	}
	return out
}

func (m *model) renderFooter() string {
	left := helpText
	right := m.snap.Phase.String()
	if m.snap.AgentName != "" {
		right = m.snap.AgentName + " · " + right
	}
	width := max(m.width, lipgloss.Width(left)+lipgloss.Width(right)+1)
	space := max(width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	content := truncate.String(left+strings.Repeat(" ", space)+right, uint(width))
	if !m.opts.UseColor {
		return content
	}
	return m.styles.status.Render(content)
}
