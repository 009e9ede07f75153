// Package tui is the terminal client: a room list, a live transcript pane
// fed by session events, and a composer. Review rooms render the
// round-grouped debate projection instead of the flat log.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agora-chat/agora/internal/model/chat"
	"github.com/agora-chat/agora/internal/session"
	"github.com/agora-chat/agora/internal/stream"
)

const requestTimeout = 10 * time.Second

type Model struct {
	sess  *session.Session
	theme theme

	rooms     []chat.Conversation
	roomIndex int

	ready          bool
	startupErr     error
	statusLine     string
	connState      stream.State
	waitingAttempt int

	width  int
	height int

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
}

type roomsMsg struct {
	rooms []chat.Conversation
	err   error
}

type openDoneMsg struct {
	conversationID string
	err            error
}

type sendDoneMsg struct {
	err error
}

type sessionMsg session.Event

type eventsClosedMsg struct{}

func New(sess *session.Session) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Say something…"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	transcript := viewport.New(0, 0)
	transcript.MouseWheelEnabled = true

	return Model{
		sess:       sess,
		theme:      newTheme(),
		statusLine: "loading rooms…",
		connState:  stream.StateIdle,
		input:      input,
		transcript: transcript,
		spinner:    sp,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.loadRoomsCmd(),
		waitEvent(m.sess.Events()),
	)
}

func (m Model) loadRoomsCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		rooms, err := sess.Rooms(ctx)
		return roomsMsg{rooms: rooms, err: err}
	}
}

func (m Model) openRoomCmd(conversationID string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return openDoneMsg{conversationID: conversationID, err: sess.Open(ctx, conversationID)}
	}
}

func (m Model) sendCmd(content string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		_, err := sess.Send(content)
		return sendDoneMsg{err: err}
	}
}

func (m Model) retryCmd() tea.Cmd {
	sess := m.sess
	conv := m.currentRoom().ID
	return func() tea.Msg {
		var target string
		for _, msg := range sess.Snapshot(conv) {
			if msg.Status == chat.StatusError {
				target = msg.ID
			}
		}
		if target == "" {
			return sendDoneMsg{err: fmt.Errorf("nothing to retry")}
		}
		return sendDoneMsg{err: sess.Retry(conv, target)}
	}
}

// waitEvent blocks on the session feed and hands the next event to Update.
// Re-armed after every delivery, same as a subscription loop.
func waitEvent(ch <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return sessionMsg(ev)
	}
}

func (m Model) currentRoom() chat.Conversation {
	if m.roomIndex < 0 || m.roomIndex >= len(m.rooms) {
		return chat.Conversation{}
	}
	return m.rooms[m.roomIndex]
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case roomsMsg:
		if msg.err != nil {
			m.startupErr = msg.err
			m.statusLine = "startup failed"
			return m, nil
		}
		m.rooms = msg.rooms
		m.roomIndex = 0
		if room := m.currentRoom(); room.ID != "" {
			cmds = append(cmds, m.openRoomCmd(room.ID))
		} else {
			m.statusLine = "no rooms"
		}
	case openDoneMsg:
		if msg.err != nil {
			m.statusLine = "open failed: " + msg.err.Error()
			break
		}
		m.ready = true
		m.waitingAttempt = 0
		m.statusLine = "room " + m.roomLabel(msg.conversationID)
		m.refreshTranscript()
		m.transcript.GotoBottom()
	case sendDoneMsg:
		if msg.err != nil {
			m.statusLine = msg.err.Error()
		}
	case sessionMsg:
		m.applyEvent(session.Event(msg))
		cmds = append(cmds, waitEvent(m.sess.Events()))
	case eventsClosedMsg:
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refreshTranscript()
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab", "shift+tab":
		if len(m.rooms) < 2 {
			return m, tea.Batch(cmds...)
		}
		step := 1
		if msg.String() == "shift+tab" {
			step = len(m.rooms) - 1
		}
		m.roomIndex = (m.roomIndex + step) % len(m.rooms)
		m.waitingAttempt = 0
		m.statusLine = "opening " + m.currentRoom().Title + "…"
		cmds = append(cmds, m.openRoomCmd(m.currentRoom().ID))
		return m, tea.Batch(cmds...)
	case "enter":
		content := strings.TrimSpace(m.input.Value())
		if content == "" || !m.ready {
			return m, tea.Batch(cmds...)
		}
		m.input.SetValue("")
		cmds = append(cmds, m.sendCmd(content))
		return m, tea.Batch(cmds...)
	case "ctrl+r":
		if m.ready {
			cmds = append(cmds, m.retryCmd())
		}
		return m, tea.Batch(cmds...)
	case "pgup", "ctrl+b":
		m.transcript.LineUp(8)
		return m, tea.Batch(cmds...)
	case "pgdown", "ctrl+f":
		m.transcript.LineDown(8)
		return m, tea.Batch(cmds...)
	case "home":
		m.transcript.GotoTop()
		return m, tea.Batch(cmds...)
	case "end":
		m.transcript.GotoBottom()
		return m, tea.Batch(cmds...)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) applyEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventLogUpdated:
		if ev.ConversationID == m.currentRoom().ID {
			follow := m.transcript.AtBottom()
			m.refreshTranscript()
			if follow {
				m.transcript.GotoBottom()
			}
		}
	case session.EventConnection:
		m.connState = ev.State
		if ev.Err != nil {
			m.statusLine = "push channel: " + ev.Err.Error()
		}
	case session.EventReportWaiting:
		m.waitingAttempt = ev.Attempt
		m.statusLine = fmt.Sprintf("report not ready yet (attempt %d)", ev.Attempt)
	case session.EventReportReady:
		m.waitingAttempt = 0
		m.statusLine = "final report ready"
		if ev.ConversationID == m.currentRoom().ID {
			m.refreshTranscript()
			m.transcript.GotoBottom()
		}
	case session.EventReportFailed:
		m.waitingAttempt = 0
		m.statusLine = "report fetch gave up"
		if ev.Err != nil {
			m.statusLine += ": " + ev.Err.Error()
		}
	}
}

func (m *Model) refreshTranscript() {
	room := m.currentRoom()
	if room.ID == "" {
		m.transcript.SetContent("")
		return
	}
	width := m.transcript.Width
	if width <= 0 {
		width = 72
	}
	var content string
	if room.Kind == chat.KindReview {
		content = renderDebate(m.theme, m.sess.Projection(room.ID), width)
		if report, ok := m.sess.Report(room.ID); ok {
			content += "\n\n" + m.theme.roundBar.Render("── Final report ──") +
				"\n" + m.theme.report.Render(wrapText(report, width))
		} else if m.waitingAttempt > 0 {
			content += "\n\n" + m.theme.pending.Render(
				fmt.Sprintf("report propagating… (attempt %d)", m.waitingAttempt))
		}
	} else {
		content = renderLog(m.theme, m.sess.Snapshot(room.ID), width)
	}
	m.transcript.SetContent(content)
}

func (m *Model) resize() {
	m.transcript.Width = maxInt(24, m.width-6)
	m.transcript.Height = maxInt(5, m.height-9)
	m.input.Width = maxInt(20, m.width-10)
}

func (m Model) roomLabel(conversationID string) string {
	for _, room := range m.rooms {
		if room.ID == conversationID {
			if room.Title != "" {
				return room.Title
			}
			return room.ID
		}
	}
	return conversationID
}

func (m Model) View() string {
	if m.startupErr != nil {
		panel := m.theme.panel.Render(
			m.theme.panelTitle.Render("Agora startup failed") + "\n\n" +
				m.theme.errored.Render(m.startupErr.Error()) + "\n\n" +
				m.theme.helpText.Render("Press esc or ctrl+c to exit."),
		)
		return m.theme.root.Render(panel)
	}

	header := m.renderHeader()
	room := m.currentRoom()
	title := "Chat"
	if room.Kind == chat.KindReview {
		title = "Review"
		if room.Topic != "" {
			title += " · " + room.Topic
		}
	} else if room.Title != "" {
		title = room.Title
	}
	body := m.theme.panel.
		Width(maxInt(30, m.width-4)).
		Height(m.transcript.Height + 1).
		Render(m.theme.panelTitle.Render(title) + "\n" + m.transcript.View())

	inputView := m.input.View()
	if !m.ready {
		inputView = m.spinner.View() + " " + inputView
	}
	input := m.theme.inputPanel.Width(maxInt(30, m.width-4)).Render(inputView)

	footer := m.theme.helpText.Render(
		"tab rooms | enter send | ctrl+r retry | pgup/pgdn scroll | esc quit",
	)
	status := m.theme.muted.Render(m.statusLine)

	return m.theme.root.Render(
		lipgloss.JoinVertical(lipgloss.Left, header, body, input, footer, status),
	)
}

func (m Model) renderHeader() string {
	segments := make([]string, 0, len(m.rooms)+1)
	for idx, room := range m.rooms {
		label := room.Title
		if label == "" {
			label = room.ID
		}
		if room.Kind == chat.KindReview {
			label = "⚖ " + label
		}
		style := m.theme.roomInactive
		if idx == m.roomIndex {
			style = m.theme.roomActive
		} else if room.Kind == chat.KindReview {
			style = m.theme.roomReview
		}
		segments = append(segments, style.Render(label))
	}
	conn := m.theme.connStyle(m.connState).Render("● " + connLabel(m.connState))
	segments = append(segments, conn)
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(maxInt(20, m.width-4)).Render(joined)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
