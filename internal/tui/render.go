package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/agora-chat/agora/internal/model/chat"
	"github.com/agora-chat/agora/internal/review"
	"github.com/agora-chat/agora/internal/stream"
)

func connLabel(state stream.State) string {
	switch state {
	case stream.StateConnected:
		return "live"
	case stream.StateConnecting:
		return "connecting"
	case stream.StateReconnecting:
		return "reconnecting"
	case stream.StateDisconnected:
		return "offline"
	case stream.StateFailed:
		return "push lost"
	default:
		return "idle"
	}
}

func (th theme) connStyle(state stream.State) lipgloss.Style {
	switch state {
	case stream.StateConnected:
		return th.connOK
	case stream.StateFailed:
		return th.connErr
	default:
		return th.connWarn
	}
}

func (th theme) roleStyle(role chat.Role) lipgloss.Style {
	switch role {
	case chat.RoleUser:
		return th.roleUser
	case chat.RoleAssistant:
		return th.roleAssistant
	default:
		return th.roleSystem
	}
}

// renderLog is the linear transcript for a plain chat room. Archived
// messages stay in the reconciler's log but never reach the screen.
func renderLog(th theme, messages []chat.Message, width int) string {
	if len(messages) == 0 {
		return th.muted.Render("No messages yet. Type below and press enter.")
	}
	var b strings.Builder
	for _, msg := range messages {
		if msg.Status == chat.StatusArchived {
			continue
		}
		header := fmt.Sprintf("%s %s", shortClock(msg.CreatedAt), msg.Role)
		b.WriteString(th.roleStyle(msg.Role).Render(header))
		b.WriteString("\n")

		switch msg.Status {
		case chat.StatusDraft:
			b.WriteString(th.pending.Render("…"))
		case chat.StatusStreaming:
			b.WriteString(wrapText(msg.Content, width))
			b.WriteString(th.pending.Render(" ▌"))
		case chat.StatusRetrying:
			b.WriteString(wrapText(msg.Content, width))
			b.WriteString(th.pending.Render(" (retrying…)"))
		case chat.StatusError:
			body := msg.Content
			if body == "" {
				body = msg.MetaString(chat.MetaError)
			}
			b.WriteString(th.errored.Render("✗ " + wrapText(body, width)))
			b.WriteString("\n")
			b.WriteString(th.helpText.Render("  ctrl+r to retry"))
		default:
			b.WriteString(wrapText(msg.Content, width))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderDebate is the round-grouped projection for a review room. Turns the
// aggregator could not route to a round land in a trailing section instead
// of disappearing.
func renderDebate(th theme, p *review.Projection, width int) string {
	if p == nil || len(p.Linear) == 0 {
		return th.muted.Render("The panel has not spoken yet.")
	}
	var b strings.Builder
	if len(p.Personas) > 0 {
		b.WriteString(th.panelTitle.Render("Panel: " + strings.Join(p.Personas, " · ")))
		b.WriteString("\n\n")
	}
	for round := 1; round <= p.MaxRound(); round++ {
		entries := p.Rounds[round]
		if len(entries) == 0 {
			continue
		}
		b.WriteString(th.roundBar.Render(fmt.Sprintf("── Round %d ──", round)))
		b.WriteString("\n")
		for _, entry := range entries {
			writeEntry(&b, th, entry, width)
		}
		b.WriteString("\n")
	}

	unrouted := false
	for _, entry := range p.Linear {
		if entry.Round >= 1 {
			continue
		}
		if !unrouted {
			b.WriteString(th.roundBar.Render("── Unrouted ──"))
			b.WriteString("\n")
			unrouted = true
		}
		writeEntry(&b, th, entry, width)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeEntry(b *strings.Builder, th theme, entry review.Entry, width int) {
	name := entry.Persona
	if name == "" {
		name = "panelist"
	}
	tag := th.persona.Render(name)
	if entry.NoNewArguments {
		tag += " " + th.stance.Render("(no new arguments)")
	}
	b.WriteString(tag)
	b.WriteString("\n")
	if entry.KeyTakeaway != "" {
		b.WriteString(th.stance.Render("» " + entry.KeyTakeaway))
		b.WriteString("\n")
	}
	b.WriteString(wrapText(entry.Text, width))
	b.WriteString("\n")
	for _, ref := range entry.References {
		line := fmt.Sprintf("↳ %s (round %d", ref.Panelist, ref.Round)
		if ref.Stance != "" {
			line += ", " + ref.Stance
		}
		line += ")"
		if ref.Quote != "" {
			line += ": " + ref.Quote
		}
		b.WriteString(th.muted.Render(wrapText(line, width)))
		b.WriteString("\n")
	}
	if entry.IsTrimmed {
		b.WriteString(th.muted.Render("[turn truncated for display]"))
		b.WriteString("\n")
	}
}

func shortClock(unix int64) string {
	if unix <= 0 {
		return "--:--"
	}
	return time.Unix(unix, 0).Format("15:04")
}

// wrapText is a plain word wrap; words longer than the width are left
// intact rather than split.
func wrapText(text string, width int) string {
	if width < 8 {
		width = 8
	}
	var out strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			out.WriteString("\n")
		}
		lineLen := 0
		for j, word := range strings.Fields(line) {
			wordLen := lipgloss.Width(word)
			if j > 0 {
				if lineLen+1+wordLen > width {
					out.WriteString("\n")
					lineLen = 0
				} else {
					out.WriteString(" ")
					lineLen++
				}
			}
			out.WriteString(word)
			lineLen += wordLen
		}
	}
	return out.String()
}
