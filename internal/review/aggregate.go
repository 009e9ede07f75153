// Package review derives the round/persona-indexed view of a debate from
// the reconciled message log. The projection is rebuilt from message
// content on every read and never stored, so there is no second source of
// truth to drift.
package review

import (
	"github.com/agora-chat/agora/internal/model/chat"
)

// MaxDisplayRunes caps entry text for display. Truncation is
// presentation-only; the stored message is never mutated.
const MaxDisplayRunes = 8000

// Reference points at a claim made earlier in the debate.
type Reference struct {
	Panelist string `json:"panelist"`
	Round    int    `json:"round"`
	Stance   string `json:"stance"`
	Quote    string `json:"quote"`
}

// Entry is one panelist turn. Round 0 means the turn could not be routed
// to a round; it stays visible in linear views only.
type Entry struct {
	MessageID      string
	Persona        string
	Round          int
	Text           string
	KeyTakeaway    string
	References     []Reference
	NoNewArguments bool
	IsTrimmed      bool
}

// Projection is the aggregated, read-only debate view.
type Projection struct {
	// Personas in stable first-seen order, so repeated renders keep each
	// panelist in a consistent visual position.
	Personas []string
	// Rounds groups routable entries by round number (>= 1).
	Rounds map[int][]Entry
	// Linear preserves log order and includes un-routable entries.
	Linear []Entry
}

// MaxRound returns the highest round present, 0 when none.
func (p *Projection) MaxRound() int {
	max := 0
	for round := range p.Rounds {
		if round > max {
			max = round
		}
	}
	return max
}

// Aggregate builds the projection for a review conversation. Archived
// (superseded) messages are skipped; everything else contributes a linear
// entry even when no round can be resolved.
func Aggregate(messages []chat.Message) *Projection {
	p := &Projection{Rounds: make(map[int][]Entry)}
	seen := make(map[string]bool)

	for i := range messages {
		msg := &messages[i]
		if msg.Status == chat.StatusArchived {
			continue
		}
		entry := extract(msg)
		if entry.Text == "" && entry.Persona == "" {
			continue
		}
		entry.Text, entry.IsTrimmed = trim(entry.Text)

		if entry.Persona != "" && !seen[entry.Persona] {
			seen[entry.Persona] = true
			p.Personas = append(p.Personas, entry.Persona)
		}
		p.Linear = append(p.Linear, entry)
		if entry.Round >= 1 {
			p.Rounds[entry.Round] = append(p.Rounds[entry.Round], entry)
		}
	}
	return p
}

func trim(text string) (string, bool) {
	runes := []rune(text)
	if len(runes) <= MaxDisplayRunes {
		return text, false
	}
	return string(runes[:MaxDisplayRunes]), true
}
