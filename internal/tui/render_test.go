package tui

import (
	"strings"
	"testing"

	"github.com/agora-chat/agora/internal/model/chat"
	"github.com/agora-chat/agora/internal/review"
	"github.com/agora-chat/agora/internal/stream"
)

func TestRenderLogSkipsArchivedMessages(t *testing.T) {
	th := newTheme()
	out := renderLog(th, []chat.Message{
		{ID: "m-1", Role: chat.RoleUser, Content: "first try", Status: chat.StatusArchived},
		{ID: "m-2", Role: chat.RoleUser, Content: "second try", Status: chat.StatusComplete},
	}, 60)
	if strings.Contains(out, "first try") {
		t.Fatalf("archived message leaked into transcript:\n%s", out)
	}
	if !strings.Contains(out, "second try") {
		t.Fatalf("live message missing from transcript:\n%s", out)
	}
}

func TestRenderLogShowsRetryHintOnError(t *testing.T) {
	th := newTheme()
	out := renderLog(th, []chat.Message{
		{
			ID:     "m-1",
			Role:   chat.RoleAssistant,
			Status: chat.StatusError,
			Meta:   map[string]any{chat.MetaError: "upstream timeout"},
		},
	}, 60)
	if !strings.Contains(out, "upstream timeout") {
		t.Fatalf("error detail missing:\n%s", out)
	}
	if !strings.Contains(out, "ctrl+r to retry") {
		t.Fatalf("retry hint missing:\n%s", out)
	}
}

func TestRenderLogDraftPlaceholder(t *testing.T) {
	th := newTheme()
	out := renderLog(th, []chat.Message{
		{ID: "m-1", Role: chat.RoleAssistant, Status: chat.StatusDraft},
	}, 60)
	if !strings.Contains(out, "…") {
		t.Fatalf("draft placeholder missing:\n%s", out)
	}
}

func TestRenderDebateGroupsByRound(t *testing.T) {
	th := newTheme()
	p := &review.Projection{
		Personas: []string{"Optimist", "Critic"},
		Rounds: map[int][]review.Entry{
			1: {
				{Persona: "Optimist", Round: 1, Text: "caching pays off fast"},
				{Persona: "Critic", Round: 1, Text: "invalidation is the hard part"},
			},
			2: {
				{Persona: "Optimist", Round: 2, Text: "TTL bounds the staleness", NoNewArguments: true},
			},
		},
		Linear: []review.Entry{
			{Persona: "Optimist", Round: 1, Text: "caching pays off fast"},
			{Persona: "Critic", Round: 1, Text: "invalidation is the hard part"},
			{Persona: "Optimist", Round: 2, Text: "TTL bounds the staleness", NoNewArguments: true},
		},
	}
	out := renderDebate(th, p, 60)
	first := strings.Index(out, "Round 1")
	second := strings.Index(out, "Round 2")
	if first < 0 || second < 0 || second < first {
		t.Fatalf("rounds missing or out of order:\n%s", out)
	}
	if !strings.Contains(out, "Panel: Optimist · Critic") {
		t.Fatalf("panel roster missing:\n%s", out)
	}
	if !strings.Contains(out, "(no new arguments)") {
		t.Fatalf("convergence marker missing:\n%s", out)
	}
}

func TestRenderDebateKeepsUnroutedTurns(t *testing.T) {
	th := newTheme()
	p := &review.Projection{
		Linear: []review.Entry{
			{Persona: "", Round: 0, Text: "free-form aside"},
		},
	}
	out := renderDebate(th, p, 60)
	if !strings.Contains(out, "Unrouted") {
		t.Fatalf("unrouted section missing:\n%s", out)
	}
	if !strings.Contains(out, "free-form aside") {
		t.Fatalf("unrouted turn missing:\n%s", out)
	}
}

func TestRenderDebateShowsReferences(t *testing.T) {
	th := newTheme()
	p := &review.Projection{
		Rounds: map[int][]review.Entry{
			2: {
				{
					Persona: "Synthesizer",
					Round:   2,
					Text:    "both sides agree on bounded staleness",
					References: []review.Reference{
						{Panelist: "Critic", Round: 1, Stance: "against", Quote: "invalidation is hard"},
					},
				},
			},
		},
		Linear: []review.Entry{{Persona: "Synthesizer", Round: 2, Text: "x"}},
	}
	out := renderDebate(th, p, 60)
	if !strings.Contains(out, "Critic (round 1, against)") {
		t.Fatalf("reference line missing:\n%s", out)
	}
}

func TestWrapTextBreaksLongLines(t *testing.T) {
	out := wrapText("one two three four five six seven eight", 12)
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 12 {
			t.Fatalf("line %q exceeds wrap width", line)
		}
	}
	if !strings.Contains(out, "\n") {
		t.Fatalf("expected wrapped output, got %q", out)
	}
}

func TestConnLabelCoversStates(t *testing.T) {
	cases := map[stream.State]string{
		stream.StateConnected:    "live",
		stream.StateReconnecting: "reconnecting",
		stream.StateFailed:       "push lost",
		stream.StateIdle:         "idle",
	}
	for state, want := range cases {
		if got := connLabel(state); got != want {
			t.Fatalf("connLabel(%s) = %q, want %q", state, got, want)
		}
	}
}
