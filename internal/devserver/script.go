package devserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agora-chat/agora/internal/model/chat"
)

// chunkSize controls how finely scripted replies are split into deltas.
const chunkSize = 12

// chatScript builds the frame sequence for a plain chat generation:
// deltas for the reply body, a meta frame, then done.
func chatScript(messageID, prompt string) []sseFrame {
	reply := cannedReply(prompt)
	frames := make([]sseFrame, 0, len(reply)/chunkSize+3)
	for _, piece := range splitChunks(reply, chunkSize) {
		frames = append(frames, sseFrame{Event: "delta", Data: map[string]any{
			"messageId": messageID,
			"delta":     piece,
		}})
	}
	frames = append(frames, sseFrame{Event: "meta", Data: map[string]any{
		"messageId": messageID,
		"meta":      map[string]any{"model": "scripted-v1", "chunks": len(frames)},
	}})
	frames = append(frames, sseFrame{Event: "done", Data: map[string]any{
		"messageId": messageID,
		"status":    "completed",
	}})
	return frames
}

// debateScript builds the frame sequence for a review generation: each
// panelist turn arrives as a full new_message push, with status updates
// between rounds and a terminal done. Turn bodies alternate between
// structured JSON and free text so both consumer decoding paths see
// realistic traffic. The returned turns are what the room persists; the
// client is expected to merge them idempotently with the pushed copies.
func debateScript(conversationID, topic string, panel []Panelist, newID func() string) (frames []sseFrame, turns []chat.Message, report string) {
	const rounds = 2
	frames = []sseFrame{{
		Event: "status_update",
		Data:  map[string]any{"status": "in_progress"},
	}}

	var cited []string
	for round := 1; round <= rounds; round++ {
		for i, panelist := range panel {
			turnID := newID()
			argument := turnArgument(panelist, topic, round)
			content := argument
			if (round+i)%2 == 0 {
				structured, err := json.Marshal(map[string]any{
					"persona": panelist.Name,
					"round":   round,
					"payload": map[string]any{"text": argument},
				})
				if err == nil {
					content = string(structured)
				}
			} else {
				content = fmt.Sprintf("Panelist: %s\nRound %d\n%s", panelist.Name, round, argument)
			}
			cited = append(cited, fmt.Sprintf("%s (round %d)", panelist.Name, round))

			turn := chat.Message{
				ID:             turnID,
				ConversationID: conversationID,
				Role:           chat.RoleAssistant,
				Content:        content,
				Status:         chat.StatusComplete,
				Meta: map[string]any{
					chat.MetaPersona: panelist.Name,
					chat.MetaRound:   round,
				},
			}
			turns = append(turns, turn)

			frames = append(frames, sseFrame{Event: "new_message", Data: map[string]any{
				"payload": map[string]any{
					"id":             turn.ID,
					"conversationId": turn.ConversationID,
					"role":           string(turn.Role),
					"content":        turn.Content,
					"status":         string(turn.Status),
					"meta":           turn.Meta,
				},
			}})
		}
		frames = append(frames, sseFrame{Event: "status_update", Data: map[string]any{
			"status": fmt.Sprintf("round_%d_complete", round),
		}})
	}

	report = debateReport(topic, cited)
	frames = append(frames, sseFrame{Event: "done", Data: map[string]any{
		"status": "completed",
	}})
	return frames, turns, report
}

func turnArgument(p Panelist, topic string, round int) string {
	switch p.Stance {
	case "for":
		if round == 1 {
			return fmt.Sprintf("On %q: the upside compounds. Early investment here pays for itself before the downside scenarios can materialize.", topic)
		}
		return "Addressing the objections: none of them survive a staged rollout with checkpoints."
	case "against":
		if round == 1 {
			return fmt.Sprintf("The weakest assumption in %q is that maintenance cost stays flat. It never does.", topic)
		}
		return "The staged rollout answers the schedule risk but not the operational burden after launch."
	default:
		if round == 1 {
			return "Both openings are credible; the disagreement is about cost trajectory, not direction."
		}
		return "Recommendation: proceed, gated on an operational-cost review after the first stage."
	}
}

func debateReport(topic string, cited []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Review report: %s\n\n", topic)
	b.WriteString("The panel converged after two rounds. Positions cited:\n")
	for _, c := range cited {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nVerdict: proceed with a staged rollout and an operational-cost checkpoint.\n")
	return b.String()
}

// cannedReply answers a chat prompt without a model behind it.
func cannedReply(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "Say something and I will pick it up from there."
	}
	return fmt.Sprintf(
		"You asked about %q. Without a model configured this is a scripted reply, but it streams exactly like a real one: chunked deltas, a meta frame, then a terminal done event.",
		truncatePrompt(trimmed, 80),
	)
}

func truncatePrompt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

func splitChunks(s string, size int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	chunks := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
