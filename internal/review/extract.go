package review

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/agora-chat/agora/internal/model/chat"
)

var (
	panelistPattern = regexp.MustCompile(`(?m)^\s*Panelist\s*:\s*(.+?)\s*$`)
	// Round markers appear in English and Korean transcripts.
	roundPattern = regexp.MustCompile(`(?:Round|라운드)\s*([0-9]+)`)
)

// extract resolves one message into an Entry. Structured JSON content wins;
// free text falls back to inline markers, then to message metadata. Nothing
// here can fail: an unresolvable field is left at its zero value.
func extract(msg *chat.Message) Entry {
	entry := Entry{MessageID: msg.ID, Text: msg.Content}

	if payload, ok := structuredPayload(msg.Content); ok {
		applyStructured(&entry, payload)
	} else {
		if m := panelistPattern.FindStringSubmatch(msg.Content); m != nil {
			entry.Persona = m[1]
		}
		if m := roundPattern.FindStringSubmatch(msg.Content); m != nil {
			if round, err := strconv.Atoi(m[1]); err == nil {
				entry.Round = round
			}
		}
	}

	if entry.Persona == "" {
		entry.Persona = msg.MetaString(chat.MetaPersona)
	}
	if entry.Persona == "" && msg.Role == chat.RoleUser {
		// A user turn in a review room is the moderator's interjection.
		entry.Persona = string(chat.RoleUser)
	}
	if entry.Round == 0 {
		entry.Round = msg.MetaInt(chat.MetaRound)
	}
	return entry
}

// structuredPayload reports whether content is a JSON object that carries
// debate routing fields. A JSON object without any of them (say, a pasted
// config snippet) is treated as plain text.
func structuredPayload(content string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	for _, key := range []string{"persona", "panelist", "round", "payload"} {
		if _, ok := obj[key]; ok {
			return obj, true
		}
	}
	return nil, false
}

func applyStructured(entry *Entry, obj map[string]any) {
	if nested, ok := obj["payload"].(map[string]any); ok {
		// Routing fields may sit beside the payload or inside it; inner
		// values win for the turn body.
		merged := make(map[string]any, len(obj)+len(nested))
		for k, v := range obj {
			merged[k] = v
		}
		for k, v := range nested {
			merged[k] = v
		}
		delete(merged, "payload")
		obj = merged
	}

	if persona := pickString(obj, "persona", "panelist"); persona != "" {
		entry.Persona = persona
	}
	if round, ok := pickInt(obj, "round"); ok {
		entry.Round = round
	}
	if text := pickString(obj, "text", "content", "argument"); text != "" {
		entry.Text = text
	}
	entry.KeyTakeaway = pickString(obj, "key_takeaway", "keyTakeaway")
	entry.NoNewArguments = pickBool(obj, "no_new_arguments", "noNewArguments")
	entry.References = pickReferences(obj)
}

func pickReferences(obj map[string]any) []Reference {
	raw, ok := obj["references"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}
	refs := make([]Reference, 0, len(raw))
	for _, item := range raw {
		ref, ok := item.(map[string]any)
		if !ok {
			continue
		}
		round, _ := pickInt(ref, "round")
		refs = append(refs, Reference{
			Panelist: pickString(ref, "panelist", "persona"),
			Round:    round,
			Stance:   pickString(ref, "stance"),
			Quote:    pickString(ref, "quote"),
		})
	}
	if len(refs) == 0 {
		return nil
	}
	return refs
}

func pickString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func pickInt(obj map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case float64:
			return int(v), true
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func pickBool(obj map[string]any, keys ...string) bool {
	for _, key := range keys {
		if b, ok := obj[key].(bool); ok {
			return b
		}
	}
	return false
}
