package envelope

import (
	"encoding/json"
	"strings"

	"github.com/agora-chat/agora/internal/model/chat"
)

// Frame is one raw wire event before normalization: the logical event name
// (may be empty on transports without named events) and the body text.
type Frame struct {
	Event string
	Data  string
}

// control sentinels emitted by keep-alive paths of the various upstreams.
var heartbeatSentinels = map[string]struct{}{
	"[DONE]":    {},
	"ping":      {},
	"heartbeat": {},
}

// Normalize converts a raw frame into an Envelope. The second return is
// false when the frame is a non-content frame (empty, heartbeat, comment)
// and was deliberately dropped. Malformed-but-meaningful bodies are never
// dropped: a body that fails JSON decoding becomes an opaque text payload.
// Caller-supplied extras override payload-provided meta on key collision.
func Normalize(frame Frame, extra map[string]any) (*Envelope, bool) {
	body := strings.TrimSpace(frame.Data)
	if body == "" {
		return nil, false
	}
	if strings.HasPrefix(body, ":") {
		return nil, false
	}
	if _, ok := heartbeatSentinels[body]; ok {
		return nil, false
	}

	env := &Envelope{Type: typeOf(frame.Event)}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil && obj != nil {
		fromStructured(env, obj)
	} else {
		// Plain-text deltas are a legal upstream shape.
		env.Text = body
	}

	env.Meta = mergeMeta(env.Meta, extra)
	if env.MessageID == "" {
		if id, ok := env.Meta["messageId"].(string); ok {
			env.MessageID = id
		}
	}

	if env.Type == TypeHeartbeat {
		return nil, false
	}
	return env, true
}

// typeOf maps a logical event name onto the envelope union. Unknown names
// pass through unchanged; dispatch simply has no handler for them.
func typeOf(event string) Type {
	switch event {
	case "", "message", "data":
		// Default: unnamed frames are content deltas.
		return TypeDelta
	default:
		return Type(event)
	}
}

// fromStructured fills the envelope from a decoded JSON object. The object
// may carry its own type/event tag, a nested payload, and a meta block.
func fromStructured(env *Envelope, obj map[string]any) {
	if t, ok := firstString(obj, "type", "event"); ok {
		if mapped := typeOf(t); known(mapped) {
			env.Type = mapped
		}
	}

	payload := obj
	if nested, ok := obj["payload"].(map[string]any); ok {
		payload = nested
	}

	if id, ok := firstString(payload, "messageId", "message_id", "id"); ok {
		env.MessageID = id
	}
	if text, ok := firstString(payload, "delta", "content", "text"); ok {
		env.Text = text
	}
	if status, ok := firstString(payload, "status"); ok {
		env.Status = status
	}
	if errText, ok := firstString(payload, "error"); ok && env.Text == "" {
		env.Text = errText
	}

	if m, ok := obj["meta"].(map[string]any); ok {
		env.Meta = mergeMeta(nil, m)
	}

	if env.Type == TypeNewMessage {
		env.Message = decodeMessage(payload)
		if env.Message != nil && env.MessageID == "" {
			env.MessageID = env.Message.ID
		}
	}
}

// decodeMessage re-decodes a payload object as a full message. Returns nil
// when the object lacks an id, since there is no safe merge target.
func decodeMessage(payload map[string]any) *chat.Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var msg chat.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	if msg.ID == "" {
		return nil
	}
	if msg.Status == "" {
		msg.Status = chat.StatusComplete
	}
	return &msg
}

func mergeMeta(base, override map[string]any) map[string]any {
	if len(override) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(override))
	}
	for k, v := range override {
		base[k] = v
	}
	return base
}

func firstString(obj map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
