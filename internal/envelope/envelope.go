// Package envelope normalizes raw push-channel frames into a canonical,
// transient representation the reconciler can fold into messages. Upstream
// emitters are heterogeneous (plain-text deltas, JSON-wrapped deltas, JSON
// status objects), so decoding is tolerant and total: only genuinely
// empty/control frames are dropped.
package envelope

import (
	"github.com/agora-chat/agora/internal/model/chat"
)

// Type tags the envelope union.
type Type string

const (
	TypeDelta        Type = "delta"
	TypeMeta         Type = "meta"
	TypeDone         Type = "done"
	TypeStatusUpdate Type = "status_update"
	TypeNewMessage   Type = "new_message"
	TypeHeartbeat    Type = "heartbeat"
	TypeError        Type = "error"
)

// known reports whether the type belongs to the consumed vocabulary.
func known(t Type) bool {
	switch t {
	case TypeDelta, TypeMeta, TypeDone, TypeStatusUpdate, TypeNewMessage, TypeHeartbeat, TypeError:
		return true
	}
	return false
}

// Envelope is the normalized form of one inbound frame. It is never
// persisted; the reconciler folds it into the message log and discards it.
type Envelope struct {
	Type Type

	// MessageID addresses the target message when the frame carries one,
	// either in its payload or in caller-supplied meta.
	MessageID string

	// Text carries delta content or error text.
	Text string

	// Status carries the payload of done/status_update frames
	// (e.g. "completed", "failed").
	Status string

	// Message carries the full object of a new_message frame.
	Message *chat.Message

	// Meta is stream/connection metadata: payload-provided entries merged
	// under caller-supplied extras (extras win on collision).
	Meta map[string]any
}

// TerminalFailure reports whether this envelope ends a stream in failure.
func (e *Envelope) TerminalFailure() bool {
	if e.Type == TypeError {
		return true
	}
	return e.Type == TypeDone && e.Status == "failed"
}
