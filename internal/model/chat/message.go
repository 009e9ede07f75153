package chat

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status tracks a message through its streaming lifecycle.
type Status string

const (
	// StatusDraft exists only between optimistic creation and first content.
	StatusDraft     Status = "draft"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusRetrying  Status = "retrying"
	// StatusArchived marks a message superseded by a retry. Archived messages
	// are never deleted from the log.
	StatusArchived Status = "archived"
)

// Terminal reports whether content is frozen in this status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusArchived
}

// Well-known meta keys. Meta is an open map; these are the keys the core
// itself reads and writes.
const (
	MetaRetryPayload = "retryPayload"
	MetaAutoRetries  = "autoRetries"
	MetaManualRetry  = "manualRetry"
	MetaError        = "error"
	MetaPersona      = "persona"
	MetaRound        = "round"
)

// Message is one turn in a conversation log. ID may start as a
// client-generated temporary id and later be replaced by the
// server-confirmed id; the replacement keeps the log position.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	CreatedAt      int64          `json:"createdAt"` // unix seconds
	Status         Status         `json:"status"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// MetaString returns a string-typed meta value, or "".
func (m *Message) MetaString(key string) string {
	if m.Meta == nil {
		return ""
	}
	s, _ := m.Meta[key].(string)
	return s
}

// MetaInt returns an int-typed meta value, tolerating float64 from JSON.
func (m *Message) MetaInt(key string) int {
	if m.Meta == nil {
		return 0
	}
	switch v := m.Meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// MetaBool returns a bool-typed meta value.
func (m *Message) MetaBool(key string) bool {
	if m.Meta == nil {
		return false
	}
	b, _ := m.Meta[key].(bool)
	return b
}

// RetryPayload is captured at send time so a failed message can be resent
// with the exact original inputs.
type RetryPayload struct {
	Content     string         `json:"content"`
	Attachments []string       `json:"attachments,omitempty"`
	Model       string         `json:"model,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// RetryPayloadOf extracts the saved retry payload from message meta.
// The second return is false when nothing was captured at send time.
func RetryPayloadOf(m *Message) (RetryPayload, bool) {
	if m == nil || m.Meta == nil {
		return RetryPayload{}, false
	}
	switch v := m.Meta[MetaRetryPayload].(type) {
	case RetryPayload:
		return v, true
	case *RetryPayload:
		if v != nil {
			return *v, true
		}
	case map[string]any:
		p := RetryPayload{}
		p.Content, _ = v["content"].(string)
		p.Model, _ = v["model"].(string)
		if raw, ok := v["attachments"].([]any); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					p.Attachments = append(p.Attachments, s)
				}
			}
		}
		if params, ok := v["params"].(map[string]any); ok {
			p.Params = params
		}
		return p, true
	}
	return RetryPayload{}, false
}
