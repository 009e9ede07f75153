package chat

// Kind distinguishes plain assistant rooms from multi-agent review rooms.
type Kind string

const (
	KindChat   Kind = "chat"
	KindReview Kind = "review"
)

// Conversation is one room. The ordered message log itself lives in the
// reconciler; this carries identity and routing attributes only.
type Conversation struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Title     string `json:"title"`
	Topic     string `json:"topic,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}
