// Package session orchestrates one user session across rooms: it owns the
// reconciler, the single live push subscription, and the artifact poller,
// and exposes a narrow event feed for the UI. All log mutation funnels
// through the reconciler; the UI only ever sees snapshots.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agora-chat/agora/internal/api"
	"github.com/agora-chat/agora/internal/artifact"
	"github.com/agora-chat/agora/internal/envelope"
	"github.com/agora-chat/agora/internal/model/chat"
	"github.com/agora-chat/agora/internal/reconcile"
	"github.com/agora-chat/agora/internal/review"
	"github.com/agora-chat/agora/internal/stream"
)

type EventKind string

const (
	// EventLogUpdated means the conversation's snapshot changed.
	EventLogUpdated EventKind = "log_updated"
	// EventConnection carries a push-channel state change.
	EventConnection EventKind = "connection"
	// EventReportWaiting means the review finished but its report has not
	// propagated yet; Attempt counts failed fetches so far.
	EventReportWaiting EventKind = "report_waiting"
	EventReportReady   EventKind = "report_ready"
	EventReportFailed  EventKind = "report_failed"
)

// Event is one UI-facing notification. Fields beyond Kind and
// ConversationID are populated per kind.
type Event struct {
	Kind           EventKind
	ConversationID string
	State          stream.State
	Attempt        int
	Report         string
	Err            error
}

type room struct {
	conversation chat.Conversation
	loaded       bool
	pollStarted  bool
	report       string
}

// Session wires the API client, push stream, reconciler and artifact
// poller together. One Session serves one user across all rooms; at most
// one push subscription is live at a time.
type Session struct {
	client *api.Client
	rec    *reconcile.Reconciler
	stream *stream.Manager
	events chan Event

	mu          sync.Mutex
	rooms       map[string]*room
	active      string
	streamConv  string // room the live subscription was opened under
	streamingID string
	poller      *artifact.Poller
	ctx         context.Context
	cancel      context.CancelFunc
}

func New(client *api.Client, transport stream.Transport) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client: client,
		stream: stream.NewManager(transport),
		events: make(chan Event, 64),
		rooms:  make(map[string]*room),
		ctx:    ctx,
		cancel: cancel,
	}
	s.rec = reconcile.New(s.resend)
	s.rec.OnTerminalStatus(s.onTerminalStatus)

	for _, name := range []string{
		"", "message", "delta", "meta", "done",
		"status_update", "new_message", "error", "heartbeat", "ping",
	} {
		s.stream.On(name, s.handleFrame)
	}
	s.stream.OnStateChange(func(state stream.State) {
		s.mu.Lock()
		conv := s.active
		s.mu.Unlock()
		s.emit(Event{Kind: EventConnection, ConversationID: conv, State: state})
	})
	s.stream.OnTerminalError(func(err error) {
		s.mu.Lock()
		conv := s.active
		s.mu.Unlock()
		s.emit(Event{Kind: EventConnection, ConversationID: conv, State: stream.StateFailed, Err: err})
	})
	return s
}

// Events is the UI notification feed. Slow consumers lose events rather
// than stalling the sync core; the snapshot API always has the full truth.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Rooms fetches and caches the conversation list.
func (s *Session) Rooms(ctx context.Context) ([]chat.Conversation, error) {
	conversations, err := s.client.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	s.mu.Lock()
	for _, conv := range conversations {
		if _, ok := s.rooms[conv.ID]; !ok {
			s.rooms[conv.ID] = &room{conversation: conv}
		}
	}
	s.mu.Unlock()
	return conversations, nil
}

// Open switches the active room. The previous room's subscription and any
// pending timers are cancelled before anything else happens; late frames
// can never land in the new room's log. The first open of a room bulk-loads
// its persisted history.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	// Detach the old subscription before the new room is published. A frame
	// already past the manager's generation guard resolves its target
	// through streamConv, so once that is cleared it lands nowhere.
	s.mu.Lock()
	s.streamConv = ""
	s.streamingID = ""
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.mu.Unlock()
	s.stream.SetURL("")

	s.mu.Lock()
	rm, ok := s.rooms[conversationID]
	if !ok {
		rm = &room{conversation: chat.Conversation{ID: conversationID}}
		s.rooms[conversationID] = rm
	}
	s.active = conversationID
	loaded := rm.loaded
	s.mu.Unlock()

	if !loaded {
		messages, err := s.client.ListMessages(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("load %s: %w", conversationID, err)
		}
		s.rec.BulkLoad(conversationID, messages)
		s.mu.Lock()
		rm.loaded = true
		s.mu.Unlock()
	}
	s.emit(Event{Kind: EventLogUpdated, ConversationID: conversationID})
	return nil
}

// Send posts a user turn in the active room. The user message and an
// assistant draft appear immediately; the draft carries the retry payload
// and is re-keyed to the server id once the POST confirms, at which point
// the push subscription begins.
func (s *Session) Send(content string) (string, error) {
	s.mu.Lock()
	conv := s.active
	s.mu.Unlock()
	if conv == "" {
		return "", fmt.Errorf("session: no active room")
	}

	now := time.Now().Unix()
	s.rec.AddMessage(conv, chat.Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: conv,
		Role:           chat.RoleUser,
		Content:        content,
		CreatedAt:      now,
		Status:         chat.StatusComplete,
	})

	payload := chat.RetryPayload{Content: content}
	draftID := "local-" + uuid.NewString()
	s.rec.AddMessage(conv, chat.Message{
		ID:             draftID,
		ConversationID: conv,
		Role:           chat.RoleAssistant,
		CreatedAt:      now,
		Status:         chat.StatusDraft,
		Meta:           map[string]any{chat.MetaRetryPayload: payload},
	})
	s.emit(Event{Kind: EventLogUpdated, ConversationID: conv})

	go s.dispatch(conv, draftID, payload)
	return draftID, nil
}

// Retry re-sends an errored turn. The reconciler archives the old message
// and creates a fresh draft; the resend callback routes back through
// dispatch.
func (s *Session) Retry(conversationID, messageID string) error {
	_, err := s.rec.Retry(conversationID, messageID)
	return err
}

// dispatch performs the POST behind an optimistic draft and, on
// confirmation, re-keys the draft and subscribes to its generation stream.
// It is also the reconciler's resend path for retries.
func (s *Session) dispatch(conv, draftID string, payload chat.RetryPayload) {
	confirmedID, err := s.client.PostMessage(s.ctx, conv, payload)
	if err != nil {
		log.Printf("[session] post to %s failed: %v", conv, err)
		s.rec.MarkError(conv, draftID, err.Error(), "message could not be sent")
		s.emit(Event{Kind: EventLogUpdated, ConversationID: conv})
		return
	}

	s.rec.ReplaceID(conv, draftID, confirmedID)

	s.mu.Lock()
	subscribe := s.active == conv
	if subscribe {
		s.streamConv = conv
		s.streamingID = confirmedID
	}
	s.mu.Unlock()
	// If the user already switched away, the room keeps its confirmed
	// message but no subscription starts; history catches up on next open.
	if subscribe {
		s.stream.SetURL(s.client.StreamURL(confirmedID))
	}
	s.emit(Event{Kind: EventLogUpdated, ConversationID: conv})
}

func (s *Session) resend(conversationID string, message *chat.Message, payload chat.RetryPayload) {
	s.dispatch(conversationID, message.ID, payload)
}

// handleFrame runs on the transport goroutine, in arrival order. Frames
// apply to the room the subscription was opened under, not whichever room
// happens to be active when they arrive.
func (s *Session) handleFrame(frame envelope.Frame) {
	s.mu.Lock()
	conv := s.streamConv
	streamingID := s.streamingID
	s.mu.Unlock()
	if conv == "" {
		return
	}

	var extra map[string]any
	if streamingID != "" {
		extra = map[string]any{"messageId": streamingID}
	}
	env, ok := envelope.Normalize(frame, extra)
	if !ok {
		return
	}
	s.rec.Apply(conv, env)
	s.emit(Event{Kind: EventLogUpdated, ConversationID: conv})
}

// onTerminalStatus fires when a conversation's generation reaches a
// terminal status. A completed review triggers the report poll exactly
// once per room.
func (s *Session) onTerminalStatus(conversationID, status string) {
	if status != "completed" {
		return
	}
	s.mu.Lock()
	rm := s.rooms[conversationID]
	if rm == nil || rm.conversation.Kind != chat.KindReview || rm.pollStarted {
		s.mu.Unlock()
		return
	}
	rm.pollStarted = true

	check := s.client.ReportCheck(conversationID)
	poller := artifact.NewPoller(func(ctx context.Context) (string, bool, error) {
		// A dead push channel means nobody is coming back for the report.
		if s.stream.State() == stream.StateFailed {
			return "", false, fmt.Errorf("push channel lost: %w", artifact.ErrPermanent)
		}
		return check(ctx)
	})
	poller.OnReady(func(report string) {
		s.mu.Lock()
		rm.report = report
		s.mu.Unlock()
		s.emit(Event{Kind: EventReportReady, ConversationID: conversationID, Report: report})
	})
	poller.OnWaiting(func(attempt int) {
		s.emit(Event{Kind: EventReportWaiting, ConversationID: conversationID, Attempt: attempt})
	})
	poller.OnFailed(func(err error) {
		log.Printf("[session] report poll for %s gave up: %v", conversationID, err)
		s.emit(Event{Kind: EventReportFailed, ConversationID: conversationID, Err: err})
	})
	s.poller = poller
	s.mu.Unlock()

	poller.Start(s.ctx)
}

// Snapshot returns a consistent copy of one room's log.
func (s *Session) Snapshot(conversationID string) []chat.Message {
	return s.rec.Snapshot(conversationID)
}

// Projection builds the round-grouped debate view for a review room.
func (s *Session) Projection(conversationID string) *review.Projection {
	return review.Aggregate(s.rec.Snapshot(conversationID))
}

// Report returns the fetched terminal artifact, if any.
func (s *Session) Report(conversationID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[conversationID]
	if rm == nil || rm.report == "" {
		return "", false
	}
	return rm.report, true
}

// Active returns the open room id, "" when none.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ConnectionState reports the push channel state.
func (s *Session) ConnectionState() stream.State {
	return s.stream.State()
}

// Reconciler exposes the mutation API for callers that feed the log
// directly, such as tests and the TUI's retry action.
func (s *Session) Reconciler() *reconcile.Reconciler {
	return s.rec
}

// Close tears down the subscription, timers and poller.
func (s *Session) Close() {
	s.mu.Lock()
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.mu.Unlock()
	s.stream.Close()
	s.cancel()
}

func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	default:
		log.Printf("[session] dropped %s event for %s", event.Kind, event.ConversationID)
	}
}
