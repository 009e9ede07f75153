// Package reconcile owns the authoritative in-memory message log for each
// conversation. Three unordered sources feed it (bulk fetch, live
// envelopes, optimistic local writes); all of them funnel through the same
// mutation API and merge idempotently on message id.
package reconcile

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/agora-chat/agora/internal/model/chat"
)

// ErrNoRetryPayload reports a retry on a message without a saved payload;
// there is nothing to resend.
var ErrNoRetryPayload = errors.New("message has no saved retry payload")

// autoRetryDelay is the fixed pause before the single automatic resend.
const autoRetryDelay = 2 * time.Second

// maxAutoRetries caps automatic resends per retry chain. Manual retry
// stays available past the cap.
const maxAutoRetries = 1

// SendFunc issues a fresh send for a superseding message. The message is
// already in the log in draft state when the func is invoked.
type SendFunc func(conversationID string, message *chat.Message, payload chat.RetryPayload)

// ScheduleFunc mirrors time.AfterFunc; injectable for tests.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

type conversationLog struct {
	order []string
	byID  map[string]*chat.Message
}

// Reconciler is the single writer of conversation logs. Reads are served
// from copied snapshots and never observe a partially-applied chunk.
type Reconciler struct {
	mu         sync.RWMutex
	logs       map[string]*conversationLog
	send       SendFunc
	schedule   ScheduleFunc
	onTerminal func(conversationID, status string)
	newID      func() string
}

// New builds a reconciler. send may be nil when the caller never retries.
func New(send SendFunc) *Reconciler {
	return &Reconciler{
		logs: make(map[string]*conversationLog),
		send: send,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
		newID: newLocalID,
	}
}

// SetSchedule overrides the auto-retry timer for tests.
func (r *Reconciler) SetSchedule(fn ScheduleFunc) {
	r.mu.Lock()
	r.schedule = fn
	r.mu.Unlock()
}

// SetIDFunc overrides local id generation for tests.
func (r *Reconciler) SetIDFunc(fn func() string) {
	r.mu.Lock()
	r.newID = fn
	r.mu.Unlock()
}

// OnTerminalStatus registers the callback fired when a stream reports a
// terminal conversation status (e.g. "completed"); the artifact poller
// hangs off this signal.
func (r *Reconciler) OnTerminalStatus(fn func(conversationID, status string)) {
	r.mu.Lock()
	r.onTerminal = fn
	r.mu.Unlock()
}

func (r *Reconciler) logFor(conversationID string) *conversationLog {
	l, ok := r.logs[conversationID]
	if !ok {
		l = &conversationLog{byID: make(map[string]*chat.Message)}
		r.logs[conversationID] = l
	}
	return l
}

// BulkLoad replaces the log wholesale, but only when it is currently
// empty: a live session that has accumulated optimistic or streamed state
// must never be clobbered by a late-arriving fetch. Returns whether the
// load was applied.
func (r *Reconciler) BulkLoad(conversationID string, messages []chat.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.logFor(conversationID)
	if len(l.order) > 0 {
		return false
	}
	for i := range messages {
		msg := messages[i]
		if msg.ID == "" {
			continue
		}
		if _, dup := l.byID[msg.ID]; dup {
			continue
		}
		if msg.Status == "" {
			msg.Status = chat.StatusComplete
		}
		msg.ConversationID = conversationID
		l.order = append(l.order, msg.ID)
		l.byID[msg.ID] = &msg
	}
	return true
}

// AddMessage inserts unless the id already exists (idempotent no-op on
// duplicate). Returns whether an insert happened.
func (r *Reconciler) AddMessage(conversationID string, msg chat.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(conversationID, msg)
}

func (r *Reconciler) addLocked(conversationID string, msg chat.Message) bool {
	if msg.ID == "" {
		log.Printf("[reconcile] dropping message without id in %s", conversationID)
		return false
	}
	l := r.logFor(conversationID)
	if _, dup := l.byID[msg.ID]; dup {
		return false
	}
	if msg.Status == "" {
		msg.Status = chat.StatusDraft
	}
	msg.ConversationID = conversationID
	l.order = append(l.order, msg.ID)
	l.byID[msg.ID] = &msg
	return true
}

// AppendChunk concatenates streamed text onto a message. Unknown ids are a
// defensive no-op: the stream may reference a message not yet locally
// visible. Content is immutable once the message is terminal.
func (r *Reconciler) AppendChunk(conversationID, messageID, text string) bool {
	if text == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.logFor(conversationID)
	msg, ok := l.byID[messageID]
	if !ok {
		return false
	}
	if msg.Status.Terminal() {
		log.Printf("[reconcile] chunk for terminal message %s ignored", messageID)
		return false
	}
	if msg.Status == chat.StatusDraft || msg.Status == chat.StatusRetrying {
		msg.Status = chat.StatusStreaming
	}
	msg.Content += text
	return true
}

// SetStatus transitions a message and shallow-merges metaPatch into its
// meta. Illegal transitions are dropped with a diagnostic.
func (r *Reconciler) SetStatus(conversationID, messageID string, status chat.Status, metaPatch map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStatusLocked(conversationID, messageID, status, metaPatch)
}

func (r *Reconciler) setStatusLocked(conversationID, messageID string, status chat.Status, metaPatch map[string]any) bool {
	l := r.logFor(conversationID)
	msg, ok := l.byID[messageID]
	if !ok {
		return false
	}
	if msg.Status != status && !canTransition(msg.Status, status) {
		log.Printf("[reconcile] illegal transition %s -> %s for %s", msg.Status, status, messageID)
		return false
	}
	msg.Status = status
	patchMeta(msg, metaPatch)
	return true
}

// MarkError sets error status and records the message to show: errorText
// when present, otherwise the caller's display fallback.
func (r *Reconciler) MarkError(conversationID, messageID, errorText, displayFallback string) bool {
	text := errorText
	if text == "" {
		text = displayFallback
	}
	return r.SetStatus(conversationID, messageID, chat.StatusError, map[string]any{chat.MetaError: text})
}

// PatchMeta shallow-merges meta without touching status.
func (r *Reconciler) PatchMeta(conversationID, messageID string, metaPatch map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.logFor(conversationID)
	msg, ok := l.byID[messageID]
	if !ok {
		return false
	}
	patchMeta(msg, metaPatch)
	return true
}

// ReplaceID swaps a client-generated temporary id for the server-confirmed
// one, preserving log position and content state.
func (r *Reconciler) ReplaceID(conversationID, tempID, confirmedID string) bool {
	if tempID == confirmedID || confirmedID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.logFor(conversationID)
	msg, ok := l.byID[tempID]
	if !ok {
		return false
	}
	if _, taken := l.byID[confirmedID]; taken {
		log.Printf("[reconcile] confirmed id %s already present, keeping %s", confirmedID, tempID)
		return false
	}
	msg.ID = confirmedID
	delete(l.byID, tempID)
	l.byID[confirmedID] = msg
	for i, id := range l.order {
		if id == tempID {
			l.order[i] = confirmedID
			break
		}
	}
	return true
}

// Retry supersedes an errored message with a fresh send of its saved
// payload. The old message is archived, a new draft takes a new id, and
// the injected sender is invoked. Messages without a saved payload are a
// no-op: there is nothing to resend.
func (r *Reconciler) Retry(conversationID, messageID string) (*chat.Message, error) {
	r.mu.Lock()
	l := r.logFor(conversationID)
	msg, ok := l.byID[messageID]
	if !ok {
		r.mu.Unlock()
		return nil, errors.New("message not found")
	}
	payload, ok := chat.RetryPayloadOf(msg)
	if !ok {
		r.mu.Unlock()
		return nil, ErrNoRetryPayload
	}
	fresh := r.supersedeLocked(conversationID, msg, payload, map[string]any{
		chat.MetaManualRetry: true,
	})
	send := r.send
	r.mu.Unlock()

	if send != nil {
		go send(conversationID, fresh, payload)
	}
	return fresh, nil
}

// supersedeLocked archives old and appends the replacement draft carrying
// the retry payload forward. extraMeta is merged into the fresh message.
func (r *Reconciler) supersedeLocked(conversationID string, old *chat.Message, payload chat.RetryPayload, extraMeta map[string]any) *chat.Message {
	old.Status = chat.StatusArchived

	fresh := chat.Message{
		ID:        r.newID(),
		Role:      old.Role,
		CreatedAt: time.Now().Unix(),
		Status:    chat.StatusDraft,
		Meta: map[string]any{
			chat.MetaRetryPayload: payload,
			chat.MetaAutoRetries:  old.MetaInt(chat.MetaAutoRetries),
		},
	}
	patchMeta(&fresh, extraMeta)
	r.addLocked(conversationID, fresh)

	l := r.logFor(conversationID)
	return l.byID[fresh.ID]
}

// Snapshot returns a consistent copy of the conversation log, oldest
// first. Meta maps are copied so callers cannot mutate the store.
func (r *Reconciler) Snapshot(conversationID string) []chat.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.logs[conversationID]
	if !ok {
		return nil
	}
	out := make([]chat.Message, 0, len(l.order))
	for _, id := range l.order {
		msg := *l.byID[id]
		if msg.Meta != nil {
			meta := make(map[string]any, len(msg.Meta))
			for k, v := range msg.Meta {
				meta[k] = v
			}
			msg.Meta = meta
		}
		out = append(out, msg)
	}
	return out
}

// Get returns a copy of one message.
func (r *Reconciler) Get(conversationID, messageID string) (chat.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[conversationID]
	if !ok {
		return chat.Message{}, false
	}
	msg, ok := l.byID[messageID]
	if !ok {
		return chat.Message{}, false
	}
	return *msg, true
}

// canTransition encodes the per-message state machine:
// draft -> streaming -> complete, with side branches to error, retrying
// and archived.
func canTransition(from, to chat.Status) bool {
	switch from {
	case chat.StatusDraft:
		return to == chat.StatusStreaming || to == chat.StatusComplete || to == chat.StatusError || to == chat.StatusArchived
	case chat.StatusStreaming:
		return to == chat.StatusComplete || to == chat.StatusError || to == chat.StatusArchived
	case chat.StatusError:
		return to == chat.StatusRetrying || to == chat.StatusArchived
	case chat.StatusRetrying:
		return to == chat.StatusStreaming || to == chat.StatusArchived || to == chat.StatusError
	case chat.StatusComplete:
		return to == chat.StatusArchived
	case chat.StatusArchived:
		return false
	}
	return true
}

func patchMeta(msg *chat.Message, patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	if msg.Meta == nil {
		msg.Meta = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		msg.Meta[k] = v
	}
}
