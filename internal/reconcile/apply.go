package reconcile

import (
	"log"

	"github.com/google/uuid"

	"github.com/agora-chat/agora/internal/envelope"
	"github.com/agora-chat/agora/internal/model/chat"
)

func newLocalID() string {
	return "local-" + uuid.NewString()
}

// Apply folds one normalized envelope into the conversation log. Envelopes
// that cannot be addressed to a message are dropped with a diagnostic;
// there is no safe mutation target for them.
func (r *Reconciler) Apply(conversationID string, env *envelope.Envelope) {
	if env == nil {
		return
	}
	switch env.Type {
	case envelope.TypeDelta:
		if env.MessageID == "" {
			log.Printf("[reconcile] delta without message id dropped in %s", conversationID)
			return
		}
		r.AppendChunk(conversationID, env.MessageID, env.Text)

	case envelope.TypeMeta:
		if env.MessageID == "" {
			log.Printf("[reconcile] meta without message id dropped in %s", conversationID)
			return
		}
		r.PatchMeta(conversationID, env.MessageID, env.Meta)

	case envelope.TypeNewMessage:
		if env.Message == nil {
			log.Printf("[reconcile] new_message without decodable payload dropped in %s", conversationID)
			return
		}
		r.AddMessage(conversationID, *env.Message)

	case envelope.TypeStatusUpdate:
		r.applyStatus(conversationID, env)

	case envelope.TypeDone:
		if env.Status == "failed" {
			r.failStream(conversationID, env)
		} else if env.MessageID != "" {
			r.SetStatus(conversationID, env.MessageID, chat.StatusComplete, env.Meta)
		}
		r.fireTerminal(conversationID, doneStatus(env))

	case envelope.TypeError:
		r.failStream(conversationID, env)
	}
}

func doneStatus(env *envelope.Envelope) string {
	if env.Status == "" {
		return "completed"
	}
	return env.Status
}

func (r *Reconciler) applyStatus(conversationID string, env *envelope.Envelope) {
	if env.MessageID != "" {
		switch env.Status {
		case "completed":
			r.SetStatus(conversationID, env.MessageID, chat.StatusComplete, env.Meta)
		case "failed":
			r.failStream(conversationID, env)
		}
	}
	if env.Status == "completed" || env.Status == "failed" {
		r.fireTerminal(conversationID, env.Status)
	}
}

func (r *Reconciler) fireTerminal(conversationID, status string) {
	if status != "completed" && status != "failed" {
		return
	}
	r.mu.RLock()
	cb := r.onTerminal
	r.mu.RUnlock()
	if cb != nil {
		cb(conversationID, status)
	}
}

// failStream handles a terminal stream failure for a message. When a retry
// payload was captured, the failure did not come from a manual retry, and
// the automatic-retry budget is unspent, exactly one resend is scheduled
// after a fixed short delay; otherwise the error is surfaced with the
// manual retry affordance.
func (r *Reconciler) failStream(conversationID string, env *envelope.Envelope) {
	if env.MessageID == "" {
		log.Printf("[reconcile] stream failure without message id dropped in %s", conversationID)
		return
	}

	r.mu.Lock()
	l := r.logFor(conversationID)
	msg, ok := l.byID[env.MessageID]
	if !ok {
		r.mu.Unlock()
		return
	}

	payload, hasPayload := chat.RetryPayloadOf(msg)
	eligible := hasPayload &&
		!msg.MetaBool(chat.MetaManualRetry) &&
		msg.MetaInt(chat.MetaAutoRetries) < maxAutoRetries

	if !eligible {
		r.mu.Unlock()
		r.MarkError(conversationID, env.MessageID, env.Text, "generation failed")
		return
	}

	// error -> retrying with the transient indicator, then the resend.
	if msg.Status != chat.StatusError {
		r.setStatusLocked(conversationID, env.MessageID, chat.StatusError, nil)
	}
	r.setStatusLocked(conversationID, env.MessageID, chat.StatusRetrying, map[string]any{
		chat.MetaError: errTextOf(env),
	})
	messageID := env.MessageID
	r.schedule(autoRetryDelay, func() {
		r.autoResend(conversationID, messageID, payload)
	})
	r.mu.Unlock()
}

func errTextOf(env *envelope.Envelope) string {
	if env.Text != "" {
		return env.Text
	}
	return "generation failed"
}

func (r *Reconciler) autoResend(conversationID, messageID string, payload chat.RetryPayload) {
	r.mu.Lock()
	l := r.logFor(conversationID)
	msg, ok := l.byID[messageID]
	if !ok || msg.Status != chat.StatusRetrying {
		// Superseded or manually handled while the timer was pending.
		r.mu.Unlock()
		return
	}
	fresh := r.supersedeLocked(conversationID, msg, payload, map[string]any{
		chat.MetaAutoRetries: msg.MetaInt(chat.MetaAutoRetries) + 1,
	})
	send := r.send
	r.mu.Unlock()

	log.Printf("[reconcile] auto-retrying message %s as %s in %s", messageID, fresh.ID, conversationID)
	if send != nil {
		send(conversationID, fresh, payload)
	}
}
