package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agora-chat/agora/internal/model/chat"
	"github.com/agora-chat/agora/pkg/utils"
)

// Handler serves the devserver's HTTP surface.
type Handler struct {
	store       *Store
	panel       PanelistStore
	generator   *Generator
	streamDelay time.Duration
	reportDelay time.Duration
	upgrader    websocket.Upgrader
}

func NewHandler(store *Store, panel PanelistStore, generator *Generator, streamDelay, reportDelay time.Duration) *Handler {
	return &Handler{
		store:       store,
		panel:       panel,
		generator:   generator,
		streamDelay: streamDelay,
		reportDelay: reportDelay,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Conversations())
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string    `json:"title"`
		Kind  chat.Kind `json:"kind"`
		Topic string    `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = chat.KindChat
	}
	if req.Kind != chat.KindChat && req.Kind != chat.KindReview {
		utils.RespondError(w, http.StatusBadRequest, "kind must be chat or review")
		return
	}

	conv := h.store.AddConversation(chat.Conversation{
		Kind:  req.Kind,
		Title: req.Title,
		Topic: req.Topic,
	})
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	messages, err := h.store.Transcript(conversationID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handlePostMessage persists the user turn, queues the generation stream
// for the returned message id, and answers with that id. The push channel
// at /messages/{id}/stream starts emitting once subscribed.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	conv, ok := h.store.Conversation(conversationID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var payload chat.RetryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	if _, err := h.store.SaveMessage(chat.Message{
		ConversationID: conversationID,
		Role:           chat.RoleUser,
		Content:        payload.Content,
	}); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	assistantID := uuid.NewString()
	gen := &generation{ConversationID: conversationID, MessageID: assistantID}

	switch {
	case conv.Kind == chat.KindReview:
		topic := conv.Topic
		if topic == "" {
			topic = payload.Content
		}
		frames, turns, report := debateScript(conversationID, topic, h.panel.List(), uuid.NewString)
		for _, turn := range turns {
			if _, err := h.store.SaveMessage(turn); err != nil {
				log.Printf("[devserver] failed to persist debate turn: %v", err)
			}
		}
		gen.Frames = frames
		gen.Review = true
		gen.Report = report

	case h.generator != nil:
		gen.Prompt = payload.Content

	default:
		gen.Frames = chatScript(assistantID, payload.Content)
		gen.Final = cannedReply(payload.Content)
	}

	h.store.PutGeneration(gen)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"messageId": assistantID})
}

// handleStream plays one generation over Server-Sent Events.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	gen, err := h.store.TakeGeneration(messageID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "no pending stream for message")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	utils.SendSSEComment(w, flusher, "connected")
	log.Printf("[sse] streaming message=%s conversation=%s", gen.MessageID, gen.ConversationID)

	emit := func(event string, data map[string]any) bool {
		select {
		case <-r.Context().Done():
			return false
		default:
		}
		utils.SendSSEEvent(w, flusher, event, data)
		if h.streamDelay > 0 {
			time.Sleep(h.streamDelay)
		}
		return true
	}
	h.play(r, gen, emit)
}

// handleWS plays one generation over a websocket, framing each event as an
// {event, data} envelope.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	gen, err := h.store.TakeGeneration(messageID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "no pending stream for message")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("[ws] streaming message=%s conversation=%s", gen.MessageID, gen.ConversationID)

	emit := func(event string, data map[string]any) bool {
		body, err := json.Marshal(data)
		if err != nil {
			return false
		}
		frame := map[string]string{"event": event, "data": string(body)}
		if err := conn.WriteJSON(frame); err != nil {
			return false
		}
		if h.streamDelay > 0 {
			time.Sleep(h.streamDelay)
		}
		return true
	}
	h.play(r, gen, emit)

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

// play drives a generation through the given emitter and finalizes state:
// persisting the assembled assistant turn, or publishing the review report
// with its propagation delay.
func (h *Handler) play(r *http.Request, gen *generation, emit func(event string, data map[string]any) bool) {
	completed := false
	if gen.Prompt != "" && h.generator != nil {
		completed = h.playModel(r, gen, emit)
	} else {
		completed = true
		for _, frame := range gen.Frames {
			if !emit(frame.Event, frame.Data) {
				completed = false
				break
			}
		}
	}
	if !completed {
		log.Printf("[sse] stream for message=%s ended early", gen.MessageID)
		return
	}

	if gen.Review {
		h.store.CompleteReview(gen.ConversationID, gen.Report, time.Now().Add(h.reportDelay))
		return
	}
	if gen.Final != "" {
		if _, err := h.store.SaveMessage(chat.Message{
			ID:             gen.MessageID,
			ConversationID: gen.ConversationID,
			Role:           chat.RoleAssistant,
			Content:        gen.Final,
			Status:         chat.StatusComplete,
		}); err != nil {
			log.Printf("[devserver] failed to persist assistant turn: %v", err)
		}
	}
}

// playModel streams a live Ark reply as delta frames.
func (h *Handler) playModel(r *http.Request, gen *generation, emit func(event string, data map[string]any) bool) bool {
	history, err := h.store.Transcript(gen.ConversationID)
	if err != nil {
		emit("error", map[string]any{"messageId": gen.MessageID, "error": "conversation vanished"})
		return false
	}

	stream, err := h.generator.Stream(r.Context(), history, gen.Prompt)
	if err != nil {
		emit("error", map[string]any{
			"messageId": gen.MessageID,
			"error":     fmt.Sprintf("generation failed: %v", err),
		})
		return false
	}
	defer stream.Close()

	var assembled strings.Builder
	chunks := 0
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			emit("error", map[string]any{
				"messageId": gen.MessageID,
				"error":     fmt.Sprintf("generation failed: %v", recvErr),
			})
			return false
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		assembled.WriteString(chunk.Content)
		chunks++
		if !emit("delta", map[string]any{"messageId": gen.MessageID, "delta": chunk.Content}) {
			return false
		}
	}

	emit("meta", map[string]any{
		"messageId": gen.MessageID,
		"meta":      map[string]any{"model": "ark", "chunks": chunks},
	})
	if !emit("done", map[string]any{"messageId": gen.MessageID, "status": "completed"}) {
		return false
	}
	gen.Final = assembled.String()
	return true
}

func (h *Handler) handleGetReview(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")
	state, ok := h.store.Review(reviewID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "review not found")
		return
	}

	resp := map[string]any{"id": reviewID, "status": state.Status, "topic": state.Topic}
	if report, ready := h.store.ReviewReport(reviewID, time.Now()); ready {
		resp["final_report"] = report
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetReviewReport(w http.ResponseWriter, r *http.Request) {
	reviewID := chi.URLParam(r, "reviewID")
	report, ready := h.store.ReviewReport(reviewID, time.Now())
	if !ready {
		// Expected while the report propagates; the client poller absorbs it.
		utils.RespondError(w, http.StatusNotFound, "report not ready")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(report))
}

func (h *Handler) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	jobID, err := h.store.CreateExportJob(conversationID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *Handler) handleGetExportJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	status, fileURL, err := h.store.ExportJobStatus(jobID, time.Now())
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "export job not found")
		return
	}
	resp := map[string]any{"id": jobID, "status": status}
	if fileURL != "" {
		resp["file_url"] = fileURL
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListPanelists(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.panel.List())
}
