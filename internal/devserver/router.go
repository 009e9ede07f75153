package devserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agora-chat/agora/internal/model/chat"
)

// NewRouter wires the devserver's HTTP surface.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/conversations", h.handleListConversations)
	r.Post("/conversations", h.handleCreateConversation)
	r.Get("/conversations/{conversationID}/messages", h.handleListMessages)
	r.Post("/conversations/{conversationID}/messages", h.handlePostMessage)
	r.Post("/conversations/{conversationID}/export", h.handleCreateExport)

	r.Get("/messages/{messageID}/stream", h.handleStream)
	r.Get("/messages/{messageID}/ws", h.handleWS)

	r.Get("/reviews/{reviewID}", h.handleGetReview)
	r.Get("/reviews/{reviewID}/report", h.handleGetReviewReport)

	r.Get("/export/jobs/{jobID}", h.handleGetExportJob)
	r.Get("/panelists", h.handleListPanelists)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SeedDemo creates the default rooms a fresh devserver starts with.
func SeedDemo(store *Store) {
	store.AddConversation(chat.Conversation{ID: "general", Kind: chat.KindChat, Title: "General chat"})
	store.AddConversation(chat.Conversation{ID: "scratch", Kind: chat.KindChat, Title: "Scratchpad"})
	store.AddConversation(chat.Conversation{
		ID:    "review-caching",
		Kind:  chat.KindReview,
		Title: "Caching strategy review",
		Topic: "Adopt a read-through cache for the profile service",
	})
}
