package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agora-chat/agora/internal/model/chat"
)

func TestListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/conv-1/messages" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]chat.Message{
			{ID: "m1", ConversationID: "conv-1", Role: chat.RoleUser, Content: "hi", Status: chat.StatusComplete},
			{ID: "m2", ConversationID: "conv-1", Role: chat.RoleAssistant, Content: "hello", Status: chat.StatusComplete},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	messages, err := c.ListMessages(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "m1" || messages[1].Content != "hello" {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestPostMessageReturnsConfirmedID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s", r.Method)
		}
		var payload chat.RetryPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload.Content != "what about cost?" {
			t.Fatalf("content = %q", payload.Content)
		}
		json.NewEncoder(w).Encode(map[string]string{"messageId": "srv-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.PostMessage(context.Background(), "conv-1", chat.RetryPayload{Content: "what about cost?"})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if id != "srv-42" {
		t.Fatalf("id = %q", id)
	}
}

func TestPostMessageRejectsEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).PostMessage(context.Background(), "conv-1", chat.RetryPayload{Content: "x"}); err == nil {
		t.Fatal("expected error for missing messageId")
	}
}

func TestStreamURL(t *testing.T) {
	c := NewClient("http://api.local/")
	if got := c.StreamURL("srv-42"); got != "http://api.local/messages/srv-42/stream" {
		t.Fatalf("StreamURL = %q", got)
	}
	c.SetStreamPath("/ws")
	if got := c.StreamURL("srv-42"); got != "http://api.local/messages/srv-42/ws" {
		t.Fatalf("StreamURL after SetStreamPath = %q", got)
	}
}

func TestGetReviewAndReportCheck(t *testing.T) {
	reportReady := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/reviews/rev-1":
			json.NewEncoder(w).Encode(Review{ID: "rev-1", Status: "completed", Topic: "caching strategy"})
		case "/reviews/rev-1/report":
			if !reportReady {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte("# Final report"))
		default:
			t.Fatalf("path = %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	review, err := c.GetReview(context.Background(), "rev-1")
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if review.Status != "completed" || review.Topic != "caching strategy" {
		t.Fatalf("review = %+v", review)
	}

	check := c.ReportCheck("rev-1")
	if _, ready, err := check(context.Background()); err != nil || ready {
		t.Fatalf("pre-propagation check = ready %v, err %v", ready, err)
	}
	reportReady = true
	report, ready, err := check(context.Background())
	if err != nil || !ready {
		t.Fatalf("post-propagation check = ready %v, err %v", ready, err)
	}
	if report != "# Final report" {
		t.Fatalf("report = %q", report)
	}
}

func TestGetJSONSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ListConversations(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWatchExportJobResolvesDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/export/jobs/job-1" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ExportJob{
			ID: "job-1", Status: ExportDone, FileURL: "https://files.example/log.json",
		})
	}))
	defer srv.Close()

	done := make(chan string, 1)
	stop := NewClient(srv.URL).WatchExportJob(context.Background(), "job-1",
		func(fileURL string) { done <- fileURL },
		func(err error) { t.Errorf("watch failed: %v", err) },
	)
	defer stop()

	select {
	case fileURL := <-done:
		if fileURL != "https://files.example/log.json" {
			t.Fatalf("fileURL = %q", fileURL)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch never resolved")
	}
}

func TestWatchExportJobBackendFailureIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExportJob{ID: "job-1", Status: ExportError})
	}))
	defer srv.Close()

	failed := make(chan error, 1)
	stop := NewClient(srv.URL).WatchExportJob(context.Background(), "job-1",
		func(string) { t.Error("unexpected success") },
		func(err error) { failed <- err },
	)
	defer stop()

	select {
	case err := <-failed:
		if !errors.Is(err, ErrExportFailed) {
			t.Fatalf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backend failure never surfaced")
	}
}
