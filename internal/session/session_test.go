package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agora-chat/agora/internal/api"
	"github.com/agora-chat/agora/internal/envelope"
	"github.com/agora-chat/agora/internal/model/chat"
)

// fakeTransport records every subscription URL and lets tests push frames
// as if they arrived on the wire.
type fakeTransport struct {
	mu    sync.Mutex
	frame func(envelope.Frame)
	opens chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opens: make(chan string, 8)}
}

func (t *fakeTransport) Open(ctx context.Context, url string, opened func(), frame func(envelope.Frame)) error {
	t.mu.Lock()
	t.frame = frame
	t.mu.Unlock()
	t.opens <- url
	opened()
	<-ctx.Done()
	return ctx.Err()
}

func (t *fakeTransport) push(f envelope.Frame) {
	t.mu.Lock()
	fn := t.frame
	t.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (t *fakeTransport) waitOpen(tt *testing.T) string {
	tt.Helper()
	select {
	case url := <-t.opens:
		return url
	case <-time.After(2 * time.Second):
		tt.Fatal("transport was never opened")
		return ""
	}
}

type backend struct {
	mu            sync.Mutex
	listCalls     int
	conversations []chat.Conversation
	messages      map[string][]chat.Message
	nextID        string
	report        string
	reportMisses  int
}

func (b *backend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch {
		case r.URL.Path == "/conversations":
			json.NewEncoder(w).Encode(b.conversations)
		case strings.HasSuffix(r.URL.Path, "/messages") && r.Method == http.MethodGet:
			b.listCalls++
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/conversations/"), "/messages")
			json.NewEncoder(w).Encode(b.messages[id])
		case strings.HasSuffix(r.URL.Path, "/messages") && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"messageId": b.nextID})
		case strings.HasSuffix(r.URL.Path, "/report"):
			if b.reportMisses > 0 {
				b.reportMisses--
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(b.report))
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestSession(t *testing.T, b *backend) (*Session, *fakeTransport, func()) {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	transport := newFakeTransport()
	s := New(api.NewClient(srv.URL), transport)
	return s, transport, func() {
		s.Close()
		srv.Close()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestOpenBulkLoadsHistoryOnce(t *testing.T) {
	b := &backend{
		messages: map[string][]chat.Message{
			"conv-1": {
				{ID: "m1", Role: chat.RoleUser, Content: "hi", Status: chat.StatusComplete},
				{ID: "m2", Role: chat.RoleAssistant, Content: "hello", Status: chat.StatusComplete},
			},
		},
	}
	s, _, done := newTestSession(t, b)
	defer done()

	if err := s.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := s.Snapshot("conv-1"); len(got) != 2 || got[0].ID != "m1" {
		t.Fatalf("snapshot = %+v", got)
	}

	if err := s.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	b.mu.Lock()
	calls := b.listCalls
	b.mu.Unlock()
	if calls != 1 {
		t.Fatalf("history fetched %d times, want 1", calls)
	}
}

func TestSendConfirmsAndStreamsIntoDraft(t *testing.T) {
	b := &backend{nextID: "srv-1", messages: map[string][]chat.Message{}}
	s, transport, done := newTestSession(t, b)
	defer done()

	if err := s.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Send("what about cost?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	url := transport.waitOpen(t)
	if !strings.HasSuffix(url, "/messages/srv-1/stream") {
		t.Fatalf("subscribed to %q", url)
	}
	waitFor(t, "draft re-key", func() bool {
		_, ok := s.Reconciler().Get("conv-1", "srv-1")
		return ok
	})

	for _, chunk := range []string{"Hel", "lo", " world"} {
		transport.push(envelope.Frame{Event: "delta", Data: `{"messageId":"srv-1","delta":"` + chunk + `"}`})
	}
	transport.push(envelope.Frame{Event: "done", Data: `{"messageId":"srv-1","status":"completed"}`})

	waitFor(t, "assistant turn", func() bool {
		msg, ok := s.Reconciler().Get("conv-1", "srv-1")
		return ok && msg.Status == chat.StatusComplete && msg.Content == "Hello world"
	})

	snapshot := s.Snapshot("conv-1")
	if len(snapshot) != 2 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot[0].Role != chat.RoleUser || snapshot[0].Content != "what about cost?" {
		t.Fatalf("user turn = %+v", snapshot[0])
	}
}

func TestSwitchRoomDropsLateFrames(t *testing.T) {
	b := &backend{nextID: "srv-1", messages: map[string][]chat.Message{}}
	s, transport, done := newTestSession(t, b)
	defer done()

	if err := s.Open(context.Background(), "conv-a"); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if _, err := s.Send("first room"); err != nil {
		t.Fatalf("send: %v", err)
	}
	transport.waitOpen(t)

	if err := s.Open(context.Background(), "conv-b"); err != nil {
		t.Fatalf("open b: %v", err)
	}

	// A frame from the old subscription arriving after the switch must not
	// land anywhere: not in conv-b, and not appended to conv-a either.
	transport.push(envelope.Frame{Event: "delta", Data: `{"messageId":"srv-1","delta":"ghost"}`})
	time.Sleep(50 * time.Millisecond)

	if got := s.Snapshot("conv-b"); len(got) != 0 {
		t.Fatalf("conv-b log = %+v", got)
	}
	if msg, ok := s.Reconciler().Get("conv-a", "srv-1"); ok && strings.Contains(msg.Content, "ghost") {
		t.Fatalf("late frame applied to old room: %+v", msg)
	}
}

func TestSwitchRoomShieldsNewRoomFromInFlightFrames(t *testing.T) {
	b := &backend{nextID: "srv-1", messages: map[string][]chat.Message{}}
	s, transport, done := newTestSession(t, b)
	defer done()

	if err := s.Open(context.Background(), "conv-a"); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if _, err := s.Send("first room"); err != nil {
		t.Fatalf("send: %v", err)
	}
	transport.waitOpen(t)

	// Hammer pushes for the whole duration of the switch, so some frames
	// race the room swap itself. Whatever clears the transport mid-switch
	// may land in conv-a (its own room) or be dropped; conv-b must stay
	// untouched.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			transport.push(envelope.Frame{
				Event: "new_message",
				Data:  `{"payload":{"id":"ghost-` + strconv.Itoa(i) + `","role":"assistant","content":"ghost","status":"complete"}}`,
			})
		}
	}()

	if err := s.Open(context.Background(), "conv-b"); err != nil {
		t.Fatalf("open b: %v", err)
	}
	close(stop)
	wg.Wait()

	if got := s.Snapshot("conv-b"); len(got) != 0 {
		t.Fatalf("mid-switch frames applied to the new room: %+v", got)
	}
}

func TestSendFailureSurfacesErrorStatus(t *testing.T) {
	// Empty nextID makes the POST response invalid, failing the dispatch.
	b := &backend{nextID: "", messages: map[string][]chat.Message{}}
	s, _, done := newTestSession(t, b)
	defer done()

	if err := s.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	draftID, err := s.Send("doomed")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, "error status", func() bool {
		msg, ok := s.Reconciler().Get("conv-1", draftID)
		return ok && msg.Status == chat.StatusError
	})
}

func TestCompletedReviewFetchesReport(t *testing.T) {
	b := &backend{
		conversations: []chat.Conversation{
			{ID: "rev-1", Kind: chat.KindReview, Title: "Caching strategy", Topic: "caching"},
		},
		messages: map[string][]chat.Message{"rev-1": {}},
		report:   "# Final report",
	}
	s, _, done := newTestSession(t, b)
	defer done()

	if _, err := s.Rooms(context.Background()); err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if err := s.Open(context.Background(), "rev-1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	s.Reconciler().Apply("rev-1", &envelope.Envelope{Type: envelope.TypeDone, Status: "completed"})

	ev := waitEvent(t, s, EventReportReady)
	if ev.Report != "# Final report" {
		t.Fatalf("report = %q", ev.Report)
	}
	if report, ok := s.Report("rev-1"); !ok || report != "# Final report" {
		t.Fatalf("stored report = %q, %v", report, ok)
	}
}

func TestPlainRoomDoesNotPollForReports(t *testing.T) {
	b := &backend{
		conversations: []chat.Conversation{{ID: "conv-1", Kind: chat.KindChat}},
		messages:      map[string][]chat.Message{"conv-1": {}},
	}
	s, _, done := newTestSession(t, b)
	defer done()

	if _, err := s.Rooms(context.Background()); err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if err := s.Open(context.Background(), "conv-1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Reconciler().Apply("conv-1", &envelope.Envelope{Type: envelope.TypeDone, Status: "completed"})

	select {
	case ev := <-s.Events():
		if ev.Kind == EventReportReady || ev.Kind == EventReportWaiting {
			t.Fatalf("unexpected %s event for a plain chat room", ev.Kind)
		}
	case <-time.After(100 * time.Millisecond):
	}
}
