package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agora-chat/agora/internal/envelope"
)

func TestSSETransportParsesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": welcome\n\n")
		fmt.Fprint(w, "event: delta\ndata: {\"messageId\":\"m1\",\"delta\":\"Hel\"}\n\n")
		fmt.Fprint(w, "data: plain text chunk\n\n")
		fmt.Fprint(w, "event: done\ndata: {\"status\":\"completed\"}\n\n")
	}))
	defer srv.Close()

	var frames []envelope.Frame
	var opened bool
	tr := NewSSETransport()
	err := tr.Open(context.Background(), srv.URL, func() { opened = true }, func(f envelope.Frame) {
		frames = append(frames, f)
	})
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("err = %v, want ErrStreamClosed", err)
	}
	if !opened {
		t.Fatal("opened not signalled")
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames: %+v", len(frames), frames)
	}
	if frames[0].Event != "delta" || frames[0].Data != `{"messageId":"m1","delta":"Hel"}` {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[1].Event != "" || frames[1].Data != "plain text chunk" {
		t.Fatalf("frame 1 = %+v", frames[1])
	}
	if frames[2].Event != "done" {
		t.Fatalf("frame 2 = %+v", frames[2])
	}
}

func TestSSETransportMultiLineData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: line one\ndata: line two\n\n")
	}))
	defer srv.Close()

	var frames []envelope.Frame
	tr := NewSSETransport()
	_ = tr.Open(context.Background(), srv.URL, func() {}, func(f envelope.Frame) {
		frames = append(frames, f)
	})
	if len(frames) != 1 || frames[0].Data != "line one\nline two" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestSSETransportNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such stream", http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewSSETransport()
	err := tr.Open(context.Background(), srv.URL, func() { t.Fatal("opened on 404") }, nil)
	if err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestSSETransportContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: first\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan envelope.Frame, 1)
	errCh := make(chan error, 1)
	tr := NewSSETransport()
	go func() {
		errCh <- tr.Open(ctx, srv.URL, func() {}, func(f envelope.Frame) { got <- f })
	}()

	select {
	case f := <-got:
		if f.Data != "first" {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame before cancel")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not return after cancel")
	}
}
