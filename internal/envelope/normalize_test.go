package envelope_test

import (
	"testing"

	"github.com/agora-chat/agora/internal/envelope"
)

func TestNormalizeDropsControlFrames(t *testing.T) {
	cases := []envelope.Frame{
		{Data: ""},
		{Data: "   \n\t"},
		{Data: ": keep-alive comment"},
		{Data: "[DONE]"},
		{Data: "ping"},
		{Event: "heartbeat", Data: `{"event":"heartbeat","message":"awaiting response"}`},
	}
	for _, frame := range cases {
		if env, ok := envelope.Normalize(frame, nil); ok {
			t.Fatalf("frame %q should be dropped, got %+v", frame.Data, env)
		}
	}
}

func TestNormalizeStructuredDelta(t *testing.T) {
	frame := envelope.Frame{Event: "delta", Data: `{"messageId":"m1","delta":"Hel","meta":{"chunk":1,"model":"ark"}}`}
	env, ok := envelope.Normalize(frame, nil)
	if !ok {
		t.Fatal("structured delta should not be dropped")
	}
	if env.Type != envelope.TypeDelta {
		t.Fatalf("type = %s, want delta", env.Type)
	}
	if env.MessageID != "m1" || env.Text != "Hel" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Meta["model"] != "ark" {
		t.Fatalf("payload meta not merged: %+v", env.Meta)
	}
}

func TestNormalizePlainTextFallback(t *testing.T) {
	// Non-JSON delta bodies are a legal upstream shape and must not be lost.
	env, ok := envelope.Normalize(envelope.Frame{Event: "delta", Data: "lo wor"}, map[string]any{"messageId": "m1"})
	if !ok {
		t.Fatal("plain text delta dropped")
	}
	if env.Text != "lo wor" {
		t.Fatalf("text = %q", env.Text)
	}
	if env.MessageID != "m1" {
		t.Fatalf("caller meta should supply the target id, got %q", env.MessageID)
	}
}

func TestNormalizeExtraMetaWinsOverPayloadMeta(t *testing.T) {
	frame := envelope.Frame{Event: "meta", Data: `{"messageId":"m2","meta":{"provider":"payload","chunk":3}}`}
	env, ok := envelope.Normalize(frame, map[string]any{"provider": "caller"})
	if !ok {
		t.Fatal("meta frame dropped")
	}
	if env.Meta["provider"] != "caller" {
		t.Fatalf("caller extras must win on collision: %+v", env.Meta)
	}
	if env.Meta["chunk"] != float64(3) {
		t.Fatalf("payload meta lost: %+v", env.Meta)
	}
}

func TestNormalizeNestedPayload(t *testing.T) {
	frame := envelope.Frame{Event: "status_update", Data: `{"type":"status_update","payload":{"status":"in_progress","messageId":"m3"}}`}
	env, ok := envelope.Normalize(frame, nil)
	if !ok {
		t.Fatal("status_update dropped")
	}
	if env.Type != envelope.TypeStatusUpdate || env.Status != "in_progress" || env.MessageID != "m3" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestNormalizeNewMessage(t *testing.T) {
	data := `{"type":"new_message","payload":{"id":"m9","role":"assistant","content":"Round 1 opening","meta":{"persona":"Optimist","round":1}}}`
	env, ok := envelope.Normalize(envelope.Frame{Event: "new_message", Data: data}, nil)
	if !ok {
		t.Fatal("new_message dropped")
	}
	if env.Message == nil {
		t.Fatal("payload message not decoded")
	}
	if env.Message.ID != "m9" || env.Message.Content != "Round 1 opening" {
		t.Fatalf("unexpected message: %+v", env.Message)
	}
	if env.MessageID != "m9" {
		t.Fatalf("message id not lifted: %q", env.MessageID)
	}
}

func TestNormalizeDoneStatuses(t *testing.T) {
	env, ok := envelope.Normalize(envelope.Frame{Event: "done", Data: `{"status":"failed","error":"rate limited"}`}, nil)
	if !ok {
		t.Fatal("done frame dropped")
	}
	if !env.TerminalFailure() {
		t.Fatalf("done with status=failed should be a terminal failure: %+v", env)
	}
	if env.Text != "rate limited" {
		t.Fatalf("error text lost: %q", env.Text)
	}

	env, ok = envelope.Normalize(envelope.Frame{Event: "done", Data: `{"status":"completed"}`}, nil)
	if !ok || env.TerminalFailure() {
		t.Fatalf("completed done misclassified: %+v", env)
	}
}

func TestNormalizeIdempotentAcrossPasses(t *testing.T) {
	// Two normalizer passes over the same frame yield equal envelopes, so a
	// reconnect replay cannot mutate what the reconciler will apply.
	frame := envelope.Frame{Event: "delta", Data: `{"messageId":"m1","delta":"x"}`}
	a, _ := envelope.Normalize(frame, nil)
	b, _ := envelope.Normalize(frame, nil)
	if a.Text != b.Text || a.MessageID != b.MessageID || a.Type != b.Type {
		t.Fatalf("normalization not deterministic: %+v vs %+v", a, b)
	}
}
