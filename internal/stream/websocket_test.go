package stream

import "testing"

func TestWSURLRewritesHTTPSchemes(t *testing.T) {
	cases := map[string]string{
		"http://api.local/messages/m-1/ws":  "ws://api.local/messages/m-1/ws",
		"https://api.local/messages/m-1/ws": "wss://api.local/messages/m-1/ws",
		"ws://api.local/messages/m-1/ws":    "ws://api.local/messages/m-1/ws",
	}
	for in, want := range cases {
		if got := wsURL(in); got != want {
			t.Fatalf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}
