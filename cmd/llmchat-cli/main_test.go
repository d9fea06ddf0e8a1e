package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/llmchat/internal/chat"
	"github.com/ent0n29/llmchat/internal/config"
	"github.com/ent0n29/llmchat/internal/httpapi"
	"github.com/ent0n29/llmchat/internal/inference"
	"github.com/ent0n29/llmchat/internal/kvstore"
	"github.com/ent0n29/llmchat/internal/observability"
	"github.com/ent0n29/llmchat/internal/session"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		line string
		cmd  command
		text string
	}{
		{"", cmdNone, ""},
		{"  /QUIT ", cmdQuit, ""},
		{"/exit", cmdQuit, ""},
		{"/list", cmdList, ""},
		{"/new", cmdNew, ""},
		{"  hello there ", cmdSend, "hello there"},
		{"/unknown", cmdSend, "/unknown"},
	}
	for _, tc := range cases {
		cmd, text := parseCommand(tc.line)
		if cmd != tc.cmd || text != tc.text {
			t.Fatalf("parseCommand(%q) = (%v, %q), want (%v, %q)", tc.line, cmd, text, tc.cmd, tc.text)
		}
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://chat.example.com/base/", "abc")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	if got != "wss://chat.example.com/base/v1/sessions/ws?session_id=abc" {
		t.Fatalf("wsURLForSession() = %q", got)
	}
	if _, err := wsURLForSession("ftp://x", "abc"); err == nil {
		t.Fatalf("wsURLForSession() error = nil for ftp scheme")
	}
}

func TestHandleEventTurnEnd(t *testing.T) {
	var out bytes.Buffer
	if handleEvent(&out, wsEnvelope{Type: "assistant_text_delta", TextDelta: "Hel"}) {
		t.Fatalf("delta ended the turn")
	}
	if !handleEvent(&out, wsEnvelope{Type: "assistant_turn_end", Outcome: "interrupted", Reason: "caller_cancelled"}) {
		t.Fatalf("turn end did not end the turn")
	}
	if handleEvent(&out, wsEnvelope{Type: "error_event", Code: "turn_in_progress"}) {
		t.Fatalf("turn_in_progress ended the turn")
	}
	if !strings.Contains(out.String(), "[interrupted] caller_cancelled") {
		t.Fatalf("output = %q, want interrupted notice", out.String())
	}
}

func TestHandleEventRetryableFailure(t *testing.T) {
	var out bytes.Buffer
	handleEvent(&out, wsEnvelope{Type: "assistant_turn_end", Outcome: "failed", Reason: "connection_failed", Retryable: true})
	if !strings.Contains(out.String(), "send the message again") {
		t.Fatalf("output = %q, want retry hint", out.String())
	}

	out.Reset()
	handleEvent(&out, wsEnvelope{Type: "assistant_turn_end", Outcome: "failed", Reason: "connection_failed"})
	if strings.Contains(out.String(), "send the message again") {
		t.Fatalf("output = %q, want no retry hint", out.String())
	}
}

func TestRunAgainstServer(t *testing.T) {
	store := session.NewStore(kvstore.NewMemoryStore(), "mock")
	metrics := observability.NewMetricsWithRegistry("test_cli", prometheus.NewRegistry())
	relay := inference.NewRelay(inference.NewMockProvider(), inference.RelayOptions{})
	controller := chat.NewController(store, relay, metrics, chat.Options{})
	srv := httpapi.New(config.Config{DefaultModel: "mock"}, store, controller, relay, metrics)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	out := &syncBuffer{}
	cfg := options{baseURL: ts.URL, turnTimeout: 5 * time.Second}
	if err := run(cfg, strings.NewReader("hello\n/list\n/quit\n"), out); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "I heard you: hello") {
		t.Fatalf("output missing streamed reply:\n%s", got)
	}
	if !strings.Contains(got, "  hello\n") {
		t.Fatalf("output missing listed session titled hello:\n%s", got)
	}
}
