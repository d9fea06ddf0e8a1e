package inference

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// scriptedProvider emits fixed fragments, then optionally fails or blocks
// until its context ends.
type scriptedProvider struct {
	fragments []string
	failWith  error
	block     bool
	onEmitted func()
	lastReq   ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req ChatRequest, onFragment FragmentHandler) error {
	p.lastReq = req
	for _, f := range p.fragments {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	if p.onEmitted != nil {
		p.onEmitted()
	}
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.failWith
}

func (p *scriptedProvider) Complete(context.Context, ChatRequest) (string, error) {
	return strings.Join(p.fragments, ""), p.failWith
}

func (p *scriptedProvider) ListModels(context.Context) ([]ModelInfo, error) { return nil, nil }

type recordingSink struct {
	got    []string
	failAt int
}

func (s *recordingSink) Fragment(text string) error {
	if s.failAt > 0 && len(s.got) == s.failAt {
		return errors.New("client went away")
	}
	s.got = append(s.got, text)
	return nil
}

func TestRelayForwardsFragmentsInOrder(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"H", "el", "lo", ", ", "world"}}
	relay := NewRelay(p, RelayOptions{})
	sink := &recordingSink{}

	res, err := relay.Stream(context.Background(), StreamRequest{Model: "m1", UserText: "hi"}, sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", res.Status)
	}
	if strings.Join(sink.got, "|") != "H|el|lo|, |world" {
		t.Fatalf("sink got %q", sink.got)
	}
	if res.Text != "Hello, world" {
		t.Fatalf("Text = %q, want concatenation", res.Text)
	}
	if res.Fragments != 5 {
		t.Fatalf("Fragments = %d, want 5", res.Fragments)
	}
}

func TestRelayMessagesPrependSystemPrompt(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"ok"}}
	relay := NewRelay(p, RelayOptions{SystemPrompt: "You are terse."})

	transcript := []Turn{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}}
	_, err := relay.Stream(context.Background(), StreamRequest{Model: "m", Transcript: transcript, UserText: "c", Temperature: 0.3, MaxTokens: 42}, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	msgs := p.lastReq.Messages
	if len(msgs) != 4 {
		t.Fatalf("messages = %+v, want 4", msgs)
	}
	if msgs[0].Role != "system" || msgs[0].Content != "You are terse." {
		t.Fatalf("first message = %+v, want system prompt", msgs[0])
	}
	if msgs[3].Role != "user" || msgs[3].Content != "c" {
		t.Fatalf("last message = %+v, want new user text", msgs[3])
	}
	if p.lastReq.Temperature != 0.3 || p.lastReq.MaxTokens != 42 || p.lastReq.Model != "m" {
		t.Fatalf("request params = %+v", p.lastReq)
	}

	withSystem := []Turn{{Role: "system", Content: "custom"}}
	msgs = relay.Messages(withSystem, "x")
	if len(msgs) != 2 || msgs[0].Content != "custom" {
		t.Fatalf("Messages() = %+v, want transcript system turn kept and prompt skipped", msgs)
	}
}

func TestRelayFailureBeforeFragmentIsConnectionError(t *testing.T) {
	p := &scriptedProvider{failWith: errors.New("dial tcp: connection refused")}
	relay := NewRelay(p, RelayOptions{})

	_, err := relay.Stream(context.Background(), StreamRequest{UserText: "hi"}, &recordingSink{})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Stream() error = %v, want ErrConnectionFailed", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Provider != "scripted" {
		t.Fatalf("Stream() error = %#v, want *ConnectionError", err)
	}
}

func TestRelayFailureAfterFragmentIsInterrupted(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"Hel"}, failWith: errors.New("connection reset")}
	relay := NewRelay(p, RelayOptions{})

	res, err := relay.Stream(context.Background(), StreamRequest{UserText: "hi"}, &recordingSink{})
	if !errors.Is(err, ErrStreamInterrupted) {
		t.Fatalf("Stream() error = %v, want ErrStreamInterrupted", err)
	}
	var interrupted *InterruptedError
	if !errors.As(err, &interrupted) {
		t.Fatalf("Stream() error = %#v, want *InterruptedError", err)
	}
	if interrupted.Partial != "Hel" || res.Text != "Hel" {
		t.Fatalf("Partial = %q, Text = %q, want Hel", interrupted.Partial, res.Text)
	}
}

func TestRelaySinkErrorCancels(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"Hel", "lo", " there"}}
	relay := NewRelay(p, RelayOptions{})
	sink := &recordingSink{failAt: 2}

	res, err := relay.Stream(context.Background(), StreamRequest{UserText: "hi"}, sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Status != StatusCancelled || res.Reason != ReasonSinkClosed {
		t.Fatalf("result = %+v, want cancelled by sink", res)
	}
	if res.Text != "Hello" {
		t.Fatalf("Text = %q, want Hello", res.Text)
	}
}

func TestRelayCallerCancelReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &scriptedProvider{fragments: []string{"Hel", "lo"}, block: true, onEmitted: cancel}
	relay := NewRelay(p, RelayOptions{})

	res, err := relay.Stream(ctx, StreamRequest{UserText: "hi"}, &recordingSink{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Status != StatusCancelled || res.Reason != ReasonCallerCancelled {
		t.Fatalf("result = %+v, want caller cancelled", res)
	}
	if res.Text != "Hello" {
		t.Fatalf("Text = %q, want Hello", res.Text)
	}
}

func TestRelayIdleTimeoutCancels(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"partial"}, block: true}
	relay := NewRelay(p, RelayOptions{IdleTimeout: 20 * time.Millisecond})

	res, err := relay.Stream(context.Background(), StreamRequest{UserText: "hi"}, &recordingSink{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Status != StatusCancelled || res.Reason != ReasonIdleTimeout {
		t.Fatalf("result = %+v, want idle timeout", res)
	}
	if res.Text != "partial" {
		t.Fatalf("Text = %q", res.Text)
	}
}

func TestMockProviderFragmentsConcatenate(t *testing.T) {
	relay := NewRelay(NewMockProvider(), RelayOptions{})
	sink := &recordingSink{}
	res, err := relay.Stream(context.Background(), StreamRequest{UserText: "ping the server"}, sink)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if res.Text != "I heard you: ping the server" {
		t.Fatalf("Text = %q", res.Text)
	}
	if len(sink.got) < 2 {
		t.Fatalf("mock should stream more than one fragment, got %q", sink.got)
	}
}

func TestRelayCompleteKeepsCauseWithoutConnectionFailed(t *testing.T) {
	relay := NewRelay(&scriptedProvider{failWith: context.DeadlineExceeded}, RelayOptions{})

	_, err := relay.Complete(context.Background(), "m", []Message{{Role: "user", Content: "title?"}}, 0.2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Complete() error = %v, want DeadlineExceeded", err)
	}
	if errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Complete() error = %v, should not claim a connection failure", err)
	}
}
