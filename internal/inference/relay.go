package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status tags how a stream ended without error.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

const (
	ReasonCallerCancelled = "caller_cancelled"
	ReasonSinkClosed      = "sink_closed"
	ReasonIdleTimeout     = "idle_timeout"
)

var (
	errSinkClosed  = errors.New("sink closed")
	errIdleTimeout = errors.New("no fragment within idle timeout")
)

// Sink receives fragments as they arrive. An error from Fragment is taken
// as the caller going away and cancels the stream.
type Sink interface {
	Fragment(text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string) error

func (f SinkFunc) Fragment(text string) error { return f(text) }

// Turn is a transcript entry handed to the relay.
type Turn struct {
	Role    string
	Content string
}

// StreamRequest is one relay call.
type StreamRequest struct {
	Model       string
	Transcript  []Turn
	UserText    string
	Temperature float64
	MaxTokens   int
}

// Result is what a stream produced. Text is the concatenation of every
// fragment forwarded to the sink.
type Result struct {
	Text           string
	Status         Status
	Reason         string
	Fragments      int
	FirstFragment  time.Duration
	StreamDuration time.Duration
}

// RelayOptions tune a Relay.
type RelayOptions struct {
	SystemPrompt string
	// IdleTimeout cancels a stream that goes this long without a fragment.
	// Zero disables it.
	IdleTimeout time.Duration
}

// Relay pipes a provider's stream to a sink and accumulates the text. It
// never persists anything.
type Relay struct {
	provider Provider
	opts     RelayOptions
}

func NewRelay(provider Provider, opts RelayOptions) *Relay {
	return &Relay{provider: provider, opts: opts}
}

func (r *Relay) Provider() Provider { return r.provider }

// Messages builds the provider message list: the system prompt when the
// transcript has no system turn, the transcript, then the new user text.
func (r *Relay) Messages(transcript []Turn, userText string) []Message {
	msgs := make([]Message, 0, len(transcript)+2)
	if prompt := strings.TrimSpace(r.opts.SystemPrompt); prompt != "" && !hasSystemTurn(transcript) {
		msgs = append(msgs, Message{Role: "system", Content: prompt})
	}
	for _, t := range transcript {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, Message{Role: "user", Content: userText})
}

func hasSystemTurn(transcript []Turn) bool {
	for _, t := range transcript {
		if t.Role == "system" {
			return true
		}
	}
	return false
}

// Stream forwards fragments to sink in arrival order. Cancellation by ctx,
// by the sink or by the idle timeout yields a Cancelled result with the
// partial text and a nil error. A provider failure yields *ConnectionError
// when nothing was forwarded and *InterruptedError otherwise.
func (r *Relay) Stream(ctx context.Context, req StreamRequest, sink Sink) (Result, error) {
	started := time.Now()
	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var idle *time.Timer
	if r.opts.IdleTimeout > 0 {
		idle = time.AfterFunc(r.opts.IdleTimeout, func() { cancel(errIdleTimeout) })
		defer idle.Stop()
	}

	var (
		text     strings.Builder
		res      Result
		sinkGone bool
	)
	chatReq := ChatRequest{
		Model:       req.Model,
		Messages:    r.Messages(req.Transcript, req.UserText),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	err := r.provider.Stream(streamCtx, chatReq, func(fragment string) error {
		if fragment == "" {
			return nil
		}
		if streamCtx.Err() != nil {
			return context.Cause(streamCtx)
		}
		if idle != nil {
			idle.Reset(r.opts.IdleTimeout)
		}
		if sink != nil {
			if err := sink.Fragment(fragment); err != nil {
				sinkGone = true
				cancel(errSinkClosed)
				return errSinkClosed
			}
		}
		if res.Fragments == 0 {
			res.FirstFragment = time.Since(started)
		}
		res.Fragments++
		text.WriteString(fragment)
		return nil
	})

	res.Text = text.String()
	res.StreamDuration = time.Since(started)

	switch {
	case sinkGone:
		res.Status, res.Reason = StatusCancelled, ReasonSinkClosed
		return res, nil
	case err != nil && ctx.Err() != nil:
		res.Status, res.Reason = StatusCancelled, ReasonCallerCancelled
		return res, nil
	case err != nil && errors.Is(context.Cause(streamCtx), errIdleTimeout):
		res.Status, res.Reason = StatusCancelled, ReasonIdleTimeout
		return res, nil
	case err != nil && res.Fragments == 0:
		return res, &ConnectionError{Provider: r.provider.Name(), Err: err}
	case err != nil:
		return res, &InterruptedError{Provider: r.provider.Name(), Partial: res.Text, Err: err}
	}
	res.Status = StatusCompleted
	return res, nil
}

// Complete asks for a whole reply with no streaming and no transcript
// rewriting.
func (r *Relay) Complete(ctx context.Context, model string, messages []Message, temperature float64) (string, error) {
	out, err := r.provider.Complete(ctx, ChatRequest{Model: model, Messages: messages, Temperature: temperature})
	if err != nil {
		return "", fmt.Errorf("%s complete: %w", r.provider.Name(), err)
	}
	return out, nil
}

func (r *Relay) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return r.provider.ListModels(ctx)
}
