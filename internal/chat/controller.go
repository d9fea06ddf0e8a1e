// Package chat runs one user turn end to end: load the session, stream the
// reply through the relay, append the turns and persist.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/llmchat/internal/inference"
	"github.com/ent0n29/llmchat/internal/logging"
	"github.com/ent0n29/llmchat/internal/observability"
	"github.com/ent0n29/llmchat/internal/policy"
	"github.com/ent0n29/llmchat/internal/session"
)

// Status is the terminal state of a submitted turn.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// ErrEmptyMessage rejects blank user input before anything is loaded.
var ErrEmptyMessage = errors.New("message text is empty")

// Outcome reports how a turn ended. Session is the state that was (or was
// attempted to be) persisted.
type Outcome struct {
	Status  Status
	Session *session.Session
	// Partial is the assistant text kept from a cancelled or interrupted
	// stream.
	Partial string
	// Reason names why an interrupted stream stopped.
	Reason string
	// Err is the inference failure behind Failed or a StreamInterrupted
	// Interrupted outcome.
	Err error
}

// Options tune generation and persistence.
type Options struct {
	Temperature    float64
	MaxTokens      int
	AutoTitle      bool
	PersistTimeout time.Duration
	TitleTimeout   time.Duration
}

// Controller drives turns. It holds no per-session state and adds no
// locking: callers submit turns for one session one at a time.
type Controller struct {
	store   *session.Store
	relay   *inference.Relay
	metrics *observability.Metrics
	opts    Options

	titles sync.WaitGroup
}

func NewController(store *session.Store, relay *inference.Relay, metrics *observability.Metrics, opts Options) *Controller {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = 20 * time.Second
	}
	return &Controller{store: store, relay: relay, metrics: metrics, opts: opts}
}

// Wait blocks until background title generation has finished.
func (c *Controller) Wait() {
	c.titles.Wait()
}

// SubmitTurn appends userText to the session and streams the reply to sink.
// An empty sessionID creates a new session with the default model; an
// unknown one returns session.ErrNotFound. The user turn is persisted
// whatever the inference outcome, on a context that outlives ctx. A failed
// save returns the outcome together with an error wrapping
// session.ErrStoreUnavailable. With AutoTitle set, the title for a new
// session is generated after the turn is saved and lands in a second save.
func (c *Controller) SubmitTurn(ctx context.Context, sessionID, userText string, sink inference.Sink) (Outcome, error) {
	if strings.TrimSpace(userText) == "" {
		return Outcome{}, ErrEmptyMessage
	}
	turnStarted := time.Now()

	draft, err := c.loadOrCreate(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	userTurn, err := session.NewTurn(session.RoleUser, userText)
	if err != nil {
		return Outcome{}, err
	}
	transcript := relayTranscript(draft.Turns)
	draft.Append(userTurn)

	logging.DebugWithFields("turn awaiting response", logging.Fields{
		"session_id": draft.ID,
		"model":      draft.ModelName,
		"history":    len(transcript),
		"excerpt":    policy.LogExcerpt(userText, 80),
	})

	res, streamErr := c.relay.Stream(ctx, inference.StreamRequest{
		Model:       draft.ModelName,
		Transcript:  transcript,
		UserText:    userText,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}, sink)
	c.observeStream(res)

	out := c.settle(draft, res, streamErr)

	persistCtx := context.WithoutCancel(ctx)
	saveCtx, cancel := context.WithTimeout(persistCtx, c.opts.PersistTimeout)
	defer cancel()
	persistStarted := time.Now()
	saveErr := c.store.Save(saveCtx, draft)
	c.metrics.ObserveTurnStage(observability.StagePersist, time.Since(persistStarted))
	c.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(turnStarted))
	c.metrics.IncTurnOutcome(string(out.Status))

	fields := logging.Fields{
		"session_id": draft.ID,
		"outcome":    string(out.Status),
		"fragments":  res.Fragments,
		"turns":      len(draft.Turns),
		"elapsed_ms": time.Since(turnStarted).Milliseconds(),
	}
	if out.Reason != "" {
		fields["reason"] = out.Reason
	}
	if out.Err != nil {
		fields["error"] = out.Err.Error()
	}
	if saveErr != nil {
		fields["save_error"] = saveErr.Error()
		logging.ErrorWithFields("turn not persisted", fields)
		return out, fmt.Errorf("persist turn: %w", saveErr)
	}
	if out.Status == StatusCompleted && c.opts.AutoTitle && countRole(draft.Turns, session.RoleUser) == 1 {
		c.startTitle(persistCtx, draft.Clone())
	}
	if out.Status == StatusCompleted {
		logging.InfoWithFields("turn completed", fields)
	} else {
		logging.WarnWithFields("turn ended early", fields)
	}
	return out, nil
}

func (c *Controller) loadOrCreate(ctx context.Context, sessionID string) (*session.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		s, err := c.store.Create(ctx, "")
		if err != nil {
			return nil, err
		}
		c.metrics.IncSessionEvent("created")
		return s, nil
	}
	return c.store.Load(ctx, sessionID)
}

// settle appends the assistant turn the stream result calls for.
func (c *Controller) settle(draft *session.Session, res inference.Result, streamErr error) Outcome {
	var interrupted *inference.InterruptedError
	switch {
	case streamErr == nil && res.Status == inference.StatusCompleted:
		appendAssistant(draft, res.Text, false)
		return Outcome{Status: StatusCompleted, Session: draft}
	case streamErr == nil:
		if res.Text != "" {
			appendAssistant(draft, res.Text, true)
		}
		return Outcome{Status: StatusInterrupted, Session: draft, Partial: res.Text, Reason: res.Reason}
	case errors.As(streamErr, &interrupted):
		appendAssistant(draft, interrupted.Partial, true)
		return Outcome{Status: StatusInterrupted, Session: draft, Partial: interrupted.Partial, Reason: "stream_interrupted", Err: streamErr}
	default:
		return Outcome{Status: StatusFailed, Session: draft, Err: streamErr}
	}
}

func appendAssistant(draft *session.Session, text string, incomplete bool) {
	draft.Append(session.Turn{
		Role:       session.RoleAssistant,
		Content:    text,
		CreatedAt:  time.Now().UTC(),
		Incomplete: incomplete,
	})
}

func (c *Controller) observeStream(res inference.Result) {
	if res.Fragments > 0 {
		c.metrics.ObserveFirstFragment(res.FirstFragment)
	}
	c.metrics.ObserveStream(res.StreamDuration, res.Fragments)
}

func relayTranscript(turns []session.Turn) []inference.Turn {
	out := make([]inference.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, inference.Turn{Role: string(t.Role), Content: t.Content})
	}
	return out
}

func countRole(turns []session.Turn, role session.Role) int {
	n := 0
	for _, t := range turns {
		if t.Role == role {
			n++
		}
	}
	return n
}
