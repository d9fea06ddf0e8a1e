package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/llmchat/internal/chat"
	"github.com/ent0n29/llmchat/internal/inference"
	"github.com/ent0n29/llmchat/internal/logging"
	"github.com/ent0n29/llmchat/internal/protocol"
	"github.com/ent0n29/llmchat/internal/session"
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	var (
		sess *session.Session
		err  error
	)
	if sessionID == "" || sessionID == newSessionAlias {
		sess, err = s.store.Create(r.Context(), strings.TrimSpace(r.URL.Query().Get("model_name")))
		if err == nil {
			s.metrics.IncSessionEvent("created")
		}
	} else {
		sess, err = s.store.Load(r.Context(), sessionID)
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.IncSessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	outbound <- protocol.SessionReady{
		Type:      protocol.TypeSessionReady,
		SessionID: sess.ID,
		Title:     sess.Title,
		ModelName: sess.ModelName,
		Turns:     len(sess.Turns),
	}

	wc := &wsConn{
		controller: s.controller,
		sessionID:  sess.ID,
		outbound:   outbound,
	}
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		wc.run(ctx, inbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Pings ride the single writer; the pongs they draw extend the read
		// deadline while a quiet client waits on a long reply.
		ping := time.NewTicker(s.wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					cancel()
					return
				}
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.IncWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case outbound <- protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			}:
			default:
				// Writes stay single-threaded; drop when the queue is saturated.
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.IncWSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.IncSessionEvent("ws_disconnected")
}

// wsConn runs turns for one socket. At most one turn is in flight.
type wsConn struct {
	controller *chat.Controller
	sessionID  string
	outbound   chan<- any
}

func (c *wsConn) run(ctx context.Context, inbound <-chan any) {
	var (
		turnID     string
		turnCancel context.CancelFunc
		turnDone   chan struct{}
	)
	stopTurn := func() {
		if turnCancel != nil {
			turnCancel()
			<-turnDone
		}
	}
	defer stopTurn()

	for {
		select {
		case <-ctx.Done():
			return
		case <-turnDone:
			turnCancel()
			turnID, turnCancel, turnDone = "", nil, nil
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.ClientSubmit:
				if turnCancel != nil {
					c.emit(ctx, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: c.sessionID,
						TurnID:    m.TurnID,
						Code:      "turn_in_progress",
						Source:    "controller",
						Retryable: true,
						Detail:    "turn " + turnID + " is still streaming",
					})
					continue
				}
				turnID = strings.TrimSpace(m.TurnID)
				if turnID == "" {
					turnID = uuid.NewString()
				}
				var turnCtx context.Context
				turnCtx, turnCancel = context.WithCancel(ctx)
				turnDone = make(chan struct{})
				go func(turnCtx context.Context, id, text string, done chan struct{}) {
					defer close(done)
					c.runTurn(ctx, turnCtx, id, text)
				}(turnCtx, turnID, m.Text, turnDone)
			case protocol.ClientCancel:
				if turnCancel == nil {
					continue
				}
				if m.TurnID == "" || m.TurnID == turnID {
					turnCancel()
				}
			}
		}
	}
}

// runTurn streams one turn. Fragments stop when turnCtx is cancelled; the
// closing message is still delivered while the connection lives.
func (c *wsConn) runTurn(connCtx, turnCtx context.Context, turnID, text string) {
	sink := inference.SinkFunc(func(delta string) error {
		return c.emit(turnCtx, protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			SessionID: c.sessionID,
			TurnID:    turnID,
			TextDelta: delta,
		})
	})

	out, err := c.controller.SubmitTurn(turnCtx, c.sessionID, text, sink)
	if out.Session == nil {
		code, retryable := errorCode(err)
		_ = c.emit(connCtx, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.sessionID,
			TurnID:    turnID,
			Code:      code,
			Source:    "controller",
			Retryable: retryable,
			Detail:    errString(err),
		})
		return
	}
	if err != nil {
		logging.WarnWithFields("websocket turn not persisted", logging.Fields{
			"session_id": c.sessionID,
			"turn_id":    turnID,
			"error":      err.Error(),
		})
	}
	_ = c.emit(connCtx, turnEndMessage(turnID, out, err))
}

func (c *wsConn) emit(ctx context.Context, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.outbound <- msg:
		return nil
	}
}

func errorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return "session_not_found", false
	case errors.Is(err, session.ErrStoreUnavailable):
		return "store_unavailable", true
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, session.ErrInvalidTurn):
		return "invalid_request", false
	default:
		return "internal", false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientSubmit:
		return m.Type, true
	case protocol.ClientCancel:
		return m.Type, true
	case protocol.SessionReady:
		return m.Type, true
	case protocol.AssistantTextDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
