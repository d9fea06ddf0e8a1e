package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/llmchat/internal/chat"
	"github.com/ent0n29/llmchat/internal/inference"
	"github.com/ent0n29/llmchat/internal/protocol"
)

// newSessionAlias in the turns path asks for a fresh session.
const newSessionAlias = "new"

type submitTurnRequest struct {
	Text string `json:"text"`
}

type fragmentEvent struct {
	Text string `json:"text"`
}

// sseWriter starts the event stream on first use so errors raised before any
// fragment can still be answered with a plain JSON status.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (e *sseWriter) start() {
	if e.started {
		return
	}
	e.started = true
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
}

func (e *sseWriter) send(event string, v any) error {
	e.start()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (s *Server) handleSubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req submitTurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", chat.ErrEmptyMessage.Error())
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if sessionID == newSessionAlias {
		sessionID = ""
	}

	flusher, _ := w.(http.Flusher)
	stream := &sseWriter{w: w, flusher: flusher}
	sink := func(text string) error {
		return stream.send("fragment", fragmentEvent{Text: text})
	}

	out, err := s.controller.SubmitTurn(r.Context(), sessionID, req.Text, inference.SinkFunc(sink))
	if out.Session == nil {
		// Nothing was loaded or created, so nothing streamed either.
		respondStoreError(w, err)
		return
	}
	_ = stream.send("outcome", turnEndMessage("", out, err))
}

// turnEndMessage renders a controller outcome for the wire. saveErr is the
// persistence failure SubmitTurn returned alongside the outcome, if any.
func turnEndMessage(turnID string, out chat.Outcome, saveErr error) protocol.AssistantTurnEnd {
	msg := protocol.AssistantTurnEnd{
		Type:    protocol.TypeAssistantTurnEnd,
		TurnID:  turnID,
		Outcome: string(out.Status),
		Reason:  out.Reason,
		Partial: out.Partial,
		Session: out.Session,
	}
	if out.Session != nil {
		msg.SessionID = out.Session.ID
	}
	var details []string
	if out.Err != nil {
		details = append(details, out.Err.Error())
		msg.Retryable = inference.IsRetryable(out.Err)
	}
	if saveErr != nil {
		details = append(details, saveErr.Error())
	}
	msg.Detail = strings.Join(details, "; ")
	return msg
}
