package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/llmchat/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSubmit       MessageType = "client_submit"
	TypeClientCancel       MessageType = "client_cancel"
	TypeSessionReady       MessageType = "session_ready"
	TypeAssistantTextDelta MessageType = "assistant_text_delta"
	TypeAssistantTurnEnd   MessageType = "assistant_turn_end"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientSubmit starts a turn. TurnID is chosen by the client and echoed on
// every server message of that turn.
type ClientSubmit struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id,omitempty"`
	Text   string      `json:"text"`
}

// ClientCancel stops the turn in flight.
type ClientCancel struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id,omitempty"`
}

type SessionReady struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Title     string      `json:"title"`
	ModelName string      `json:"model_name"`
	Turns     int         `json:"turns"`
}

type AssistantTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type AssistantTurnEnd struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"session_id"`
	TurnID    string           `json:"turn_id"`
	Outcome   string           `json:"outcome"`
	Reason    string           `json:"reason,omitempty"`
	Partial   string           `json:"partial,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
	Session   *session.Session `json:"session,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	TurnID    string      `json:"turn_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSubmit:
		var msg ClientSubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_submit: empty text")
		}
		return msg, nil
	case TypeClientCancel:
		var msg ClientCancel
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
