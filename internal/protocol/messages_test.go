package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageSubmit(t *testing.T) {
	raw := []byte(`{"type":"client_submit","turn_id":"t1","text":"What is a pod?"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	submit, ok := msg.(ClientSubmit)
	if !ok {
		t.Fatalf("message type = %T, want ClientSubmit", msg)
	}
	if submit.TurnID != "t1" || submit.Text != "What is a pod?" {
		t.Fatalf("unexpected submit: %+v", submit)
	}
}

func TestParseClientMessageCancel(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_cancel","turn_id":"t1"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	cancel, ok := msg.(ClientCancel)
	if !ok {
		t.Fatalf("message type = %T, want ClientCancel", msg)
	}
	if cancel.TurnID != "t1" {
		t.Fatalf("TurnID = %q, want t1", cancel.TurnID)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsEmptySubmit(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_submit","text":"   "}`)); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestAssistantTurnEndOmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(AssistantTurnEnd{Type: TypeAssistantTurnEnd, SessionID: "s1", TurnID: "t1", Outcome: "completed"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, key := range []string{`"partial"`, `"session"`, `"reason"`} {
		if strings.Contains(string(raw), key) {
			t.Fatalf("payload %s should omit %s", raw, key)
		}
	}
}

func BenchmarkParseClientMessageSubmit(b *testing.B) {
	raw := []byte(`{"type":"client_submit","turn_id":"t7","text":"summarize the last deployment log for me"}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseClientMessage(raw); err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
	}
}
