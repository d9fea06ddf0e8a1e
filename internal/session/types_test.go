package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewTurnRejectsUnknownRole(t *testing.T) {
	if _, err := NewTurn(Role("tool"), "x"); !errors.Is(err, ErrInvalidTurn) {
		t.Fatalf("NewTurn() error = %v, want ErrInvalidTurn", err)
	}
	if _, err := NewTurn(RoleUser, string([]byte{0xff})); !errors.Is(err, ErrInvalidTurn) {
		t.Fatalf("NewTurn() error = %v, want ErrInvalidTurn for invalid UTF-8", err)
	}
	turn, err := NewTurn(RoleAssistant, "")
	if err != nil {
		t.Fatalf("NewTurn() error = %v", err)
	}
	if turn.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be set")
	}
}

func TestAppendKeepsCreatedAtNonDecreasing(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ID: "s1"}
	s.Append(Turn{Role: RoleUser, Content: "a", CreatedAt: base})
	s.Append(Turn{Role: RoleAssistant, Content: "b", CreatedAt: base.Add(-time.Minute)})

	if !s.Turns[1].CreatedAt.Equal(base) {
		t.Fatalf("second turn CreatedAt = %s, want %s", s.Turns[1].CreatedAt, base)
	}
}

func TestAppendDerivesTitleFromFirstUserTurn(t *testing.T) {
	s := &Session{ID: "s1"}
	s.Append(Turn{Role: RoleSystem, Content: "be nice"})
	if s.Title != "" {
		t.Fatalf("Title = %q, want empty after system turn", s.Title)
	}
	s.Append(Turn{Role: RoleUser, Content: "  how   do I\nreverse a list  "})
	if s.Title != "how do I reverse a list" {
		t.Fatalf("Title = %q", s.Title)
	}
	s.Append(Turn{Role: RoleUser, Content: "another"})
	if s.Title != "how do I reverse a list" {
		t.Fatalf("Title changed to %q", s.Title)
	}
}

func TestTruncateTitle(t *testing.T) {
	long := strings.Repeat("word ", 30)
	got := TruncateTitle(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("TruncateTitle() = %q, want ... suffix", got)
	}
	if n := len([]rune(got)); n > TitleMaxRunes {
		t.Fatalf("TruncateTitle() length = %d, want <= %d", n, TitleMaxRunes)
	}
	if got := TruncateTitle("short"); got != "short" {
		t.Fatalf("TruncateTitle(short) = %q", got)
	}
	if got := TruncateTitle("a\x00b c"); got != "ab c" {
		t.Fatalf("TruncateTitle(nul) = %q, want %q", got, "ab c")
	}
}

func TestCloneCopiesTurns(t *testing.T) {
	s := &Session{ID: "s1", Turns: []Turn{{Role: RoleUser, Content: "a"}}}
	cp := s.Clone()
	cp.Turns[0].Content = "changed"
	cp.Append(Turn{Role: RoleAssistant, Content: "b"})
	if s.Turns[0].Content != "a" || len(s.Turns) != 1 {
		t.Fatalf("original mutated: %+v", s.Turns)
	}
}
