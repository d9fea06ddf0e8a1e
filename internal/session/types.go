package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TitleMaxRunes bounds derived and generated titles.
const TitleMaxRunes = 50

var (
	ErrNotFound         = errors.New("session not found")
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrInvalidTurn      = errors.New("invalid turn")
)

// Turn is one message in a transcript. Content is fixed once the turn is
// appended to a session.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	Incomplete bool      `json:"incomplete,omitempty"`
}

// NewTurn validates role and content and stamps the turn with the current
// time.
func NewTurn(role Role, content string) (Turn, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Turn{}, fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, role)
	}
	if !utf8.ValidString(content) {
		return Turn{}, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidTurn)
	}
	return Turn{Role: role, Content: content, CreatedAt: time.Now().UTC()}, nil
}

// Session is a chat transcript plus its metadata. A value held outside the
// Store is a draft until saved.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelName string    `json:"model_name"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds turn to the end of the transcript. A turn stamped earlier
// than its predecessor is moved forward so created_at never decreases. The
// first user turn supplies the title when none is set.
func (s *Session) Append(turn Turn) {
	if n := len(s.Turns); n > 0 {
		if prev := s.Turns[n-1].CreatedAt; turn.CreatedAt.Before(prev) {
			turn.CreatedAt = prev
		}
	}
	s.Turns = append(s.Turns, turn)
	if s.Title == "" && turn.Role == RoleUser {
		s.Title = TruncateTitle(turn.Content)
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Turns = append([]Turn(nil), s.Turns...)
	return &cp
}

// TruncateTitle collapses whitespace and clamps text to TitleMaxRunes,
// marking a cut with "...".
func TruncateTitle(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= TitleMaxRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:TitleMaxRunes-3])) + "..."
}

// Summary is the list view of a session.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}
