package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/llmchat/internal/kvstore"
)

// Store is the durable home of sessions. Saves replace the whole record and
// the last writer wins; concurrent turns on one session can lose an update.
type Store struct {
	records      *Records
	defaultModel string
	now          func() time.Time
	onError      func(op string)
}

func NewStore(kv kvstore.Store, defaultModel string) *Store {
	return &Store{
		records:      NewRecords(kv),
		defaultModel: defaultModel,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetErrorHook registers fn to be called with the operation name whenever a
// backend call fails with ErrStoreUnavailable.
func (s *Store) SetErrorHook(fn func(op string)) {
	s.onError = fn
}

func (s *Store) DefaultModel() string { return s.defaultModel }

func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	sess, err := s.records.Get(ctx, id)
	if err != nil {
		s.observe("load", err)
		return nil, err
	}
	return sess, nil
}

// Save writes sess in full. UpdatedAt on sess changes only when the write
// succeeds.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("save session: missing id")
	}
	stamped := sess.Clone()
	stamped.UpdatedAt = s.now()
	if err := s.records.Put(ctx, stamped); err != nil {
		s.observe("save", err)
		return err
	}
	sess.UpdatedAt = stamped.UpdatedAt
	return nil
}

// Create persists a new empty session bound to modelName, or to the
// default model when modelName is blank.
func (s *Store) Create(ctx context.Context, modelName string) (*Session, error) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = s.defaultModel
	}
	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		ModelName: modelName,
		Turns:     []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.records.Delete(ctx, id); err != nil {
		s.observe("delete", err)
		return err
	}
	return nil
}

// List returns summaries newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	out, err := s.records.Summaries(ctx)
	if err != nil {
		s.observe("list", err)
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Rename sets a new title and saves the session.
func (s *Store) Rename(ctx context.Context, id, title string) (*Session, error) {
	title = TruncateTitle(title)
	if title == "" {
		return nil, errors.New("rename session: empty title")
	}
	sess, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Title = title
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Clear deletes every session and reports how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	ids, err := s.records.IDs(ctx)
	if err != nil {
		s.observe("clear", err)
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		err := s.records.Delete(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.observe("clear", err)
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) observe(op string, err error) {
	if s.onError != nil && errors.Is(err, ErrStoreUnavailable) {
		s.onError(op)
	}
}
