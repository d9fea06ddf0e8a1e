package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/llmchat/internal/kvstore"
)

// KeyPrefix namespaces session records in the shared keyspace.
const KeyPrefix = "chat:"

// Records maps sessions to JSON documents in a kvstore.Store.
type Records struct {
	kv kvstore.Store
}

func NewRecords(kv kvstore.Store) *Records {
	return &Records{kv: kv}
}

func recordKey(id string) string { return KeyPrefix + id }

func (r *Records) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.kv.Get(ctx, recordKey(id))
	if err != nil {
		return nil, mapStoreError("load session", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if s.Turns == nil {
		s.Turns = []Turn{}
	}
	return &s, nil
}

func (r *Records) Put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.kv.Put(ctx, recordKey(s.ID), raw); err != nil {
		return mapStoreError("save session", err)
	}
	return nil
}

func (r *Records) Delete(ctx context.Context, id string) error {
	if err := r.kv.Delete(ctx, recordKey(id)); err != nil {
		return mapStoreError("delete session", err)
	}
	return nil
}

// IDs returns every stored session id in no particular order.
func (r *Records) IDs(ctx context.Context) ([]string, error) {
	keys, err := r.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, mapStoreError("list sessions", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, KeyPrefix))
	}
	return ids, nil
}

// Summaries reads id, title and updated_at for every session. It asks the
// backend for a projection when it can and otherwise decodes each record.
func (r *Records) Summaries(ctx context.Context) ([]Summary, error) {
	if p, ok := r.kv.(kvstore.Projector); ok {
		rows, err := p.Project(ctx, KeyPrefix, []string{"title", "updated_at"})
		if err != nil {
			return nil, mapStoreError("list sessions", err)
		}
		out := make([]Summary, 0, len(rows))
		for _, row := range rows {
			sum := Summary{
				ID:    strings.TrimPrefix(row.Key, KeyPrefix),
				Title: row.Fields["title"],
			}
			if ts := row.Fields["updated_at"]; ts != "" {
				if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
					sum.UpdatedAt = t
				}
			}
			out = append(out, sum)
		}
		return out, nil
	}

	ids, err := r.IDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// deleted between Keys and Get
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{ID: s.ID, Title: s.Title, UpdatedAt: s.UpdatedAt})
	}
	return out, nil
}

func mapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, kvstore.ErrUnavailable):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
