// Package kvstore holds the keyed byte stores chat transcripts are
// persisted in. Every call is a single round trip to the backend.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrUnavailable wraps connectivity and I/O failures of a backend.
	ErrUnavailable = errors.New("kvstore: backend unavailable")
)

// Store reads and writes whole values by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Projection carries selected top-level string fields of one JSON value.
type Projection struct {
	Key    string
	Fields map[string]string
}

// Projector is implemented by backends that can read named fields out of
// stored JSON documents without returning whole values.
type Projector interface {
	Project(ctx context.Context, prefix string, fields []string) ([]Projection, error)
}

// Pinger is implemented by backends with a cheap liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

var errStoreClosed = errors.New("store closed")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// scanProjection collects one SQL row of key plus projected columns.
type scanProjection struct {
	key    string
	values []string
}

func newProjection(fields []string) (*scanProjection, []any) {
	p := &scanProjection{values: make([]string, len(fields))}
	dest := make([]any, 0, len(fields)+1)
	dest = append(dest, &p.key)
	for i := range p.values {
		dest = append(dest, &p.values[i])
	}
	return p, dest
}

func (p *scanProjection) finish(fields []string) Projection {
	out := Projection{Key: p.key, Fields: make(map[string]string, len(fields))}
	for i, f := range fields {
		out.Fields[f] = p.values[i]
	}
	return out
}
