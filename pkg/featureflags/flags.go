// Package featureflags decides whether normalized events are emitted.
package featureflags

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
)

// EmitEventsKey is the key of the emit-events flag in the shared store.
const EmitEventsKey = "fern:flags:emit-events"

// Source reports the emit-events flag.
type Source interface {
	EmitEvents(ctx context.Context) bool
}

// Setter is a Source whose value can be changed at runtime.
type Setter interface {
	Source
	SetEmitEvents(ctx context.Context, enabled bool) error
}

// Static holds the flag in memory.
type Static struct {
	enabled atomic.Bool
}

func NewStatic(enabled bool) *Static {
	s := &Static{}
	s.enabled.Store(enabled)
	return s
}

func (s *Static) EmitEvents(context.Context) bool {
	return s.enabled.Load()
}

func (s *Static) SetEmitEvents(_ context.Context, enabled bool) error {
	s.enabled.Store(enabled)
	return nil
}

// KV is the key/value surface the shared flag store needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// Shared reads the flag from a key/value store so every replica sees the same
// value. A missing or unreadable key falls back to the configured default.
type Shared struct {
	kv       KV
	fallback bool
	logger   ectologger.Logger
}

func NewShared(kv KV, fallback bool, logger ectologger.Logger) *Shared {
	return &Shared{kv: kv, fallback: fallback, logger: logger}
}

func (s *Shared) EmitEvents(ctx context.Context) bool {
	raw, found, err := s.kv.Get(ctx, EmitEventsKey)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to read emit-events flag, using default")
		return s.fallback
	}
	if !found {
		return s.fallback
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.WithContext(ctx).WithField("value", raw).Warn("Invalid emit-events flag value, using default")
		return s.fallback
	}
	return enabled
}

func (s *Shared) SetEmitEvents(ctx context.Context, enabled bool) error {
	return s.kv.Set(ctx, EmitEventsKey, strconv.FormatBool(enabled), 0)
}
