// Package cache memoizes serialized view results keyed by view, state and
// date window. Only successful results are stored; a cache failure reads as
// a miss.
package cache

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/metrics"
)

// Key identifies one cached view result. Variant distinguishes parameterised
// forms of the same view, such as the weather field analysed.
type Key struct {
	View    string
	StateID string
	Window  calendar.Range
	Variant string
}

func (k Key) String() string {
	state := k.StateID
	if state == "" {
		state = "all"
	}
	s := k.View + ":" + state + ":" + k.Window.String()
	if k.Variant != "" {
		s += ":" + k.Variant
	}
	return s
}

func viewPrefix(view string) string {
	if view == "" {
		return ""
	}
	return view + ":"
}

type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, bool)
	Set(ctx context.Context, key Key, value []byte)
	// Invalidate drops every entry for view, or everything when view is empty.
	Invalidate(ctx context.Context, view string) error
}

// Load returns the cached value for key, or computes, stores and returns it.
// Errors from compute are returned as-is and never cached.
func Load[T any](ctx context.Context, c Cache, key Key, compute func(context.Context) (T, error)) (T, error) {
	if b, ok := c.Get(ctx, key); ok {
		var v T
		err := json.Unmarshal(b, &v)
		if err == nil {
			metrics.CacheRequestsTotal.WithLabelValues(key.View, "hit").Inc()
			return v, nil
		}
		zap.L().Warn("discarding undecodable cache entry", zap.String("key", key.String()), zap.Error(err))
	}
	metrics.CacheRequestsTotal.WithLabelValues(key.View, "miss").Inc()

	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("cannot encode view for cache", zap.String("key", key.String()), zap.Error(err))
		return v, nil
	}
	c.Set(ctx, key, b)
	return v, nil
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, Key) ([]byte, bool)   { return nil, false }
func (Nop) Set(context.Context, Key, []byte)          {}
func (Nop) Invalidate(context.Context, string) error { return nil }

func hasViewPrefix(key, view string) bool {
	return strings.HasPrefix(key, viewPrefix(view))
}
