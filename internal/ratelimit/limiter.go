// Package ratelimit enforces quotas with a fixed-window counter. Windows are
// aligned to the Unix epoch, so every process sharing a counting store agrees
// on window boundaries without coordination.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// DefaultKeyPrefix namespaces counter keys in a shared store.
const DefaultKeyPrefix = "ratelimit"

// ErrStoreUnavailable reports a failed counter increment. The decision
// returned alongside it already reflects the configured failure policy.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Counter is a shared counting store. Increment must be atomic: it adds one
// to key, sets the key to expire after ttl when it is created, and returns
// the new value. Implementations must be safe for concurrent use.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per window
	Remaining  int           // Requests left in the current window, never negative
	Count      int64         // Requests counted so far, this one included
	ResetAt    time.Time     // End of the current window
	RetryAfter time.Duration // Time until ResetAt (set only when limited)
}

// StoreErrorRecorder is notified of every failed increment.
type StoreErrorRecorder interface {
	RecordStoreError(ctx context.Context)
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithFailOpen sets the decision made when the counter fails: allow (true,
// the default) or limit (false).
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

// WithKeyPrefix namespaces counter keys. An empty prefix keeps DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithStoreErrorRecorder reports counter failures to rec.
func WithStoreErrorRecorder(rec StoreErrorRecorder) Option {
	return func(l *Limiter) { l.recorder = rec }
}

// Limiter maps (key, path, window) onto counter keys and compares the count
// with the limit.
type Limiter struct {
	counter  Counter
	prefix   string
	failOpen bool
	now      func() time.Time
	recorder StoreErrorRecorder
}

// NewLimiter returns a fail-open Limiter counting in counter.
func NewLimiter(counter Counter, opts ...Option) *Limiter {
	l := &Limiter{
		counter:  counter,
		prefix:   DefaultKeyPrefix,
		failOpen: true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// keyPartEscaper keeps ':' unambiguous as the counter key separator, so an
// IPv6 client or a path holding ':' cannot share another pair's counter.
var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// counterKey is "<prefix>:<key>:<path>:<window start>" with key and path
// escaped.
func (l *Limiter) counterKey(key, path string, windowStart int64) string {
	return l.prefix + ":" + keyPartEscaper.Replace(key) + ":" + keyPartEscaper.Replace(path) + ":" + strconv.FormatInt(windowStart, 10)
}

// IsLimited counts one request for key on path and reports whether it
// exceeds limit within the current window of length period. Periods are
// truncated to whole seconds, with a minimum of one second.
//
// A counter failure yields ErrStoreUnavailable together with the fail-open
// or fail-closed decision; callers should treat the error as informational.
func (l *Limiter) IsLimited(ctx context.Context, key, path string, limit int, period time.Duration) (bool, Info, error) {
	secs := int64(period / time.Second)
	if secs < 1 {
		secs = 1
	}
	now := l.now()
	windowStart := WindowStart(now, secs)
	resetAt := time.Unix(windowStart+secs, 0)

	info := Info{
		Limit:     limit,
		Remaining: limit,
		ResetAt:   resetAt,
	}

	counterKey := l.counterKey(key, path, windowStart)
	count, err := l.counter.Increment(ctx, counterKey, time.Duration(secs)*time.Second)
	if err != nil {
		slog.Warn("Rate limit counter unavailable",
			"key", key,
			"path", path,
			"fail_open", l.failOpen,
			"error", err,
		)
		if l.recorder != nil {
			l.recorder.RecordStoreError(ctx)
		}
		return !l.failOpen, info, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	info.Count = count
	if left := int64(limit) - count; left > 0 {
		info.Remaining = int(left)
	} else {
		info.Remaining = 0
	}
	limited := count > int64(limit)
	if limited {
		info.RetryAfter = resetAt.Sub(now)
	}
	return limited, info, nil
}

// WindowStart returns floor(unix(now) / period) * period.
func WindowStart(now time.Time, periodSecs int64) int64 {
	unix := now.Unix()
	start := unix / periodSecs * periodSecs
	if unix < 0 && unix%periodSecs != 0 {
		start -= periodSecs
	}
	return start
}
