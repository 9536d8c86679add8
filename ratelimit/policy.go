// Package ratelimit tracks subscriber rate limit signals per host.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

type State struct {
	Host           string
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, host string) (State, error)
	Upsert(ctx context.Context, state State) error
}

// Observation is what the policy needs from a subscriber response.
type Observation struct {
	StatusCode int
	Headers    map[string]string
}

type ThrottledError struct {
	Host       string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: host %q throttled for %s", e.Host, e.RetryAfter)
}

func (e ThrottledError) ToRelayError() *goerrors.Error {
	metadata := map[string]any{"host": e.Host}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.RelayErrorRateLimited).
		WithMetadata(metadata)
}

// HostKey reduces a delivery URL to its lowercased host, port included.
func HostKey(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}
	return strings.ToLower(parsed.Host)
}

type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// BeforeCall returns a ThrottledError while the host is cooling down.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, host string) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, found, err := p.load(ctx, host)
	if err != nil || !found {
		return err
	}
	now := p.now()
	if wait := state.blockedFor(now); wait > 0 {
		return ThrottledError{Host: state.Host, RetryAfter: wait}
	}
	return nil
}

// AfterCall records rate limit headers. A 429, or an exhausted quota below
// 500, opens a cooldown window sized by Retry-After or exponential backoff.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, host string, res Observation) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, _, err := p.load(ctx, host)
	if err != nil {
		return err
	}
	now := p.now()
	signals := ReadSignals(res.Headers, now)
	signals.apply(&state)
	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	if !signals.exhausted(res.StatusCode, state.Remaining) {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}
	state.Attempts++
	cooldown := p.backoff(state.Attempts)
	if signals.RetryAfter != nil {
		cooldown = *signals.RetryAfter
	}
	until := now.Add(cooldown)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) load(ctx context.Context, host string) (State, bool, error) {
	host = normalizeHost(host)
	state, err := p.Store.Get(ctx, host)
	switch {
	case errors.Is(err, ErrStateNotFound):
		return State{Host: host}, false, nil
	case err != nil:
		return State{}, false, err
	}
	return state, true, nil
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles from InitialBackoff per consecutive throttled response,
// capped at MaxBackoff.
func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	base, ceiling := p.InitialBackoff, p.MaxBackoff
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 32 || base<<(attempt-1) >= ceiling {
		return ceiling
	}
	return base << (attempt - 1)
}

func (s State) blockedFor(now time.Time) time.Duration {
	if s.ThrottledUntil != nil && now.Before(*s.ThrottledUntil) {
		return s.ThrottledUntil.Sub(now)
	}
	if s.Remaining == 0 && s.ResetAt != nil && now.Before(*s.ResetAt) {
		return s.ResetAt.Sub(now)
	}
	return 0
}

// Signals are the rate limit headers a subscriber sent back. Nil fields were
// absent or unparseable.
type Signals struct {
	Limit      *int
	Remaining  *int
	ResetAt    *time.Time
	RetryAfter *time.Duration
}

// ReadSignals parses X-RateLimit-Limit, X-RateLimit-Remaining,
// X-RateLimit-Reset (unix seconds) and Retry-After (seconds or HTTP date).
func ReadSignals(headers map[string]string, now time.Time) Signals {
	h := make(http.Header, len(headers))
	for key, value := range headers {
		h.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	var signals Signals
	if n, err := strconv.Atoi(h.Get("X-Ratelimit-Limit")); err == nil {
		signals.Limit = &n
	}
	if n, err := strconv.Atoi(h.Get("X-Ratelimit-Remaining")); err == nil {
		signals.Remaining = &n
	}
	if unix, err := strconv.ParseInt(h.Get("X-Ratelimit-Reset"), 10, 64); err == nil && unix > 0 {
		reset := time.Unix(unix, 0).UTC()
		signals.ResetAt = &reset
	}
	if raw := h.Get("Retry-After"); raw != "" {
		var wait time.Duration
		if seconds, err := strconv.Atoi(raw); err == nil {
			wait = time.Duration(seconds) * time.Second
		} else if at, err := http.ParseTime(raw); err == nil {
			wait = at.Sub(now)
		}
		if wait > 0 {
			signals.RetryAfter = &wait
		}
	}
	return signals
}

func (s Signals) present() bool {
	return s.Limit != nil || s.Remaining != nil || s.ResetAt != nil || s.RetryAfter != nil
}

func (s Signals) apply(state *State) {
	if s.Limit != nil {
		state.Limit = *s.Limit
	}
	if s.Remaining != nil {
		state.Remaining = *s.Remaining
	}
	if s.ResetAt != nil {
		state.ResetAt = s.ResetAt
	}
	state.RetryAfter = s.RetryAfter
}

func (s Signals) exhausted(statusCode int, remaining int) bool {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= http.StatusInternalServerError:
		return false
	default:
		return remaining == 0 && s.present()
	}
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, host string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeHost(host)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Host = normalizeHost(state.Host)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Host] = state
	return nil
}
