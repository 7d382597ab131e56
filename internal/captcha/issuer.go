// Package captcha owns the single human-verification challenge held by a login flow:
// issuance from the portal API, the one silent retry after a timeout, consumption
// into a submission payload, and the single-use discard.
package captcha

import (
	"context"
	"errors"
	"sync"
	"time"

	"forex-portal/login-gateway/internal/upstream"
)

// ErrClosed is returned when the owning flow has been torn down.
var ErrClosed = errors.New("captcha: issuer closed")

// Getter fetches a fresh challenge from the portal API.
type Getter interface {
	GetCaptcha(ctx context.Context, action string) (*upstream.Captcha, error)
}

// Issuer holds at most one issued challenge. Concurrent issuance (a manual refresh
// racing the automatic post-send refresh) is tolerated: the last response to arrive
// overwrites any earlier one, since only one token is ever held.
type Issuer struct {
	mu      sync.Mutex
	client  Getter
	action  string
	current *upstream.Captcha
	loading bool
	lastErr error
	closed  bool
	// retryPending is true while the single silent timeout retry is scheduled or running.
	retryPending bool

	// clientTS is the flow-creation timestamp (seconds since epoch), captured once and
	// reused for every submission derived from this flow; a bot-timing signal upstream.
	clientTS int64

	retryDelay time.Duration
	// schedule defers fn by d; time.AfterFunc in production, overridden in tests.
	schedule func(d time.Duration, fn func())
}

// NewIssuer returns an issuer for the given action (e.g. "login"). retryDelay is the
// delay before the single silent retry after a timeout.
func NewIssuer(client Getter, action string, retryDelay time.Duration) *Issuer {
	return &Issuer{
		client:     client,
		action:     action,
		clientTS:   time.Now().Unix(),
		retryDelay: retryDelay,
		schedule:   func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Issue fetches a fresh challenge, discarding any previous one. On a timeout it
// schedules exactly one silent retry after the configured delay and returns nil so
// the caller shows no error; any other failure (including a failed retry) is surfaced.
func (i *Issuer) Issue(ctx context.Context) error {
	return i.issue(ctx, true)
}

func (i *Issuer) issue(ctx context.Context, allowRetry bool) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.loading = true
	i.mu.Unlock()

	ch, err := i.client.GetCaptcha(ctx, i.action)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.loading = false
	if i.closed {
		// Late response after teardown; never applied.
		return ErrClosed
	}
	if err != nil {
		if allowRetry && !i.retryPending && upstream.KindOf(err) == upstream.ErrKindTimeout {
			i.retryPending = true
			i.schedule(i.retryDelay, func() {
				retryCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = i.issue(retryCtx, false)
				i.mu.Lock()
				i.retryPending = false
				i.mu.Unlock()
			})
			return nil
		}
		i.lastErr = err
		return err
	}
	i.current = ch // last write wins
	i.lastErr = nil
	return nil
}

// Consume composes the submission payload from the held challenge and the user's
// answer. Returns nil when no challenge is held: the caller must treat that as "not
// ready to submit". Consuming does not discard the token; Clear does, once the
// network call the payload was built for has completed.
func (i *Issuer) Consume(answer int) *upstream.CaptchaPayload {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return nil
	}
	return &upstream.CaptchaPayload{
		Token:              i.current.Token,
		Answer:             answer,
		IssuedAtClientTime: i.clientTS,
		HoneypotField:      "",
	}
}

// Clear discards the held challenge. Must be called after every send/verify call
// completes, win or lose; the token is single-use server-side.
func (i *Issuer) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.current = nil
}

// ChallengeText returns the puzzle to display, or "" when none is held.
func (i *Issuer) ChallengeText() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return ""
	}
	return i.current.Challenge
}

// Held reports whether a challenge is currently held.
func (i *Issuer) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current != nil
}

// Loading reports whether an issuance call is in flight.
func (i *Issuer) Loading() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loading
}

// Err returns the last surfaced issuance error, if any.
func (i *Issuer) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

// ClientTS returns the flow-creation timestamp reused on every payload.
func (i *Issuer) ClientTS() int64 {
	return i.clientTS
}

// Close tears the issuer down; late responses and scheduled retries become no-ops.
func (i *Issuer) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	i.current = nil
}
