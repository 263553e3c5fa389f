// Package registry holds the HTTP clients for the two external identifier
// registries. Both share the same transport discipline: a bounded retry loop
// with exponential backoff and Retry-After handling, wrapped in a circuit
// breaker so a dead upstream fails fast instead of burning the retry budget
// on every identifier.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Options configures a registry client.
type Options struct {
	BaseURL        string
	APIVersion     string // NPI registry only
	APIRunID       string
	RequestTimeout time.Duration
	MaxRetries     int
}

const (
	backoffStart = time.Second
	backoffCap   = 60 * time.Second
)

// transport is the plumbing shared by the two clients: one http.Client with
// the request timeout, a breaker, and the retry loop.
type transport struct {
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
	maxRetries int
}

func newTransport(name string, opts Options, log zerolog.Logger) *transport {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	t := &transport{
		http:       &http.Client{Timeout: timeout},
		log:        log,
		maxRetries: opts.MaxRetries,
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	return t
}

// httpResult is one completed exchange with the body fully read.
type httpResult struct {
	status int
	header http.Header
	body   []byte
}

var errServerStatus = errors.New("server error status")

// getOnce performs one GET through the breaker. A 5xx counts as a breaker
// failure but still surfaces the result for classification. The request
// itself is detached from ctx so cancellation lets an in-flight exchange ride
// out its timeout instead of aborting mid-read.
func (t *transport) getOnce(ctx context.Context, rawURL string) (httpResult, error) {
	var res httpResult
	_, err := t.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := t.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		res = httpResult{status: resp.StatusCode, header: resp.Header, body: body}
		if resp.StatusCode >= 500 {
			return nil, errServerStatus
		}
		return nil, nil
	})
	if err != nil && !errors.Is(err, errServerStatus) {
		return res, err
	}
	return res, nil
}

// getWithRetry runs one logical lookup: up to maxRetries attempts, backoff
// doubling from one second to a minute, Retry-After honored on throttling
// statuses. No new attempt starts after cancellation. The returned result
// carries the last HTTP status even when err is non-nil.
func (t *transport) getWithRetry(ctx context.Context, rawURL, subject string) (httpResult, error) {
	attempts := t.maxRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := backoffStart

	var last httpResult
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, &LookupError{Kind: Transient, Msg: fmt.Sprintf("%s lookup canceled", subject), Err: err}
		}

		res, err := t.getOnce(ctx, rawURL)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return last, &LookupError{Kind: Transient, Msg: fmt.Sprintf("%s lookup rejected, circuit breaker open", subject), Err: err}
			}
			if attempt == attempts {
				return last, &LookupError{Kind: Transient, Msg: fmt.Sprintf("%s request failed: %v", subject, err), Err: err}
			}
			if serr := sleepCtx(ctx, backoff); serr != nil {
				return last, &LookupError{Kind: Transient, Msg: fmt.Sprintf("%s lookup canceled during backoff", subject), Err: serr}
			}
			backoff = nextBackoff(backoff)
			continue
		}
		last = res

		if res.status >= 200 && res.status < 300 {
			return res, nil
		}

		if retryableStatus(res.status) {
			if attempt == attempts {
				return last, &LookupError{
					Kind: Transient,
					Msg:  fmt.Sprintf("%s retryable status %d after %d attempts. Body: %s", subject, res.status, attempts, truncateForLog(string(res.body))),
				}
			}
			wait := backoff
			if d, ok := parseRetryAfter(res.header.Get("Retry-After")); ok {
				wait = d
			}
			if serr := sleepCtx(ctx, wait); serr != nil {
				return last, &LookupError{Kind: Transient, Msg: fmt.Sprintf("%s lookup canceled during backoff", subject), Err: serr}
			}
			backoff = nextBackoff(backoff)
			continue
		}

		return last, &LookupError{
			Kind: Permanent,
			Msg:  fmt.Sprintf("%s non-retryable status %d. Body: %s", subject, res.status, truncateForLog(string(res.body))),
		}
	}

	return last, &LookupError{Kind: Transient, Msg: fmt.Sprintf("%s lookup exhausted attempts", subject)}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
