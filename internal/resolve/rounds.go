// Package resolve implements the lookup scheduler: concurrent, rate-limited
// registry lookups organized into rounds. A round dispatches work through a
// bounded in-flight set; the first retry-eligible failure drains the round
// (in-flight work completes, nothing new dispatches) and the leftovers wait
// out a growing cooldown before the next round. Every outcome is written to
// the cache the moment it arrives, so an interrupted run resumes where it
// stopped.
package resolve

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options carries the scheduler knobs shared by both identifier families.
type Options struct {
	Concurrency        int
	RequestsPerSecond  float64
	HCPCSBatchSize     int
	FailureRetryRounds int
	FailureRetryDelay  time.Duration
	// MaxNewLookups caps how many missing identifiers are attempted this
	// run. 0 means no cap.
	MaxNewLookups int
}

func (o Options) concurrency() int {
	if o.Concurrency < 1 {
		return 1
	}
	return o.Concurrency
}

// Stats summarizes one family's scheduler run.
type Stats struct {
	Family       string
	Total        int
	Attempts     int
	Found        int
	NotFound     int
	Failed       int
	FallbackHits int
	PendingRetry int
	Interrupted  bool
}

type verdictKind int

const (
	verdictFound verdictKind = iota
	verdictFoundFallback
	verdictNotFound
	verdictError
)

// verdict is how one persisted outcome affects the round: settle a counter,
// or requeue the identifier for the next retry round.
type verdict struct {
	kind verdictKind
	id   string
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// cooldownDelay doubles the base delay per completed retry round, shift
// capped so the exponent stays sane and overflow falls back to one hour.
func cooldownDelay(base time.Duration, retryRound int) time.Duration {
	shift := retryRound - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20
	}
	d := base << shift
	if d < base {
		return time.Hour
	}
	return d
}

// roundLoop is the family-independent round machinery. chunk splits the
// pending identifiers into dispatch units, lookup performs the network work
// for one unit, handle persists a single outcome.
type roundLoop[O any] struct {
	log            zerolog.Logger
	family         string
	concurrency    int
	maxRetryRounds int
	baseDelay      time.Duration
	chunk          func([]string) [][]string
	lookup         func(ctx context.Context, unit []string) []O
	handle         func(ctx context.Context, out O) (verdict, error)
}

func (l *roundLoop[O]) run(ctx context.Context, ids []string) (Stats, error) {
	stats := Stats{Family: l.family, Total: len(ids)}
	// Cache writes survive shutdown so every settled outcome lands.
	persistCtx := context.WithoutCancel(ctx)

	round := ids
	retryRound := 0
	interrupted := ctx.Err() != nil
	var fatal error

	for len(round) > 0 && !interrupted {
		if retryRound > 0 && l.baseDelay > 0 {
			if !l.cooldown(ctx, retryRound, len(round), stats) {
				interrupted = true
				break
			}
		}

		canRetry := retryRound < l.maxRetryRounds
		units := l.chunk(round)
		var next []string
		drain := false
		idx := 0
		inFlight := 0
		results := make(chan []O)

		dispatch := func() {
			unit := units[idx]
			idx++
			inFlight++
			go func(u []string) { results <- l.lookup(ctx, u) }(unit)
		}

		for inFlight < l.concurrency && idx < len(units) {
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			dispatch()
		}

		for inFlight > 0 {
			outs := <-results
			inFlight--

			for _, out := range outs {
				if fatal != nil {
					continue
				}
				stats.Attempts++
				v, err := l.handle(persistCtx, out)
				if err != nil {
					fatal = err
					drain = true
					continue
				}
				switch v.kind {
				case verdictFound:
					stats.Found++
				case verdictFoundFallback:
					stats.Found++
					stats.FallbackHits++
				case verdictNotFound:
					stats.NotFound++
				case verdictError:
					if canRetry && ctx.Err() == nil {
						next = append(next, v.id)
						drain = true
					} else {
						stats.Failed++
					}
				}
			}
			if fatal != nil {
				continue
			}

			if ctx.Err() != nil {
				interrupted = true
			} else if !drain && idx < len(units) {
				dispatch()
			}
		}

		for _, unit := range units[idx:] {
			next = append(next, unit...)
		}
		round = next
		if fatal != nil || len(round) == 0 || interrupted {
			break
		}
		retryRound++
		l.log.Info().
			Str("family", l.family).
			Int("retry_round", retryRound).
			Int("max_retry_rounds", l.maxRetryRounds).
			Int("pending", len(round)).
			Msg("scheduling retry round")
	}

	stats.PendingRetry = len(round)
	stats.Interrupted = interrupted
	if fatal != nil {
		return stats, fatal
	}
	return stats, nil
}

// cooldown sleeps before a retry round, one second at a time so shutdown
// lands between ticks. Returns false when the wait was cut short.
func (l *roundLoop[O]) cooldown(ctx context.Context, retryRound, pending int, stats Stats) bool {
	delay := cooldownDelay(l.baseDelay, retryRound)
	total := int(delay / time.Second)
	l.log.Info().
		Str("family", l.family).
		Int("retry_round", retryRound).
		Int("max_retry_rounds", l.maxRetryRounds).
		Int("pending", pending).
		Str("delay", delay.String()).
		Msg("cooling down before retry round")

	for elapsed := 0; elapsed < total; elapsed++ {
		if ctx.Err() != nil {
			return false
		}
		l.log.Debug().
			Str("family", l.family).
			Int("retry_in_secs", total-elapsed).
			Int("pending", pending).
			Int("ok", stats.Found).
			Int("not_found", stats.NotFound).
			Int("failed", stats.Failed).
			Msg("retry countdown")
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return false
		}
	}
	return ctx.Err() == nil
}

func truncateLookups(log zerolog.Logger, family string, ids []string, limit int) []string {
	if limit <= 0 || len(ids) <= limit {
		return ids
	}
	log.Info().
		Str("family", family).
		Int("limit", limit).
		Int("missing", len(ids)).
		Msg("capping new lookups")
	return ids[:limit]
}
