package resolve

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/registry"
)

// NPIStore is the cache surface the NPI scheduler writes through.
type NPIStore interface {
	PutResolved(ctx context.Context, npi, providerName, source string) error
	PutNotFound(ctx context.Context, npi string) error
	PutError(ctx context.Context, npi, msg string) error
	RecordResponse(ctx context.Context, row model.NPIResponseRow) error
}

// NPILookup resolves one NPI against the registry. An empty name with a nil
// error means the registry has no usable record.
type NPILookup interface {
	Lookup(ctx context.Context, npi string) (string, model.NPIResponseRow, error)
}

type npiOutcome struct {
	npi  string
	name string
	row  model.NPIResponseRow
	err  error
}

type npiResolver struct {
	store   NPIStore
	client  NPILookup
	limiter *rate.Limiter
}

// ResolveNPIs runs the round loop over the missing NPIs, one request per
// identifier. Interruption is reported in Stats, not as an error, so the
// caller can still export what settled.
func ResolveNPIs(ctx context.Context, store NPIStore, client NPILookup, opts Options, log zerolog.Logger, npis []string) (Stats, error) {
	if len(npis) == 0 {
		return Stats{Family: model.FamilyNPI.Name}, nil
	}
	npis = truncateLookups(log, model.FamilyNPI.Name, npis, opts.MaxNewLookups)

	r := &npiResolver{
		store:   store,
		client:  client,
		limiter: newLimiter(opts.RequestsPerSecond),
	}
	loop := &roundLoop[npiOutcome]{
		log:            log,
		family:         model.FamilyNPI.Name,
		concurrency:    opts.concurrency(),
		maxRetryRounds: opts.FailureRetryRounds,
		baseDelay:      opts.FailureRetryDelay,
		chunk:          singletonUnits,
		lookup:         r.lookupUnit,
		handle:         r.handle,
	}

	log.Info().Int("missing", len(npis)).Msg("resolving NPIs")
	stats, err := loop.run(ctx, npis)
	logStats(log, stats)
	return stats, err
}

func singletonUnits(ids []string) [][]string {
	units := make([][]string, len(ids))
	for i, id := range ids {
		units[i] = []string{id}
	}
	return units
}

func (r *npiResolver) lookupUnit(ctx context.Context, unit []string) []npiOutcome {
	npi := unit[0]
	if err := r.limiter.Wait(ctx); err != nil {
		return []npiOutcome{{npi: npi, err: canceledLookup(err)}}
	}
	name, row, err := r.client.Lookup(ctx, npi)
	return []npiOutcome{{npi: npi, name: name, row: row, err: err}}
}

func (r *npiResolver) handle(ctx context.Context, out npiOutcome) (verdict, error) {
	// An empty URL means no request was issued, so there is nothing to audit.
	if out.row.URL != "" {
		if err := r.store.RecordResponse(ctx, out.row); err != nil {
			return verdict{}, err
		}
	}
	if out.err != nil {
		if err := r.store.PutError(ctx, out.npi, out.err.Error()); err != nil {
			return verdict{}, err
		}
		return verdict{kind: verdictError, id: out.npi}, nil
	}
	if out.name == "" {
		if err := r.store.PutNotFound(ctx, out.npi); err != nil {
			return verdict{}, err
		}
		return verdict{kind: verdictNotFound}, nil
	}
	if err := r.store.PutResolved(ctx, out.npi, out.name, model.SourceAPI); err != nil {
		return verdict{}, err
	}
	return verdict{kind: verdictFound}, nil
}

func canceledLookup(err error) error {
	return &registry.LookupError{Kind: registry.Transient, Msg: "lookup canceled before dispatch", Err: err}
}

func logStats(log zerolog.Logger, stats Stats) {
	ev := log.Info()
	msg := "lookups done"
	if stats.Interrupted {
		ev = log.Warn()
		msg = "lookups stopped by shutdown"
	}
	ev.
		Str("family", stats.Family).
		Int("total", stats.Total).
		Int("attempts", stats.Attempts).
		Int("ok", stats.Found).
		Int("not_found", stats.NotFound).
		Int("failed", stats.Failed).
		Int("fallback_hits", stats.FallbackHits).
		Int("pending_retry", stats.PendingRetry).
		Msg(msg)
}
