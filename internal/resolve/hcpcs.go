package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
	"github.com/gyeh/claimref/internal/preload"
	"github.com/gyeh/claimref/internal/registry"
)

const hcpcsBatchCeiling = 500

// HCPCSStore is the cache surface the HCPCS scheduler writes through.
type HCPCSStore interface {
	ReplaceResolved(ctx context.Context, code string, records []model.HCPCSRecord, source string) error
	PutNotFound(ctx context.Context, code string) error
	PutError(ctx context.Context, code, msg string) error
	RecordResponses(ctx context.Context, rows []model.HCPCSResponseRow) error
}

// HCPCSLookup resolves codes against the registry, singly or as one OR-query
// batch.
type HCPCSLookup interface {
	Lookup(ctx context.Context, code string) ([]model.HCPCSRecord, model.HCPCSResponseRow, error)
	LookupBatch(ctx context.Context, codes []string) (registry.BatchResult, error)
}

type hcpcsOutcome struct {
	code    string
	records []model.HCPCSRecord
	row     model.HCPCSResponseRow
	// errMsg marks a failed lookup; it carries the merged message when the
	// batch failed first and the single retry failed too.
	errMsg string
}

type hcpcsResolver struct {
	store    HCPCSStore
	client   HCPCSLookup
	limiter  *rate.Limiter
	fallback preload.Table
}

// ResolveHCPCS runs the round loop over the missing codes in OR-query
// batches. A failed batch is retried within the round as single lookups; an
// affirmative miss consults the fallback table before not_found is recorded.
func ResolveHCPCS(ctx context.Context, store HCPCSStore, client HCPCSLookup, fallback preload.Table, opts Options, log zerolog.Logger, codes []string) (Stats, error) {
	if len(codes) == 0 {
		return Stats{Family: model.FamilyHCPCS.Name}, nil
	}
	codes = truncateLookups(log, model.FamilyHCPCS.Name, codes, opts.MaxNewLookups)

	batchSize := opts.HCPCSBatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > hcpcsBatchCeiling {
		batchSize = hcpcsBatchCeiling
	}

	r := &hcpcsResolver{
		store:    store,
		client:   client,
		limiter:  newLimiter(opts.RequestsPerSecond),
		fallback: fallback,
	}
	loop := &roundLoop[hcpcsOutcome]{
		log:            log,
		family:         model.FamilyHCPCS.Name,
		concurrency:    opts.concurrency(),
		maxRetryRounds: opts.FailureRetryRounds,
		baseDelay:      opts.FailureRetryDelay,
		chunk:          func(ids []string) [][]string { return chunkCodes(ids, batchSize) },
		lookup:         r.lookupUnit,
		handle:         r.handle,
	}

	log.Info().Int("missing", len(codes)).Int("batch_size", batchSize).Msg("resolving HCPCS codes")
	stats, err := loop.run(ctx, codes)
	logStats(log, stats)
	return stats, err
}

func chunkCodes(codes []string, size int) [][]string {
	var units [][]string
	for len(codes) > size {
		units = append(units, codes[:size])
		codes = codes[size:]
	}
	if len(codes) > 0 {
		units = append(units, codes)
	}
	return units
}

func (r *hcpcsResolver) lookupUnit(ctx context.Context, codes []string) []hcpcsOutcome {
	if len(codes) == 1 {
		return []hcpcsOutcome{r.lookupSingle(ctx, codes[0], "")}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		outs := make([]hcpcsOutcome, len(codes))
		for i, code := range codes {
			outs[i] = hcpcsOutcome{code: code, errMsg: canceledLookup(err).Error()}
		}
		return outs
	}

	batch, err := r.client.LookupBatch(ctx, codes)
	if err != nil {
		// The whole batch failed; retry each code on its own so one bad
		// response cannot sink its batchmates.
		outs := make([]hcpcsOutcome, 0, len(codes))
		for _, code := range codes {
			outs = append(outs, r.lookupSingle(ctx, code, err.Error()))
		}
		return outs
	}

	outs := make([]hcpcsOutcome, 0, len(codes))
	for i, code := range codes {
		out := hcpcsOutcome{code: code}
		if i < len(batch.Rows) {
			out.row = batch.Rows[i]
			out.records = recordsForRow(batch, out.row)
		}
		outs = append(outs, out)
	}
	return outs
}

func recordsForRow(batch registry.BatchResult, row model.HCPCSResponseRow) []model.HCPCSRecord {
	return batch.RecordsByCode[normalize.CodeKey(row.Code)]
}

func (r *hcpcsResolver) lookupSingle(ctx context.Context, code, batchErr string) hcpcsOutcome {
	if err := r.limiter.Wait(ctx); err != nil {
		return hcpcsOutcome{code: code, errMsg: canceledLookup(err).Error()}
	}
	records, row, err := r.client.Lookup(ctx, code)
	if err == nil {
		return hcpcsOutcome{code: code, records: records, row: row}
	}
	msg := err.Error()
	if batchErr != "" {
		msg = fmt.Sprintf("Batch lookup failed, then single lookup failed. batch_error=%s; single_error=%s", batchErr, msg)
		row.ErrorMessage = &msg
	}
	return hcpcsOutcome{code: code, row: row, errMsg: msg}
}

func (r *hcpcsResolver) handle(ctx context.Context, out hcpcsOutcome) (verdict, error) {
	if out.row.URL != "" {
		if err := r.store.RecordResponses(ctx, []model.HCPCSResponseRow{out.row}); err != nil {
			return verdict{}, err
		}
	}
	if out.errMsg != "" {
		if err := r.store.PutError(ctx, out.code, out.errMsg); err != nil {
			return verdict{}, err
		}
		return verdict{kind: verdictError, id: out.code}, nil
	}

	records := filterRecords(out.code, out.records)
	if len(records) == 0 {
		if fb := r.fallback.Records(out.code); len(fb) > 0 {
			if err := r.store.ReplaceResolved(ctx, out.code, fb, model.SourceFallback); err != nil {
				return verdict{}, err
			}
			return verdict{kind: verdictFoundFallback}, nil
		}
		if err := r.store.PutNotFound(ctx, out.code); err != nil {
			return verdict{}, err
		}
		return verdict{kind: verdictNotFound}, nil
	}
	// Keep every record revision, NOC ones included; enrichment picks the
	// best match per claim date.
	if err := r.store.ReplaceResolved(ctx, out.code, records, model.SourceAPI); err != nil {
		return verdict{}, err
	}
	return verdict{kind: verdictFound}, nil
}

// filterRecords keeps records matching the requested code and drops exact
// duplicates.
func filterRecords(code string, records []model.HCPCSRecord) []model.HCPCSRecord {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[model.HCPCSRecord]struct{}, len(records))
	out := make([]model.HCPCSRecord, 0, len(records))
	for _, rec := range records {
		if !strings.EqualFold(rec.Code, code) {
			continue
		}
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	return out
}
