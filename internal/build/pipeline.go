// Package build orchestrates one dataset build: preflight the claims input,
// gate on cache coverage, preload bulk reference files, resolve the remaining
// identifiers against the registries, then export, enrich, and report.
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gyeh/claimref/internal/cache"
	"github.com/gyeh/claimref/internal/config"
	"github.com/gyeh/claimref/internal/enrich"
	"github.com/gyeh/claimref/internal/export"
	"github.com/gyeh/claimref/internal/logging"
	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/preload"
	"github.com/gyeh/claimref/internal/registry"
	"github.com/gyeh/claimref/internal/resolve"
	"github.com/gyeh/claimref/internal/sql"
	"github.com/gyeh/claimref/internal/triage"
)

// ErrInterrupted marks a run cut short by a shutdown signal. Everything
// settled before the interrupt is exported and reported.
var ErrInterrupted = errors.New("build interrupted")

// PipelineError wraps an error with the phase where it occurred.
type PipelineError struct {
	Phase string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Run executes the full build pipeline: preflight → gate → preload → resolve
// → export → enrich → report.
func Run(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, cfg *config.Config) (*model.BuildSummary, error) {
	totalStart := time.Now()

	// Phase 1: Preflight
	log.Info().Str("file", cfg.ClaimsPath).Msg("starting preflight")
	pf, err := Preflight(ctx, pool, log, cfg)
	if err != nil {
		return nil, &PipelineError{Phase: "preflight", Err: err}
	}

	summary := &model.BuildSummary{
		RunID:       pf.RunID.String(),
		InputPath:   pf.InputPath,
		InputSHA256: pf.InputSHA256,
	}
	summary.NPI.InputIdentifiers = int64(len(pf.NPIs))
	summary.HCPCS.InputIdentifiers = int64(len(pf.HCPCSCodes))
	summary.DurationPreflight = pf.Duration

	npiStore := cache.NewNPIStore(pool, log)
	hcpcsStore := cache.NewHCPCSStore(pool, log)

	// Phase 2: Gate
	if cfg.ResetMap {
		log.Info().Msg("resetting caches")
		if err := npiStore.Reset(ctx); err != nil {
			return nil, &PipelineError{Phase: "gate", Err: err}
		}
		if err := hcpcsStore.Reset(ctx); err != nil {
			return nil, &PipelineError{Phase: "gate", Err: err}
		}
	}

	if summary.NPI.AlreadySettled, err = npiStore.Resolved(ctx, pf.NPIs); err != nil {
		return nil, &PipelineError{Phase: "gate", Err: err}
	}
	if summary.HCPCS.AlreadySettled, err = hcpcsStore.Resolved(ctx, pf.HCPCSCodes); err != nil {
		return nil, &PipelineError{Phase: "gate", Err: err}
	}

	rebuild := cfg.RebuildMap || cfg.ResetMap
	if !rebuild {
		needs, reason, err := NeedsRebuild(ctx, npiStore, hcpcsStore, pf.NPIs, pf.HCPCSCodes, cfg.MappingArtifacts())
		if err != nil {
			return nil, &PipelineError{Phase: "gate", Err: err}
		}
		rebuild = needs
		if needs {
			log.Info().Str("reason", reason).Msg("cache coverage incomplete, rebuilding")
		}
	}

	interrupted := false

	if !rebuild {
		summary.SkippedByGate = true
		log.Info().
			Int64("npi_settled", summary.NPI.AlreadySettled).
			Int64("hcpcs_settled", summary.HCPCS.AlreadySettled).
			Msg("cache coverage complete, skipping preload and resolve (pass --rebuild-map or --reset-map to force)")
	} else {
		// Phase 3: Preload
		preloadStart := time.Now()
		var fallback preload.Table

		if cfg.SkipNPPESBulk {
			log.Info().Msg("skipping NPPES bulk preload")
		} else {
			loaded, err := preload.LoadNPPES(ctx, pool, log, cfg.NPPESMonthlyDir, cfg.NPPESWeeklyDir, pf.NPIs)
			if err != nil {
				log.Warn().Err(err).Msg("NPPES bulk preload failed, relying on cache and API")
			}
			summary.NPI.BulkLoaded = loaded
		}

		fallback, err = preload.LoadHCPCSFallback(cfg.HCPCSFallbackCSV, log)
		if err != nil {
			log.Warn().Err(err).Msg("HCPCS fallback load failed, relying on cache and API")
			fallback = preload.Table{}
		}
		seeded, err := preload.SeedHCPCSFromFallback(ctx, hcpcsStore, fallback, pf.HCPCSCodes)
		if err != nil {
			return nil, &PipelineError{Phase: "preload", Err: err}
		}
		rechecked, err := preload.RecheckNotFound(ctx, hcpcsStore, fallback, pf.HCPCSCodes)
		if err != nil {
			return nil, &PipelineError{Phase: "preload", Err: err}
		}
		summary.HCPCS.FallbackSeeded = int64(seeded + rechecked)
		summary.DurationPreload = time.Since(preloadStart)

		// Phase 4: Resolve
		switch {
		case cfg.SkipAPI:
			log.Info().Msg("skipping API lookups (bulk and fallback coverage only)")
		case ctx.Err() != nil:
			interrupted = true
		default:
			resolveStart := time.Now()
			missingNPIs, err := npiStore.Missing(ctx, pf.NPIs)
			if err != nil {
				return nil, &PipelineError{Phase: "resolve", Err: err}
			}
			missingCodes, err := hcpcsStore.Missing(ctx, pf.HCPCSCodes)
			if err != nil {
				return nil, &PipelineError{Phase: "resolve", Err: err}
			}

			clientOpts := registry.Options{
				APIRunID:       pf.RunID.String(),
				RequestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
				MaxRetries:     cfg.MaxRetries,
			}
			npiOpts := clientOpts
			npiOpts.BaseURL = cfg.NPIBaseURL
			hcpcsOpts := clientOpts
			hcpcsOpts.BaseURL = cfg.HCPCSBaseURL

			npiClient := registry.NewNPIClient(npiOpts, log)
			hcpcsClient := registry.NewHCPCSClient(hcpcsOpts, log)

			opts := resolve.Options{
				Concurrency:        cfg.ConcurrencyLimit,
				RequestsPerSecond:  cfg.RequestsPerSecond,
				HCPCSBatchSize:     cfg.HCPCSBatchSize,
				FailureRetryRounds: cfg.FailureRetryRounds,
				FailureRetryDelay:  time.Duration(cfg.FailureRetryDelaySecs) * time.Second,
				MaxNewLookups:      cfg.MaxNewLookups,
			}

			var npiStats, hcpcsStats resolve.Stats
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				npiStats, err = resolve.ResolveNPIs(gctx, npiStore, npiClient, opts, logging.ForFamily(log, model.FamilyNPI.Name), missingNPIs)
				return err
			})
			g.Go(func() error {
				var err error
				hcpcsStats, err = resolve.ResolveHCPCS(gctx, hcpcsStore, hcpcsClient, fallback, opts, logging.ForFamily(log, model.FamilyHCPCS.Name), missingCodes)
				return err
			})
			if err := g.Wait(); err != nil {
				return nil, &PipelineError{Phase: "resolve", Err: err}
			}

			summary.NPI.Attempted = int64(npiStats.Attempts)
			summary.NPI.Resolved = int64(npiStats.Found)
			summary.NPI.NotFound = int64(npiStats.NotFound)
			summary.NPI.Failed = int64(npiStats.Failed)
			summary.NPI.Interrupted = npiStats.Interrupted
			summary.HCPCS.Attempted = int64(hcpcsStats.Attempts)
			summary.HCPCS.Resolved = int64(hcpcsStats.Found)
			summary.HCPCS.NotFound = int64(hcpcsStats.NotFound)
			summary.HCPCS.Failed = int64(hcpcsStats.Failed)
			summary.HCPCS.Interrupted = hcpcsStats.Interrupted
			summary.HCPCS.FallbackSeeded += int64(hcpcsStats.FallbackHits)
			summary.DurationResolve = time.Since(resolveStart)
			interrupted = npiStats.Interrupted || hcpcsStats.Interrupted
		}
	}

	// The remaining phases run even after an interrupt, on a cancellation-
	// immune context, so settled results still reach the artifacts.
	artifactCtx := context.WithoutCancel(ctx)

	// Phase 5: Export
	exportStart := time.Now()
	log.Info().Msg("exporting reference datasets")
	npiRows, err := npiStore.MappingRows(artifactCtx)
	if err != nil {
		return nil, &PipelineError{Phase: "export", Err: err}
	}
	if err := export.WriteNPIMapping(npiRows, cfg.NPIMappingCSV(), cfg.NPIMappingParquet(), log); err != nil {
		return nil, &PipelineError{Phase: "export", Err: err}
	}
	hcpcsRows, err := hcpcsStore.RecordRows(artifactCtx)
	if err != nil {
		return nil, &PipelineError{Phase: "export", Err: err}
	}
	if err := export.WriteHCPCSMapping(hcpcsRows, cfg.HCPCSMappingCSV(), cfg.HCPCSMappingParquet(), log); err != nil {
		return nil, &PipelineError{Phase: "export", Err: err}
	}
	summary.DurationExport = time.Since(exportStart)

	// Phase 6: Enrich
	log.Info().Msg("enriching claims")
	ref := enrich.NewReference(npiRows, hcpcsRows)
	enrichRes, err := enrich.WriteEnriched(cfg.ClaimsPath, cfg.EnrichedClaimsParquet(), ref, log)
	if err != nil {
		return nil, &PipelineError{Phase: "enrich", Err: err}
	}
	summary.RowsEnriched = enrichRes.Rows
	summary.DurationEnrich = enrichRes.Duration

	// Phase 7: Report
	entries, err := UnresolvedReport(artifactCtx, npiStore, hcpcsStore, pf.NPIs, pf.HCPCSCodes)
	if err != nil {
		return nil, &PipelineError{Phase: "report", Err: err}
	}
	if err := export.WriteUnresolved(entries, cfg.UnresolvedReportCSV(), log); err != nil {
		return nil, &PipelineError{Phase: "report", Err: err}
	}
	if _, err := triage.WriteReports(entries, cfg.TriageDir(), log); err != nil {
		return nil, &PipelineError{Phase: "report", Err: err}
	}
	summary.UnresolvedCount = int64(len(entries))
	summary.DurationTotal = time.Since(totalStart)

	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, &PipelineError{Phase: "report", Err: err}
	}
	if _, err := pool.Exec(artifactCtx, sql.FinishBuildRun, pf.RunID, interrupted, summary.RowsEnriched, summary.UnresolvedCount, payload); err != nil {
		return nil, &PipelineError{Phase: "report", Err: fmt.Errorf("finish build run: %w", err)}
	}

	log.Info().
		Str("run_id", summary.RunID).
		Int64("rows_enriched", summary.RowsEnriched).
		Int64("unresolved", summary.UnresolvedCount).
		Bool("interrupted", interrupted).
		Str("total_duration", summary.DurationTotal.String()).
		Msg("build pipeline complete")

	if interrupted {
		return summary, ErrInterrupted
	}
	return summary, nil
}
