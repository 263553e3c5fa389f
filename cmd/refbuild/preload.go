package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/claimref/internal/build"
	"github.com/gyeh/claimref/internal/cache"
	"github.com/gyeh/claimref/internal/db"
	"github.com/gyeh/claimref/internal/exitcode"
	"github.com/gyeh/claimref/internal/logging"
	"github.com/gyeh/claimref/internal/preload"
)

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Load bulk reference data into the cache (no API lookups)",
	RunE:  runPreload,
}

func init() {
	f := preloadCmd.Flags()
	f.StringVar(&cfg.ClaimsPath, "claims", "", "Path to claims Parquet extract; limits loading to its identifiers (required)")
	f.StringVar(&cfg.NPPESMonthlyDir, "nppes-monthly-dir", "", "Directory holding the monthly NPPES dissemination CSV")
	f.StringVar(&cfg.NPPESWeeklyDir, "nppes-weekly-dir", "", "Directory holding the weekly NPPES update CSV")
	f.StringVar(&cfg.HCPCSFallbackCSV, "hcpcs-fallback", "", "Fallback HCPCS reference CSV")
	rootCmd.AddCommand(preloadCmd)
}

func runPreload(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat)
	ctx := context.Background()

	if cfg.ClaimsPath == "" {
		log.Error().Msg("--claims is required")
		os.Exit(exitcode.ConfigError)
	}
	if cfg.DSN == "" {
		log.Error().Msg("--dsn or CLAIMREF_DSN is required")
		os.Exit(exitcode.ConfigError)
	}

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool, log); err != nil {
		log.Error().Err(err).Msg("migration failed")
		os.Exit(exitcode.DBConnError)
	}

	npis, codes, rows, err := build.ScanIdentifiers(cfg.ClaimsPath)
	if err != nil {
		log.Error().Err(err).Msg("claims scan failed")
		os.Exit(exitcode.InputError)
	}
	log.Info().
		Int64("rows", rows).
		Int("unique_npis", len(npis)).
		Int("unique_hcpcs", len(codes)).
		Msg("claims extract scanned")

	loaded, err := preload.LoadNPPES(ctx, pool, log, cfg.NPPESMonthlyDir, cfg.NPPESWeeklyDir, npis)
	if err != nil {
		log.Error().Err(err).Msg("NPPES bulk preload failed")
		os.Exit(exitcode.ResolveError)
	}

	fallback, err := preload.LoadHCPCSFallback(cfg.HCPCSFallbackCSV, log)
	if err != nil {
		log.Error().Err(err).Msg("fallback CSV load failed")
		os.Exit(exitcode.InputError)
	}
	hcpcsStore := cache.NewHCPCSStore(pool, log)
	seeded, err := preload.SeedHCPCSFromFallback(ctx, hcpcsStore, fallback, codes)
	if err != nil {
		log.Error().Err(err).Msg("fallback seeding failed")
		os.Exit(exitcode.ResolveError)
	}
	rechecked, err := preload.RecheckNotFound(ctx, hcpcsStore, fallback, codes)
	if err != nil {
		log.Error().Err(err).Msg("fallback recheck failed")
		os.Exit(exitcode.ResolveError)
	}

	fmt.Printf("Preload complete: %d providers bulk-loaded, %d codes seeded, %d not_found rechecked\n",
		loaded, seeded, rechecked)
	return nil
}
