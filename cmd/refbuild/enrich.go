package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/claimref/internal/cache"
	"github.com/gyeh/claimref/internal/db"
	"github.com/gyeh/claimref/internal/enrich"
	"github.com/gyeh/claimref/internal/exitcode"
	"github.com/gyeh/claimref/internal/logging"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich the claims extract from the current cache (no lookups)",
	RunE:  runEnrich,
}

func init() {
	f := enrichCmd.Flags()
	f.StringVar(&cfg.ClaimsPath, "claims", "", "Path to claims Parquet extract (required)")
	f.StringVar(&cfg.OutputDir, "output-dir", "", "Directory for the enriched dataset (required)")
	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat)
	ctx := context.Background()

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.ConfigError)
	}

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()

	npiRows, err := cache.NewNPIStore(pool, log).MappingRows(ctx)
	if err != nil {
		log.Error().Err(err).Msg("loading npi mapping rows failed")
		os.Exit(exitcode.DBConnError)
	}
	hcpcsRows, err := cache.NewHCPCSStore(pool, log).RecordRows(ctx)
	if err != nil {
		log.Error().Err(err).Msg("loading hcpcs record rows failed")
		os.Exit(exitcode.DBConnError)
	}

	ref := enrich.NewReference(npiRows, hcpcsRows)
	res, err := enrich.WriteEnriched(cfg.ClaimsPath, cfg.EnrichedClaimsParquet(), ref, log)
	if err != nil {
		log.Error().Err(err).Msg("enrichment failed")
		os.Exit(exitcode.ExportError)
	}

	fmt.Printf("Enrichment complete: %d rows, %d billing and %d servicing providers named, %d codes described (%.1fs)\n",
		res.Rows, res.BillingNamed, res.ServicingNamed, res.CodesDescribed, res.Duration.Seconds())
	return nil
}
