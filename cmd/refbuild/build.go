package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gyeh/claimref/internal/build"
	"github.com/gyeh/claimref/internal/config"
	"github.com/gyeh/claimref/internal/db"
	"github.com/gyeh/claimref/internal/exitcode"
	"github.com/gyeh/claimref/internal/logging"
	"github.com/gyeh/claimref/internal/model"
)

var cfgFile string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Resolve identifiers and build the mapping datasets",
	RunE:  runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML config file (explicit flags override file values)")
	f.StringVar(&cfg.ClaimsPath, "claims", "", "Path to claims Parquet extract (required)")
	f.StringVar(&cfg.OutputDir, "output-dir", "", "Directory for mapping datasets and reports (required)")
	f.StringVar(&cfg.NPPESMonthlyDir, "nppes-monthly-dir", "", "Directory holding the monthly NPPES dissemination CSV")
	f.StringVar(&cfg.NPPESWeeklyDir, "nppes-weekly-dir", "", "Directory holding the weekly NPPES update CSV")
	f.StringVar(&cfg.HCPCSFallbackCSV, "hcpcs-fallback", "", "Fallback HCPCS reference CSV")
	f.StringVar(&cfg.NPIBaseURL, "npi-base-url", cfg.NPIBaseURL, "NPI registry base URL")
	f.StringVar(&cfg.HCPCSBaseURL, "hcpcs-base-url", cfg.HCPCSBaseURL, "Procedure registry base URL")
	f.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "Registry request rate limit per identifier family")
	f.IntVar(&cfg.ConcurrencyLimit, "concurrency", cfg.ConcurrencyLimit, "Concurrent in-flight lookups per identifier family")
	f.IntVar(&cfg.HCPCSBatchSize, "hcpcs-batch-size", cfg.HCPCSBatchSize, "Codes per batched HCPCS lookup (max 500)")
	f.IntVar(&cfg.FailureRetryRounds, "retry-rounds", cfg.FailureRetryRounds, "Retry rounds for transiently failed identifiers")
	f.IntVar(&cfg.FailureRetryDelaySecs, "retry-delay", cfg.FailureRetryDelaySecs, "Base cooldown in seconds before a retry round, doubling per round")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "HTTP attempts per registry request")
	f.IntVar(&cfg.RequestTimeoutSecs, "request-timeout", cfg.RequestTimeoutSecs, "Per-request timeout in seconds")
	f.IntVar(&cfg.MaxNewLookups, "max-new-lookups", 0, "Cap on new identifiers attempted this run (0 = no cap)")
	f.BoolVar(&cfg.RebuildMap, "rebuild-map", false, "Run preload and resolve even when cache coverage is complete")
	f.BoolVar(&cfg.ResetMap, "reset-map", false, "Truncate the identifier caches before resolving")
	f.BoolVar(&cfg.SkipAPI, "skip-api", false, "Skip registry lookups; rely on bulk data and cache only")
	f.BoolVar(&cfg.SkipNPPESBulk, "skip-nppes-bulk", false, "Skip the NPPES bulk preload")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		if err := mergeConfigFile(cmd.Flags(), cfgFile); err != nil {
			logging.Setup(cfg.LogFormat).Error().Err(err).Msg("config file load failed")
			os.Exit(exitcode.ConfigError)
		}
	}
	log := logging.Setup(cfg.LogFormat)

	if err := cfg.ValidateWithDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.ConfigError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	defer pool.Close()

	summary, err := build.Run(ctx, pool, log, &cfg)
	if err != nil {
		if errors.Is(err, build.ErrInterrupted) {
			printSummary(summary)
			log.Warn().Msg("build interrupted; rerun to resume from the cache")
			os.Exit(exitcode.Interrupted)
		}
		if pe, ok := err.(*build.PipelineError); ok {
			log.Error().Err(pe.Err).Str("phase", pe.Phase).Msg("build failed")
			switch pe.Phase {
			case "preflight":
				os.Exit(exitcode.InputError)
			case "export", "enrich", "report":
				os.Exit(exitcode.ExportError)
			default:
				os.Exit(exitcode.ResolveError)
			}
		}
		log.Error().Err(err).Msg("build failed")
		os.Exit(exitcode.ResolveError)
	}

	printSummary(summary)
	return nil
}

// mergeConfigFile layers the YAML file between built-in defaults and explicit
// flags: file values override defaults, flags set on the command line override
// the file. Works by re-applying the changed flags after the file merge; the
// bound cfg fields keep their addresses across the reassignment.
func mergeConfigFile(flags *pflag.FlagSet, path string) error {
	changed := map[string]string{}
	flags.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })

	merged := config.Default()
	merged.DSN = cfg.DSN
	merged.LogFormat = cfg.LogFormat
	if err := merged.LoadFromFile(path); err != nil {
		return err
	}
	cfg = merged

	for name, val := range changed {
		if err := flags.Set(name, val); err != nil {
			return fmt.Errorf("reapply --%s: %w", name, err)
		}
	}
	return nil
}

func printSummary(s *model.BuildSummary) {
	if s == nil {
		return
	}
	if s.SkippedByGate {
		fmt.Printf("Build complete (cache coverage complete, resolve skipped): %d rows enriched, %d unresolved (%.1fs)\n",
			s.RowsEnriched, s.UnresolvedCount, s.DurationTotal.Seconds())
		return
	}
	fmt.Printf("Build complete: %d NPIs and %d HCPCS codes attempted, %d rows enriched, %d unresolved (%.1fs)\n",
		s.NPI.Attempted, s.HCPCS.Attempted, s.RowsEnriched, s.UnresolvedCount, s.DurationTotal.Seconds())
}
