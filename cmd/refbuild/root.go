package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/claimref/internal/config"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "refbuild",
	Short: "Claims identifier reference builder",
	Long:  "Resolves NPI and HCPCS identifiers from a claims Parquet extract against the national registries, caches results in Postgres, and writes mapping datasets, an enriched claims copy, and review reports.",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.DSN, "dsn", os.Getenv("CLAIMREF_DSN"), "Postgres connection string (or set CLAIMREF_DSN)")
	pf.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
}
