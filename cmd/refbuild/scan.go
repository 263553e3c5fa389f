package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gyeh/claimref/internal/build"
	"github.com/gyeh/claimref/internal/exitcode"
	"github.com/gyeh/claimref/internal/logging"
	"github.com/gyeh/claimref/internal/normalize"
	"github.com/gyeh/claimref/internal/triage"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Dry-run identifier extraction and shape stats (no writes)",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&cfg.ClaimsPath, "claims", "", "Path to claims Parquet extract (required)")
	_ = scanCmd.MarkFlagRequired("claims")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat)

	sha, err := normalize.FileHash(cfg.ClaimsPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to hash file")
		os.Exit(exitcode.InputError)
	}
	stat, err := os.Stat(cfg.ClaimsPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to stat file")
		os.Exit(exitcode.InputError)
	}

	npis, codes, rows, err := build.ScanIdentifiers(cfg.ClaimsPath)
	if err != nil {
		log.Error().Err(err).Msg("claims scan failed")
		os.Exit(exitcode.InputError)
	}

	npiClasses := make(map[string]int)
	for _, id := range npis {
		npiClasses[triage.ClassifyNPI(id).Name]++
	}
	codeClasses := make(map[string]int)
	for _, code := range codes {
		codeClasses[triage.ClassifyHCPCS(code).Name]++
	}

	fmt.Println("=== refbuild scan ===")
	fmt.Printf("File:         %s\n", cfg.ClaimsPath)
	fmt.Printf("SHA-256:      %s\n", sha)
	fmt.Printf("Size:         %d bytes\n", stat.Size())
	fmt.Printf("Total rows:   %d\n", rows)
	fmt.Printf("Unique NPIs:  %d\n", len(npis))
	fmt.Printf("Unique codes: %d\n", len(codes))
	fmt.Println()
	fmt.Println("NPI shapes:")
	printClassCounts(npiClasses)
	fmt.Println("HCPCS shapes:")
	printClassCounts(codeClasses)
	fmt.Println("Schema validation: OK")

	return nil
}

func printClassCounts(counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-24s %6d\n", name, counts[name])
	}
}
