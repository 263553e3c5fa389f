package build

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/config"
	"github.com/gyeh/claimref/internal/db"
	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
	"github.com/gyeh/claimref/internal/parquetread"
	"github.com/gyeh/claimref/internal/sql"
)

const readBatchSize = 4096

// PreflightResult carries what the later phases need from the input scan.
type PreflightResult struct {
	// RunID is a freshly generated UUIDv4 identifying this build run in the
	// build_runs table and in API provenance rows.
	RunID       uuid.UUID
	InputPath   string
	InputSHA256 string
	RowCount    int64

	// NPIs and HCPCSCodes are the deduplicated, canonicalized identifier
	// sets extracted from the claims columns, sorted for determinism.
	NPIs       []string
	HCPCSCodes []string

	Duration time.Duration
}

// Preflight hashes and validates the claims input, applies schema migrations,
// extracts the identifier sets, and registers the build-run row.
func Preflight(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, cfg *config.Config) (*PreflightResult, error) {
	start := time.Now()

	sha, err := normalize.FileHash(cfg.ClaimsPath)
	if err != nil {
		return nil, fmt.Errorf("hash claims file: %w", err)
	}

	if err := db.ApplyMigrations(ctx, pool, log); err != nil {
		return nil, err
	}

	pf := &PreflightResult{
		RunID:       uuid.New(),
		InputPath:   cfg.ClaimsPath,
		InputSHA256: sha,
	}
	pf.NPIs, pf.HCPCSCodes, pf.RowCount, err = ScanIdentifiers(cfg.ClaimsPath)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, sql.RegisterBuildRun, pf.RunID, pf.InputPath, pf.InputSHA256); err != nil {
		return nil, fmt.Errorf("register build run: %w", err)
	}

	pf.Duration = time.Since(start)
	log.Info().
		Str("run_id", pf.RunID.String()).
		Str("sha256", sha).
		Int64("rows", pf.RowCount).
		Int("unique_npis", len(pf.NPIs)).
		Int("unique_hcpcs", len(pf.HCPCSCodes)).
		Dur("duration", pf.Duration).
		Msg("preflight complete")
	return pf, nil
}

// ScanIdentifiers validates the claims parquet schema and streams the file,
// collecting the deduplicated canonical identifier sets, sorted.
func ScanIdentifiers(claimsPath string) (npis, codes []string, rowCount int64, err error) {
	reader, err := parquetread.Open(claimsPath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open claims file: %w", err)
	}
	defer reader.Close()

	if err := parquetread.ValidateSchema(reader.Schema()); err != nil {
		return nil, nil, 0, fmt.Errorf("claims schema: %w", err)
	}

	npiSet := make(map[string]struct{})
	codeSet := make(map[string]struct{})
	rows := make([]model.ClaimRow, readBatchSize)
	for {
		n, readErr := reader.Read(rows)
		for i := 0; i < n; i++ {
			rowCount++
			addNPI(npiSet, rows[i].BillingProviderNPI)
			addNPI(npiSet, rows[i].ServicingProviderNPI)
			addCode(codeSet, rows[i].HCPCSCode)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, nil, 0, fmt.Errorf("scan claims file: %w", readErr)
		}
	}
	return sortedKeys(npiSet), sortedKeys(codeSet), rowCount, nil
}

func addNPI(set map[string]struct{}, raw *string) {
	if raw == nil {
		return
	}
	if npi := normalize.NormalizeNPI(*raw); npi != "" {
		set[npi] = struct{}{}
	}
}

// addCode keeps malformed codes in the identifier set so they surface in the
// unresolved report and triage instead of silently vanishing.
func addCode(set map[string]struct{}, raw *string) {
	if raw == nil {
		return
	}
	code := normalize.NormalizeHCPCS(*raw)
	if code == "" {
		code = normalize.CodeKey(*raw)
	}
	if code != "" {
		set[code] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
