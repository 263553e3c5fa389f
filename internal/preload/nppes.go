// Package preload seeds the resolution cache from local reference files
// before any network lookups run: the NPPES bulk registry extract for
// provider names and a locally derived fallback CSV for procedure codes.
package preload

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/db"
	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
	embedsql "github.com/gyeh/claimref/internal/sql"
)

const (
	nppesChanBuffer   = 1024
	nppesProgressRows = 500_000

	headerNPI    = "NPI"
	headerEntity = "Entity Type Code"
	headerOrg    = "Provider Organization Name (Legal Business Name)"
	headerFirst  = "Provider First Name"
	headerLast   = "Provider Last Name (Legal Name)"
)

// SelectNewestNPPES returns the most recently modified primary NPPES CSV
// found under the given directories, or "" when none qualifies. Directories
// that do not exist are skipped.
func SelectNewestNPPES(dirs ...string) (string, error) {
	var newest string
	var newestMod time.Time

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
				return nil
			}
			if !isPrimaryNPPES(path) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if newest == "" || info.ModTime().After(newestMod) {
				newest = path
				newestMod = info.ModTime()
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("scan %s: %w", dir, err)
		}
	}
	return newest, nil
}

// isPrimaryNPPES sniffs the header row. Companion files (fileheader CSVs,
// code tables) lack the provider-name columns or carry no data rows.
func isPrimaryNPPES(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return false
	}

	var hasNPI, hasEntity, hasOrg, hasFirst, hasLast bool
	for _, h := range header {
		switch strings.TrimSpace(h) {
		case headerNPI:
			hasNPI = true
		case headerEntity:
			hasEntity = true
		case headerOrg:
			hasOrg = true
		case headerFirst:
			hasFirst = true
		case headerLast:
			hasLast = true
		}
	}
	if !hasNPI || !hasEntity || !(hasOrg || (hasFirst && hasLast)) {
		return false
	}

	_, err = r.Read()
	return err == nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

func fieldAt(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// LoadNPPES streams the newest bulk extract into the staging table via COPY
// and merges it into the NPI cache insert-if-absent, keeping only NPIs from
// the input set. Returns the number of cache rows newly inserted. A missing
// extract is non-fatal.
func LoadNPPES(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger, monthlyDir, weeklyDir string, targetNPIs []string) (int64, error) {
	path, err := SelectNewestNPPES(monthlyDir, weeklyDir)
	if err != nil {
		return 0, fmt.Errorf("nppes select: %w", err)
	}
	if path == "" {
		log.Warn().
			Str("monthly_dir", monthlyDir).
			Str("weekly_dir", weeklyDir).
			Msg("no NPPES bulk file found, relying on cache and API")
		return 0, nil
	}

	targets := make(map[string]struct{}, len(targetNPIs))
	for _, npi := range targetNPIs {
		if npi = strings.TrimSpace(npi); npi != "" {
			targets[npi] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	start := time.Now()
	log.Info().Str("file", path).Int("target_npis", len(targets)).Msg("loading NPPES bulk extract")

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("nppes open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("nppes header: %w", err)
	}
	npiIdx := columnIndex(header, headerNPI)
	if npiIdx < 0 {
		return 0, fmt.Errorf("nppes file %s has no %s column", path, headerNPI)
	}
	orgIdx := columnIndex(header, headerOrg)
	firstIdx := columnIndex(header, headerFirst)
	lastIdx := columnIndex(header, headerLast)

	if _, err := pool.Exec(ctx, embedsql.TruncateNPPESStaging); err != nil {
		return 0, fmt.Errorf("nppes truncate staging: %w", err)
	}

	ch := make(chan *model.NPPESRow, nppesChanBuffer)
	errCh := make(chan error, 1)

	var rowsScanned, rowsMatched int64

	// Producer: stream CSV rows, filter to target NPIs, push to channel.
	go func() {
		defer close(ch)
		for {
			record, readErr := r.Read()
			if readErr == io.EOF {
				errCh <- nil
				return
			}
			if readErr != nil {
				errCh <- fmt.Errorf("read nppes row %d: %w", rowsScanned+1, readErr)
				return
			}
			rowsScanned++

			if rowsScanned%nppesProgressRows == 0 {
				log.Info().
					Int64("rows_scanned", rowsScanned).
					Int64("rows_matched", rowsMatched).
					Msg("NPPES scan progress")
			}

			npi := fieldAt(record, npiIdx)
			if npi == "" {
				continue
			}
			if _, ok := targets[npi]; !ok {
				continue
			}
			name := normalize.ComposeProviderName(fieldAt(record, orgIdx), fieldAt(record, firstIdx), fieldAt(record, lastIdx))
			if name == "" {
				continue
			}
			rowsMatched++

			select {
			case ch <- &model.NPPESRow{NPI: npi, ProviderName: name}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	source := db.NewChannelSource(ch)
	staged, copyErr := pool.CopyFrom(ctx,
		pgx.Identifier{"refcache", "nppes_staging"},
		model.NPPESColumns(),
		source,
	)

	prodErr := <-errCh
	if prodErr != nil {
		return 0, fmt.Errorf("nppes producer: %w", prodErr)
	}
	if copyErr != nil {
		return 0, fmt.Errorf("nppes copy: %w", copyErr)
	}

	tag, err := pool.Exec(ctx, embedsql.MergeNPPESStaging, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("nppes merge: %w", err)
	}
	inserted := tag.RowsAffected()

	if _, err := pool.Exec(ctx, embedsql.TruncateNPPESStaging); err != nil {
		return 0, fmt.Errorf("nppes truncate staging: %w", err)
	}

	log.Info().
		Str("file", path).
		Int64("rows_scanned", rowsScanned).
		Int64("rows_staged", staged).
		Int64("rows_inserted", inserted).
		Str("duration", time.Since(start).String()).
		Msg("NPPES preload complete")

	return inserted, nil
}
