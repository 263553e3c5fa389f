// Package export writes the reference dataset artifacts: the per-family
// mapping files and the unresolved-identifiers report. Every artifact is
// written to a tmp file and renamed into place.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
)

// WriteNPIMapping writes the provider mapping CSV and its parquet mirror.
// Rows arrive in export order (by npi, ok and not_found statuses).
func WriteNPIMapping(rows []model.NPIMappingRow, csvPath, parquetPath string, log zerolog.Logger) error {
	err := writeFileAtomic(csvPath, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"npi", "provider_name", "status", "fetched_at_unix"}); err != nil {
			return err
		}
		for _, r := range rows {
			rec := []string{r.NPI, r.ProviderName, r.Status, strconv.FormatInt(r.FetchedAtUnix, 10)}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("write NPI mapping csv: %w", err)
	}

	if err := writeParquetAtomic(parquetPath, rows); err != nil {
		return fmt.Errorf("write NPI mapping parquet: %w", err)
	}

	log.Info().
		Int("rows", len(rows)).
		Str("csv", csvPath).
		Str("parquet", parquetPath).
		Msg("NPI mapping exported")
	return nil
}

// WriteHCPCSMapping writes the procedure mapping CSV and its parquet mirror.
// Rows arrive in export order (code, non-NOC first, then dates).
func WriteHCPCSMapping(rows []model.HCPCSMappingRow, csvPath, parquetPath string, log zerolog.Logger) error {
	err := writeFileAtomic(csvPath, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		header := []string{
			"hcpcs_code", "short_desc", "long_desc",
			"add_dt", "act_eff_dt", "term_dt",
			"obsolete", "is_noc", "status", "fetched_at_unix",
		}
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, r := range rows {
			rec := []string{
				r.Code, r.ShortDesc, r.LongDesc,
				r.AddDate, r.EffDate, r.TermDate,
				strconv.FormatBool(r.Obsolete), strconv.FormatBool(r.IsNOC),
				r.Status, strconv.FormatInt(r.FetchedAtUnix, 10),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("write HCPCS mapping csv: %w", err)
	}

	if err := writeParquetAtomic(parquetPath, rows); err != nil {
		return fmt.Errorf("write HCPCS mapping parquet: %w", err)
	}

	log.Info().
		Int("rows", len(rows)).
		Str("csv", csvPath).
		Str("parquet", parquetPath).
		Msg("HCPCS mapping exported")
	return nil
}

// WriteUnresolved writes the unresolved-identifiers report. Entries arrive
// NPIs first then HCPCS, each sorted by identifier; never-attempted
// identifiers have no fetch time.
func WriteUnresolved(entries []model.UnresolvedEntry, path string, log zerolog.Logger) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		header := []string{"identifier_type", "identifier", "status", "error_message", "fetched_at_unix"}
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, e := range entries {
			fetched := ""
			if e.FetchedAtUnix != nil {
				fetched = strconv.FormatInt(*e.FetchedAtUnix, 10)
			}
			rec := []string{e.FamilyColumn, e.Identifier, e.Status, e.ErrorMessage, fetched}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("write unresolved report: %w", err)
	}

	log.Info().
		Int("rows", len(entries)).
		Str("path", path).
		Msg("unresolved report written")
	return nil
}

// writeFileAtomic writes through a tmp file in the target directory and
// renames into place, so readers never observe a partial artifact.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeParquetAtomic[T any](path string, rows []T) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[T](w)
		if len(rows) > 0 {
			if _, err := pw.Write(rows); err != nil {
				return err
			}
		}
		return pw.Close()
	})
}
