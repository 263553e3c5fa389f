package triage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
)

// Summary counts the triaged rows per family.
type Summary struct {
	NPIRows          int
	NPINeedsReview   int
	HCPCSRows        int
	HCPCSNeedsReview int
}

type triageRow struct {
	entry model.UnresolvedEntry
	class Class
	norm  string
}

// WriteReports classifies the unresolved identifiers and writes the review
// CSVs into outDir: per-family full listings, needs-review subsets with
// unique counts, and the concatenated-shape breakdown for HCPCS.
func WriteReports(entries []model.UnresolvedEntry, outDir string, log zerolog.Logger) (*Summary, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create triage output dir: %w", err)
	}

	var npiRows, hcpcsRows []triageRow
	for _, e := range entries {
		switch e.FamilyColumn {
		case model.FamilyNPI.Column:
			npiRows = append(npiRows, triageRow{entry: e, class: ClassifyNPI(e.Identifier), norm: NormalizeIdentifier(e.Identifier)})
		case model.FamilyHCPCS.Column:
			hcpcsRows = append(hcpcsRows, triageRow{entry: e, class: ClassifyHCPCS(e.Identifier), norm: NormalizeIdentifier(e.Identifier)})
		}
	}

	npiUnmapped := filterRows(npiRows, func(r triageRow) bool { return npiNeedsReview(r.class.Name) })
	hcpcsUnmapped := filterRows(hcpcsRows, func(r triageRow) bool { return hcpcsNeedsReview(r.class.Name) })

	if err := writeTriageRows(filepath.Join(outDir, "npi_identifiers_with_inferred_types.csv"), npiRows); err != nil {
		return nil, err
	}
	if err := writeTriageRows(filepath.Join(outDir, "npi_unmapped_rows.csv"), npiUnmapped); err != nil {
		return nil, err
	}
	if err := writeUniqueCounts(filepath.Join(outDir, "npi_unmapped_unique_counts.csv"), npiUnmapped); err != nil {
		return nil, err
	}

	if err := writeTriageRows(filepath.Join(outDir, "hcpcs_identifiers_with_inferred_types.csv"), hcpcsRows); err != nil {
		return nil, err
	}
	if err := writeTriageRows(filepath.Join(outDir, "hcpcs_unmapped_rows.csv"), hcpcsUnmapped); err != nil {
		return nil, err
	}
	if err := writeUniqueCounts(filepath.Join(outDir, "hcpcs_unmapped_unique_counts.csv"), hcpcsUnmapped); err != nil {
		return nil, err
	}
	if err := writeConcatCounts(filepath.Join(outDir, "hcpcs_concat_unique_counts.csv"), hcpcsRows); err != nil {
		return nil, err
	}

	sum := &Summary{
		NPIRows:          len(npiRows),
		NPINeedsReview:   len(npiUnmapped),
		HCPCSRows:        len(hcpcsRows),
		HCPCSNeedsReview: len(hcpcsUnmapped),
	}
	log.Info().
		Int("npi_rows", sum.NPIRows).
		Int("npi_needs_review", sum.NPINeedsReview).
		Int("hcpcs_rows", sum.HCPCSRows).
		Int("hcpcs_needs_review", sum.HCPCSNeedsReview).
		Str("dir", outDir).
		Msg("triage reports written")
	return sum, nil
}

func filterRows(rows []triageRow, keep func(triageRow) bool) []triageRow {
	var out []triageRow
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func writeCSV(path string, write func(*csv.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush %s: %w", path, err)
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

func writeTriageRows(path string, rows []triageRow) error {
	return writeCSV(path, func(w *csv.Writer) error {
		header := []string{
			"identifier_type", "identifier", "status", "error_message", "fetched_at_unix",
			"inferred_code_type", "base_code", "suffix_or_modifier", "identifier_norm",
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, r := range rows {
			fetched := ""
			if r.entry.FetchedAtUnix != nil {
				fetched = strconv.FormatInt(*r.entry.FetchedAtUnix, 10)
			}
			rec := []string{
				r.entry.FamilyColumn, r.entry.Identifier, r.entry.Status, r.entry.ErrorMessage, fetched,
				r.class.Name, r.class.BaseCode, r.class.Modifier, r.norm,
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeUniqueCounts(path string, rows []triageRow) error {
	type key struct{ norm, class string }
	counts := map[key]int{}
	for _, r := range rows {
		counts[key{r.norm, r.class.Name}]++
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i].norm < keys[j].norm
	})

	return writeCSV(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"identifier_norm", "inferred_code_type", "count"}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := w.Write([]string{k.norm, k.class, strconv.Itoa(counts[k])}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeConcatCounts(path string, rows []triageRow) error {
	type key struct{ norm, class, base, mod string }
	counts := map[key]int{}
	for _, r := range rows {
		if !hcpcsConcatClass(r.class.Name) {
			continue
		}
		counts[key{r.norm, r.class.Name, r.class.BaseCode, r.class.Modifier}]++
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i].norm < keys[j].norm
	})

	return writeCSV(path, func(w *csv.Writer) error {
		header := []string{"identifier_norm", "inferred_code_type", "base_code", "suffix_or_modifier", "count"}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, k := range keys {
			rec := []string{k.norm, k.class, k.base, k.mod, strconv.Itoa(counts[k])}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	})
}
