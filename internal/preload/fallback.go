package preload

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/cache"
	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
)

// Table holds locally sourced HCPCS records keyed by normalized code.
type Table map[string][]model.HCPCSRecord

// Records returns the fallback records for a code, nil when the table has
// none.
func (t Table) Records(code string) []model.HCPCSRecord {
	key := normalize.NormalizeHCPCS(code)
	if key == "" {
		key = normalize.CodeKey(code)
	}
	return t[key]
}

var (
	codeAliases      = []string{"hcpcs_code", "cpt_code", "procedure_code", "billing_code", "code", "hcpcs", "cpt"}
	shortDescAliases = []string{"short_desc", "short_description", "description_short", "desc_short", "display"}
	longDescAliases  = []string{"long_desc", "long_description", "description_long", "description", "desc_long"}
	addDateAliases   = []string{"add_dt", "add_date", "effective_from"}
	effDateAliases   = []string{"act_eff_dt", "act_eff_date", "effective_date", "effective_dt"}
	termDateAliases  = []string{"term_dt", "term_date", "end_date"}
	obsoleteAliases  = []string{"obsolete", "is_obsolete"}
	nocAliases       = []string{"is_noc", "noc"}
)

// normalizeHeader reduces a header cell to lowercase alphanumerics so
// "HCPCS Code", "hcpcs_code" and "HcpcsCode" all match.
func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else if r >= 'A' && r <= 'Z' {
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

func aliasIndex(header []string, aliases []string) int {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = normalizeHeader(h)
	}
	for _, alias := range aliases {
		target := normalizeHeader(alias)
		for i, h := range norm {
			if h == target {
				return i
			}
		}
	}
	return -1
}

// LoadHCPCSFallback parses the local fallback CSV into a Table. A missing
// file yields an empty table; a present but unusable file is an error the
// caller downgrades to a warning.
func LoadHCPCSFallback(path string, log zerolog.Logger) (Table, error) {
	if path == "" {
		return Table{}, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("file", path).Msg("no HCPCS fallback file")
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("fallback open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return Table{}, fmt.Errorf("fallback header: %w", err)
	}

	codeIdx := aliasIndex(header, codeAliases)
	if codeIdx < 0 {
		return Table{}, fmt.Errorf("fallback CSV %s has no code column (expected one of %s)", path, strings.Join(codeAliases, ", "))
	}
	shortIdx := aliasIndex(header, shortDescAliases)
	longIdx := aliasIndex(header, longDescAliases)
	addIdx := aliasIndex(header, addDateAliases)
	effIdx := aliasIndex(header, effDateAliases)
	termIdx := aliasIndex(header, termDateAliases)
	obsoleteIdx := aliasIndex(header, obsoleteAliases)
	nocIdx := aliasIndex(header, nocAliases)

	table := Table{}
	rows := 0
	for {
		record, readErr := r.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Table{}, fmt.Errorf("fallback row: %w", readErr)
		}

		code := normalize.NormalizeHCPCS(fieldAt(record, codeIdx))
		if code == "" {
			continue
		}
		shortDesc := fieldAt(record, shortIdx)
		longDesc := fieldAt(record, longIdx)
		if shortDesc == "" && longDesc == "" {
			continue
		}
		if shortDesc == "" {
			shortDesc = longDesc
		}
		if longDesc == "" {
			longDesc = shortDesc
		}

		rec := model.HCPCSRecord{
			Code:      code,
			ShortDesc: shortDesc,
			LongDesc:  longDesc,
			AddDate:   normalize.ParseYYYYMMDD(fieldAt(record, addIdx)),
			EffDate:   normalize.ParseYYYYMMDD(fieldAt(record, effIdx)),
			TermDate:  normalize.ParseYYYYMMDD(fieldAt(record, termIdx)),
		}
		rec.Obsolete, _ = normalize.ParseBoolFlag(fieldAt(record, obsoleteIdx))
		rec.IsNOC, _ = normalize.ParseBoolFlag(fieldAt(record, nocIdx))

		table[code] = append(table[code], rec)
		rows++
	}

	for code, records := range table {
		table[code] = dedupRecords(records)
	}

	if len(table) > 0 {
		log.Info().Str("file", path).Int("rows", rows).Int("codes", len(table)).Msg("loaded HCPCS fallback table")
	}
	return table, nil
}

func dedupRecords(records []model.HCPCSRecord) []model.HCPCSRecord {
	seen := make(map[model.HCPCSRecord]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// SeedHCPCSFromFallback writes fallback records for every target code that
// has no resolved rows yet. Codes resolved earlier keep their records; API
// results later in the run overwrite seeded rows.
func SeedHCPCSFromFallback(ctx context.Context, store *cache.HCPCSStore, table Table, targetCodes []string) (int, error) {
	if len(table) == 0 {
		return 0, nil
	}
	seeded := 0
	for _, code := range targetCodes {
		records := table.Records(code)
		if len(records) == 0 {
			continue
		}
		ok, err := store.HasResolved(ctx, code)
		if err != nil {
			return seeded, fmt.Errorf("fallback seed %s: %w", code, err)
		}
		if ok {
			continue
		}
		if err := store.ReplaceResolved(ctx, code, records, model.SourceFallback); err != nil {
			return seeded, fmt.Errorf("fallback seed %s: %w", code, err)
		}
		seeded++
	}
	return seeded, nil
}

// RecheckNotFound upgrades cached not_found codes that the fallback table
// now covers, so a refreshed local file recovers codes the registry does not
// know.
func RecheckNotFound(ctx context.Context, store *cache.HCPCSStore, table Table, targetCodes []string) (int, error) {
	if len(table) == 0 || len(targetCodes) == 0 {
		return 0, nil
	}
	notFound, err := store.NotFoundCodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("fallback recheck: %w", err)
	}
	if len(notFound) == 0 {
		return 0, nil
	}
	notFoundKeys := make(map[string]struct{}, len(notFound))
	for _, code := range notFound {
		notFoundKeys[normalize.CodeKey(code)] = struct{}{}
	}

	recovered := 0
	for _, code := range targetCodes {
		if _, isNotFound := notFoundKeys[normalize.CodeKey(code)]; !isNotFound {
			continue
		}
		ok, err := store.HasResolved(ctx, code)
		if err != nil {
			return recovered, fmt.Errorf("fallback recheck %s: %w", code, err)
		}
		if ok {
			continue
		}
		records := table.Records(code)
		if len(records) == 0 {
			continue
		}
		if err := store.ReplaceResolved(ctx, code, records, model.SourceFallback); err != nil {
			return recovered, fmt.Errorf("fallback recheck %s: %w", code, err)
		}
		recovered++
	}
	return recovered, nil
}
