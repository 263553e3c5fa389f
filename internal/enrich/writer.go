package enrich

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
	"github.com/gyeh/claimref/internal/parquetread"
)

const readBatchSize = 4096

// Reference is the in-memory join side of enrichment: resolved provider
// names keyed by NPI and ok record revisions keyed by code.
type Reference struct {
	Providers map[string]string
	Records   map[string][]model.HCPCSRecord
}

// NewReference indexes cache export rows for enrichment. Only ok rows join;
// not_found providers have no name to contribute.
func NewReference(npiRows []model.NPIMappingRow, hcpcsRows []model.HCPCSMappingRow) Reference {
	ref := Reference{
		Providers: make(map[string]string, len(npiRows)),
		Records:   make(map[string][]model.HCPCSRecord, len(hcpcsRows)),
	}
	for _, r := range npiRows {
		if r.Status == model.StatusOK && r.ProviderName != "" {
			ref.Providers[r.NPI] = r.ProviderName
		}
	}
	for _, r := range hcpcsRows {
		if r.Status != model.StatusOK {
			continue
		}
		key := normalize.CodeKey(r.Code)
		ref.Records[key] = append(ref.Records[key], model.HCPCSRecord{
			Code:          r.Code,
			ShortDesc:     r.ShortDesc,
			LongDesc:      r.LongDesc,
			AddDate:       r.AddDate,
			EffDate:       r.EffDate,
			TermDate:      r.TermDate,
			Obsolete:      r.Obsolete,
			IsNOC:         r.IsNOC,
			Status:        r.Status,
			FetchedAtUnix: r.FetchedAtUnix,
		})
	}
	return ref
}

// Result holds metrics from one enrichment pass.
type Result struct {
	Rows           int64
	BillingNamed   int64
	ServicingNamed int64
	CodesDescribed int64
	Duration       time.Duration
}

// WriteEnriched streams the claims parquet and writes the enriched copy next
// to outPath, appearing atomically via a tmp file and rename.
func WriteEnriched(claimsPath, outPath string, ref Reference, log zerolog.Logger) (*Result, error) {
	start := time.Now()

	reader, err := parquetread.Open(claimsPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp := outPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create enriched output: %w", err)
	}
	writer := parquet.NewGenericWriter[model.EnrichedClaimRow](out)

	fail := func(err error) (*Result, error) {
		out.Close()
		os.Remove(tmp)
		return nil, err
	}

	res := &Result{}
	rows := make([]model.ClaimRow, readBatchSize)
	enriched := make([]model.EnrichedClaimRow, 0, readBatchSize)
	for {
		n, readErr := reader.Read(rows)
		if n > 0 {
			enriched = enriched[:0]
			for i := 0; i < n; i++ {
				enriched = append(enriched, ref.enrichRow(&rows[i], res))
			}
			if _, err := writer.Write(enriched); err != nil {
				return fail(fmt.Errorf("write enriched rows: %w", err))
			}
			res.Rows += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fail(readErr)
		}
	}

	if err := writer.Close(); err != nil {
		return fail(fmt.Errorf("close enriched writer: %w", err))
	}
	if err := out.Close(); err != nil {
		return fail(fmt.Errorf("close enriched output: %w", err))
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("finalize enriched output: %w", err)
	}

	res.Duration = time.Since(start)
	log.Info().
		Int64("rows", res.Rows).
		Int64("billing_named", res.BillingNamed).
		Int64("servicing_named", res.ServicingNamed).
		Int64("codes_described", res.CodesDescribed).
		Str("path", outPath).
		Str("duration", res.Duration.String()).
		Msg("enriched claims written")
	return res, nil
}

func (ref Reference) enrichRow(row *model.ClaimRow, res *Result) model.EnrichedClaimRow {
	enr := row.Enriched()

	if name, ok := ref.provider(row.BillingProviderNPI); ok {
		enr.BillingProvider = &name
		res.BillingNamed++
	}
	if name, ok := ref.provider(row.ServicingProviderNPI); ok {
		enr.ServicingProvider = &name
		res.ServicingNamed++
	}

	if row.HCPCSCode != nil {
		if code := normalize.NormalizeHCPCS(*row.HCPCSCode); code != "" {
			if rec, ok := SelectRecord(ref.Records[code], strVal(row.ClaimFromMonth)); ok {
				applyRecord(&enr, rec)
				res.CodesDescribed++
			}
		}
	}
	return enr
}

func (ref Reference) provider(raw *string) (string, bool) {
	if raw == nil {
		return "", false
	}
	npi := normalize.NormalizeNPI(*raw)
	if npi == "" {
		return "", false
	}
	name, ok := ref.Providers[npi]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func applyRecord(enr *model.EnrichedClaimRow, rec model.HCPCSRecord) {
	enr.HCPCSShortDesc = strPtr(rec.ShortDesc)
	enr.HCPCSLongDesc = strPtr(rec.LongDesc)
	enr.HCPCSAddDate = isoPtr(rec.AddDate)
	enr.HCPCSActEffDate = isoPtr(rec.EffDate)
	enr.HCPCSTermDate = isoPtr(rec.TermDate)
	obsolete, isNOC := rec.Obsolete, rec.IsNOC
	enr.HCPCSObsolete = &obsolete
	enr.HCPCSIsNOC = &isNOC
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isoPtr renders a yyyymmdd cache date as a 2006-01-02 column value, null
// when absent or malformed.
func isoPtr(yyyymmdd string) *string {
	if yyyymmdd == "" {
		return nil
	}
	iso := normalize.FormatISO(yyyymmdd)
	if iso == "" {
		return nil
	}
	return &iso
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
