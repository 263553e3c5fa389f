// Package enrich joins resolved reference data back onto the claims extract:
// a temporal resolver picks the description revision in force on the claim
// date, and the writer streams the claims parquet into an enriched copy.
package enrich

import (
	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
)

// epochFloor stands in for a missing effective date: a record with no dates
// is considered in force for any claim date.
const epochFloor = "19000101"

// SelectRecord picks the description revision for one code on one claim
// date. Date-valid records (in force on the claim date) outrank the rest;
// within a tier non-NOC records win, then the latest effective date, the
// latest add date, and the longest long description. An unparseable claim
// date leaves no record date-valid, so the best available record is used
// regardless of dates. Returns ok=false only when records is empty.
func SelectRecord(records []model.HCPCSRecord, claimMonth string) (model.HCPCSRecord, bool) {
	if len(records) == 0 {
		return model.HCPCSRecord{}, false
	}

	claimKey := ""
	if t, ok := normalize.ParseClaimMonth(claimMonth); ok {
		claimKey = t.Format("20060102")
	}

	best := records[0]
	for _, r := range records[1:] {
		if ranksBefore(r, best, claimKey) {
			best = r
		}
	}
	return best, true
}

// dateValid reports whether the record was in force on the claim date. An
// empty claimKey (unparseable claim date) validates nothing.
func dateValid(r model.HCPCSRecord, claimKey string) bool {
	if claimKey == "" {
		return false
	}
	start := r.EffDate
	if start == "" {
		start = r.AddDate
	}
	if start == "" {
		start = epochFloor
	}
	if start > claimKey {
		return false
	}
	return r.TermDate == "" || claimKey <= r.TermDate
}

func validityRank(r model.HCPCSRecord, claimKey string) int {
	if r.Code == "" {
		return 2
	}
	if dateValid(r, claimKey) {
		return 0
	}
	return 1
}

// effectiveKey is the date the revision took effect, falling back to the add
// date. yyyymmdd strings compare correctly as text; "" sorts oldest.
func effectiveKey(r model.HCPCSRecord) string {
	if r.EffDate != "" {
		return r.EffDate
	}
	return r.AddDate
}

// ranksBefore reports whether a strictly outranks b for the claim date. The
// best-record scan keeps the earlier record on a full tie, so selection is
// deterministic for any input order.
func ranksBefore(a, b model.HCPCSRecord, claimKey string) bool {
	av, bv := validityRank(a, claimKey), validityRank(b, claimKey)
	if av != bv {
		return av < bv
	}
	if a.IsNOC != b.IsNOC {
		return !a.IsNOC
	}
	if ae, be := effectiveKey(a), effectiveKey(b); ae != be {
		return ae > be
	}
	if a.AddDate != b.AddDate {
		return a.AddDate > b.AddDate
	}
	return len(a.LongDesc) > len(b.LongDesc)
}
