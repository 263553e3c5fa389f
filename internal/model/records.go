package model

import "time"

// NPIRecord is the cached resolution state for one NPI. ProviderName and
// ErrorMessage are empty when absent.
type NPIRecord struct {
	NPI           string
	ProviderName  string
	Status        string
	ErrorMessage  string
	Source        string
	FetchedAtUnix int64
}

// HCPCSRecord is one code-description revision for a HCPCS code. A code may
// carry several ok records (revisions over time); not_found and error states
// are stored as a single sentinel record with empty descriptive fields.
// Date fields are yyyymmdd strings as returned by the registry; empty means
// absent.
type HCPCSRecord struct {
	Code          string
	ShortDesc     string
	LongDesc      string
	AddDate       string
	EffDate       string
	TermDate      string
	Obsolete      bool
	IsNOC         bool
	Status        string
	ErrorMessage  string
	Source        string
	FetchedAtUnix int64
}

// NPIResponseRow is the provenance of one NPI registry request. Per NPI the
// newest requested_at wins on conflict.
type NPIResponseRow struct {
	NPI           string
	URL           string
	HTTPStatus    *int32
	ErrorMessage  *string
	APIRunID      string
	RequestedAt   time.Time
	RequestParams []byte // JSON
	Results       []byte // JSON array from the response, nil when absent
	ResponseRaw   []byte // full response body as JSON, nil when unparseable
}

// HCPCSResponseRow is the provenance of one procedure-registry request. Batch
// requests record one row per code covered by the batch.
type HCPCSResponseRow struct {
	Code          string
	URL           string
	HTTPStatus    *int32
	ErrorMessage  *string
	APIRunID      string
	RequestedAt   time.Time
	RequestParams []byte // JSON
	Records       []byte // JSON array of parsed records for this code
	ResponseRaw   []byte // full response body as JSON, nil when unparseable
}

// UnresolvedEntry is one row of the unresolved-identifiers report.
type UnresolvedEntry struct {
	FamilyColumn  string // "npi" or "hcpcs"
	Identifier    string
	Status        string
	ErrorMessage  string
	FetchedAtUnix *int64 // nil for missing_cache
}
