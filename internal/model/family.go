package model

// Family identifies which external registry an identifier belongs to.
type Family struct {
	Name   string // e.g. "NPI"
	Column string // report column value, e.g. "npi"
}

// The two identifier families resolved by the engine.
var (
	FamilyNPI   = Family{Name: "NPI", Column: "npi"}
	FamilyHCPCS = Family{Name: "HCPCS", Column: "hcpcs"}
)

// Resolution statuses stored in the cache. MissingCache is synthetic: it is
// reported for identifiers present in the input but never attempted, and is
// never written to a cache row.
const (
	StatusOK           = "ok"
	StatusNotFound     = "not_found"
	StatusError        = "error"
	StatusMissingCache = "missing_cache"
)

// Record sources, in precedence order within a run: bulk and fallback rows seed
// the cache before any network traffic; api rows overwrite them on re-lookup.
const (
	SourceBulk     = "bulk"
	SourceFallback = "fallback"
	SourceAPI      = "api"
)
