package model

// NPIMappingRow mirrors the Parquet/CSV schema of the exported NPI reference
// dataset. not_found rows carry an empty provider name.
type NPIMappingRow struct {
	NPI           string `parquet:"npi"`
	ProviderName  string `parquet:"provider_name"`
	Status        string `parquet:"status"`
	FetchedAtUnix int64  `parquet:"fetched_at_unix"`
}

// HCPCSMappingRow mirrors the Parquet/CSV schema of the exported procedure
// reference dataset: one row per cached ok record revision.
type HCPCSMappingRow struct {
	Code          string `parquet:"hcpcs_code"`
	ShortDesc     string `parquet:"short_desc"`
	LongDesc      string `parquet:"long_desc"`
	AddDate       string `parquet:"add_dt"`
	EffDate       string `parquet:"act_eff_dt"`
	TermDate      string `parquet:"term_dt"`
	Obsolete      bool   `parquet:"obsolete"`
	IsNOC         bool   `parquet:"is_noc"`
	Status        string `parquet:"status"`
	FetchedAtUnix int64  `parquet:"fetched_at_unix"`
}
