package model

// ClaimRow mirrors the Parquet schema of a single claims line. Identifier and
// date columns are strings matching the upstream extract; numeric-looking NPIs
// may arrive with a trailing ".0" and are normalized before lookup.
type ClaimRow struct {
	ClaimID   string `parquet:"CLAIM_ID"`
	ClaimLine int32  `parquet:"CLAIM_LINE_NUM"`

	BillingProviderNPI   *string `parquet:"BILLING_PROVIDER_NPI_NUM,optional"`
	ServicingProviderNPI *string `parquet:"SERVICING_PROVIDER_NPI_NUM,optional"`
	HCPCSCode            *string `parquet:"HCPCS_CODE,optional"`
	ClaimFromMonth       *string `parquet:"CLAIM_FROM_MONTH,optional"`

	Units      *float64 `parquet:"UNITS,optional"`
	PaidAmount *float64 `parquet:"PAID_AMOUNT,optional"`
}

// EnrichedClaimRow is a ClaimRow plus the resolved provider and procedure
// columns appended by enrichment. Date columns are ISO yyyy-mm-dd strings;
// unresolved identifiers leave their columns null.
type EnrichedClaimRow struct {
	ClaimID   string `parquet:"CLAIM_ID"`
	ClaimLine int32  `parquet:"CLAIM_LINE_NUM"`

	BillingProviderNPI   *string `parquet:"BILLING_PROVIDER_NPI_NUM,optional"`
	ServicingProviderNPI *string `parquet:"SERVICING_PROVIDER_NPI_NUM,optional"`
	HCPCSCode            *string `parquet:"HCPCS_CODE,optional"`
	ClaimFromMonth       *string `parquet:"CLAIM_FROM_MONTH,optional"`

	Units      *float64 `parquet:"UNITS,optional"`
	PaidAmount *float64 `parquet:"PAID_AMOUNT,optional"`

	BillingProvider   *string `parquet:"BILLING_PROVIDER,optional"`
	ServicingProvider *string `parquet:"SERVICING_PROVIDER,optional"`

	HCPCSShortDesc   *string `parquet:"HCPCS_SHORT_DESC,optional"`
	HCPCSLongDesc    *string `parquet:"HCPCS_LONG_DESC,optional"`
	HCPCSAddDate     *string `parquet:"HCPCS_ADD_DATE,optional"`
	HCPCSActEffDate  *string `parquet:"HCPCS_ACT_EFF_DATE,optional"`
	HCPCSTermDate    *string `parquet:"HCPCS_TERM_DATE,optional"`
	HCPCSObsolete    *bool   `parquet:"HCPCS_OBSOLETE,optional"`
	HCPCSIsNOC       *bool   `parquet:"HCPCS_IS_NOC,optional"`
}

// Enriched copies the claim columns into an EnrichedClaimRow with all
// enrichment columns still null.
func (r *ClaimRow) Enriched() EnrichedClaimRow {
	return EnrichedClaimRow{
		ClaimID:              r.ClaimID,
		ClaimLine:            r.ClaimLine,
		BillingProviderNPI:   r.BillingProviderNPI,
		ServicingProviderNPI: r.ServicingProviderNPI,
		HCPCSCode:            r.HCPCSCode,
		ClaimFromMonth:       r.ClaimFromMonth,
		Units:                r.Units,
		PaidAmount:           r.PaidAmount,
	}
}
