package sql

import (
	"embed"
)

// Migrations holds the schema migration files, applied in filename order.
//
//go:embed migrations
var Migrations embed.FS

//go:embed queries/upsert_npi.sql
var UpsertNPI string

//go:embed queries/select_npi.sql
var SelectNPI string

//go:embed queries/missing_npis.sql
var MissingNPIs string

//go:embed queries/settled_npi_count.sql
var SettledNPICount string

//go:embed queries/npi_mapping_rows.sql
var NPIMappingRows string

//go:embed queries/unresolved_npis.sql
var UnresolvedNPIs string

//go:embed queries/reset_npi_cache.sql
var ResetNPICache string

//go:embed queries/upsert_npi_response.sql
var UpsertNPIResponse string

//go:embed queries/delete_hcpcs_code.sql
var DeleteHCPCSCode string

//go:embed queries/insert_hcpcs_row.sql
var InsertHCPCSRow string

//go:embed queries/select_hcpcs_code.sql
var SelectHCPCSCode string

//go:embed queries/missing_hcpcs.sql
var MissingHCPCS string

//go:embed queries/settled_hcpcs_count.sql
var SettledHCPCSCount string

//go:embed queries/has_resolved_hcpcs.sql
var HasResolvedHCPCS string

//go:embed queries/not_found_hcpcs.sql
var NotFoundHCPCS string

//go:embed queries/hcpcs_record_rows.sql
var HCPCSRecordRows string

//go:embed queries/unresolved_hcpcs.sql
var UnresolvedHCPCS string

//go:embed queries/reset_hcpcs_cache.sql
var ResetHCPCSCache string

//go:embed queries/upsert_hcpcs_response.sql
var UpsertHCPCSResponse string

//go:embed queries/truncate_nppes_staging.sql
var TruncateNPPESStaging string

//go:embed queries/merge_nppes_staging.sql
var MergeNPPESStaging string

//go:embed queries/register_build_run.sql
var RegisterBuildRun string

//go:embed queries/finish_build_run.sql
var FinishBuildRun string
