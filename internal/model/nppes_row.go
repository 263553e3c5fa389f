package model

// NPPESRow is the DB-ready form of one bulk registry line: the NPI plus the
// composed provider name (organization legal name, else "First Last").
type NPPESRow struct {
	NPI          string
	ProviderName string
}

// NPPESColumns returns the ordered column names for COPY into the bulk
// staging table.
func NPPESColumns() []string {
	return []string{"npi", "provider_name"}
}

// CopyValues returns the row values in NPPESColumns() order, suitable for a
// pgx CopyFromSource.
func (r *NPPESRow) CopyValues() []any {
	return []any{r.NPI, r.ProviderName}
}
