package parquetread

import (
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// identifierColumns are the claim columns that feed the lookup phase; a build
// with none of them present would have nothing to resolve.
var identifierColumns = []string{
	"billing_provider_npi_num",
	"servicing_provider_npi_num",
	"hcpcs_code",
}

// ValidateSchema checks that the Parquet schema contains the claim key columns
// and at least one identifier column.
func ValidateSchema(schema *parquet.Schema) error {
	columns := make(map[string]bool)
	for _, field := range schema.Fields() {
		columns[strings.ToLower(field.Name())] = true
	}

	// Required columns
	required := []string{"claim_id", "claim_line_num"}
	for _, col := range required {
		if !columns[col] {
			return fmt.Errorf("missing required column: %s", col)
		}
	}

	// At least one identifier column must be present
	hasID := false
	for _, col := range identifierColumns {
		if columns[col] {
			hasID = true
			break
		}
	}
	if !hasID {
		return fmt.Errorf("no identifier columns found; need at least one of: %s",
			strings.Join(identifierColumns, ", "))
	}

	return nil
}
