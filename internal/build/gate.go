package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gyeh/claimref/internal/cache"
	"github.com/gyeh/claimref/internal/model"
)

// NeedsRebuild reports whether the preload and resolve phases must run: true
// when any input identifier is still unsettled or a required export artifact
// is missing on disk. The reason string is for the log line.
func NeedsRebuild(ctx context.Context, npiStore *cache.NPIStore, hcpcsStore *cache.HCPCSStore, npis, codes, artifacts []string) (bool, string, error) {
	missing, err := npiStore.Missing(ctx, npis)
	if err != nil {
		return false, "", fmt.Errorf("classify npis: %w", err)
	}
	if len(missing) > 0 {
		return true, fmt.Sprintf("%d npis unsettled", len(missing)), nil
	}

	missing, err = hcpcsStore.Missing(ctx, codes)
	if err != nil {
		return false, "", fmt.Errorf("classify hcpcs codes: %w", err)
	}
	if len(missing) > 0 {
		return true, fmt.Sprintf("%d hcpcs codes unsettled", len(missing)), nil
	}

	for _, path := range artifacts {
		if _, err := os.Stat(path); err != nil {
			return true, fmt.Sprintf("artifact missing: %s", filepath.Base(path)), nil
		}
	}
	return false, "", nil
}

// UnresolvedReport lists every input identifier whose final status is not ok:
// NPIs first, then HCPCS codes, each family sorted by identifier. Identifiers
// never attempted report as missing_cache.
func UnresolvedReport(ctx context.Context, npiStore *cache.NPIStore, hcpcsStore *cache.HCPCSStore, npis, codes []string) ([]model.UnresolvedEntry, error) {
	entries, err := npiStore.Unresolved(ctx, npis)
	if err != nil {
		return nil, fmt.Errorf("unresolved npis: %w", err)
	}
	hcpcsEntries, err := hcpcsStore.Unresolved(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("unresolved hcpcs codes: %w", err)
	}
	return append(entries, hcpcsEntries...), nil
}
