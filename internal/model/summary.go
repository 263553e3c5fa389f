package model

import "time"

// FamilySummary captures per-family resolution metrics for one run.
type FamilySummary struct {
	InputIdentifiers int64
	AlreadySettled   int64
	Attempted        int64
	Resolved         int64
	NotFound         int64
	Failed           int64
	BulkLoaded       int64
	FallbackSeeded   int64
	Interrupted      bool
}

// BuildSummary captures metrics from a full dataset build run.
type BuildSummary struct {
	RunID         string
	InputPath     string
	InputSHA256   string
	SkippedByGate bool

	NPI   FamilySummary
	HCPCS FamilySummary

	RowsEnriched    int64
	UnresolvedCount int64

	DurationPreflight time.Duration
	DurationPreload   time.Duration
	DurationResolve   time.Duration
	DurationExport    time.Duration
	DurationEnrich    time.Duration
	DurationTotal     time.Duration
}
