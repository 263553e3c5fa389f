package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default registry endpoints.
const (
	DefaultNPIBaseURL   = "https://npiregistry.cms.hhs.gov/api/"
	DefaultHCPCSBaseURL = "https://clinicaltables.nlm.nih.gov/api/hcpcs/v3/search"
)

// Config holds all runtime configuration for a refbuild run.
type Config struct {
	DSN       string
	LogFormat string // "text" or "json"

	ClaimsPath       string
	NPPESMonthlyDir  string
	NPPESWeeklyDir   string
	HCPCSFallbackCSV string
	OutputDir        string

	NPIBaseURL   string
	HCPCSBaseURL string

	RequestsPerSecond     float64
	ConcurrencyLimit      int
	HCPCSBatchSize        int
	FailureRetryRounds    int
	FailureRetryDelaySecs int
	MaxRetries            int
	RequestTimeoutSecs    int
	MaxNewLookups         int // 0 = unlimited

	RebuildMap    bool
	ResetMap      bool
	SkipAPI       bool
	SkipNPPESBulk bool
}

// Default returns the configuration the CLI flags start from.
func Default() Config {
	return Config{
		LogFormat:             "text",
		NPIBaseURL:            DefaultNPIBaseURL,
		HCPCSBaseURL:          DefaultHCPCSBaseURL,
		RequestsPerSecond:     2,
		ConcurrencyLimit:      2,
		HCPCSBatchSize:        100,
		FailureRetryRounds:    2,
		FailureRetryDelaySecs: 30,
		MaxRetries:            5,
		RequestTimeoutSecs:    30,
	}
}

// yamlConfig is the on-disk YAML structure. Pointer fields distinguish an
// omitted key from an explicit zero.
type yamlConfig struct {
	RequestsPerSecond     *float64 `yaml:"requests_per_second"`
	ConcurrencyLimit      *int     `yaml:"concurrency_limit"`
	HCPCSBatchSize        *int     `yaml:"hcpcs_batch_size"`
	FailureRetryRounds    *int     `yaml:"failure_retry_rounds"`
	FailureRetryDelaySecs *int     `yaml:"failure_retry_delay_seconds"`
	MaxRetries            *int     `yaml:"max_retries"`
	RequestTimeoutSecs    *int     `yaml:"request_timeout_seconds"`
	MaxNewLookups         *int     `yaml:"max_new_lookups"`

	ClaimsPath       *string `yaml:"claims_path"`
	NPPESMonthlyDir  *string `yaml:"nppes_monthly_dir"`
	NPPESWeeklyDir   *string `yaml:"nppes_weekly_dir"`
	HCPCSFallbackCSV *string `yaml:"hcpcs_fallback_csv"`
	OutputDir        *string `yaml:"output_dir"`

	NPIBaseURL   *string `yaml:"npi_base_url"`
	HCPCSBaseURL *string `yaml:"hcpcs_base_url"`
}

// LoadFromFile reads a YAML config file and merges the keys it sets into
// Config. Flags parsed after the merge still win.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if yc.RequestsPerSecond != nil {
		c.RequestsPerSecond = *yc.RequestsPerSecond
	}
	if yc.ConcurrencyLimit != nil {
		c.ConcurrencyLimit = *yc.ConcurrencyLimit
	}
	if yc.HCPCSBatchSize != nil {
		c.HCPCSBatchSize = *yc.HCPCSBatchSize
	}
	if yc.FailureRetryRounds != nil {
		c.FailureRetryRounds = *yc.FailureRetryRounds
	}
	if yc.FailureRetryDelaySecs != nil {
		c.FailureRetryDelaySecs = *yc.FailureRetryDelaySecs
	}
	if yc.MaxRetries != nil {
		c.MaxRetries = *yc.MaxRetries
	}
	if yc.RequestTimeoutSecs != nil {
		c.RequestTimeoutSecs = *yc.RequestTimeoutSecs
	}
	if yc.MaxNewLookups != nil {
		c.MaxNewLookups = *yc.MaxNewLookups
	}
	if yc.ClaimsPath != nil {
		c.ClaimsPath = *yc.ClaimsPath
	}
	if yc.NPPESMonthlyDir != nil {
		c.NPPESMonthlyDir = *yc.NPPESMonthlyDir
	}
	if yc.NPPESWeeklyDir != nil {
		c.NPPESWeeklyDir = *yc.NPPESWeeklyDir
	}
	if yc.HCPCSFallbackCSV != nil {
		c.HCPCSFallbackCSV = *yc.HCPCSFallbackCSV
	}
	if yc.OutputDir != nil {
		c.OutputDir = *yc.OutputDir
	}
	if yc.NPIBaseURL != nil {
		c.NPIBaseURL = *yc.NPIBaseURL
	}
	if yc.HCPCSBaseURL != nil {
		c.HCPCSBaseURL = *yc.HCPCSBaseURL
	}
	return nil
}

// Validate checks required fields and value ranges for a build run.
func (c *Config) Validate() error {
	if c.ClaimsPath == "" {
		return fmt.Errorf("--claims is required")
	}
	if _, err := os.Stat(c.ClaimsPath); err != nil {
		return fmt.Errorf("claims file not accessible: %w", err)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("--output-dir is required")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("--log-format must be text or json, got %q", c.LogFormat)
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.ConcurrencyLimit < 1 {
		return fmt.Errorf("concurrency_limit must be at least 1, got %d", c.ConcurrencyLimit)
	}
	if c.HCPCSBatchSize < 1 || c.HCPCSBatchSize > 500 {
		return fmt.Errorf("hcpcs_batch_size must be between 1 and 500, got %d", c.HCPCSBatchSize)
	}
	if c.FailureRetryRounds < 0 {
		return fmt.Errorf("failure_retry_rounds must not be negative, got %d", c.FailureRetryRounds)
	}
	if c.FailureRetryDelaySecs < 0 {
		return fmt.Errorf("failure_retry_delay_seconds must not be negative, got %d", c.FailureRetryDelaySecs)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RequestTimeoutSecs < 1 {
		return fmt.Errorf("request_timeout_seconds must be at least 1, got %d", c.RequestTimeoutSecs)
	}
	if c.MaxNewLookups < 0 {
		return fmt.Errorf("max_new_lookups must not be negative, got %d", c.MaxNewLookups)
	}
	return nil
}

// ValidateWithDSN checks Validate plus the database connection string.
func (c *Config) ValidateWithDSN() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("--dsn or CLAIMREF_DSN is required")
	}
	return nil
}

// Artifact paths under OutputDir, laid out mappings/<family>/<file> with the
// reports at the root.

func (c *Config) NPIMappingCSV() string {
	return filepath.Join(c.OutputDir, "mappings", "npi", "npi_provider_mapping.csv")
}

func (c *Config) NPIMappingParquet() string {
	return filepath.Join(c.OutputDir, "mappings", "npi", "npi_provider_mapping.parquet")
}

func (c *Config) HCPCSMappingCSV() string {
	return filepath.Join(c.OutputDir, "mappings", "hcpcs", "hcpcs_code_mapping.csv")
}

func (c *Config) HCPCSMappingParquet() string {
	return filepath.Join(c.OutputDir, "mappings", "hcpcs", "hcpcs_code_mapping.parquet")
}

func (c *Config) UnresolvedReportCSV() string {
	return filepath.Join(c.OutputDir, "unresolved_identifiers.csv")
}

func (c *Config) EnrichedClaimsParquet() string {
	return filepath.Join(c.OutputDir, "claims_enriched.parquet")
}

func (c *Config) TriageDir() string {
	return filepath.Join(c.OutputDir, "triage")
}

// MappingArtifacts lists the export files the coverage gate requires before
// a run may skip the resolve phase.
func (c *Config) MappingArtifacts() []string {
	return []string{
		c.NPIMappingCSV(),
		c.NPIMappingParquet(),
		c.HCPCSMappingCSV(),
		c.HCPCSMappingParquet(),
	}
}
