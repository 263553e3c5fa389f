package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
	embedsql "github.com/gyeh/claimref/internal/sql"
)

// HCPCSStore reads and writes the procedure-code half of the reference cache.
// Codes are matched case-insensitively; a write replaces every row the code
// had before, so the newest outcome wins.
type HCPCSStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewHCPCSStore(pool *pgxpool.Pool, log zerolog.Logger) *HCPCSStore {
	return &HCPCSStore{pool: pool, log: log.With().Str("family", model.FamilyHCPCS.Name).Logger()}
}

// Get returns all cached rows for one code in insertion order.
func (s *HCPCSStore) Get(ctx context.Context, code string) ([]model.HCPCSRecord, error) {
	rows, err := s.pool.Query(ctx, embedsql.SelectHCPCSCode, code)
	if err != nil {
		return nil, fmt.Errorf("select hcpcs %s: %w", code, err)
	}
	defer rows.Close()

	var out []model.HCPCSRecord
	for rows.Next() {
		var r model.HCPCSRecord
		if err := rows.Scan(&r.Code, &r.ShortDesc, &r.LongDesc, &r.AddDate, &r.EffDate, &r.TermDate,
			&r.Obsolete, &r.IsNOC, &r.Status, &r.ErrorMessage, &r.Source, &r.FetchedAtUnix); err != nil {
			return nil, fmt.Errorf("scan hcpcs row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceResolved deletes the code's rows and inserts one ok row per record in
// a single transaction. Callers pass only records already filtered to the
// code; an empty slice belongs on the not-found path instead.
func (s *HCPCSStore) ReplaceResolved(ctx context.Context, code string, records []model.HCPCSRecord, source string) error {
	now := time.Now().Unix()
	return s.replace(ctx, code, func(tx pgx.Tx) error {
		for _, r := range records {
			c := r.Code
			if c == "" {
				c = code
			}
			if _, err := tx.Exec(ctx, embedsql.InsertHCPCSRow,
				c, r.ShortDesc, r.LongDesc, r.AddDate, r.EffDate, r.TermDate,
				r.Obsolete, r.IsNOC, model.StatusOK, "", source, now); err != nil {
				return fmt.Errorf("insert hcpcs row %s: %w", c, err)
			}
		}
		return nil
	})
}

// PutNotFound replaces the code's rows with a single not_found sentinel.
func (s *HCPCSStore) PutNotFound(ctx context.Context, code string) error {
	return s.putSentinel(ctx, code, model.StatusNotFound, "")
}

// PutError replaces the code's rows with a single error sentinel. A later
// round or run overwrites it.
func (s *HCPCSStore) PutError(ctx context.Context, code, msg string) error {
	return s.putSentinel(ctx, code, model.StatusError, msg)
}

func (s *HCPCSStore) putSentinel(ctx context.Context, code, status, errMsg string) error {
	now := time.Now().Unix()
	return s.replace(ctx, code, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, embedsql.InsertHCPCSRow,
			code, "", "", "", "", "", false, false, status, errMsg, model.SourceAPI, now)
		if err != nil {
			return fmt.Errorf("insert %s sentinel %s: %w", status, code, err)
		}
		return nil
	})
}

func (s *HCPCSStore) replace(ctx context.Context, code string, insert func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", code, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, embedsql.DeleteHCPCSCode, code); err != nil {
		return fmt.Errorf("delete hcpcs rows %s: %w", code, err)
	}
	if err := insert(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Missing returns the subset of codes not yet settled.
func (s *HCPCSStore) Missing(ctx context.Context, codes []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, embedsql.MissingHCPCS, codes)
	if err != nil {
		return nil, fmt.Errorf("query missing hcpcs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan missing hcpcs: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Resolved counts how many of codes are settled.
func (s *HCPCSStore) Resolved(ctx context.Context, codes []string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, embedsql.SettledHCPCSCount, codes).Scan(&n); err != nil {
		return 0, fmt.Errorf("count settled hcpcs: %w", err)
	}
	return n, nil
}

// HasResolved reports whether the code has at least one ok row. Fallback
// seeding and the not-found recheck use this to avoid overwriting API results.
func (s *HCPCSStore) HasResolved(ctx context.Context, code string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, embedsql.HasResolvedHCPCS, code).Scan(&ok); err != nil {
		return false, fmt.Errorf("check resolved hcpcs %s: %w", code, err)
	}
	return ok, nil
}

// NotFoundCodes lists the codes currently settled as not_found, uppercased.
func (s *HCPCSStore) NotFoundCodes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, embedsql.NotFoundHCPCS)
	if err != nil {
		return nil, fmt.Errorf("query not_found hcpcs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan not_found hcpcs: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordRows returns the exportable ok rows: ordered by code, non-NOC records
// before NOC, then by action-effective, add, and term dates.
func (s *HCPCSStore) RecordRows(ctx context.Context) ([]model.HCPCSMappingRow, error) {
	rows, err := s.pool.Query(ctx, embedsql.HCPCSRecordRows)
	if err != nil {
		return nil, fmt.Errorf("query hcpcs record rows: %w", err)
	}
	defer rows.Close()

	var out []model.HCPCSMappingRow
	for rows.Next() {
		var r model.HCPCSMappingRow
		if err := rows.Scan(&r.Code, &r.ShortDesc, &r.LongDesc, &r.AddDate, &r.EffDate, &r.TermDate,
			&r.Obsolete, &r.IsNOC, &r.Status, &r.FetchedAtUnix); err != nil {
			return nil, fmt.Errorf("scan hcpcs record row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Unresolved reports every input code whose final status is not ok, sorted by
// identifier. Codes absent from the cache report status missing_cache.
func (s *HCPCSStore) Unresolved(ctx context.Context, codes []string) ([]model.UnresolvedEntry, error) {
	rows, err := s.pool.Query(ctx, embedsql.UnresolvedHCPCS, codes)
	if err != nil {
		return nil, fmt.Errorf("query unresolved hcpcs: %w", err)
	}
	defer rows.Close()

	var out []model.UnresolvedEntry
	for rows.Next() {
		e := model.UnresolvedEntry{FamilyColumn: model.FamilyHCPCS.Column}
		if err := rows.Scan(&e.Identifier, &e.Status, &e.ErrorMessage, &e.FetchedAtUnix); err != nil {
			return nil, fmt.Errorf("scan unresolved hcpcs: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reset truncates the HCPCS cache and its provenance table.
func (s *HCPCSStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, embedsql.ResetHCPCSCache); err != nil {
		return fmt.Errorf("reset hcpcs cache: %w", err)
	}
	s.log.Info().Msg("hcpcs cache reset")
	return nil
}

// RecordResponses upserts provenance rows, one per code the request covered.
func (s *HCPCSStore) RecordResponses(ctx context.Context, rowsIn []model.HCPCSResponseRow) error {
	for _, row := range rowsIn {
		_, err := s.pool.Exec(ctx, embedsql.UpsertHCPCSResponse,
			row.Code, row.URL, row.HTTPStatus, row.ErrorMessage, row.APIRunID, row.RequestedAt,
			row.RequestParams, row.Records, rawText(row.ResponseRaw))
		if err != nil {
			return fmt.Errorf("record hcpcs response %s: %w", row.Code, err)
		}
	}
	return nil
}
