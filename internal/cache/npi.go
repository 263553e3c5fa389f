// Package cache persists per-identifier resolution state in Postgres. The two
// stores are independent: refcache.npi_cache keeps one row per NPI,
// refcache.hcpcs_cache keeps one row per record revision of a code. Every put
// is a single committed statement, so a process killed mid-run leaves the
// cache consistent and the next run picks up where it stopped.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
	embedsql "github.com/gyeh/claimref/internal/sql"
)

// NPIStore reads and writes the NPI half of the reference cache.
type NPIStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewNPIStore(pool *pgxpool.Pool, log zerolog.Logger) *NPIStore {
	return &NPIStore{pool: pool, log: log.With().Str("family", model.FamilyNPI.Name).Logger()}
}

// Get returns the cached record for one NPI, or nil when absent.
func (s *NPIStore) Get(ctx context.Context, npi string) (*model.NPIRecord, error) {
	var rec model.NPIRecord
	err := s.pool.QueryRow(ctx, embedsql.SelectNPI, npi).Scan(
		&rec.NPI, &rec.ProviderName, &rec.Status, &rec.ErrorMessage, &rec.Source, &rec.FetchedAtUnix)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select npi %s: %w", npi, err)
	}
	return &rec, nil
}

// PutResolved upserts an ok record. Later writes win, so an API result
// overwrites an earlier error row from a previous round.
func (s *NPIStore) PutResolved(ctx context.Context, npi, providerName, source string) error {
	return s.put(ctx, npi, providerName, model.StatusOK, "", source)
}

func (s *NPIStore) PutNotFound(ctx context.Context, npi string) error {
	return s.put(ctx, npi, "", model.StatusNotFound, "", model.SourceAPI)
}

func (s *NPIStore) PutError(ctx context.Context, npi, msg string) error {
	return s.put(ctx, npi, "", model.StatusError, msg, model.SourceAPI)
}

func (s *NPIStore) put(ctx context.Context, npi, name, status, errMsg, source string) error {
	_, err := s.pool.Exec(ctx, embedsql.UpsertNPI, npi, name, status, errMsg, source, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert npi %s: %w", npi, err)
	}
	return nil
}

// Missing returns the subset of ids not yet settled: absent from the cache or
// carrying an error status. Settled means ok or not_found.
func (s *NPIStore) Missing(ctx context.Context, ids []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, embedsql.MissingNPIs, ids)
	if err != nil {
		return nil, fmt.Errorf("query missing npis: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan missing npi: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Resolved counts how many of ids are settled.
func (s *NPIStore) Resolved(ctx context.Context, ids []string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, embedsql.SettledNPICount, ids).Scan(&n); err != nil {
		return 0, fmt.Errorf("count settled npis: %w", err)
	}
	return n, nil
}

// MappingRows returns the exportable rows (ok and not_found) ordered by NPI.
func (s *NPIStore) MappingRows(ctx context.Context) ([]model.NPIMappingRow, error) {
	rows, err := s.pool.Query(ctx, embedsql.NPIMappingRows)
	if err != nil {
		return nil, fmt.Errorf("query npi mapping rows: %w", err)
	}
	defer rows.Close()

	var out []model.NPIMappingRow
	for rows.Next() {
		var r model.NPIMappingRow
		if err := rows.Scan(&r.NPI, &r.ProviderName, &r.Status, &r.FetchedAtUnix); err != nil {
			return nil, fmt.Errorf("scan npi mapping row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Unresolved reports every input id whose final status is not ok, sorted by
// identifier. Ids absent from the cache report status missing_cache.
func (s *NPIStore) Unresolved(ctx context.Context, ids []string) ([]model.UnresolvedEntry, error) {
	rows, err := s.pool.Query(ctx, embedsql.UnresolvedNPIs, ids)
	if err != nil {
		return nil, fmt.Errorf("query unresolved npis: %w", err)
	}
	defer rows.Close()

	var out []model.UnresolvedEntry
	for rows.Next() {
		e := model.UnresolvedEntry{FamilyColumn: model.FamilyNPI.Column}
		if err := rows.Scan(&e.Identifier, &e.Status, &e.ErrorMessage, &e.FetchedAtUnix); err != nil {
			return nil, fmt.Errorf("scan unresolved npi: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reset truncates the NPI cache and its provenance table.
func (s *NPIStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, embedsql.ResetNPICache); err != nil {
		return fmt.Errorf("reset npi cache: %w", err)
	}
	s.log.Info().Msg("npi cache reset")
	return nil
}

// RecordResponse upserts the provenance row for one registry request. The
// newest requested_at wins, so a stale retry never clobbers a fresher row.
func (s *NPIStore) RecordResponse(ctx context.Context, row model.NPIResponseRow) error {
	_, err := s.pool.Exec(ctx, embedsql.UpsertNPIResponse,
		row.NPI, row.URL, row.HTTPStatus, row.ErrorMessage, row.APIRunID, row.RequestedAt,
		row.RequestParams, row.Results, rawText(row.ResponseRaw))
	if err != nil {
		return fmt.Errorf("record npi response %s: %w", row.NPI, err)
	}
	return nil
}

// rawText converts a raw body to a TEXT parameter, NULL when empty.
func rawText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
