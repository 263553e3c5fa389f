package build_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/claimref/internal/build"
	"github.com/gyeh/claimref/internal/config"
	"github.com/gyeh/claimref/internal/logging"
	"github.com/gyeh/claimref/internal/model"
)

const (
	testPort     = 15435
	testDB       = "claimreftest"
	testUser     = "postgres"
	testPassword = "postgres"
)

var (
	testDSN string
	pg      *embeddedpostgres.EmbeddedPostgres
)

func TestMain(m *testing.M) {
	testDSN = fmt.Sprintf("postgresql://%s:%s@localhost:%d/%s?sslmode=disable",
		testUser, testPassword, testPort, testDB)

	// Own runtime dir and port so this suite can run alongside the other
	// embedded-postgres suites.
	runtimeDir, err := os.MkdirTemp("", "claimref-build-pg")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdtemp: %v\n", err)
		os.Exit(1)
	}

	pg = embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(uint32(testPort)).
			Database(testDB).
			Username(testUser).
			Password(testPassword).
			Version(embeddedpostgres.V16).
			RuntimePath(runtimeDir).
			StartTimeout(30 * time.Second),
	)

	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := pg.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to stop embedded postgres: %v\n", err)
	}
	os.RemoveAll(runtimeDir)

	os.Exit(code)
}

// setupDB connects and drops any prior schema; Run applies migrations itself
// during preflight.
func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), testDSN)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS refcache CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// fakeRegistries serves both external APIs from httptest servers and records
// every request it sees.
type fakeRegistries struct {
	npiSrv   *httptest.Server
	hcpcsSrv *httptest.Server

	mu         sync.Mutex
	npiCalls   []string
	hcpcsCalls [][]string
	cancelRun  context.CancelFunc
}

// npiNames is the provider directory the fake NPI registry knows about. The
// bulk-loaded NPI is deliberately absent: a lookup for it means bulk
// precedence broke.
var npiNames = map[string]string{
	"1234567893": `{"result_count":1,"results":[{"basic":{"first_name":"JANE","last_name":"DOE"}}]}`,
}

// hcpcsCatalog is code -> {short_desc, long_desc, add_dt, act_eff_dt}.
var hcpcsCatalog = map[string][4]string{
	"A0428": {"Amb svc bls nonemergency", "Ambulance service, basic life support, non-emergency transport", "20231215", "20240101"},
	"J1885": {"Ketorolac tromethamine inj", "Injection, ketorolac tromethamine, per 15 mg", "20030101", "20240101"},
}

func newFakeRegistries(t *testing.T) *fakeRegistries {
	t.Helper()
	f := &fakeRegistries{}
	f.npiSrv = httptest.NewServer(http.HandlerFunc(f.handleNPI))
	f.hcpcsSrv = httptest.NewServer(http.HandlerFunc(f.handleHCPCS))
	t.Cleanup(f.npiSrv.Close)
	t.Cleanup(f.hcpcsSrv.Close)
	return f
}

func (f *fakeRegistries) handleNPI(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	f.mu.Lock()
	f.npiCalls = append(f.npiCalls, number)
	cancel := f.cancelRun
	f.cancelRun = nil
	f.mu.Unlock()
	if cancel != nil {
		// Cancel the run while this request is in flight, then stall so the
		// scheduler sees the cancellation before this response is handled.
		cancel()
		time.Sleep(100 * time.Millisecond)
	}
	if body, ok := npiNames[number]; ok {
		io.WriteString(w, body)
		return
	}
	io.WriteString(w, `{"result_count":0,"results":[]}`)
}

func (f *fakeRegistries) handleHCPCS(w http.ResponseWriter, r *http.Request) {
	codes := parseBatchCodes(r.URL.Query().Get("q"))
	f.mu.Lock()
	f.hcpcsCalls = append(f.hcpcsCalls, codes)
	f.mu.Unlock()

	hits := []string{}
	extra := map[string][]string{
		"short_desc": {}, "long_desc": {}, "add_dt": {},
		"act_eff_dt": {}, "term_dt": {}, "obsolete": {}, "is_noc": {},
	}
	display := [][]string{}
	for _, code := range codes {
		rec, ok := hcpcsCatalog[code]
		if !ok {
			continue
		}
		hits = append(hits, code)
		extra["short_desc"] = append(extra["short_desc"], rec[0])
		extra["long_desc"] = append(extra["long_desc"], rec[1])
		extra["add_dt"] = append(extra["add_dt"], rec[2])
		extra["act_eff_dt"] = append(extra["act_eff_dt"], rec[3])
		extra["term_dt"] = append(extra["term_dt"], "")
		extra["obsolete"] = append(extra["obsolete"], "false")
		extra["is_noc"] = append(extra["is_noc"], "false")
		display = append(display, []string{code, rec[0]})
	}
	json.NewEncoder(w).Encode([]any{len(hits), hits, extra, display})
}

func parseBatchCodes(q string) []string {
	q = strings.TrimPrefix(q, "code:")
	q = strings.TrimPrefix(q, "(")
	q = strings.TrimSuffix(q, ")")
	var codes []string
	for _, c := range strings.Split(q, " OR ") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}

func (f *fakeRegistries) npiRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.npiCalls...)
}

func (f *fakeRegistries) hcpcsRequests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.hcpcsCalls...)
}

func (f *fakeRegistries) interruptOnNextNPI(cancel context.CancelFunc) {
	f.mu.Lock()
	f.cancelRun = cancel
	f.mu.Unlock()
}

func strp(s string) *string { return &s }

// claimsFixture covers the resolution paths: bulk-loaded billing NPI, an
// API-resolved servicing NPI with the float artifact suffix, API and
// fallback-only codes, a not-found NPI, and a junk code.
func claimsFixture() []model.ClaimRow {
	return []model.ClaimRow{
		{ClaimID: "c1", ClaimLine: 1, BillingProviderNPI: strp("1215930367"), ServicingProviderNPI: strp("1234567893.0"), HCPCSCode: strp("a0428"), ClaimFromMonth: strp("2024-03-01")},
		{ClaimID: "c1", ClaimLine: 2, BillingProviderNPI: strp("1215930367"), HCPCSCode: strp("J1885"), ClaimFromMonth: strp("2024-09")},
		{ClaimID: "c2", ClaimLine: 1, BillingProviderNPI: strp("9999999999"), HCPCSCode: strp("Q9999"), ClaimFromMonth: strp("2024-03-01")},
		{ClaimID: "c2", ClaimLine: 2, HCPCSCode: strp("VOID")},
	}
}

func writeClaims(t *testing.T, path string, rows []model.ClaimRow) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create claims file: %v", err)
	}
	w := parquet.NewGenericWriter[model.ClaimRow](f)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("write claims rows: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func writeNPPES(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir nppes: %v", err)
	}
	content := "NPI,Entity Type Code,Provider Organization Name (Legal Business Name),Provider Last Name (Legal Name),Provider First Name\n" +
		"1215930367,2,BULK MEDICAL GROUP,,\n" +
		"1003000126,1,,SMITH,JOHN\n"
	path := filepath.Join(dir, "npidata_pfile_20240101-20240131.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write nppes: %v", err)
	}
}

func writeFallback(t *testing.T, path string) {
	t.Helper()
	content := "hcpcs,short_desc,long_desc,add_dt,act_eff_dt,term_dt,obsolete,is_noc\n" +
		"Q9999,Fallback drug,Fallback drug injection,20230101,20230101,,false,false\n" +
		"Z0001,Unused,Unused long description,20230101,20230101,,false,false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
}

func testConfig(t *testing.T, f *fakeRegistries) *config.Config {
	t.Helper()
	dir := t.TempDir()
	claims := filepath.Join(dir, "claims.parquet")
	writeClaims(t, claims, claimsFixture())
	writeNPPES(t, filepath.Join(dir, "nppes", "monthly"))
	fallback := filepath.Join(dir, "cpt_hcpcs_fallback.csv")
	writeFallback(t, fallback)

	cfg := config.Default()
	cfg.DSN = testDSN
	cfg.ClaimsPath = claims
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.NPPESMonthlyDir = filepath.Join(dir, "nppes", "monthly")
	cfg.NPPESWeeklyDir = filepath.Join(dir, "nppes", "weekly")
	cfg.HCPCSFallbackCSV = fallback
	cfg.NPIBaseURL = f.npiSrv.URL
	cfg.HCPCSBaseURL = f.hcpcsSrv.URL
	cfg.RequestsPerSecond = 1000
	cfg.FailureRetryRounds = 1
	cfg.FailureRetryDelaySecs = 0
	cfg.MaxRetries = 1
	cfg.RequestTimeoutSecs = 5
	return &cfg
}

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func readEnriched(t *testing.T, path string) []model.EnrichedClaimRow {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open enriched: %v", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		t.Fatalf("stat enriched: %v", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	reader := parquet.NewGenericReader[model.EnrichedClaimRow](pf)
	defer reader.Close()
	rows := make([]model.EnrichedClaimRow, reader.NumRows())
	if _, err := reader.Read(rows); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("read enriched rows: %v", err)
	}
	return rows
}

func buildRunRow(t *testing.T, pool *pgxpool.Pool, runID string) (finished bool, interrupted bool, rowsEnriched, unresolved int64) {
	t.Helper()
	var finishedAt *time.Time
	err := pool.QueryRow(context.Background(),
		"SELECT finished_at, interrupted, rows_enriched, unresolved_count FROM refcache.build_runs WHERE run_id = $1::uuid",
		runID,
	).Scan(&finishedAt, &interrupted, &rowsEnriched, &unresolved)
	if err != nil {
		t.Fatalf("query build run: %v", err)
	}
	return finishedAt != nil, interrupted, rowsEnriched, unresolved
}

func TestRun_EndToEnd(t *testing.T) {
	pool := setupDB(t)
	f := newFakeRegistries(t)
	cfg := testConfig(t, f)
	log := logging.Setup("text")
	ctx := context.Background()

	summary, err := build.Run(ctx, pool, log, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.SkippedByGate {
		t.Error("first run must not skip")
	}

	if summary.NPI.InputIdentifiers != 3 || summary.HCPCS.InputIdentifiers != 4 {
		t.Errorf("input identifiers = %d npi / %d hcpcs, want 3 / 4",
			summary.NPI.InputIdentifiers, summary.HCPCS.InputIdentifiers)
	}
	if summary.NPI.BulkLoaded != 1 {
		t.Errorf("bulk loaded = %d, want 1", summary.NPI.BulkLoaded)
	}
	if summary.NPI.Attempted != 2 || summary.NPI.Resolved != 1 || summary.NPI.NotFound != 1 || summary.NPI.Failed != 0 {
		t.Errorf("npi stats = %+v", summary.NPI)
	}
	if summary.HCPCS.FallbackSeeded != 1 {
		t.Errorf("fallback seeded = %d, want 1", summary.HCPCS.FallbackSeeded)
	}
	if summary.HCPCS.Attempted != 3 || summary.HCPCS.Resolved != 2 || summary.HCPCS.NotFound != 1 {
		t.Errorf("hcpcs stats = %+v", summary.HCPCS)
	}
	if summary.RowsEnriched != 4 {
		t.Errorf("rows enriched = %d, want 4", summary.RowsEnriched)
	}
	if summary.UnresolvedCount != 2 {
		t.Errorf("unresolved = %d, want 2", summary.UnresolvedCount)
	}

	// The bulk-loaded NPI must never reach the API.
	for _, number := range f.npiRequests() {
		if number == "1215930367" {
			t.Error("bulk-loaded NPI was looked up via API")
		}
	}
	batches := f.hcpcsRequests()
	if len(batches) != 1 || strings.Join(batches[0], ",") != "A0428,J1885,VOID" {
		t.Errorf("hcpcs batches = %v, want one batch of A0428,J1885,VOID", batches)
	}

	npiCSV := readCSVFile(t, cfg.NPIMappingCSV())
	if len(npiCSV) != 4 {
		t.Fatalf("npi mapping rows = %d, want header + 3", len(npiCSV))
	}
	wantNPI := [][2]string{
		{"1215930367", "BULK MEDICAL GROUP"},
		{"1234567893", "JANE DOE"},
		{"9999999999", ""},
	}
	for i, want := range wantNPI {
		row := npiCSV[i+1]
		if row[0] != want[0] || row[1] != want[1] {
			t.Errorf("npi row %d = %v, want %v", i, row, want)
		}
	}
	if npiCSV[3][2] != "not_found" {
		t.Errorf("unknown npi status = %q", npiCSV[3][2])
	}

	hcpcsCSV := readCSVFile(t, cfg.HCPCSMappingCSV())
	if len(hcpcsCSV) != 4 {
		t.Fatalf("hcpcs mapping rows = %d, want header + 3", len(hcpcsCSV))
	}
	for i, want := range []string{"A0428", "J1885", "Q9999"} {
		if hcpcsCSV[i+1][0] != want {
			t.Errorf("hcpcs row %d code = %q, want %q", i, hcpcsCSV[i+1][0], want)
		}
		if hcpcsCSV[i+1][8] != "ok" {
			t.Errorf("hcpcs row %d status = %q", i, hcpcsCSV[i+1][8])
		}
	}
	if hcpcsCSV[3][1] != "Fallback drug" {
		t.Errorf("fallback short desc = %q", hcpcsCSV[3][1])
	}

	enriched := readEnriched(t, cfg.EnrichedClaimsParquet())
	if len(enriched) != 4 {
		t.Fatalf("enriched rows = %d, want 4", len(enriched))
	}
	first := enriched[0]
	if first.BillingProvider == nil || *first.BillingProvider != "BULK MEDICAL GROUP" {
		t.Errorf("billing provider = %v", first.BillingProvider)
	}
	if first.ServicingProvider == nil || *first.ServicingProvider != "JANE DOE" {
		t.Errorf("servicing provider = %v (float suffix not normalized?)", first.ServicingProvider)
	}
	if first.HCPCSShortDesc == nil || *first.HCPCSShortDesc != "Amb svc bls nonemergency" {
		t.Errorf("short desc = %v", first.HCPCSShortDesc)
	}
	if first.HCPCSActEffDate == nil || *first.HCPCSActEffDate != "2024-01-01" {
		t.Errorf("act eff date = %v", first.HCPCSActEffDate)
	}
	third := enriched[2]
	if third.BillingProvider != nil {
		t.Errorf("not_found npi should leave billing null, got %q", *third.BillingProvider)
	}
	if third.HCPCSShortDesc == nil || *third.HCPCSShortDesc != "Fallback drug" {
		t.Errorf("fallback desc = %v", third.HCPCSShortDesc)
	}
	last := enriched[3]
	if last.BillingProvider != nil || last.ServicingProvider != nil || last.HCPCSShortDesc != nil {
		t.Error("junk code row should carry no enrichment")
	}

	unresolved := readCSVFile(t, cfg.UnresolvedReportCSV())
	if len(unresolved) != 3 {
		t.Fatalf("unresolved rows = %d, want header + 2", len(unresolved))
	}
	if unresolved[1][0] != "npi" || unresolved[1][1] != "9999999999" || unresolved[1][2] != "not_found" {
		t.Errorf("unresolved npi row = %v", unresolved[1])
	}
	if unresolved[2][0] != "hcpcs" || unresolved[2][1] != "VOID" || unresolved[2][2] != "not_found" {
		t.Errorf("unresolved hcpcs row = %v", unresolved[2])
	}

	triageCSV := readCSVFile(t, filepath.Join(cfg.TriageDir(), "hcpcs_identifiers_with_inferred_types.csv"))
	foundVoid := false
	for _, row := range triageCSV[1:] {
		if row[1] == "VOID" && row[5] == "word_or_flag" {
			foundVoid = true
		}
	}
	if !foundVoid {
		t.Errorf("triage listing missing VOID word_or_flag row: %v", triageCSV)
	}

	finished, interrupted, rowsEnriched, unresolvedCount := buildRunRow(t, pool, summary.RunID)
	if !finished || interrupted {
		t.Errorf("build run row finished=%v interrupted=%v", finished, interrupted)
	}
	if rowsEnriched != 4 || unresolvedCount != 2 {
		t.Errorf("build run counters = %d / %d", rowsEnriched, unresolvedCount)
	}
}

func TestRun_SecondRunSkipsViaGate(t *testing.T) {
	pool := setupDB(t)
	f := newFakeRegistries(t)
	cfg := testConfig(t, f)
	log := logging.Setup("text")
	ctx := context.Background()

	if _, err := build.Run(ctx, pool, log, cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}
	npiBefore := len(f.npiRequests())
	hcpcsBefore := len(f.hcpcsRequests())

	summary, err := build.Run(ctx, pool, log, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !summary.SkippedByGate {
		t.Error("second run should skip preload and resolve")
	}
	if summary.NPI.AlreadySettled != 3 || summary.HCPCS.AlreadySettled != 4 {
		t.Errorf("settled = %d npi / %d hcpcs, want 3 / 4",
			summary.NPI.AlreadySettled, summary.HCPCS.AlreadySettled)
	}
	if len(f.npiRequests()) != npiBefore || len(f.hcpcsRequests()) != hcpcsBefore {
		t.Error("skipped run must not issue API requests")
	}
	if summary.RowsEnriched != 4 || summary.UnresolvedCount != 2 {
		t.Errorf("skipped run summary = %d rows / %d unresolved", summary.RowsEnriched, summary.UnresolvedCount)
	}
	if _, err := os.Stat(cfg.EnrichedClaimsParquet()); err != nil {
		t.Errorf("enriched output missing after skip: %v", err)
	}
}

func TestRun_RebuildMapForcesResolve(t *testing.T) {
	pool := setupDB(t)
	f := newFakeRegistries(t)
	cfg := testConfig(t, f)
	log := logging.Setup("text")
	ctx := context.Background()

	if _, err := build.Run(ctx, pool, log, cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}

	cfg.RebuildMap = true
	summary, err := build.Run(ctx, pool, log, cfg)
	if err != nil {
		t.Fatalf("rebuild run: %v", err)
	}
	if summary.SkippedByGate {
		t.Error("--rebuild-map run must not skip")
	}
	// Settled identifiers stay settled; rebuild re-runs the phases without
	// re-attempting them.
	if summary.NPI.Attempted != 0 || summary.HCPCS.Attempted != 0 {
		t.Errorf("rebuild re-attempted settled identifiers: %+v / %+v", summary.NPI, summary.HCPCS)
	}
}

func TestRun_SkipAPI(t *testing.T) {
	pool := setupDB(t)
	f := newFakeRegistries(t)
	cfg := testConfig(t, f)
	cfg.SkipAPI = true
	log := logging.Setup("text")

	summary, err := build.Run(context.Background(), pool, log, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.npiRequests()) != 0 || len(f.hcpcsRequests()) != 0 {
		t.Error("--skip-api run must not touch the registries")
	}
	if summary.NPI.BulkLoaded != 1 || summary.HCPCS.FallbackSeeded != 1 {
		t.Errorf("preload counters = %d / %d, want 1 / 1",
			summary.NPI.BulkLoaded, summary.HCPCS.FallbackSeeded)
	}
	if summary.NPI.Attempted != 0 || summary.HCPCS.Attempted != 0 {
		t.Error("--skip-api run must not attempt lookups")
	}
	// Bulk and fallback coverage resolves two identifiers; the other five
	// report missing_cache.
	if summary.UnresolvedCount != 5 {
		t.Errorf("unresolved = %d, want 5", summary.UnresolvedCount)
	}
	unresolved := readCSVFile(t, cfg.UnresolvedReportCSV())
	for _, row := range unresolved[1:] {
		if row[2] != "missing_cache" {
			t.Errorf("status = %q, want missing_cache for %v", row[2], row)
		}
		if row[4] != "" {
			t.Errorf("missing_cache row should have empty fetched_at, got %q", row[4])
		}
	}
}

func TestRun_InterruptedRunResumeCompletes(t *testing.T) {
	pool := setupDB(t)
	f := newFakeRegistries(t)
	cfg := testConfig(t, f)
	// One in-flight slot: the first missing NPI dispatches, the interrupt
	// lands before its outcome is processed, and the second NPI is never
	// attempted, so the resume run always has work left.
	cfg.ConcurrencyLimit = 1
	log := logging.Setup("text")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.interruptOnNextNPI(cancel)

	summary, err := build.Run(ctx, pool, log, cfg)
	if !errors.Is(err, build.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if summary == nil {
		t.Fatal("interrupted run should still return its summary")
	}
	// Artifacts are still written from whatever settled.
	if _, err := os.Stat(cfg.EnrichedClaimsParquet()); err != nil {
		t.Errorf("enriched output missing after interrupt: %v", err)
	}
	finished, interrupted, _, _ := buildRunRow(t, pool, summary.RunID)
	if !finished || !interrupted {
		t.Errorf("build run row finished=%v interrupted=%v, want both true", finished, interrupted)
	}

	// A fresh run picks up the leftovers and completes coverage.
	summary2, err := build.Run(context.Background(), pool, log, cfg)
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if summary2.SkippedByGate {
		t.Error("resume run must not skip while identifiers are unsettled")
	}
	if summary2.UnresolvedCount != 2 {
		t.Errorf("final unresolved = %d, want 2", summary2.UnresolvedCount)
	}
	npiCSV := readCSVFile(t, cfg.NPIMappingCSV())
	if len(npiCSV) != 4 {
		t.Errorf("final npi mapping rows = %d, want header + 3", len(npiCSV))
	}
}

func TestPreflight_ExtractsIdentifiers(t *testing.T) {
	pool := setupDB(t)
	f := newFakeRegistries(t)
	cfg := testConfig(t, f)
	log := logging.Setup("text")

	pf, err := build.Preflight(context.Background(), pool, log, cfg)
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if pf.RowCount != 4 {
		t.Errorf("row count = %d, want 4", pf.RowCount)
	}
	if strings.Join(pf.NPIs, ",") != "1215930367,1234567893,9999999999" {
		t.Errorf("npis = %v", pf.NPIs)
	}
	if strings.Join(pf.HCPCSCodes, ",") != "A0428,J1885,Q9999,VOID" {
		t.Errorf("codes = %v", pf.HCPCSCodes)
	}
	if pf.InputSHA256 == "" {
		t.Error("input hash missing")
	}
	var count int64
	if err := pool.QueryRow(context.Background(),
		"SELECT count(*) FROM refcache.build_runs WHERE run_id = $1", pf.RunID,
	).Scan(&count); err != nil {
		t.Fatalf("query build runs: %v", err)
	}
	if count != 1 {
		t.Errorf("registered build runs = %d, want 1", count)
	}
}
