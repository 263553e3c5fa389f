package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
	"github.com/gyeh/claimref/internal/preload"
	"github.com/gyeh/claimref/internal/registry"
)

type stubHCPCSStore struct {
	replaced map[string][]model.HCPCSRecord
	sources  map[string]string
	status   map[string]string
	errs     map[string]string
	rows     []model.HCPCSResponseRow
}

func newStubHCPCSStore() *stubHCPCSStore {
	return &stubHCPCSStore{
		replaced: map[string][]model.HCPCSRecord{},
		sources:  map[string]string{},
		status:   map[string]string{},
		errs:     map[string]string{},
	}
}

func (s *stubHCPCSStore) ReplaceResolved(_ context.Context, code string, records []model.HCPCSRecord, source string) error {
	s.replaced[code] = records
	s.sources[code] = source
	s.status[code] = model.StatusOK
	return nil
}

func (s *stubHCPCSStore) PutNotFound(_ context.Context, code string) error {
	s.status[code] = model.StatusNotFound
	return nil
}

func (s *stubHCPCSStore) PutError(_ context.Context, code, msg string) error {
	s.status[code] = model.StatusError
	s.errs[code] = msg
	return nil
}

func (s *stubHCPCSStore) RecordResponses(_ context.Context, rows []model.HCPCSResponseRow) error {
	s.rows = append(s.rows, rows...)
	return nil
}

// scriptedHCPCSClient serves records from a fixed map; the first failBatches
// batch calls fail with batchErr, and singleErrs scripts per-code single
// lookup failures in order.
type scriptedHCPCSClient struct {
	mu          sync.Mutex
	batchCalls  [][]string
	singleCalls []string
	failBatches int
	batchErr    error
	records     map[string][]model.HCPCSRecord
	singleErrs  map[string][]error
}

func (c *scriptedHCPCSClient) LookupBatch(_ context.Context, codes []string) (registry.BatchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls = append(c.batchCalls, append([]string(nil), codes...))
	if c.failBatches > 0 {
		c.failBatches--
		return registry.BatchResult{}, c.batchErr
	}

	res := registry.BatchResult{RecordsByCode: map[string][]model.HCPCSRecord{}}
	for _, code := range codes {
		key := normalize.CodeKey(code)
		if recs := c.records[key]; len(recs) > 0 {
			res.RecordsByCode[key] = recs
		}
		res.Rows = append(res.Rows, model.HCPCSResponseRow{
			Code:        code,
			URL:         "stub://hcpcs/batch",
			RequestedAt: time.Now().UTC(),
		})
	}
	return res, nil
}

func (c *scriptedHCPCSClient) Lookup(_ context.Context, code string) ([]model.HCPCSRecord, model.HCPCSResponseRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singleCalls = append(c.singleCalls, code)
	row := model.HCPCSResponseRow{Code: code, URL: "stub://hcpcs/" + code, RequestedAt: time.Now().UTC()}
	if errs := c.singleErrs[code]; len(errs) > 0 {
		err := errs[0]
		c.singleErrs[code] = errs[1:]
		if err != nil {
			return nil, row, err
		}
	}
	return c.records[normalize.CodeKey(code)], row, nil
}

func (c *scriptedHCPCSClient) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batchCalls)
}

func (c *scriptedHCPCSClient) singleSeq() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.singleCalls...)
}

func hcpcsRecord(code, short string) model.HCPCSRecord {
	return model.HCPCSRecord{Code: code, ShortDesc: short, LongDesc: short + " long"}
}

func TestResolveHCPCS_BatchSettles(t *testing.T) {
	store := newStubHCPCSStore()
	client := &scriptedHCPCSClient{records: map[string][]model.HCPCSRecord{
		"A0428": {hcpcsRecord("A0428", "Amb svc")},
		"J1885": {hcpcsRecord("J1885", "Ketorolac")},
	}}

	opts := fastOpts()
	opts.HCPCSBatchSize = 100
	stats, err := ResolveHCPCS(context.Background(), store, client, preload.Table{}, opts, zerolog.Nop(),
		[]string{"A0428", "J1885", "Q9999"})
	if err != nil {
		t.Fatalf("ResolveHCPCS: %v", err)
	}
	if stats.Found != 2 || stats.NotFound != 1 || stats.Attempts != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if client.batchCount() != 1 || len(client.singleSeq()) != 0 {
		t.Errorf("expected exactly one batch call, got batches=%d singles=%v", client.batchCount(), client.singleSeq())
	}
	if store.sources["A0428"] != model.SourceAPI {
		t.Errorf("source = %q", store.sources["A0428"])
	}
	if store.status["Q9999"] != model.StatusNotFound {
		t.Errorf("absent code status = %q", store.status["Q9999"])
	}
	if len(store.rows) != 3 {
		t.Errorf("expected one provenance row per code, got %d", len(store.rows))
	}
}

func TestResolveHCPCS_FallbackPrecedence(t *testing.T) {
	store := newStubHCPCSStore()
	client := &scriptedHCPCSClient{records: map[string][]model.HCPCSRecord{}}
	fallback := preload.Table{
		"Q9999": {hcpcsRecord("Q9999", "Local desc")},
	}

	opts := fastOpts()
	opts.HCPCSBatchSize = 100
	stats, err := ResolveHCPCS(context.Background(), store, client, fallback, opts, zerolog.Nop(),
		[]string{"Q9999", "Z9998"})
	if err != nil {
		t.Fatalf("ResolveHCPCS: %v", err)
	}
	if stats.Found != 1 || stats.FallbackHits != 1 || stats.NotFound != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if store.sources["Q9999"] != model.SourceFallback {
		t.Errorf("fallback hit source = %q", store.sources["Q9999"])
	}
	if store.status["Z9998"] != model.StatusNotFound {
		t.Errorf("fallback miss status = %q", store.status["Z9998"])
	}
}

func TestResolveHCPCS_SingleCodeSkipsBatch(t *testing.T) {
	store := newStubHCPCSStore()
	client := &scriptedHCPCSClient{records: map[string][]model.HCPCSRecord{
		"A0428": {hcpcsRecord("A0428", "Amb svc")},
	}}

	opts := fastOpts()
	opts.HCPCSBatchSize = 100
	stats, err := ResolveHCPCS(context.Background(), store, client, preload.Table{}, opts, zerolog.Nop(),
		[]string{"A0428"})
	if err != nil {
		t.Fatalf("ResolveHCPCS: %v", err)
	}
	if stats.Found != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if client.batchCount() != 0 {
		t.Errorf("singleton unit should use the single lookup, got %d batch calls", client.batchCount())
	}
	if got := client.singleSeq(); len(got) != 1 || got[0] != "A0428" {
		t.Errorf("single calls = %v", got)
	}
}

func TestResolveHCPCS_BatchFailureSplitsToSingles(t *testing.T) {
	store := newStubHCPCSStore()
	client := &scriptedHCPCSClient{
		failBatches: 1,
		batchErr:    errors.New("batch 500"),
		records: map[string][]model.HCPCSRecord{
			"A0428": {hcpcsRecord("A0428", "Amb svc")},
			"J1885": {hcpcsRecord("J1885", "Ketorolac")},
		},
	}

	opts := fastOpts()
	opts.HCPCSBatchSize = 100
	stats, err := ResolveHCPCS(context.Background(), store, client, preload.Table{}, opts, zerolog.Nop(),
		[]string{"A0428", "J1885"})
	if err != nil {
		t.Fatalf("ResolveHCPCS: %v", err)
	}
	if stats.Found != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if client.batchCount() != 1 {
		t.Errorf("batch calls = %d, want 1", client.batchCount())
	}
	want := []string{"A0428", "J1885"}
	got := client.singleSeq()
	if len(got) != len(want) {
		t.Fatalf("single calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("single calls[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResolveHCPCS_MergedErrorMessage(t *testing.T) {
	store := newStubHCPCSStore()
	client := &scriptedHCPCSClient{
		failBatches: 1,
		batchErr:    errors.New("batch 500"),
		records: map[string][]model.HCPCSRecord{
			"J1885": {hcpcsRecord("J1885", "Ketorolac")},
		},
		singleErrs: map[string][]error{
			"A0428": {errors.New("single 503")},
		},
	}

	opts := fastOpts()
	opts.FailureRetryRounds = 0
	opts.HCPCSBatchSize = 100
	stats, err := ResolveHCPCS(context.Background(), store, client, preload.Table{}, opts, zerolog.Nop(),
		[]string{"A0428", "J1885"})
	if err != nil {
		t.Fatalf("ResolveHCPCS: %v", err)
	}
	if stats.Found != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	wantMsg := fmt.Sprintf("Batch lookup failed, then single lookup failed. batch_error=%s; single_error=%s",
		"batch 500", "single 503")
	if store.errs["A0428"] != wantMsg {
		t.Errorf("error message = %q, want %q", store.errs["A0428"], wantMsg)
	}
}

func TestResolveHCPCS_RequeueRetriesOnlyFailedCode(t *testing.T) {
	store := newStubHCPCSStore()
	client := &scriptedHCPCSClient{
		failBatches: 1,
		batchErr:    errors.New("batch 500"),
		records: map[string][]model.HCPCSRecord{
			"A0428": {hcpcsRecord("A0428", "Amb svc")},
			"J1885": {hcpcsRecord("J1885", "Ketorolac")},
		},
		singleErrs: map[string][]error{
			"A0428": {errors.New("single 503")},
		},
	}

	opts := fastOpts()
	opts.FailureRetryRounds = 1
	opts.HCPCSBatchSize = 100
	stats, err := ResolveHCPCS(context.Background(), store, client, preload.Table{}, opts, zerolog.Nop(),
		[]string{"A0428", "J1885"})
	if err != nil {
		t.Fatalf("ResolveHCPCS: %v", err)
	}
	if stats.Found != 2 || stats.Failed != 0 || stats.Attempts != 3 {
		t.Errorf("stats = %+v", stats)
	}
	want := []string{"A0428", "J1885", "A0428"}
	got := client.singleSeq()
	if len(got) != len(want) {
		t.Fatalf("single calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("single calls[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if store.status["A0428"] != model.StatusOK {
		t.Errorf("retried code status = %q", store.status["A0428"])
	}
}

func TestResolveHCPCS_FiltersAndDedups(t *testing.T) {
	store := newStubHCPCSStore()
	amb := hcpcsRecord("A0428", "Amb svc")
	client := &scriptedHCPCSClient{records: map[string][]model.HCPCSRecord{
		"A0428": {amb, amb, hcpcsRecord("B9999", "Not ours")},
	}}

	opts := fastOpts()
	opts.HCPCSBatchSize = 100
	stats, err := ResolveHCPCS(context.Background(), store, client, preload.Table{}, opts, zerolog.Nop(),
		[]string{"A0428", "J1885"})
	if err != nil {
		t.Fatalf("ResolveHCPCS: %v", err)
	}
	if stats.Found != 1 || stats.NotFound != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if got := store.replaced["A0428"]; len(got) != 1 || got[0] != amb {
		t.Errorf("stored records = %+v", got)
	}
}

func TestChunkCodes(t *testing.T) {
	codes := []string{"a", "b", "c", "d", "e", "f", "g"}

	units := chunkCodes(codes, 3)
	if len(units) != 3 || len(units[0]) != 3 || len(units[2]) != 1 {
		t.Errorf("chunks = %v", units)
	}
	if units := chunkCodes(codes, 10); len(units) != 1 {
		t.Errorf("oversized chunk = %v", units)
	}
	if units := chunkCodes(codes, 1); len(units) != 7 {
		t.Errorf("unit chunks = %v", units)
	}
	if units := chunkCodes(nil, 5); units != nil {
		t.Errorf("empty input should produce no chunks, got %v", units)
	}
}
