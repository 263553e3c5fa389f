package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newHCPCSClient(srv *httptest.Server, maxRetries int) *HCPCSClient {
	return NewHCPCSClient(Options{
		BaseURL:        srv.URL,
		APIRunID:       "run-test",
		MaxRetries:     maxRetries,
		RequestTimeout: 5 * time.Second,
	}, zerolog.Nop())
}

const mixedPayload = `[3,["A0428","B9999","A0428"],` +
	`{"short_desc":["Amb svc","Other","Amb svc rev"],` +
	`"long_desc":["Ambulance service","Other service","Ambulance service revised"],` +
	`"add_dt":["2003-01-01","20000101",20030101],` +
	`"act_eff_dt":["20240101","",null],` +
	`"term_dt":[null,"",""],` +
	`"obsolete":["false","true","F"],` +
	`"is_noc":[0,"1","no"]},` +
	`[["A0428","amb"],["B9999","oth"],["A0428","amb2"]]]`

func TestHCPCSClient_LookupSingle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("terms") != "A0428" || q.Get("q") != "code:A0428" {
			t.Errorf("unexpected query: terms=%q q=%q", q.Get("terms"), q.Get("q"))
		}
		if q.Get("count") != "20" || q.Get("sf") != "code" || q.Get("df") != "code,display" {
			t.Errorf("unexpected query shape: %v", q)
		}
		if q.Get("ef") != hcpcsExtraFields {
			t.Errorf("ef = %q", q.Get("ef"))
		}
		w.Write([]byte(mixedPayload))
	}))
	defer srv.Close()

	records, row, err := newHCPCSClient(srv, 1).Lookup(context.Background(), "A0428")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for A0428, got %d", len(records))
	}
	first := records[0]
	if first.AddDate != "20030101" {
		t.Errorf("dashed add date not normalized: %q", first.AddDate)
	}
	if first.EffDate != "20240101" || first.TermDate != "" {
		t.Errorf("dates = %q %q", first.EffDate, first.TermDate)
	}
	if first.Obsolete || first.IsNOC {
		t.Errorf("flags = %v %v", first.Obsolete, first.IsNOC)
	}
	second := records[1]
	if second.AddDate != "20030101" {
		t.Errorf("numeric add date not handled: %q", second.AddDate)
	}
	if second.EffDate != "" {
		t.Errorf("null act_eff_dt should be empty, got %q", second.EffDate)
	}
	if len(row.Records) == 0 || len(row.ResponseRaw) == 0 {
		t.Error("provenance row should carry records and raw body")
	}
}

func TestHCPCSClient_LookupSingle_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[0,[],{},[]]`))
	}))
	defer srv.Close()

	records, row, err := newHCPCSClient(srv, 1).Lookup(context.Background(), "Q9999")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %v", records)
	}
	if len(row.Records) != 0 {
		t.Errorf("empty result should not record records JSON")
	}
}

func TestHCPCSClient_LookupBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "code:(A0428 OR J1885 OR Q9999)" {
			t.Errorf("batch q = %q", q.Get("q"))
		}
		if q.Get("terms") != "" || q.Get("count") != "500" {
			t.Errorf("batch query shape: terms=%q count=%q", q.Get("terms"), q.Get("count"))
		}
		w.Write([]byte(`[2,["A0428","J1885"],` +
			`{"short_desc":["Amb svc","Ketorolac"],"long_desc":["Ambulance","Ketorolac tromethamine"],` +
			`"add_dt":["20030101","19960101"],"act_eff_dt":["",""],"term_dt":["",""],` +
			`"obsolete":["false","false"],"is_noc":["false","false"]},` +
			`[["A0428","amb"],["J1885","ket"]]]`))
	}))
	defer srv.Close()

	res, err := newHCPCSClient(srv, 1).LookupBatch(context.Background(), []string{"a0428", "J1885", "Q9999"})
	if err != nil {
		t.Fatalf("LookupBatch: %v", err)
	}
	if len(res.RecordsByCode) != 2 {
		t.Fatalf("expected 2 code groups, got %v", res.RecordsByCode)
	}
	if _, ok := res.RecordsByCode["A0428"]; !ok {
		t.Error("records should be keyed by uppercase code")
	}
	if len(res.Rows) != 3 {
		t.Fatalf("expected one provenance row per requested code, got %d", len(res.Rows))
	}
	byCode := map[string]int{}
	for _, row := range res.Rows {
		byCode[row.Code] = len(row.Records)
		if len(row.ResponseRaw) == 0 {
			t.Errorf("row %s missing raw body", row.Code)
		}
	}
	if byCode["Q9999"] != 0 {
		t.Error("absent code should have no records JSON")
	}
	if byCode["a0428"] == 0 {
		t.Error("requested lowercase code should carry its records")
	}
}

func TestHCPCSClient_LookupBatch_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	res, err := newHCPCSClient(srv, 2).LookupBatch(context.Background(), []string{"A0428", "J1885"})
	if err == nil {
		t.Fatal("expected batch error")
	}
	if IsTransient(err) {
		t.Error("400 should be permanent")
	}
	if len(res.Rows) != 0 {
		t.Error("failed batch should not emit provenance rows")
	}
}

func TestParsePayload_NotArray(t *testing.T) {
	if _, err := parsePayload([]byte(`{"foo":1}`)); err == nil {
		t.Error("object payload should fail")
	}
}

func TestParsePayload_TooShort(t *testing.T) {
	byCode, err := parsePayload([]byte(`[5]`))
	if err != nil {
		t.Fatalf("short payload: %v", err)
	}
	if len(byCode) != 0 {
		t.Errorf("expected empty map, got %v", byCode)
	}
}
