package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
)

const (
	hcpcsExtraFields   = "short_desc,long_desc,add_dt,term_dt,act_eff_dt,obsolete,is_noc"
	hcpcsDisplayFields = "code,display"
	batchResultLimit   = "500"
	singleResultLimit  = "20"
)

// HCPCSClient looks up procedure codes in the NLM clinical-tables API.
type HCPCSClient struct {
	t       *transport
	baseURL string
	runID   string
}

func NewHCPCSClient(opts Options, log zerolog.Logger) *HCPCSClient {
	return &HCPCSClient{
		t:       newTransport("hcpcs-registry", opts, log),
		baseURL: opts.BaseURL,
		runID:   opts.APIRunID,
	}
}

// Lookup resolves one code. Records are filtered to the requested code; an
// empty slice with a nil error means the registry has no match.
func (c *HCPCSClient) Lookup(ctx context.Context, code string) ([]model.HCPCSRecord, model.HCPCSResponseRow, error) {
	params := url.Values{}
	params.Set("terms", code)
	params.Set("sf", "code")
	params.Set("q", "code:"+code)
	params.Set("count", singleResultLimit)
	params.Set("df", hcpcsDisplayFields)
	params.Set("ef", hcpcsExtraFields)
	reqURL := c.baseURL + "?" + params.Encode()

	row := model.HCPCSResponseRow{
		Code:          code,
		URL:           reqURL,
		APIRunID:      c.runID,
		RequestedAt:   time.Now().UTC(),
		RequestParams: paramsJSON(params),
	}

	res, err := c.t.getWithRetry(ctx, reqURL, "HCPCS "+code)
	if res.status != 0 {
		s := int32(res.status)
		row.HTTPStatus = &s
	}
	if err != nil {
		msg := err.Error()
		row.ErrorMessage = &msg
		return nil, row, err
	}
	row.ResponseRaw = res.body

	byCode, perr := parsePayload(res.body)
	if perr != nil {
		lerr := &LookupError{Kind: Permanent, Msg: fmt.Sprintf("invalid HCPCS registry payload for %s: %v", code, perr), Err: perr}
		msg := lerr.Msg
		row.ErrorMessage = &msg
		return nil, row, lerr
	}

	records := byCode[normalize.CodeKey(code)]
	if len(records) > 0 {
		if b, jerr := json.Marshal(records); jerr == nil {
			row.Records = b
		}
	}
	return records, row, nil
}

// BatchResult is one batch response distributed per requested code.
type BatchResult struct {
	// RecordsByCode is keyed by normalize.CodeKey. Codes the response did not
	// mention are absent.
	RecordsByCode map[string][]model.HCPCSRecord
	// Rows holds one provenance row per requested code; all share the batch
	// response body.
	Rows []model.HCPCSResponseRow
}

// LookupBatch resolves a page of codes with a single OR query. On error no
// provenance rows are returned; the caller falls back to single lookups,
// which produce their own rows.
func (c *HCPCSClient) LookupBatch(ctx context.Context, codes []string) (BatchResult, error) {
	cleaned := make([]string, 0, len(codes))
	for _, code := range codes {
		if key := normalize.CodeKey(code); key != "" {
			cleaned = append(cleaned, key)
		}
	}
	if len(cleaned) == 0 {
		return BatchResult{}, nil
	}

	params := url.Values{}
	params.Set("terms", "")
	params.Set("sf", "code")
	params.Set("q", "code:("+strings.Join(cleaned, " OR ")+")")
	params.Set("count", batchResultLimit)
	params.Set("df", hcpcsDisplayFields)
	params.Set("ef", hcpcsExtraFields)
	reqURL := c.baseURL + "?" + params.Encode()

	res, err := c.t.getWithRetry(ctx, reqURL, "HCPCS batch")
	if err != nil {
		return BatchResult{}, err
	}

	byCode, perr := parsePayload(res.body)
	if perr != nil {
		return BatchResult{}, &LookupError{Kind: Permanent, Msg: fmt.Sprintf("invalid HCPCS registry batch payload: %v", perr), Err: perr}
	}

	status := int32(res.status)
	requestedAt := time.Now().UTC()
	reqParams := paramsJSON(params)

	out := BatchResult{RecordsByCode: byCode}
	for _, code := range codes {
		row := model.HCPCSResponseRow{
			Code:          code,
			URL:           reqURL,
			HTTPStatus:    &status,
			APIRunID:      c.runID,
			RequestedAt:   requestedAt,
			RequestParams: reqParams,
			ResponseRaw:   res.body,
		}
		if recs := byCode[normalize.CodeKey(code)]; len(recs) > 0 {
			if b, jerr := json.Marshal(recs); jerr == nil {
				row.Records = b
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// parsePayload decodes the clinical-tables array payload
// [total, codes, extraFields, display] and groups the records by code key.
func parsePayload(body []byte) (map[string][]model.HCPCSRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload []any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("payload is not a JSON array: %w", err)
	}
	if len(payload) < 2 {
		return map[string][]model.HCPCSRecord{}, nil
	}
	codes, _ := payload[1].([]any)
	var extra map[string]any
	if len(payload) > 2 {
		extra, _ = payload[2].(map[string]any)
	}

	byCode := make(map[string][]model.HCPCSRecord)
	for idx, raw := range codes {
		code := strings.TrimSpace(scalarString(raw))
		if code == "" {
			continue
		}
		rec := model.HCPCSRecord{
			Code:      code,
			ShortDesc: strings.TrimSpace(extraField(extra, "short_desc", idx)),
			LongDesc:  strings.TrimSpace(extraField(extra, "long_desc", idx)),
			AddDate:   normalize.ParseYYYYMMDD(extraField(extra, "add_dt", idx)),
			EffDate:   normalize.ParseYYYYMMDD(extraField(extra, "act_eff_dt", idx)),
			TermDate:  normalize.ParseYYYYMMDD(extraField(extra, "term_dt", idx)),
		}
		rec.Obsolete, _ = normalize.ParseBoolFlag(extraField(extra, "obsolete", idx))
		rec.IsNOC, _ = normalize.ParseBoolFlag(extraField(extra, "is_noc", idx))
		key := normalize.CodeKey(code)
		byCode[key] = append(byCode[key], rec)
	}
	return byCode, nil
}

// extraField reads extra[field][idx] as a string, "" when absent.
func extraField(extra map[string]any, field string, idx int) string {
	values, ok := extra[field].([]any)
	if !ok || idx >= len(values) {
		return ""
	}
	return scalarString(values[idx])
}

// scalarString renders a decoded JSON scalar the way the registry writes it.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
