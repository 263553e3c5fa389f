package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/claimref/internal/model"
	"github.com/gyeh/claimref/internal/normalize"
)

// NPIClient looks up provider names in the CMS NPI registry.
type NPIClient struct {
	t          *transport
	baseURL    string
	apiVersion string
	runID      string
}

func NewNPIClient(opts Options, log zerolog.Logger) *NPIClient {
	version := opts.APIVersion
	if version == "" {
		version = "2.1"
	}
	return &NPIClient{
		t:          newTransport("npi-registry", opts, log),
		baseURL:    opts.BaseURL,
		apiVersion: version,
		runID:      opts.APIRunID,
	}
}

// Lookup resolves one NPI to a provider name. An empty name with a nil error
// means the registry affirmatively has no record (zero results, or a record
// with no usable name). The provenance row is valid in every case, including
// errors.
func (c *NPIClient) Lookup(ctx context.Context, npi string) (string, model.NPIResponseRow, error) {
	params := url.Values{}
	params.Set("version", c.apiVersion)
	params.Set("number", npi)
	reqURL := c.baseURL + "?" + params.Encode()

	row := model.NPIResponseRow{
		NPI:           npi,
		URL:           reqURL,
		APIRunID:      c.runID,
		RequestedAt:   time.Now().UTC(),
		RequestParams: paramsJSON(params),
	}

	res, err := c.t.getWithRetry(ctx, reqURL, "NPI "+npi)
	if res.status != 0 {
		s := int32(res.status)
		row.HTTPStatus = &s
	}
	if err != nil {
		msg := err.Error()
		row.ErrorMessage = &msg
		return "", row, err
	}
	row.ResponseRaw = res.body

	var envelope struct {
		ResultCount int             `json:"result_count"`
		Results     json.RawMessage `json:"results"`
	}
	if jerr := json.Unmarshal(res.body, &envelope); jerr != nil {
		lerr := &LookupError{Kind: Permanent, Msg: fmt.Sprintf("invalid NPI registry JSON for %s: %v", npi, jerr), Err: jerr}
		msg := lerr.Msg
		row.ErrorMessage = &msg
		return "", row, lerr
	}
	row.Results = envelope.Results

	var results []struct {
		Basic struct {
			OrganizationName string `json:"organization_name"`
			FirstName        string `json:"first_name"`
			LastName         string `json:"last_name"`
		} `json:"basic"`
	}
	if len(envelope.Results) > 0 {
		if jerr := json.Unmarshal(envelope.Results, &results); jerr != nil {
			lerr := &LookupError{Kind: Permanent, Msg: fmt.Sprintf("failed decoding NPI registry results for %s: %v", npi, jerr), Err: jerr}
			msg := lerr.Msg
			row.ErrorMessage = &msg
			return "", row, lerr
		}
	}

	if len(results) == 0 {
		return "", row, nil
	}
	b := results[0].Basic
	return normalize.ComposeProviderName(b.OrganizationName, b.FirstName, b.LastName), row, nil
}

// paramsJSON flattens query params into the JSON blob stored with each
// provenance row.
func paramsJSON(params url.Values) []byte {
	m := make(map[string]string, len(params))
	for k := range params {
		m[k] = params.Get(k)
	}
	b, _ := json.Marshal(m)
	return b
}
