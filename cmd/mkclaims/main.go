// mkclaims generates a synthetic claims Parquet extract for local pipeline
// runs: mostly well-formed rows plus the malformed shapes seen in real
// extracts (float-suffix NPIs, bad check digits, placeholder codes, partial
// months, null columns).
// Usage: go run ./cmd/mkclaims --out testdata/claims.parquet --rows 500
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	goparquet "github.com/parquet-go/parquet-go"

	"github.com/gyeh/claimref/internal/model"
)

var hcpcsPool = []string{"99213", "99214", "A0428", "J1885", "E0601", "G0008", "81001", "J3490"}

var junkCodes = []string{"VOID", "NONE", "0", "N/A"}

var placeholderNPIs = []string{"0", "999999999", "NA"}

func main() {
	out := flag.String("out", "testdata/claims.parquet", "output parquet")
	rows := flag.Int("rows", 500, "rows to generate")
	seed := flag.Int64("seed", 42, "rng seed")
	flag.Parse()

	r := rand.New(rand.NewSource(*seed))

	// A small provider population so identifiers repeat across claims the
	// way they do in a real extract.
	providers := make([]string, 25)
	for i := range providers {
		providers[i] = randomNPI(r)
	}

	claims := make([]model.ClaimRow, 0, *rows)
	junk := 0
	for i := 0; i < *rows; i++ {
		row := model.ClaimRow{
			ClaimID:   fmt.Sprintf("CLM%06d", i/3+1),
			ClaimLine: int32(i%3 + 1),
		}

		switch pick := r.Intn(100); {
		case pick < 70:
			row.BillingProviderNPI = strp(providers[r.Intn(len(providers))])
			if r.Intn(2) == 0 {
				row.ServicingProviderNPI = strp(providers[r.Intn(len(providers))])
			}
			row.HCPCSCode = strp(hcpcsPool[r.Intn(len(hcpcsPool))])
		case pick < 80:
			// Float export artifact on the NPI column.
			row.BillingProviderNPI = strp(providers[r.Intn(len(providers))] + ".0")
			row.HCPCSCode = strp(hcpcsPool[r.Intn(len(hcpcsPool))])
		case pick < 85:
			row.BillingProviderNPI = strp(providers[r.Intn(len(providers))])
			row.HCPCSCode = strp(junkCodes[r.Intn(len(junkCodes))])
			junk++
		case pick < 90:
			row.BillingProviderNPI = strp(badNPI(r))
			row.HCPCSCode = strp(hcpcsPool[r.Intn(len(hcpcsPool))])
			junk++
		case pick < 95:
			row.BillingProviderNPI = strp(providers[r.Intn(len(providers))])
		default:
			row.HCPCSCode = strp(hcpcsPool[r.Intn(len(hcpcsPool))])
		}

		switch r.Intn(10) {
		case 0:
		case 1:
			row.ClaimFromMonth = strp(fmt.Sprintf("2024-%02d", r.Intn(12)+1))
		default:
			row.ClaimFromMonth = strp(fmt.Sprintf("202%d-%02d-01", 3+r.Intn(2), r.Intn(12)+1))
		}

		units := float64(r.Intn(10) + 1)
		paid := float64(r.Intn(100000)) / 100
		row.Units = &units
		row.PaidAmount = &paid
		claims = append(claims, row)
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	writer := goparquet.NewGenericWriter[model.ClaimRow](f)
	if _, err := writer.Write(claims); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	if err := writer.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close writer: %v\n", err)
		os.Exit(1)
	}

	npis := make(map[string]struct{})
	codes := make(map[string]struct{})
	for _, row := range claims {
		if row.BillingProviderNPI != nil {
			npis[*row.BillingProviderNPI] = struct{}{}
		}
		if row.ServicingProviderNPI != nil {
			npis[*row.ServicingProviderNPI] = struct{}{}
		}
		if row.HCPCSCode != nil {
			codes[*row.HCPCSCode] = struct{}{}
		}
	}
	fmt.Printf("Wrote %d rows to %s\n", len(claims), *out)
	fmt.Printf("  %-14s %d\n", "distinct npis", len(npis))
	fmt.Printf("  %-14s %d\n", "distinct codes", len(codes))
	fmt.Printf("  %-14s %d\n", "junk rows", junk)
}

func strp(s string) *string { return &s }

// randomNPI builds a ten-digit NPI with a valid Luhn check digit over the
// 80840 card-issuer prefix.
func randomNPI(r *rand.Rand) string {
	digits := make([]byte, 9)
	digits[0] = byte('1' + r.Intn(2))
	for i := 1; i < 9; i++ {
		digits[i] = byte('0' + r.Intn(10))
	}
	nine := string(digits)
	return nine + string(luhnCheckDigit(nine))
}

// badNPI returns either a placeholder or a ten-digit number with a broken
// check digit.
func badNPI(r *rand.Rand) string {
	if r.Intn(2) == 0 {
		return placeholderNPIs[r.Intn(len(placeholderNPIs))]
	}
	good := randomNPI(r)
	flipped := byte('0' + (int(good[9]-'0')+1+r.Intn(8))%10)
	return good[:9] + string(flipped)
}

func luhnCheckDigit(nine string) byte {
	s := "80840" + nine
	sum := 0
	double := true
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10)
}
