// Package triage classifies identifiers that failed resolution by shape, so
// the review output separates fixable inputs (modifiers glued onto codes,
// revenue codes, wrong-family identifiers) from true unknowns.
package triage

import "strings"

// Class is the inferred shape of one unresolved identifier. BaseCode is the
// lookup-worthy core when one can be split out; Modifier is the trailing
// modifier or suffix for concatenated shapes.
type Class struct {
	Name     string
	BaseCode string
	Modifier string
}

var placeholders = map[string]bool{
	"":        true,
	"-":       true,
	"0":       true,
	"00":      true,
	"000":     true,
	"0000":    true,
	"00000":   true,
	"000000":  true,
	"0000000": true,
	"NONE":    true,
	"NULL":    true,
	"N/A":     true,
	"NA":      true,
}

// NormalizeIdentifier is the triage key form: trimmed and uppercased.
func NormalizeIdentifier(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isUpperAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// isICD10PCSLike matches the 7-character PCS alphabet: digits plus letters
// excluding I and O.
func isICD10PCSLike(s string) bool {
	if len(s) != 7 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'A' && c <= 'H':
		case c >= 'J' && c <= 'N':
		case c >= 'P' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

// ClassifyHCPCS infers the shape of a procedure-column identifier. The rules
// are ordered most-specific first; concatenated shapes split into base code
// and modifier.
func ClassifyHCPCS(raw string) Class {
	u := NormalizeIdentifier(raw)

	if placeholders[u] {
		return Class{Name: "placeholder_or_invalid"}
	}

	// flags/words like LTFUP, VOID
	if len(u) >= 3 && isUpperAlpha(u) {
		return Class{Name: "word_or_flag"}
	}

	// two-character modifier on its own (25, GT, QW, U3)
	if len(u) == 2 && isUpperAlnum(u) {
		return Class{Name: "modifier_2char", BaseCode: u, Modifier: u}
	}

	// CDT dental plus suffix (D0123A, D0123AB)
	if (len(u) == 6 || len(u) == 7) && u[0] == 'D' && isDigits(u[1:5]) && isUpperAlnum(u[5:]) {
		return Class{Name: "CDT_plus_suffix", BaseCode: u[:5], Modifier: u[5:]}
	}
	if len(u) == 5 && u[0] == 'D' && isDigits(u[1:]) {
		return Class{Name: "CDT", BaseCode: u}
	}

	// CPT plus modifier (99213GT)
	if len(u) == 7 && isDigits(u[:5]) && isUpperAlnum(u[5:]) {
		return Class{Name: "CPT_5digit_plus_modifier", BaseCode: u[:5], Modifier: u[5:]}
	}

	// HCPCS Level II plus modifier (Q3014GT, H0020U3)
	if len(u) == 7 && isUpperAlpha(u[:1]) && isDigits(u[1:5]) && isUpperAlnum(u[5:]) {
		return Class{Name: "HCPCS_L2_plus_modifier", BaseCode: u[:5], Modifier: u[5:]}
	}

	// CPT Category II plus modifier (0001F25)
	if len(u) == 7 && isDigits(u[:4]) && u[4] == 'F' && isUpperAlnum(u[5:]) {
		return Class{Name: "CPT_catII_plus_modifier", BaseCode: u[:5], Modifier: u[5:]}
	}

	// CPT Category II / III / PLA
	if len(u) == 5 && isDigits(u[:4]) {
		switch u[4] {
		case 'F':
			return Class{Name: "CPT_category_II", BaseCode: u}
		case 'T':
			return Class{Name: "CPT_category_III", BaseCode: u}
		case 'U':
			return Class{Name: "CPT_PLA", BaseCode: u}
		}
	}

	// HCPCS Level II (A0000..Z9999)
	if len(u) == 5 && isUpperAlpha(u[:1]) && isDigits(u[1:]) {
		return Class{Name: "HCPCS_level_II", BaseCode: u}
	}

	// CPT / HCPCS Level I
	if len(u) == 5 && isDigits(u) {
		return Class{Name: "CPT_or_HCPCS_L1_5digit", BaseCode: u}
	}

	// revenue codes (UB-04)
	if len(u) == 4 && isDigits(u) {
		return Class{Name: "revenue_code_4digit", BaseCode: u}
	}

	// DRG-like
	if len(u) == 3 && isDigits(u) {
		return Class{Name: "drg_like_3digit", BaseCode: u}
	}

	if isICD10PCSLike(u) {
		return Class{Name: "icd10pcs_like_7char", BaseCode: u}
	}

	// four digits plus a letter other than F/T/U
	if len(u) == 5 && isDigits(u[:4]) && isUpperAlpha(u[4:]) {
		return Class{Name: "4digit_plus_letter_other", BaseCode: u}
	}

	if len(u) >= 6 && len(u) <= 8 && isDigits(u) {
		return Class{Name: "numeric_6to8_unknown", BaseCode: u}
	}

	if len(u) == 5 && isUpperAlnum(u) {
		return Class{Name: "alphanum_5char_unknown", BaseCode: u}
	}

	return Class{Name: "unknown", BaseCode: u}
}

// ClassifyNPI infers why a provider identifier failed: wrong shape, wrong
// length, or a failed check digit.
func ClassifyNPI(raw string) Class {
	u := NormalizeIdentifier(raw)

	if placeholders[u] || (u != "" && strings.Trim(u, "0") == "") {
		return Class{Name: "placeholder_or_invalid"}
	}
	if !isDigits(u) {
		return Class{Name: "non_numeric"}
	}
	if len(u) != 10 {
		return Class{Name: "numeric_wrong_len", BaseCode: u}
	}
	if npiLuhnValid(u) {
		return Class{Name: "npi_luhn_valid", BaseCode: u}
	}
	return Class{Name: "npi_luhn_invalid", BaseCode: u}
}

// npiLuhnValid applies the Luhn check over the fixed 80840 issuer prefix plus
// the ten NPI digits.
func npiLuhnValid(npi string) bool {
	if len(npi) != 10 || !isDigits(npi) {
		return false
	}
	full := "80840" + npi
	sum := 0
	double := false
	for i := len(full) - 1; i >= 0; i-- {
		v := int(full[i] - '0')
		if double {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
		double = !double
	}
	return sum%10 == 0
}

// hcpcsNeedsReview marks classes with no recognizable base code to retry.
func hcpcsNeedsReview(name string) bool {
	switch name {
	case "unknown", "word_or_flag", "placeholder_or_invalid",
		"numeric_6to8_unknown", "alphanum_5char_unknown":
		return true
	}
	return false
}

// hcpcsConcatClass marks shapes whose base code is a real code with a
// modifier glued on.
func hcpcsConcatClass(name string) bool {
	switch name {
	case "HCPCS_L2_plus_modifier", "CPT_5digit_plus_modifier",
		"CDT_plus_suffix", "CPT_catII_plus_modifier":
		return true
	}
	return false
}

func npiNeedsReview(name string) bool {
	switch name {
	case "placeholder_or_invalid", "non_numeric", "numeric_wrong_len", "npi_luhn_invalid":
		return true
	}
	return false
}
