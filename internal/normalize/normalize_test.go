package normalize

import (
	"testing"
	"time"
)

func TestNormalizeNPI(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1234567890", "1234567890"},
		{"  1234567890  ", "1234567890"},
		{"1234567890.0", "1234567890"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := NormalizeNPI(c.in); got != c.want {
			t.Errorf("NormalizeNPI(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsWellFormedNPI(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"1234567890", true},
		{"123456789", false},
		{"12345678901", false},
		{"12345678 0", false},
		{"123456789X", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsWellFormedNPI(c.in); got != c.want {
			t.Errorf("IsWellFormedNPI(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeHCPCS(t *testing.T) {
	cases := []struct{ in, want string }{
		{"a0428", "A0428"},
		{" A0428 ", "A0428"},
		{"A 0428", "A0428"},
		{"99213.0", "99213"},
		{"j1885", "J1885"},
		{"9921", ""},
		{"992134", ""},
		{"9921#", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeHCPCS(c.in); got != c.want {
			t.Errorf("NormalizeHCPCS(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCodeKey(t *testing.T) {
	if got := CodeKey("  a0428 "); got != "A0428" {
		t.Errorf("CodeKey = %q, want A0428", got)
	}
}

func TestParseYYYYMMDD(t *testing.T) {
	cases := []struct{ in, want string }{
		{"20240101", "20240101"},
		{"2024-01-01", "20240101"},
		{" 20240101 ", "20240101"},
		{"2024-01", ""},
		{"not a date", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := ParseYYYYMMDD(c.in); got != c.want {
			t.Errorf("ParseYYYYMMDD(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatISO(t *testing.T) {
	if got := FormatISO("20240115"); got != "2024-01-15" {
		t.Errorf("FormatISO = %q, want 2024-01-15", got)
	}
	if got := FormatISO("20241301"); got != "" {
		t.Errorf("FormatISO on bad month = %q, want empty", got)
	}
	if got := FormatISO("garbage!"); got != "" {
		t.Errorf("FormatISO on garbage = %q, want empty", got)
	}
}

func TestParseClaimMonth(t *testing.T) {
	got, ok := ParseClaimMonth("2024-03-15")
	if !ok || !got.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("full date parse = %v, %v", got, ok)
	}
	got, ok = ParseClaimMonth("2024-03")
	if !ok || !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("year-month parse = %v, %v", got, ok)
	}
	if _, ok := ParseClaimMonth("March 2024"); ok {
		t.Error("expected failure for prose month")
	}
	if _, ok := ParseClaimMonth(""); ok {
		t.Error("expected failure for empty input")
	}
}

func TestComposeProviderName(t *testing.T) {
	if got := ComposeProviderName("ACME  HEALTH ", "", ""); got != "ACME HEALTH" {
		t.Errorf("org name = %q", got)
	}
	if got := ComposeProviderName("", "JANE", "DOE"); got != "JANE DOE" {
		t.Errorf("individual name = %q", got)
	}
	if got := ComposeProviderName("", "JANE", ""); got != "JANE" {
		t.Errorf("first-only name = %q", got)
	}
	if got := ComposeProviderName("", "", ""); got != "" {
		t.Errorf("empty name = %q", got)
	}
}

func TestParseBoolFlag(t *testing.T) {
	trues := []string{"true", "T", "1", "Yes", "y"}
	for _, s := range trues {
		v, ok := ParseBoolFlag(s)
		if !ok || !v {
			t.Errorf("ParseBoolFlag(%q) = %v, %v, want true", s, v, ok)
		}
	}
	falses := []string{"false", "F", "0", "No", "n"}
	for _, s := range falses {
		v, ok := ParseBoolFlag(s)
		if !ok || v {
			t.Errorf("ParseBoolFlag(%q) = %v, %v, want false", s, v, ok)
		}
	}
	if _, ok := ParseBoolFlag("maybe"); ok {
		t.Error("expected not-ok for unrecognized value")
	}
}
