package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12.34", "12.34", true},
		{"12,34", "12.34", true},
		{"12.345", "12.35", true}, // half away from zero
		{"0.004", "", false}, // rounds to zero
		{"100", "100", true},
		{"", "", false},
		{"-5", "", false},
		{"0", "", false},
		{"abc", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("ParseAmount(%q) unexpected error: %v", tc.in, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("ParseAmount(%q) expected error", tc.in)
			}
			if !IsValidation(err) {
				t.Fatalf("ParseAmount(%q) expected validation error, got %v", tc.in, err)
			}
			continue
		}
		if want := decimal.RequireFromString(tc.want); !got.Equal(want) {
			t.Fatalf("ParseAmount(%q) = %s, want %s", tc.in, got, want)
		}
	}
}

func TestInverseRate(t *testing.T) {
	cases := []struct{ rate, want string }{
		{"1.0870", "0.919963"},
		{"2", "0.5"},
		{"0.5", "2"},
		{"3", "0.333333"},
	}
	for _, tc := range cases {
		got := InverseRate(decimal.RequireFromString(tc.rate))
		if want := decimal.RequireFromString(tc.want); !got.Equal(want) {
			t.Fatalf("InverseRate(%s) = %s, want %s", tc.rate, got, want)
		}
	}
}

func TestConvertRoundsToTwoPlaces(t *testing.T) {
	// 92.00 EUR at 1.0870 must land on 100.00 in base currency.
	native := decimal.RequireFromString("92.00")
	rate := decimal.RequireFromString("1.0870")
	got := Convert(native, rate)
	if want := decimal.RequireFromString("100.00"); !got.Equal(want) {
		t.Fatalf("Convert(92.00, 1.0870) = %s, want %s", got, want)
	}
}

func TestNormalizeCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"usd", "USD", true},
		{" EUR ", "EUR", true},
		{"JPY", "JPY", true},
		{"US", "", false},
		{"USDX", "", false},
		{"U$D", "", false},
		{"ZZZ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeCurrency(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("NormalizeCurrency(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("NormalizeCurrency(%q) expected error", tc.in)
		}
	}
}
