package money

import (
	"errors"
	"math/big"
	"testing"
)

func TestParseBaseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1000", "1000000000"},
		{"0.000001", "1"},
		{"12.5", "12500000"},
		{"0", "0"},
		{"999999999999.999999", "999999999999999999"},
	}

	for _, tt := range tests {
		got, err := ParseBaseUnits(tt.in, BaseUnitDecimals)
		if err != nil {
			t.Errorf("ParseBaseUnits(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseBaseUnits(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseBaseUnits_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "12..5", "0.0000001", "1,000"} {
		_, err := ParseBaseUnits(in, BaseUnitDecimals)
		if !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("ParseBaseUnits(%q): expected ErrInvalidFormat, got %v", in, err)
		}
	}
}

func TestFormatBaseUnits(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{30_000000, "30"},
		{1, "0.000001"},
		{12_500000, "12.5"},
		{0, "0"},
	}

	for _, tt := range tests {
		got := FormatBaseUnits(big.NewInt(tt.in), BaseUnitDecimals)
		if got != tt.want {
			t.Errorf("FormatBaseUnits(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"1000", "0.000001", "42431.123456"} {
		base, err := ParseBaseUnits(s, BaseUnitDecimals)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got := FormatBaseUnits(base, BaseUnitDecimals); got != s {
			t.Errorf("round trip %q → %q", s, got)
		}
	}
}

func TestApplyBps_FloorsTowardZero(t *testing.T) {
	tests := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{1000_000000, 300, 30_000000},  // 3% merchant fee on 1000
		{1, 300, 0},                    // rounds down, never up
		{33, 300, 0},                   // 0.99 base units → 0
		{34, 300, 1},                   // 1.02 base units → 1
		{1000_000000, 12_500, 1250_000000}, // 125% collateral ratio
		{7, 9999, 6},                   // 6.9993 → 6
	}

	for _, tt := range tests {
		got := ApplyBps(big.NewInt(tt.amount), tt.bps)
		if got.Int64() != tt.want {
			t.Errorf("ApplyBps(%d, %d) = %s, want %d", tt.amount, tt.bps, got, tt.want)
		}
	}
}

func TestApplyBps_FeePlusPayoutEqualsPrice(t *testing.T) {
	// merchantFee + merchantPayout must equal price for any price.
	for _, price := range []int64{1, 33, 1000_000000, 999999_999999} {
		p := big.NewInt(price)
		fee := ApplyBps(p, 300)
		payout := new(big.Int).Sub(p, fee)
		if sum := new(big.Int).Add(fee, payout); sum.Cmp(p) != 0 {
			t.Errorf("price %d: fee %s + payout %s != price", price, fee, payout)
		}
	}
}
