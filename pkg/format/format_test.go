package format

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0"},
		{"950", "$950"},
		{"1234567.4", "$1.234.567"},
		{"999.5", "$1.000"},
		{"146763.32", "$146.763"},
		{"-5000", "-$5.000"},
	}
	for _, tt := range tests {
		if got := Currency(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("Currency(%s): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1234.5", "1.234,50"},
		{"0.07", "0,07"},
		{"1000000", "1.000.000,00"},
	}
	for _, tt := range tests {
		if got := Amount(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("Amount(%s): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if want := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC); !d.Equal(want) {
		t.Errorf("Expected %s, got %s", want, d)
	}
	if Date(d) != "2024-02-29" {
		t.Errorf("Expected round trip, got %s", Date(d))
	}
	if _, err := ParseDate("29/02/2024"); err == nil {
		t.Error("Expected error for wrong layout")
	}
}
