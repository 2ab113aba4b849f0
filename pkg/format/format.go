// Package format renders amounts and dates for people. Nothing here feeds
// back into calculations.
package format

import (
	"fmt"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date layout used in the API and the CLI.
const DateLayout = "2006-01-02"

var (
	// Colombian pesos are shown without cents: $1.234.567
	pesoFormatter = money.NewFormatter(0, ",", ".", "$", "$1")
	// Plain amount with cents: 1.234.567,89
	amountFormatter = money.NewFormatter(2, ",", ".", "", "1")
)

// Currency formats amount as whole pesos.
func Currency(amount decimal.Decimal) string {
	return pesoFormatter.Format(amount.Round(0).IntPart())
}

// Amount formats amount with two decimals and no symbol.
func Amount(amount decimal.Decimal) string {
	return amountFormatter.Format(amount.Shift(2).Round(0).IntPart())
}

// Date formats the calendar date of t.
func Date(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate reads a calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}
