// Package settings decodes the keyed configuration collection into typed
// values. A key that is absent or blank reads as its zero value.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mcclellann/prestaya/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	KeyGraceDays            = "grace_days"
	KeyDailyLateRatePercent = "daily_late_rate_percent"
	KeyAmortizationSystem   = "amortization_system"
)

var (
	ErrInvalidSetting = errors.New("invalid setting")
	ErrUnknownSetting = errors.New("unknown setting")
)

// Defaults are the entries seeded into an empty store.
func Defaults() []models.Setting {
	return []models.Setting{
		{Key: KeyGraceDays, Value: "0", Description: "Days past the due date before late fees accrue"},
		{Key: KeyDailyLateRatePercent, Value: "0", Description: "Daily late fee, as a percent of the installment amount"},
		{Key: KeyAmortizationSystem, Value: string(models.SystemDecliningBalance), Description: "Amortization system for new loans (declining_balance or flat)"},
	}
}

// Known reports whether key is one of the recognised settings.
func Known(key string) bool {
	for _, s := range Defaults() {
		if s.Key == key {
			return true
		}
	}
	return false
}

// Validate checks value against the type of key.
func Validate(key, value string) error {
	if !Known(key) {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	value = strings.TrimSpace(value)
	switch key {
	case KeyGraceDays:
		_, err := parseGraceDays(value)
		return err
	case KeyDailyLateRatePercent:
		_, err := parseRate(value)
		return err
	case KeyAmortizationSystem:
		_, err := parseSystem(value)
		return err
	}
	return nil
}

// LateFee builds the late-fee parameters from entries.
func LateFee(entries []models.Setting) (models.LateFeeConfig, error) {
	values := index(entries)
	grace, err := parseGraceDays(values[KeyGraceDays])
	if err != nil {
		return models.LateFeeConfig{}, err
	}
	rate, err := parseRate(values[KeyDailyLateRatePercent])
	if err != nil {
		return models.LateFeeConfig{}, err
	}
	return models.LateFeeConfig{GraceDays: grace, DailyLateRatePercent: rate}, nil
}

// AmortizationSystem returns the configured system for new loans.
func AmortizationSystem(entries []models.Setting) (models.AmortizationSystem, error) {
	return parseSystem(index(entries)[KeyAmortizationSystem])
}

func index(entries []models.Setting) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Key] = strings.TrimSpace(e.Value)
	}
	return m
}

func parseGraceDays(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrInvalidSetting, KeyGraceDays, v)
	}
	return n, nil
}

func parseRate(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s must be a non-negative number, got %q", ErrInvalidSetting, KeyDailyLateRatePercent, v)
	}
	return d, nil
}

func parseSystem(v string) (models.AmortizationSystem, error) {
	if v == "" {
		return models.SystemDecliningBalance, nil
	}
	s := models.AmortizationSystem(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %s must be declining_balance or flat, got %q", ErrInvalidSetting, KeyAmortizationSystem, v)
	}
	return s, nil
}
