package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeMerchant upper-cases and trims a merchant name to form a profile
// key. Inner whitespace runs collapse to one space.
func NormalizeMerchant(name string) string {
	return strings.Join(strings.Fields(strings.ToUpper(name)), " ")
}

// SenderDomain extracts the lower-cased domain from an address such as
// "Billing <billing@anthropic.com>". It returns "" when there is no '@'.
func SenderDomain(from string) string {
	at := strings.LastIndex(from, "@")
	if at < 0 || at == len(from)-1 {
		return ""
	}
	domain := strings.TrimSpace(from[at+1:])
	domain = strings.TrimRight(domain, ">) ")
	return strings.ToLower(domain)
}

// DomainStem returns the registrable label of a domain, for example
// "anthropic" for "mail.anthropic.com".
func DomainStem(domain string) string {
	labels := strings.Split(strings.Trim(domain, "."), ".")
	if len(labels) >= 2 {
		return labels[len(labels)-2]
	}
	return labels[0]
}

// ParseDecimalFromString parses a decimal value, ignoring currency symbols
// and thousand separators.
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	s = strings.NewReplacer("$", "", ",", "", "USD", "").Replace(s)
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

var timeFormats = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseTimeWithFormats attempts to parse time from string using the formats
// seen in transaction exports and email Date headers.
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	var lastErr error
	for _, format := range timeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// Clamp01 limits v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ProfileConfidence is the saturating confidence for a merchant profile or
// sender pattern backed by n samples.
func ProfileConfidence(n int) float64 {
	return math.Min(0.9, 0.3+0.1*float64(n))
}

// MappingConfidence is the saturating confidence for a merchant/domain
// mapping backed by n matches.
func MappingConfidence(n int) float64 {
	return math.Min(0.9, 0.5+0.1*float64(n))
}
