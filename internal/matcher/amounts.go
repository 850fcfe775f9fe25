package matcher

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// amountPattern matches currency-prefixed numbers ("$20", "€ 1,299.00") and
// bare numbers with cents ("20.00"). Plain integers are ignored so that order
// numbers and years are not mistaken for amounts.
var amountPattern = regexp.MustCompile(`(?:[$€£]\s?(\d[\d,]*(?:\.\d{1,2})?))|(?:\b(\d[\d,]*\.\d{2})\b)`)

// ExtractAmounts returns the amounts mentioned in text, in order of
// appearance.
func ExtractAmounts(text string) []decimal.Decimal {
	var amounts []decimal.Decimal
	for _, m := range amountPattern.FindAllStringSubmatch(text, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
		if err != nil {
			continue
		}
		amounts = append(amounts, d)
	}
	return amounts
}

// ClosestAmount returns the amount nearest to target. ok is false when
// amounts is empty.
func ClosestAmount(amounts []decimal.Decimal, target decimal.Decimal) (closest decimal.Decimal, ok bool) {
	for i, a := range amounts {
		if i == 0 || a.Sub(target).Abs().LessThan(closest.Sub(target).Abs()) {
			closest = a
		}
		ok = true
	}
	return closest, ok
}
