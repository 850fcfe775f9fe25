package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/pkg/errors"
)

func TestNormalizeMerchant(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Square *Coffee Shop", "SQUARE *COFFEE SHOP"},
		{"  claude.ai  ", "CLAUDE.AI"},
		{"Blue   Bottle\tCoffee", "BLUE BOTTLE COFFEE"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMerchant(tt.in))
		})
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		name string
		from string
		want string
	}{
		{"bare address", "billing@anthropic.com", "anthropic.com"},
		{"display name", "Anthropic <Billing@Anthropic.COM>", "anthropic.com"},
		{"quoted local part with at", `"a@b" <receipts@square.com>`, "square.com"},
		{"no at sign", "not-an-address", ""},
		{"trailing at", "user@", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SenderDomain(tt.from))
		})
	}
}

func TestDomainStem(t *testing.T) {
	assert.Equal(t, "anthropic", DomainStem("anthropic.com"))
	assert.Equal(t, "anthropic", DomainStem("mail.anthropic.com"))
	assert.Equal(t, "localhost", DomainStem("localhost"))
}

func TestParseDate(t *testing.T) {
	inputs := []string{
		"2024-01-15",
		"2024-01-15T10:30:00Z",
		"Mon, 15 Jan 2024 10:30:00 +0000",
		"01/15/2024",
		"Jan 15, 2024",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			d, err := ParseDate(in)
			require.NoError(t, err)
			assert.Equal(t, "2024-01-15", d.String())
		})
	}

	_, err := ParseDate("fifteenth of january")
	assert.Error(t, err)
}

func TestDateDaysBetween(t *testing.T) {
	a := NewDate(2024, time.January, 15)
	b := NewDate(2024, time.January, 18)
	assert.Equal(t, 3, a.DaysBetween(b))
	assert.Equal(t, 3, b.DaysBetween(a))
	assert.Equal(t, 0, a.DaysBetween(a))
	assert.True(t, a.Before(b))
	assert.True(t, a.Equal(NewDate(2024, time.January, 15)))
	assert.False(t, Date{}.Equal(Date{}))
}

func TestDateJSON(t *testing.T) {
	type wrapper struct {
		Date Date `json:"date"`
	}

	data, err := json.Marshal(wrapper{Date: NewDate(2024, time.March, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-03-01"}`, string(data))

	data, err = json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":null}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"date":"Fri, 01 Mar 2024 09:00:00 -0800"}`), &w))
	assert.Equal(t, "2024-03-01", w.Date.String())

	require.NoError(t, json.Unmarshal([]byte(`{"date":""}`), &w))
	assert.True(t, w.Date.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"date":"soon"}`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"date":20240301}`), &w))
}

func TestTransactionJSONOptionalFields(t *testing.T) {
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"merchant":"CLAUDE.AI","amount":20}`), &tx))

	assert.Nil(t, tx.Validate())
	assert.True(t, tx.Amount.Decimal.Equal(decimal.NewFromInt(20)))
	assert.True(t, tx.Date.IsZero())
	assert.Empty(t, tx.Category)
	assert.False(t, tx.HasTip)
	assert.Equal(t, "20.00", tx.AmountString())
	assert.Equal(t, "CLAUDE.AI", tx.MerchantKey())
}

func TestTransactionValidate(t *testing.T) {
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"merchant":"CLAUDE.AI","amount":null}`), &tx))

	err := tx.Validate()
	require.NotNil(t, err)
	assert.Equal(t, errors.CategoryValidation, err.Category)
	assert.Equal(t, errors.CodeMissingField, err.Code)
	assert.Equal(t, "amount", err.Context["field"])

	tx = Transaction{Amount: decimal.NewNullDecimal(decimal.NewFromInt(1))}
	err = tx.Validate()
	require.NotNil(t, err)
	assert.Equal(t, "merchant", err.Context["field"])
}

func TestEmailValidate(t *testing.T) {
	e := &Email{From: "Anthropic <billing@anthropic.com>"}
	assert.Nil(t, e.Validate())
	assert.Equal(t, "anthropic.com", e.Domain())

	e = &Email{From: "anthropic billing"}
	err := e.Validate()
	require.NotNil(t, err)
	assert.Equal(t, errors.CodeInvalidSender, err.Code)
}

func TestParseDecimalFromString(t *testing.T) {
	d, err := ParseDecimalFromString("$1,234.50")
	require.NoError(t, err)
	assert.Equal(t, "1234.5", d.String())

	_, err = ParseDecimalFromString("")
	assert.Error(t, err)

	_, err = ParseDecimalFromString("twelve")
	assert.Error(t, err)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.2))
	assert.Equal(t, 1.0, Clamp01(1.25))
	assert.Equal(t, 0.4, Clamp01(0.4))
}

func TestConfidenceCurves(t *testing.T) {
	assert.InDelta(t, 0.5, ProfileConfidence(2), 1e-9)
	assert.InDelta(t, 0.9, ProfileConfidence(6), 1e-9)
	assert.InDelta(t, 0.9, ProfileConfidence(50), 1e-9)

	assert.InDelta(t, 0.6, MappingConfidence(1), 1e-9)
	assert.InDelta(t, 0.9, MappingConfidence(4), 1e-9)
}

func TestMerchantProfileSets(t *testing.T) {
	p := &MerchantProfile{Key: "CLAUDE.AI"}
	p.AddTag(TagDigitalPayment)
	p.AddTag(TagConsistentAmounts)
	p.AddTag(TagDigitalPayment)
	assert.Equal(t, []string{TagConsistentAmounts, TagDigitalPayment}, p.Tags)
	assert.True(t, p.HasTag(TagDigitalPayment))
	assert.False(t, p.HasTag(TagFrequentTips))

	p.AddEmailDomain("anthropic.com")
	p.AddEmailDomain("")
	assert.Equal(t, []string{"anthropic.com"}, p.EmailDomains)

	clone := p.Clone()
	clone.AddTag(TagFrequentTips)
	assert.False(t, p.HasTag(TagFrequentTips))
}

func TestMerchantProfileAmountCV(t *testing.T) {
	p := &MerchantProfile{MeanAmount: 10, AmountVariance: 4}
	cv, ok := p.AmountCV()
	require.True(t, ok)
	assert.InDelta(t, 0.2, cv, 1e-9)

	_, ok = (&MerchantProfile{}).AmountCV()
	assert.False(t, ok)
}

func TestAmountRange(t *testing.T) {
	r := AmountRange{Min: decimal.NewFromInt(5), Max: decimal.NewFromInt(10)}
	assert.True(t, r.Contains(decimal.NewFromInt(5)))
	assert.False(t, r.Contains(decimal.NewFromInt(11)))

	u := r.Union(AmountRange{Min: decimal.NewFromInt(2), Max: decimal.NewFromInt(7)})
	assert.Equal(t, "2", u.Min.String())
	assert.Equal(t, "10", u.Max.String())
}

func TestUnionSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, UnionSorted([]string{"a", "c"}, []string{"c", "b"}))
	assert.Equal(t, "CLAUDE.AI|anthropic.com", MappingKey("CLAUDE.AI", "anthropic.com"))
}

func TestModeLabel(t *testing.T) {
	var counts []LabelCount
	counts = AddLabel(counts, "Shopping", 1)
	counts = AddLabel(counts, "Food & Dining", 2)
	counts = AddLabel(counts, "Shopping", 1)
	assert.Equal(t, "Shopping", ModeLabel(counts))
	assert.Equal(t, []LabelCount{{"Shopping", 2}, {"Food & Dining", 2}}, counts)
	assert.Empty(t, ModeLabel(nil))
}
