// Package models defines the input records (transactions and emails) and the
// learned entities (merchant profiles, sender patterns, merchant/domain
// mappings, learned rules) shared by the learners, the predictor and the
// reconciler.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/pkg/errors"
)

const dateLayout = "2006-01-02"

// Date is a calendar day. The zero value means "no date".
type Date struct {
	t time.Time
}

// NewDate returns the given calendar day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day in the timestamp's own
// location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a day from any of the formats accepted by
// ParseTimeWithFormats.
func ParseDate(s string) (Date, error) {
	t, err := ParseTimeWithFormats(s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return d.t }

// Equal reports whether both dates are set and name the same day.
func (d Date) Equal(other Date) bool {
	return !d.IsZero() && !other.IsZero() && d.t.Equal(other.t)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	if d.IsZero() {
		return d
	}
	return Date{t: d.t.AddDate(0, 0, n)}
}

// DaysBetween returns the absolute number of days between two dates.
func (d Date) DaysBetween(other Date) int {
	diff := d.t.Sub(other.t)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// String formats the date as YYYY-MM-DD, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

// MarshalJSON encodes the date as "YYYY-MM-DD" or null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts null, "" or any supported date/time layout.
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Transaction is a card or bank transaction supplied by the retrieval layer.
// Merchant and Amount are required for learning; every other field is
// optional and defaults to its zero value.
type Transaction struct {
	ID            string              `json:"id,omitempty"`
	Merchant      string              `json:"merchant"`
	Amount        decimal.NullDecimal `json:"amount"`
	Date          Date                `json:"date"`
	Category      string              `json:"category,omitempty"`
	PaymentMethod string              `json:"payment_method,omitempty"`
	HasTip        bool                `json:"has_tip"`
}

// NewTransaction builds a transaction with a known amount.
func NewTransaction(merchant string, amount decimal.Decimal, date Date) *Transaction {
	return &Transaction{
		Merchant: merchant,
		Amount:   decimal.NewNullDecimal(amount),
		Date:     date,
	}
}

// Validate reports the first missing required field.
func (t *Transaction) Validate() *errors.ReconcilerError {
	if strings.TrimSpace(t.Merchant) == "" {
		return errors.ValidationError(errors.CodeMissingField, "merchant", t.Merchant, nil)
	}
	if !t.Amount.Valid {
		return errors.ValidationError(errors.CodeMissingField, "amount", nil, nil)
	}
	return nil
}

// MerchantKey returns the normalized merchant name.
func (t *Transaction) MerchantKey() string {
	return NormalizeMerchant(t.Merchant)
}

// AmountValue returns the amount, or zero when absent.
func (t *Transaction) AmountValue() decimal.Decimal {
	if !t.Amount.Valid {
		return decimal.Zero
	}
	return t.Amount.Decimal
}

// AmountString renders the amount with two decimals as it would appear on a
// receipt, for example "20.00".
func (t *Transaction) AmountString() string {
	return t.AmountValue().StringFixed(2)
}

// NormalizedPaymentMethod lower-cases and trims the payment method.
func (t *Transaction) NormalizedPaymentMethod() string {
	return strings.ToLower(strings.TrimSpace(t.PaymentMethod))
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{Merchant: %s, Amount: %s, Date: %s}",
		t.Merchant, t.AmountString(), t.Date)
}

// Email is a message that may carry a proof of purchase.
type Email struct {
	ID             string `json:"id,omitempty"`
	From           string `json:"from"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	Date           Date   `json:"date"`
	HasAttachments bool   `json:"has_attachments"`
}

// Validate reports a sender without a usable domain.
func (e *Email) Validate() *errors.ReconcilerError {
	if strings.TrimSpace(e.From) == "" {
		return errors.ValidationError(errors.CodeMissingField, "from", e.From, nil)
	}
	if SenderDomain(e.From) == "" {
		return errors.ValidationError(errors.CodeInvalidSender, "from", e.From, nil)
	}
	return nil
}

// Domain returns the lower-cased sender domain.
func (e *Email) Domain() string {
	return SenderDomain(e.From)
}

// Text returns subject and body joined for tokenization.
func (e *Email) Text() string {
	return e.Subject + " " + e.Body
}

// String returns a string representation of the Email
func (e *Email) String() string {
	return fmt.Sprintf("Email{From: %s, Subject: %q, Date: %s}", e.From, e.Subject, e.Date)
}
