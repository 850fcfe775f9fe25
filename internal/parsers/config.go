package parsers

import (
	"fmt"
	"strings"
)

// TransactionParserConfig maps CSV columns onto transaction fields. Only the
// merchant and amount columns are required in the header.
type TransactionParserConfig struct {
	IDColumn            string            `json:"id_column" mapstructure:"id_column"`
	MerchantColumn      string            `json:"merchant_column" mapstructure:"merchant_column"`
	AmountColumn        string            `json:"amount_column" mapstructure:"amount_column"`
	DateColumn          string            `json:"date_column" mapstructure:"date_column"`
	CategoryColumn      string            `json:"category_column" mapstructure:"category_column"`
	PaymentMethodColumn string            `json:"payment_method_column" mapstructure:"payment_method_column"`
	HasTipColumn        string            `json:"has_tip_column" mapstructure:"has_tip_column"`
	HasHeader           bool              `json:"has_header" mapstructure:"has_header"`
	Delimiter           rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases       map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// Validate checks if the transaction parser configuration is valid
func (tpc *TransactionParserConfig) Validate() error {
	if strings.TrimSpace(tpc.MerchantColumn) == "" {
		return fmt.Errorf("merchant column cannot be empty")
	}
	if strings.TrimSpace(tpc.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if tpc.Delimiter == 0 || tpc.Delimiter == '\n' || tpc.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", tpc.Delimiter)
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (tpc *TransactionParserConfig) GetColumnName(standardName string) string {
	if alias, exists := tpc.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "id":
		return tpc.IDColumn
	case "merchant":
		return tpc.MerchantColumn
	case "amount":
		return tpc.AmountColumn
	case "date":
		return tpc.DateColumn
	case "category":
		return tpc.CategoryColumn
	case "payment_method":
		return tpc.PaymentMethodColumn
	case "has_tip":
		return tpc.HasTipColumn
	default:
		return standardName
	}
}

// DefaultTransactionParserConfig returns a configuration matching the
// transaction input schema.
func DefaultTransactionParserConfig() *TransactionParserConfig {
	return &TransactionParserConfig{
		IDColumn:            "id",
		MerchantColumn:      "merchant",
		AmountColumn:        "amount",
		DateColumn:          "date",
		CategoryColumn:      "category",
		PaymentMethodColumn: "payment_method",
		HasTipColumn:        "has_tip",
		HasHeader:           true,
		Delimiter:           ',',
		ColumnAliases:       make(map[string]string),
	}
}

// EmailParserConfig maps CSV columns onto email fields. Only the sender
// column is required in the header.
type EmailParserConfig struct {
	IDColumn          string            `json:"id_column" mapstructure:"id_column"`
	FromColumn        string            `json:"from_column" mapstructure:"from_column"`
	SubjectColumn     string            `json:"subject_column" mapstructure:"subject_column"`
	BodyColumn        string            `json:"body_column" mapstructure:"body_column"`
	DateColumn        string            `json:"date_column" mapstructure:"date_column"`
	AttachmentsColumn string            `json:"attachments_column" mapstructure:"attachments_column"`
	HasHeader         bool              `json:"has_header" mapstructure:"has_header"`
	Delimiter         rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases     map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// Validate checks if the email parser configuration is valid
func (epc *EmailParserConfig) Validate() error {
	if strings.TrimSpace(epc.FromColumn) == "" {
		return fmt.Errorf("from column cannot be empty")
	}
	if epc.Delimiter == 0 || epc.Delimiter == '\n' || epc.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", epc.Delimiter)
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (epc *EmailParserConfig) GetColumnName(standardName string) string {
	if alias, exists := epc.ColumnAliases[standardName]; exists {
		return alias
	}

	switch standardName {
	case "id":
		return epc.IDColumn
	case "from":
		return epc.FromColumn
	case "subject":
		return epc.SubjectColumn
	case "body":
		return epc.BodyColumn
	case "date":
		return epc.DateColumn
	case "has_attachments":
		return epc.AttachmentsColumn
	default:
		return standardName
	}
}

// DefaultEmailParserConfig returns a configuration matching the email input
// schema.
func DefaultEmailParserConfig() *EmailParserConfig {
	return &EmailParserConfig{
		IDColumn:          "id",
		FromColumn:        "from",
		SubjectColumn:     "subject",
		BodyColumn:        "body",
		DateColumn:        "date",
		AttachmentsColumn: "has_attachments",
		HasHeader:         true,
		Delimiter:         ',',
		ColumnAliases:     make(map[string]string),
	}
}

func parseConfigFor(hasHeader bool, delimiter rune) *ParseConfig {
	cfg := DefaultParseConfig()
	cfg.HasHeader = hasHeader
	cfg.Delimiter = delimiter
	return cfg
}

// parseBool accepts the boolean spellings common in exports. Empty means
// false.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "f", "no", "n":
		return false, nil
	case "1", "true", "t", "yes", "y":
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}
