package persistence

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
)

// SchemaVersion identifies the snapshot layout.
const SchemaVersion = 1

// Document is the persisted form of a profile store. Every collection maps
// an entity key to its fields; timestamps are RFC 3339 strings.
type Document struct {
	Version             int                           `json:"version"`
	TransactionPatterns map[string]MerchantProfileDoc `json:"transaction_patterns"`
	EmailPatterns       map[string]SenderPatternDoc   `json:"email_patterns"`
	MerchantMappings    map[string]MappingDoc         `json:"merchant_mappings"`
	LearnedRules        map[string]RuleDoc            `json:"learned_rules"`
	Timestamp           string                        `json:"timestamp"`
}

// MerchantProfileDoc is the persisted form of models.MerchantProfile.
type MerchantProfileDoc struct {
	EmailDomains         []string             `json:"email_domains"`
	SubjectKeywords      []string             `json:"subject_keywords"`
	BodyKeywords         []string             `json:"body_keywords"`
	CommonAmounts        []models.AmountCount `json:"common_amounts"`
	AmountRange          [2]decimal.Decimal   `json:"amount_range"`
	BillingCycle         string               `json:"billing_cycle"`
	ReceiptLikelihood    float64              `json:"receipt_likelihood"`
	Confidence           float64              `json:"confidence"`
	SampleCount          int                  `json:"sample_count"`
	LastSeen             string               `json:"last_seen,omitempty"`
	Tags                 []string             `json:"tags"`
	PrimaryCategory      string               `json:"primary_category,omitempty"`
	PrimaryPaymentMethod string               `json:"primary_payment_method,omitempty"`
	TipFrequency         float64              `json:"tip_frequency"`
	TipCount             int                  `json:"tip_count"`
	CategoryCounts       []models.LabelCount  `json:"category_counts,omitempty"`
	PaymentMethodCounts  []models.LabelCount  `json:"payment_method_counts,omitempty"`
	MeanAmount           float64              `json:"mean_amount"`
	AmountVariance       float64              `json:"amount_variance"`
}

// SenderPatternDoc is the persisted form of models.SenderPattern.
type SenderPatternDoc struct {
	Keywords          []string `json:"keywords"`
	SubjectKeywords   []string `json:"subject_keywords"`
	BodyKeywords      []string `json:"body_keywords"`
	ReceiptLikelihood float64  `json:"receipt_likelihood"`
	Confidence        float64  `json:"confidence"`
	SampleCount       int      `json:"sample_count"`
	AttachmentRate    float64  `json:"attachment_rate"`
	LastSeen          string   `json:"last_seen,omitempty"`
}

// MappingDoc is the persisted form of models.MerchantDomainMapping.
type MappingDoc struct {
	Merchant          string  `json:"merchant"`
	Domain            string  `json:"domain"`
	Confidence        float64 `json:"confidence"`
	SampleCount       int     `json:"sample_count"`
	AmountCorrelation float64 `json:"amount_correlation"`
	LastSeen          string  `json:"last_seen,omitempty"`
}

// RuleDoc is the persisted form of models.LearnedRule.
type RuleDoc struct {
	ID         string  `json:"id"`
	Merchant   string  `json:"merchant"`
	Domain     string  `json:"domain"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// FromStore captures the current content of store.
func FromStore(store *profile.Store) *Document {
	doc := &Document{
		Version:             SchemaVersion,
		TransactionPatterns: make(map[string]MerchantProfileDoc),
		EmailPatterns:       make(map[string]SenderPatternDoc),
		MerchantMappings:    make(map[string]MappingDoc),
		LearnedRules:        make(map[string]RuleDoc),
		Timestamp:           formatTime(time.Now().UTC()),
	}

	for _, p := range store.MerchantProfiles() {
		doc.TransactionPatterns[p.Key] = MerchantProfileDoc{
			EmailDomains:         p.EmailDomains,
			SubjectKeywords:      p.SubjectKeywords,
			BodyKeywords:         p.BodyKeywords,
			CommonAmounts:        p.CommonAmounts,
			AmountRange:          [2]decimal.Decimal{p.AmountRange.Min, p.AmountRange.Max},
			BillingCycle:         string(p.BillingCycle),
			ReceiptLikelihood:    p.ReceiptLikelihood,
			Confidence:           p.Confidence,
			SampleCount:          p.SampleCount,
			LastSeen:             formatTime(p.LastSeen),
			Tags:                 p.Tags,
			PrimaryCategory:      p.PrimaryCategory,
			PrimaryPaymentMethod: p.PrimaryPaymentMethod,
			TipFrequency:         p.TipFrequency,
			TipCount:             p.TipCount,
			CategoryCounts:       p.CategoryCounts,
			PaymentMethodCounts:  p.PaymentMethodCounts,
			MeanAmount:           p.MeanAmount,
			AmountVariance:       p.AmountVariance,
		}
	}

	for _, s := range store.SenderPatterns() {
		doc.EmailPatterns[s.Domain] = SenderPatternDoc{
			Keywords:          s.Keywords,
			SubjectKeywords:   s.SubjectKeywords,
			BodyKeywords:      s.BodyKeywords,
			ReceiptLikelihood: s.ReceiptLikelihood,
			Confidence:        s.Confidence,
			SampleCount:       s.SampleCount,
			AttachmentRate:    s.AttachmentRate,
			LastSeen:          formatTime(s.LastSeen),
		}
	}

	for _, m := range store.Mappings() {
		doc.MerchantMappings[m.Key()] = MappingDoc{
			Merchant:          m.MerchantKey,
			Domain:            m.Domain,
			Confidence:        m.Confidence,
			SampleCount:       m.SampleCount,
			AmountCorrelation: m.AmountCorrelation,
			LastSeen:          formatTime(m.LastSeen),
		}
	}

	for _, r := range store.Rules() {
		doc.LearnedRules[models.MappingKey(r.MerchantKey, r.Domain)] = RuleDoc{
			ID:         r.ID,
			Merchant:   r.MerchantKey,
			Domain:     r.Domain,
			Confidence: r.Confidence,
			CreatedAt:  formatTime(r.CreatedAt),
			UpdatedAt:  formatTime(r.UpdatedAt),
		}
	}

	return doc
}

// ToStore rebuilds a profile store. It fails on unparseable timestamps,
// out-of-range probabilities or negative sample counts.
func (d *Document) ToStore() (*profile.Store, error) {
	if d.Version > SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", d.Version)
	}
	store := profile.NewStore()

	for key, p := range d.TransactionPatterns {
		if key == "" {
			return nil, fmt.Errorf("transaction pattern with empty key")
		}
		lastSeen, err := parseTime(p.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("transaction pattern %q: %w", key, err)
		}
		if err := checkEntity(p.ReceiptLikelihood, p.Confidence, p.SampleCount); err != nil {
			return nil, fmt.Errorf("transaction pattern %q: %w", key, err)
		}
		cycle := models.BillingCycle(p.BillingCycle)
		if cycle == "" {
			cycle = models.BillingUnknown
		}
		store.PutMerchantProfile(&models.MerchantProfile{
			Key:                  key,
			EmailDomains:         p.EmailDomains,
			SubjectKeywords:      p.SubjectKeywords,
			BodyKeywords:         p.BodyKeywords,
			CommonAmounts:        p.CommonAmounts,
			AmountRange:          models.AmountRange{Min: p.AmountRange[0], Max: p.AmountRange[1]},
			BillingCycle:         cycle,
			ReceiptLikelihood:    p.ReceiptLikelihood,
			Confidence:           p.Confidence,
			SampleCount:          p.SampleCount,
			LastSeen:             lastSeen,
			Tags:                 p.Tags,
			PrimaryCategory:      p.PrimaryCategory,
			PrimaryPaymentMethod: p.PrimaryPaymentMethod,
			TipFrequency:         p.TipFrequency,
			TipCount:             p.TipCount,
			CategoryCounts:       p.CategoryCounts,
			PaymentMethodCounts:  p.PaymentMethodCounts,
			MeanAmount:           p.MeanAmount,
			AmountVariance:       p.AmountVariance,
		})
	}

	for domain, s := range d.EmailPatterns {
		lastSeen, err := parseTime(s.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("email pattern %q: %w", domain, err)
		}
		if err := checkEntity(s.ReceiptLikelihood, s.Confidence, s.SampleCount); err != nil {
			return nil, fmt.Errorf("email pattern %q: %w", domain, err)
		}
		store.PutSenderPattern(&models.SenderPattern{
			Domain:            domain,
			Keywords:          s.Keywords,
			SubjectKeywords:   s.SubjectKeywords,
			BodyKeywords:      s.BodyKeywords,
			ReceiptLikelihood: s.ReceiptLikelihood,
			Confidence:        s.Confidence,
			SampleCount:       s.SampleCount,
			AttachmentRate:    s.AttachmentRate,
			LastSeen:          lastSeen,
		})
	}

	for key, m := range d.MerchantMappings {
		if m.Merchant == "" || m.Domain == "" {
			return nil, fmt.Errorf("merchant mapping %q lacks merchant or domain", key)
		}
		lastSeen, err := parseTime(m.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("merchant mapping %q: %w", key, err)
		}
		if err := checkEntity(0, m.Confidence, m.SampleCount); err != nil {
			return nil, fmt.Errorf("merchant mapping %q: %w", key, err)
		}
		store.PutMapping(&models.MerchantDomainMapping{
			MerchantKey:       m.Merchant,
			Domain:            m.Domain,
			Confidence:        m.Confidence,
			SampleCount:       m.SampleCount,
			AmountCorrelation: m.AmountCorrelation,
			LastSeen:          lastSeen,
		})
	}

	for key, r := range d.LearnedRules {
		if r.Merchant == "" || r.Domain == "" {
			return nil, fmt.Errorf("learned rule %q lacks merchant or domain", key)
		}
		created, err := parseTime(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("learned rule %q: %w", key, err)
		}
		updated, err := parseTime(r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("learned rule %q: %w", key, err)
		}
		store.PutRule(&models.LearnedRule{
			ID:          r.ID,
			MerchantKey: r.Merchant,
			Domain:      r.Domain,
			Confidence:  r.Confidence,
			CreatedAt:   created,
			UpdatedAt:   updated,
		})
	}

	if ts, err := parseTime(d.Timestamp); err == nil {
		store.SetUpdatedAt(ts)
	} else {
		return nil, fmt.Errorf("snapshot timestamp: %w", err)
	}
	return store, nil
}

func checkEntity(likelihood, confidence float64, samples int) error {
	if likelihood < 0 || likelihood > 1 {
		return fmt.Errorf("receipt likelihood %f outside [0, 1]", likelihood)
	}
	if confidence < 0 || confidence > 1 {
		return fmt.Errorf("confidence %f outside [0, 1]", confidence)
	}
	if samples < 0 {
		return fmt.Errorf("negative sample count %d", samples)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
