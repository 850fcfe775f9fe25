package models

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle classifies how often a merchant charges.
type BillingCycle string

const (
	BillingMonthly   BillingCycle = "monthly"
	BillingYearly    BillingCycle = "yearly"
	BillingIrregular BillingCycle = "irregular"
	BillingUnknown   BillingCycle = "unknown"
)

// Profile tags.
const (
	TagConsistentAmounts = "consistent_amounts"
	TagDigitalPayment    = "digital_payment"
	TagFrequentTips      = "frequent_tips"
	TagSubscription      = "subscription"
)

// AmountCount is one entry of a profile's most common amounts.
type AmountCount struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// LabelCount counts occurrences of a category or payment method. Lists of
// LabelCount keep first-seen order so that ties resolve deterministically.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AddLabel increments label in counts, appending it when first seen.
func AddLabel(counts []LabelCount, label string, n int) []LabelCount {
	for i := range counts {
		if counts[i].Label == label {
			counts[i].Count += n
			return counts
		}
	}
	return append(counts, LabelCount{Label: label, Count: n})
}

// ModeLabel returns the most frequent label, the earliest one on ties.
func ModeLabel(counts []LabelCount) string {
	best := -1
	for i, c := range counts {
		if best < 0 || c.Count > counts[best].Count {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return counts[best].Label
}

// AmountRange is the inclusive span of observed amounts.
type AmountRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// Contains reports whether amount falls inside the range.
func (r AmountRange) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(r.Min) && amount.LessThanOrEqual(r.Max)
}

// Union returns the smallest range covering both.
func (r AmountRange) Union(other AmountRange) AmountRange {
	return AmountRange{
		Min: decimal.Min(r.Min, other.Min),
		Max: decimal.Max(r.Max, other.Max),
	}
}

// MerchantProfile is the learned knowledge about one normalized merchant.
type MerchantProfile struct {
	Key                  string        `json:"merchant"`
	EmailDomains         []string      `json:"email_domains"`
	SubjectKeywords      []string      `json:"subject_keywords"`
	BodyKeywords         []string      `json:"body_keywords"`
	CommonAmounts        []AmountCount `json:"common_amounts"`
	AmountRange          AmountRange   `json:"amount_range"`
	BillingCycle         BillingCycle  `json:"billing_cycle"`
	ReceiptLikelihood    float64       `json:"receipt_likelihood"`
	Confidence           float64       `json:"confidence"`
	SampleCount          int           `json:"sample_count"`
	LastSeen             time.Time     `json:"last_seen"`
	Tags                 []string      `json:"tags"`
	PrimaryCategory      string        `json:"primary_category,omitempty"`
	PrimaryPaymentMethod string        `json:"primary_payment_method,omitempty"`
	TipFrequency         float64       `json:"tip_frequency"`
	TipCount             int           `json:"tip_count"`
	CategoryCounts       []LabelCount  `json:"category_counts,omitempty"`
	PaymentMethodCounts  []LabelCount  `json:"payment_method_counts,omitempty"`
	MeanAmount           float64       `json:"mean_amount"`
	AmountVariance       float64       `json:"amount_variance"`
}

// AmountCV returns the coefficient of variation of the observed amounts. The
// second result is false when the mean is zero and the ratio is undefined.
func (p *MerchantProfile) AmountCV() (float64, bool) {
	if p.MeanAmount == 0 {
		return 0, false
	}
	return math.Sqrt(p.AmountVariance) / math.Abs(p.MeanAmount), true
}

// HasTag reports whether the profile carries tag.
func (p *MerchantProfile) HasTag(tag string) bool {
	return containsSorted(p.Tags, tag)
}

// AddTag inserts tag keeping Tags a sorted set.
func (p *MerchantProfile) AddTag(tag string) {
	p.Tags = insertSorted(p.Tags, tag)
}

// AddEmailDomain inserts domain keeping EmailDomains a sorted set.
func (p *MerchantProfile) AddEmailDomain(domain string) {
	if domain == "" {
		return
	}
	p.EmailDomains = insertSorted(p.EmailDomains, domain)
}

// HasEmailDomain reports whether domain is associated with the merchant.
func (p *MerchantProfile) HasEmailDomain(domain string) bool {
	return containsSorted(p.EmailDomains, domain)
}

// Clone returns a deep copy.
func (p *MerchantProfile) Clone() *MerchantProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.EmailDomains = cloneStrings(p.EmailDomains)
	c.SubjectKeywords = cloneStrings(p.SubjectKeywords)
	c.BodyKeywords = cloneStrings(p.BodyKeywords)
	c.Tags = cloneStrings(p.Tags)
	if p.CommonAmounts != nil {
		c.CommonAmounts = append([]AmountCount(nil), p.CommonAmounts...)
	}
	if p.CategoryCounts != nil {
		c.CategoryCounts = append([]LabelCount(nil), p.CategoryCounts...)
	}
	if p.PaymentMethodCounts != nil {
		c.PaymentMethodCounts = append([]LabelCount(nil), p.PaymentMethodCounts...)
	}
	return &c
}

// SenderPattern is the learned knowledge about one sender domain.
type SenderPattern struct {
	Domain            string    `json:"domain"`
	Keywords          []string  `json:"keywords"`
	SubjectKeywords   []string  `json:"subject_keywords"`
	BodyKeywords      []string  `json:"body_keywords"`
	ReceiptLikelihood float64   `json:"receipt_likelihood"`
	Confidence        float64   `json:"confidence"`
	SampleCount       int       `json:"sample_count"`
	AttachmentRate    float64   `json:"attachment_rate"`
	LastSeen          time.Time `json:"last_seen"`
}

// Clone returns a deep copy.
func (s *SenderPattern) Clone() *SenderPattern {
	if s == nil {
		return nil
	}
	c := *s
	c.Keywords = cloneStrings(s.Keywords)
	c.SubjectKeywords = cloneStrings(s.SubjectKeywords)
	c.BodyKeywords = cloneStrings(s.BodyKeywords)
	return &c
}

// MerchantDomainMapping records that a merchant's receipts arrive from a
// domain.
type MerchantDomainMapping struct {
	MerchantKey       string    `json:"merchant"`
	Domain            string    `json:"domain"`
	Confidence        float64   `json:"confidence"`
	SampleCount       int       `json:"sample_count"`
	AmountCorrelation float64   `json:"amount_correlation"`
	LastSeen          time.Time `json:"last_seen"`
}

// Key is the store key of the mapping.
func (m *MerchantDomainMapping) Key() string {
	return MappingKey(m.MerchantKey, m.Domain)
}

// Clone returns a copy.
func (m *MerchantDomainMapping) Clone() *MerchantDomainMapping {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// MappingKey joins a merchant key and domain into a mapping store key.
func MappingKey(merchantKey, domain string) string {
	return merchantKey + "|" + domain
}

// LearnedRule is a merchant/domain association promoted from a confident
// mapping.
type LearnedRule struct {
	ID          string    `json:"id"`
	MerchantKey string    `json:"merchant"`
	Domain      string    `json:"domain"`
	Confidence  float64   `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a copy.
func (r *LearnedRule) Clone() *LearnedRule {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func containsSorted(set []string, v string) bool {
	i := sort.SearchStrings(set, v)
	return i < len(set) && set[i] == v
}

func insertSorted(set []string, v string) []string {
	i := sort.SearchStrings(set, v)
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}

// UnionSorted merges two sorted sets.
func UnionSorted(a, b []string) []string {
	out := cloneStrings(a)
	for _, v := range b {
		out = insertSorted(out, v)
	}
	return out
}
