// Package testutil generates deterministic synthetic transactions, emails
// and profiles for tests.
package testutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
)

var (
	paymentMethods = []string{"cash", "atm", "debit_card", "credit_card", "paypal", "stripe", "square", "wire", ""}
	categories     = []string{"Food & Dining", "Shopping", "Technology", "Travel", "ATM", "Transfer", "Utilities", ""}
	receiptWords   = []string{"receipt", "invoice", "order", "payment", "confirmation", "purchase"}
)

// Generator wraps a seeded faker so that every run yields the same data.
type Generator struct {
	faker *gofakeit.Faker
	start time.Time
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		faker: gofakeit.New(seed),
		start: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Date returns a day within the first half of 2025.
func (g *Generator) Date() models.Date {
	return models.DateOf(g.start.AddDate(0, 0, g.faker.IntRange(0, 180)))
}

// Amount returns a positive amount with cents.
func (g *Generator) Amount(min, max float64) decimal.Decimal {
	return decimal.NewFromFloat(g.faker.Price(min, max)).Round(2)
}

// Transaction returns a random transaction for merchant.
func (g *Generator) Transaction(merchant string) *models.Transaction {
	tx := models.NewTransaction(merchant, g.Amount(1, 500), g.Date())
	tx.ID = g.faker.UUID()
	tx.Category = g.faker.RandomString(categories)
	tx.PaymentMethod = g.faker.RandomString(paymentMethods)
	tx.HasTip = g.faker.Bool()
	return tx
}

// Transactions returns n transactions spread over a small set of merchants
// so that most groups qualify for learning.
func (g *Generator) Transactions(n int) []*models.Transaction {
	merchants := g.Merchants(max(1, n/4))
	out := make([]*models.Transaction, n)
	for i := range out {
		out[i] = g.Transaction(g.faker.RandomString(merchants))
	}
	return out
}

// Merchants returns n distinct merchant names.
func (g *Generator) Merchants(n int) []string {
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		name := strings.ToUpper(g.faker.Company())
		if _, ok := seen[name]; ok {
			name = fmt.Sprintf("%s %d", name, len(out))
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Email returns a random email from domain. When receipt is true the
// subject and body carry receipt vocabulary and the amount.
func (g *Generator) Email(domain string, amount decimal.Decimal, date models.Date, receipt bool) *models.Email {
	e := &models.Email{
		ID:             g.faker.UUID(),
		From:           fmt.Sprintf("%s@%s", strings.ToLower(g.faker.FirstName()), domain),
		Date:           date,
		HasAttachments: g.faker.Bool(),
	}
	if receipt {
		word := g.faker.RandomString(receiptWords)
		e.Subject = fmt.Sprintf("Your %s from %s", word, g.faker.Company())
		e.Body = fmt.Sprintf("%s Total: $%s. %s", g.faker.Sentence(6), amount.StringFixed(2), g.faker.Sentence(4))
	} else {
		e.Subject = g.faker.Sentence(4)
		e.Body = g.faker.Paragraph(1, 3, 8, " ")
	}
	return e
}

// Emails returns n emails across a handful of domains, roughly half of
// them receipts.
func (g *Generator) Emails(n int) []*models.Email {
	domains := make([]string, max(1, n/4))
	for i := range domains {
		domains[i] = strings.ToLower(g.faker.DomainName())
	}
	out := make([]*models.Email, n)
	for i := range out {
		out[i] = g.Email(g.faker.RandomString(domains), g.Amount(1, 500), g.Date(), g.faker.Bool())
	}
	return out
}

// MerchantProfiles returns n profiles with values inside their valid ranges.
func (g *Generator) MerchantProfiles(n int) []*models.MerchantProfile {
	merchants := g.Merchants(n)
	out := make([]*models.MerchantProfile, n)
	for i, key := range merchants {
		samples := g.faker.IntRange(2, 30)
		low := g.Amount(1, 100)
		out[i] = &models.MerchantProfile{
			Key:               key,
			SampleCount:       samples,
			Confidence:        models.ProfileConfidence(samples),
			ReceiptLikelihood: g.faker.Float64Range(0, 1),
			AmountRange:       models.AmountRange{Min: low, Max: low.Add(g.Amount(0, 50))},
			MeanAmount:        low.InexactFloat64(),
			BillingCycle:      models.BillingIrregular,
			LastSeen:          g.Date().Time(),
		}
	}
	return out
}

// ReceiptScenario is a merchant with a batch of transactions and their
// matching receipt emails from one domain, plus unrelated noise emails.
type ReceiptScenario struct {
	Merchant     string
	Domain       string
	Transactions []*models.Transaction
	Receipts     []*models.Email
	Noise        []*models.Email
}

// Emails returns receipts followed by noise.
func (s *ReceiptScenario) Emails() []*models.Email {
	return append(append([]*models.Email(nil), s.Receipts...), s.Noise...)
}

// Scenario builds a ReceiptScenario with n monthly charges.
func (g *Generator) Scenario(n int) *ReceiptScenario {
	s := &ReceiptScenario{
		Merchant: strings.ToUpper(g.faker.Company()),
		Domain:   strings.ToLower(g.faker.DomainName()),
	}
	amount := g.Amount(5, 80)
	for i := 0; i < n; i++ {
		date := models.DateOf(g.start.AddDate(0, i, 0))
		tx := models.NewTransaction(s.Merchant, amount, date)
		tx.ID = fmt.Sprintf("tx-%03d", i)
		tx.PaymentMethod = "credit_card"
		tx.Category = "Technology"
		s.Transactions = append(s.Transactions, tx)

		receipt := g.Email(s.Domain, amount, date, true)
		receipt.ID = fmt.Sprintf("receipt-%03d", i)
		s.Receipts = append(s.Receipts, receipt)

		noise := g.Email(strings.ToLower(g.faker.DomainName()), g.Amount(100, 900), date.AddDays(15), false)
		noise.ID = fmt.Sprintf("noise-%03d", i)
		s.Noise = append(s.Noise, noise)
	}
	return s
}
