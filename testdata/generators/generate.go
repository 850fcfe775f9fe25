// Command generate writes synthetic receiptmatch input files: a transaction
// CSV and an email JSON array built from seeded receipt scenarios plus
// unrelated spending.
//
//	go run ./testdata/generators -scenarios 5 -months 6 -extra 40 -output-dir testdata/generated
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/testutil"
)

func main() {
	var (
		seed      = flag.Int64("seed", 42, "random seed; the same seed always yields the same files")
		scenarios = flag.Int("scenarios", 3, "merchants with monthly charges and receipt emails")
		months    = flag.Int("months", 6, "charges per scenario merchant")
		extra     = flag.Int("extra", 20, "unrelated transactions without receipts")
		noise     = flag.Int("noise", 10, "unrelated emails")
		outputDir = flag.String("output-dir", "testdata/generated", "output directory for generated files")
	)
	flag.Parse()

	if *scenarios < 0 || *months < 1 || *extra < 0 || *noise < 0 {
		log.Fatalf("counts must be non-negative and -months at least 1")
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	g := testutil.NewGenerator(*seed)
	var (
		transactions []*models.Transaction
		emails       []*models.Email
	)
	for i := 0; i < *scenarios; i++ {
		s := g.Scenario(*months)
		for _, tx := range s.Transactions {
			tx.ID = fmt.Sprintf("s%d-%s", i, tx.ID)
		}
		scenarioEmails := s.Emails()
		for _, e := range scenarioEmails {
			e.ID = fmt.Sprintf("s%d-%s", i, e.ID)
		}
		transactions = append(transactions, s.Transactions...)
		emails = append(emails, scenarioEmails...)
	}
	transactions = append(transactions, g.Transactions(*extra)...)
	emails = append(emails, g.Emails(*noise)...)

	txPath := filepath.Join(*outputDir, "transactions.csv")
	if err := writeTransactions(txPath, transactions); err != nil {
		log.Fatalf("Failed to write %s: %v", txPath, err)
	}
	emailPath := filepath.Join(*outputDir, "emails.json")
	if err := writeEmails(emailPath, emails); err != nil {
		log.Fatalf("Failed to write %s: %v", emailPath, err)
	}

	fmt.Printf("Generated %d transactions -> %s\n", len(transactions), txPath)
	fmt.Printf("Generated %d emails -> %s\n", len(emails), emailPath)
}

func writeTransactions(path string, transactions []*models.Transaction) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"id", "merchant", "amount", "date", "category", "payment_method", "has_tip"}); err != nil {
		return err
	}
	for _, tx := range transactions {
		if err := w.Write([]string{
			tx.ID,
			tx.Merchant,
			tx.AmountString(),
			tx.Date.String(),
			tx.Category,
			tx.PaymentMethod,
			strconv.FormatBool(tx.HasTip),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

func writeEmails(path string, emails []*models.Email) error {
	data, err := json.MarshalIndent(emails, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
