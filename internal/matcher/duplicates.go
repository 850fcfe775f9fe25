package matcher

import (
	"fmt"

	"receipt-reconciliation-service/internal/models"
)

// DuplicateGroup represents transactions that look like the same purchase
// recorded more than once. Only one of them can claim a given receipt.
type DuplicateGroup struct {
	GroupID      string                `json:"group_id" yaml:"group_id"`
	Transactions []*models.Transaction `json:"transactions" yaml:"transactions"`
	Reason       string                `json:"reason" yaml:"reason"`
}

// DetectDuplicates groups valid transactions sharing merchant, amount and
// date. Groups appear in order of their first member.
func DetectDuplicates(transactions []*models.Transaction) []DuplicateGroup {
	var groups []DuplicateGroup
	processed := make(map[int]bool)

	for i, tx1 := range transactions {
		if processed[i] || tx1 == nil || tx1.Validate() != nil || tx1.Date.IsZero() {
			continue
		}
		duplicates := []*models.Transaction{tx1}

		for j := i + 1; j < len(transactions); j++ {
			tx2 := transactions[j]
			if processed[j] || tx2 == nil || tx2.Validate() != nil {
				continue
			}
			if isPotentialDuplicate(tx1, tx2) {
				duplicates = append(duplicates, tx2)
				processed[j] = true
			}
		}

		if len(duplicates) > 1 {
			groups = append(groups, DuplicateGroup{
				GroupID:      fmt.Sprintf("DUP_%d", i),
				Transactions: duplicates,
				Reason: fmt.Sprintf("Found %d transactions for %s of %s on %s",
					len(duplicates), tx1.MerchantKey(), tx1.AmountString(), tx1.Date),
			})
		}
		processed[i] = true
	}

	return groups
}

func isPotentialDuplicate(tx1, tx2 *models.Transaction) bool {
	return tx1.MerchantKey() == tx2.MerchantKey() &&
		tx1.Amount.Decimal.Equal(tx2.Amount.Decimal) &&
		tx1.Date.Equal(tx2.Date)
}
