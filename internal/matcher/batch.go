package matcher

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/logger"
)

// ReconciliationResult represents the complete result of a batch
// reconciliation.
type ReconciliationResult struct {
	RunID                 string                `json:"run_id" yaml:"run_id"`
	Matches               []*MatchCandidate     `json:"matches" yaml:"matches"`
	UnmatchedTransactions []*models.Transaction `json:"unmatched_transactions" yaml:"unmatched_transactions"`
	UnmatchedEmails       []*models.Email       `json:"unmatched_emails" yaml:"unmatched_emails"`
	Duplicates            []DuplicateGroup      `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	Summary               ReconciliationSummary `json:"summary" yaml:"summary"`
}

// ReconciliationSummary provides aggregate statistics about the reconciliation
type ReconciliationSummary struct {
	TotalTransactions     int             `json:"total_transactions" yaml:"total_transactions"`
	TotalEmails           int             `json:"total_emails" yaml:"total_emails"`
	MatchedTransactions   int             `json:"matched_transactions" yaml:"matched_transactions"`
	UnmatchedTransactions int             `json:"unmatched_transactions" yaml:"unmatched_transactions"`
	UnmatchedEmails       int             `json:"unmatched_emails" yaml:"unmatched_emails"`
	ExactMatches          int             `json:"exact_matches" yaml:"exact_matches"`
	CloseMatches          int             `json:"close_matches" yaml:"close_matches"`
	FuzzyMatches          int             `json:"fuzzy_matches" yaml:"fuzzy_matches"`
	PossibleMatches       int             `json:"possible_matches" yaml:"possible_matches"`
	RejectedCandidates    int             `json:"rejected_candidates" yaml:"rejected_candidates"`
	TotalAmountMatched    decimal.Decimal `json:"total_amount_matched" yaml:"total_amount_matched"`
	TotalAmountUnmatched  decimal.Decimal `json:"total_amount_unmatched" yaml:"total_amount_unmatched"`
	AcceptanceThreshold   float64         `json:"acceptance_threshold" yaml:"acceptance_threshold"`
	ProcessingTime        time.Duration   `json:"processing_time" yaml:"processing_time"`
}

// GetMatchRate returns the percentage of transactions with an accepted
// receipt.
func (s ReconciliationSummary) GetMatchRate() float64 {
	if s.TotalTransactions == 0 {
		return 0
	}
	return float64(s.MatchedTransactions) / float64(s.TotalTransactions) * 100
}

// ReconcileBatch pairs each transaction with at most one email. For every
// transaction in input order it ranks the emails with the configured
// inclusion threshold and accepts the top-ranked candidate when its
// confidence reaches acceptance and its email has not been claimed by an
// earlier transaction.
func (r *Reconciler) ReconcileBatch(transactions []*models.Transaction, emails []*models.Email, acceptance float64) *ReconciliationResult {
	start := time.Now()
	result := &ReconciliationResult{
		RunID:                 uuid.NewString(),
		Matches:               []*MatchCandidate{},
		UnmatchedTransactions: []*models.Transaction{},
		UnmatchedEmails:       []*models.Email{},
	}
	claimed := make(map[int]bool)
	rejected := 0

	for _, tx := range transactions {
		if tx == nil {
			continue
		}
		if err := tx.Validate(); err != nil {
			r.logger.WithField("code", err.Code).Debug("transaction cannot be reconciled")
			result.UnmatchedTransactions = append(result.UnmatchedTransactions, tx)
			continue
		}

		candidates := r.FindCandidates(tx, emails, r.config.MinInclusionScore)
		if len(candidates) == 0 {
			result.UnmatchedTransactions = append(result.UnmatchedTransactions, tx)
			continue
		}

		best := candidates[0]
		if best.Confidence >= acceptance && !claimed[best.EmailIndex] {
			claimed[best.EmailIndex] = true
			result.Matches = append(result.Matches, best)
			continue
		}
		rejected++
		result.UnmatchedTransactions = append(result.UnmatchedTransactions, tx)
	}

	for i, email := range emails {
		if email != nil && !claimed[i] {
			result.UnmatchedEmails = append(result.UnmatchedEmails, email)
		}
	}

	result.Duplicates = DetectDuplicates(transactions)
	result.Summary = summarize(result, len(transactions), len(emails), acceptance, rejected)
	result.Summary.ProcessingTime = time.Since(start)

	r.logger.WithFields(logger.Fields{
		"run_id":     result.RunID,
		"matched":    result.Summary.MatchedTransactions,
		"unmatched":  result.Summary.UnmatchedTransactions,
		"duplicates": len(result.Duplicates),
	}).Info("batch reconciliation finished")
	return result
}

func summarize(result *ReconciliationResult, totalTx, totalEmails int, acceptance float64, rejected int) ReconciliationSummary {
	summary := ReconciliationSummary{
		TotalTransactions:     totalTx,
		TotalEmails:           totalEmails,
		MatchedTransactions:   len(result.Matches),
		UnmatchedTransactions: len(result.UnmatchedTransactions),
		UnmatchedEmails:       len(result.UnmatchedEmails),
		RejectedCandidates:    rejected,
		TotalAmountMatched:    decimal.Zero,
		TotalAmountUnmatched:  decimal.Zero,
		AcceptanceThreshold:   acceptance,
	}

	for _, match := range result.Matches {
		switch match.MatchType {
		case MatchExact:
			summary.ExactMatches++
		case MatchClose:
			summary.CloseMatches++
		case MatchFuzzy:
			summary.FuzzyMatches++
		case MatchPossible:
			summary.PossibleMatches++
		}
		summary.TotalAmountMatched = summary.TotalAmountMatched.Add(match.Transaction.AmountValue().Abs())
	}

	for _, tx := range result.UnmatchedTransactions {
		summary.TotalAmountUnmatched = summary.TotalAmountUnmatched.Add(tx.AmountValue().Abs())
	}

	return summary
}
