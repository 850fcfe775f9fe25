package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"receipt-reconciliation-service/cmd/receiptmatch/config"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
)

func newMatchCommand(a *app) *cobra.Command {
	var (
		transactionFiles []string
		emailFiles       []string
		candidatesOnly   bool
		startDate        string
		endDate          string
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match receipt emails to transactions",
		Long: `Match scores every email against every transaction using amount, date,
merchant name, learned merchant/domain mappings and receipt keywords.

By default each transaction is paired with at most one email: the top
candidate is accepted when its confidence reaches --acceptance and no
earlier transaction claimed the email. With --candidates the ranked
candidates above --min-inclusion are listed instead.

Examples:
  receiptmatch match --transactions june.csv --emails inbox.json
  receiptmatch match -t june.csv -e inbox.json --candidates --min-inclusion 0.2
  receiptmatch match -t june.csv -e inbox.json --start-date 2025-06-01 --end-date 2025-06-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			start, end, err := parseDateRange(startDate, endDate)
			if err != nil {
				return err
			}

			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			txs, err := a.loadTransactions(ctx, transactionFiles)
			if err != nil {
				return err
			}
			emails, err := a.loadEmails(ctx, emailFiles)
			if err != nil {
				return err
			}
			txs = filterByDate(txs, start, end)
			a.verbosef("Matching %d transactions against %d emails\n", len(txs), len(emails))

			if candidatesOnly {
				minInclusion := eng.Config().Matching.MinInclusionScore
				bar := a.progress(len(txs), "Ranking candidates")
				lists := make([]reporter.CandidateList, 0, len(txs))
				for _, tx := range txs {
					_ = bar.Add(1)
					lists = append(lists, reporter.CandidateList{
						Transaction: tx,
						Candidates:  eng.FindReceiptCandidatesAbove(tx, emails, minInclusion),
					})
				}
				return a.report(func(rg *reporter.ReportGenerator, w io.Writer) error {
					return rg.GenerateCandidateReport(lists, w)
				})
			}

			spinner := a.progress(-1, "Reconciling")
			result := eng.ReconcileBatch(txs, emails)
			_ = spinner.Finish()
			return a.report(func(rg *reporter.ReportGenerator, w io.Writer) error {
				return rg.GenerateReport(result, w)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&transactionFiles, "transactions", "t", nil, "transaction files (CSV or JSON)")
	flags.StringSliceVarP(&emailFiles, "emails", "e", nil, "email files (CSV or JSON)")
	flags.BoolVar(&candidatesOnly, "candidates", false, "list ranked candidates instead of pairing")
	flags.StringVar(&startDate, "start-date", "", "only match transactions on or after this date (YYYY-MM-DD)")
	flags.StringVar(&endDate, "end-date", "", "only match transactions on or before this date (YYYY-MM-DD)")
	flags.Float64(config.KeyMinInclusion, 0.3, "minimum score for a candidate to be listed")
	flags.Float64(config.KeyAcceptance, 0.7, "minimum confidence to accept the top candidate")
	flags.IntP(config.KeyDateTolerance, "d", 3, "date tolerance in days")
	_ = cmd.MarkFlagRequired("transactions")
	_ = cmd.MarkFlagRequired("emails")

	for _, key := range []string{config.KeyMinInclusion, config.KeyAcceptance, config.KeyDateTolerance} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}
	return cmd
}

func parseDateRange(start, end string) (models.Date, models.Date, error) {
	var from, to models.Date
	if start != "" {
		d, err := models.ParseDate(start)
		if err != nil {
			return from, to, errors.ConfigurationError(errors.CodeInvalidConfig, "start-date", start, err).
				WithSuggestion("use YYYY-MM-DD")
		}
		from = d
	}
	if end != "" {
		d, err := models.ParseDate(end)
		if err != nil {
			return from, to, errors.ConfigurationError(errors.CodeInvalidConfig, "end-date", end, err).
				WithSuggestion("use YYYY-MM-DD")
		}
		to = d
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, errors.ConfigurationError(errors.CodeInvalidConfig, "end-date", end, nil).
			WithSuggestion("end-date must not be before start-date")
	}
	return from, to, nil
}

// filterByDate keeps transactions inside [from, to]. Undated transactions
// are kept; they simply earn no date points.
func filterByDate(txs []*models.Transaction, from, to models.Date) []*models.Transaction {
	if from.IsZero() && to.IsZero() {
		return txs
	}
	kept := make([]*models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Date.IsZero() {
			kept = append(kept, tx)
			continue
		}
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && to.Before(tx.Date) {
			continue
		}
		kept = append(kept, tx)
	}
	return kept
}
