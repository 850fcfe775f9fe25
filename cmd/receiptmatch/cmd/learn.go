package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"receipt-reconciliation-service/cmd/receiptmatch/config"
	"receipt-reconciliation-service/internal/learner"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
)

func newLearnCommand(a *app) *cobra.Command {
	var (
		transactionFiles []string
		emailFiles       []string
	)

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Learn merchant, sender and merchant/domain patterns",
		Long: `Learn updates the profile snapshot from historical data.

Transaction files feed merchant profiles, email files feed sender patterns.
When both are given, merchant/domain mappings and learned rules are derived
from same-day pairs whose email body quotes the transaction amount.
Knowledge accumulates across runs.

Examples:
  receiptmatch learn --transactions 2024.csv,2025.csv
  receiptmatch learn --emails inbox.json
  receiptmatch learn --transactions history.csv --emails inbox.json --profiles profiles.db`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(transactionFiles) == 0 && len(emailFiles) == 0 {
				return errors.ConfigurationError(errors.CodeMissingConfig, "transactions/emails", nil, nil).
					WithSuggestion("pass --transactions, --emails or both")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}

			var stats []*learner.LearningStats

			if len(transactionFiles) > 0 {
				txs, err := a.loadTransactions(ctx, transactionFiles)
				if err != nil {
					return err
				}
				a.verbosef("Learning from %d transactions\n", len(txs))
				stats = append(stats, eng.LearnFromTransactions(ctx, txs))

				if len(emailFiles) > 0 {
					emails, err := a.loadEmails(ctx, emailFiles)
					if err != nil {
						return err
					}
					a.verbosef("Learning from %d emails\n", len(emails))
					stats = append(stats,
						eng.LearnFromEmails(ctx, emails),
						eng.LearnMerchantMappings(ctx, txs, emails),
					)
				}
			} else {
				emails, err := a.loadEmails(ctx, emailFiles)
				if err != nil {
					return err
				}
				a.verbosef("Learning from %d emails\n", len(emails))
				stats = append(stats, eng.LearnFromEmails(ctx, emails))
			}

			if err := a.saveEngine(ctx, eng); err != nil {
				return err
			}
			if a.v.GetString(config.KeyProfiles) != "" {
				for _, s := range stats {
					s.Persisted = true
				}
			}

			counts := eng.Snapshot().Counts()
			return a.report(func(rg *reporter.ReportGenerator, w io.Writer) error {
				return rg.GenerateLearningReport(stats, counts, w)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&transactionFiles, "transactions", "t", nil, "transaction files (CSV or JSON)")
	cmd.Flags().StringSliceVarP(&emailFiles, "emails", "e", nil, "email files (CSV or JSON)")
	return cmd
}
