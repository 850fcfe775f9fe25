package cmd

import (
	"io"
	"sort"

	"github.com/spf13/cobra"

	"receipt-reconciliation-service/internal/predictor"
	"receipt-reconciliation-service/internal/reporter"
)

func newPredictCommand(a *app) *cobra.Command {
	var (
		transactionFiles []string
		minLikelihood    float64
		sortByLikelihood bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict which transactions should have a receipt",
		Long: `Predict scores each transaction against the learned merchant profiles.
Merchants without a profile fall back to payment-method, category and
amount heuristics.

Examples:
  receiptmatch predict --transactions june.csv
  receiptmatch predict --transactions june.csv --min-likelihood 0.6 --sort`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			txs, err := a.loadTransactions(ctx, transactionFiles)
			if err != nil {
				return err
			}

			bar := a.progress(len(txs), "Predicting")
			predictions := make([]*predictor.Prediction, 0, len(txs))
			for _, tx := range txs {
				_ = bar.Add(1)
				p := eng.PredictReceiptLikelihood(tx)
				if p.Likelihood < minLikelihood {
					continue
				}
				predictions = append(predictions, p)
			}
			if sortByLikelihood {
				sort.SliceStable(predictions, func(i, j int) bool {
					return predictions[i].Likelihood > predictions[j].Likelihood
				})
			}
			a.verbosef("Scored %d transactions, %d reported\n", len(txs), len(predictions))

			return a.report(func(rg *reporter.ReportGenerator, w io.Writer) error {
				return rg.GeneratePredictionReport(predictions, w)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&transactionFiles, "transactions", "t", nil, "transaction files (CSV or JSON)")
	cmd.Flags().Float64Var(&minLikelihood, "min-likelihood", 0, "only report transactions at or above this likelihood")
	cmd.Flags().BoolVar(&sortByLikelihood, "sort", false, "order by likelihood, highest first")
	_ = cmd.MarkFlagRequired("transactions")
	return cmd
}
