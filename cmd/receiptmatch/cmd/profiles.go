package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"receipt-reconciliation-service/cmd/receiptmatch/config"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
)

func newProfilesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List what has been learned",
		Long: `Profiles prints the merchant profiles, sender patterns, merchant/domain
mappings and learned rules held in the profile snapshot.

Examples:
  receiptmatch profiles
  receiptmatch profiles --profiles profiles.db --output-format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString(config.KeyProfiles)
			if err := validateFileExists(path, "profile snapshot"); err != nil {
				if re, ok := errors.AsReconcilerError(err); ok && re.Code == errors.CodeFileNotFound {
					return re.WithSuggestion("run 'receiptmatch learn' first to create the snapshot")
				}
				return err
			}

			eng, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			store := eng.Snapshot()
			return a.report(func(rg *reporter.ReportGenerator, w io.Writer) error {
				return rg.GenerateProfileReport(store, w)
			})
		},
	}
}
