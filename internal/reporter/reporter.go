// Package reporter renders the outputs of the receipt engine: batch
// reconciliation results, learning statistics, likelihood predictions,
// ranked candidate lists and learned profiles.
//
// Supported output formats:
//   - Console: human-readable text for terminal display
//   - JSON: structured data for programmatic consumption
//   - YAML: structured data for review and configuration tooling
//   - CSV: one row per record for spreadsheet applications
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"receipt-reconciliation-service/internal/learner"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/predictor"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/errors"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatYAML, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format" mapstructure:"format"`

	// Detail level options
	IncludeMatches               bool `json:"include_matches" mapstructure:"include_matches"`
	IncludeUnmatchedTransactions bool `json:"include_unmatched_transactions" mapstructure:"include_unmatched_transactions"`
	IncludeUnmatchedEmails       bool `json:"include_unmatched_emails" mapstructure:"include_unmatched_emails"`
	IncludeDuplicates            bool `json:"include_duplicates" mapstructure:"include_duplicates"`
	IncludeReasons               bool `json:"include_reasons" mapstructure:"include_reasons"`

	// MaxListItems limits console lists; 0 prints everything.
	MaxListItems  int `json:"max_list_items" mapstructure:"max_list_items"`
	TableMaxWidth int `json:"table_max_width" mapstructure:"table_max_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers" mapstructure:"csv_headers"`

	// SortByAmount orders unmatched transactions by descending amount.
	SortByAmount bool `json:"sort_by_amount" mapstructure:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                       FormatConsole,
		IncludeMatches:               true,
		IncludeUnmatchedTransactions: true,
		IncludeUnmatchedEmails:       true,
		IncludeDuplicates:            true,
		IncludeReasons:               true,
		MaxListItems:                 10,
		TableMaxWidth:                120,
		CSVDelimiter:                 ',',
		CSVHeaders:                   true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}

	return nil
}

// ReportGenerator generates reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	title  cases.Caser
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
		title:  cases.Title(language.English),
	}, nil
}

// GenerateReport writes a batch reconciliation result.
func (rg *ReportGenerator) GenerateReport(result *matcher.ReconciliationResult, writer io.Writer) (err error) {
	cw := &errWriter{w: writer}
	defer cw.report(&err)
	writer = cw
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.consoleReconciliation(result, writer)
	case FormatJSON, FormatYAML:
		return rg.encode(rg.filterResultForOutput(result), writer)
	case FormatCSV:
		return rg.csvReconciliation(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateLearningReport writes the statistics of one or more learning
// passes followed by the resulting store size.
func (rg *ReportGenerator) GenerateLearningReport(stats []*learner.LearningStats, counts profile.Counts, writer io.Writer) (err error) {
	cw := &errWriter{w: writer}
	defer cw.report(&err)
	writer = cw
	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "LEARNING REPORT\n\n")
		for _, s := range stats {
			if s == nil {
				continue
			}
			fmt.Fprintf(writer, "=== %s ===\n", strings.ToUpper(s.Kind))
			fmt.Fprintf(writer, "Records Analyzed:  %d\n", s.RecordsAnalyzed)
			fmt.Fprintf(writer, "Records Skipped:   %d\n", s.RecordsSkipped)
			fmt.Fprintf(writer, "Groups Analyzed:   %d (%d qualified)\n", s.GroupsAnalyzed, s.GroupsQualified)
			fmt.Fprintf(writer, "Profiles Created:  %d\n", s.ProfilesCreated)
			fmt.Fprintf(writer, "Profiles Updated:  %d\n", s.ProfilesUpdated)
			if s.CandidatePairs > 0 || s.RulesCreated > 0 || s.RulesUpdated > 0 {
				fmt.Fprintf(writer, "Candidate Pairs:   %d\n", s.CandidatePairs)
				fmt.Fprintf(writer, "Rules:             %d created, %d updated\n", s.RulesCreated, s.RulesUpdated)
			}
			if s.Skipped != nil && s.Skipped.Total > 0 {
				for _, code := range sortedCodes(s.Skipped.ByCode) {
					fmt.Fprintf(writer, "  skipped %-16s %d\n", code+":", s.Skipped.ByCode[code])
				}
			}
			fmt.Fprintf(writer, "\n")
		}
		rg.printCounts(counts, writer)
		return nil
	case FormatJSON, FormatYAML:
		return rg.encode(map[string]interface{}{
			"passes": stats,
			"store":  counts,
		}, writer)
	case FormatCSV:
		return rg.writeCSV(writer,
			[]string{"Kind", "Records_Analyzed", "Records_Skipped", "Groups_Analyzed", "Groups_Qualified",
				"Profiles_Created", "Profiles_Updated", "Candidate_Pairs", "Rules_Created", "Rules_Updated", "Persisted"},
			func(emit func([]string) error) error {
				for _, s := range stats {
					if s == nil {
						continue
					}
					if err := emit([]string{
						s.Kind,
						strconv.Itoa(s.RecordsAnalyzed),
						strconv.Itoa(s.RecordsSkipped),
						strconv.Itoa(s.GroupsAnalyzed),
						strconv.Itoa(s.GroupsQualified),
						strconv.Itoa(s.ProfilesCreated),
						strconv.Itoa(s.ProfilesUpdated),
						strconv.Itoa(s.CandidatePairs),
						strconv.Itoa(s.RulesCreated),
						strconv.Itoa(s.RulesUpdated),
						strconv.FormatBool(s.Persisted),
					}); err != nil {
						return err
					}
				}
				return nil
			})
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GeneratePredictionReport writes one line per prediction.
func (rg *ReportGenerator) GeneratePredictionReport(predictions []*predictor.Prediction, writer io.Writer) (err error) {
	cw := &errWriter{w: writer}
	defer cw.report(&err)
	writer = cw
	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "RECEIPT LIKELIHOOD\n\n")
		for i, p := range predictions {
			profileMark := " "
			if p.ProfileFound {
				profileMark = "*"
			}
			fmt.Fprintf(writer, "%3d. %s%-30s likelihood %.2f  confidence %.2f  [%s]\n",
				i+1, profileMark, rg.displayName(p.MerchantKey), p.Likelihood, p.Confidence,
				strings.Join(p.Factors, ", "))
		}
		fmt.Fprintf(writer, "\n* merchant has a learned profile\n")
		return nil
	case FormatJSON, FormatYAML:
		return rg.encode(map[string]interface{}{"predictions": predictions}, writer)
	case FormatCSV:
		return rg.writeCSV(writer,
			[]string{"Merchant", "Likelihood", "Confidence", "Profile_Found", "Factors"},
			func(emit func([]string) error) error {
				for _, p := range predictions {
					if err := emit([]string{
						p.MerchantKey,
						formatScore(p.Likelihood),
						formatScore(p.Confidence),
						strconv.FormatBool(p.ProfileFound),
						strings.Join(p.Factors, "; "),
					}); err != nil {
						return err
					}
				}
				return nil
			})
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// CandidateList is the ranked receipt candidates of one transaction.
type CandidateList struct {
	Transaction *models.Transaction       `json:"transaction" yaml:"transaction"`
	Candidates  []*matcher.MatchCandidate `json:"candidates" yaml:"candidates"`
}

// GenerateCandidateReport writes the ranked candidates of each transaction.
func (rg *ReportGenerator) GenerateCandidateReport(lists []CandidateList, writer io.Writer) (err error) {
	cw := &errWriter{w: writer}
	defer cw.report(&err)
	writer = cw
	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "RECEIPT CANDIDATES\n\n")
		for _, list := range lists {
			fmt.Fprintf(writer, "%s  %s  %s\n",
				list.Transaction.Date, rg.displayName(list.Transaction.Merchant), list.Transaction.AmountString())
			if len(list.Candidates) == 0 {
				fmt.Fprintf(writer, "  no candidates\n\n")
				continue
			}
			for i, c := range list.Candidates {
				if rg.truncate(writer, i, len(list.Candidates)) {
					break
				}
				fmt.Fprintf(writer, "  %d. %.2f %-8s %s %q\n", i+1, c.Confidence, c.MatchType, c.Email.From, c.Email.Subject)
				if rg.config.IncludeReasons && len(c.Reasons) > 0 {
					fmt.Fprintf(writer, "     %s\n", strings.Join(c.Reasons, "; "))
				}
			}
			fmt.Fprintf(writer, "\n")
		}
		return nil
	case FormatJSON, FormatYAML:
		return rg.encode(map[string]interface{}{"transactions": lists}, writer)
	case FormatCSV:
		return rg.writeCSV(writer,
			[]string{"Merchant", "Amount", "Date", "Rank", "From", "Subject", "Confidence", "Match_Type", "Reasons"},
			func(emit func([]string) error) error {
				for _, list := range lists {
					for i, c := range list.Candidates {
						if err := emit([]string{
							list.Transaction.Merchant,
							list.Transaction.AmountString(),
							list.Transaction.Date.String(),
							strconv.Itoa(i + 1),
							c.Email.From,
							c.Email.Subject,
							formatScore(c.Confidence),
							c.MatchType.String(),
							strings.Join(c.Reasons, "; "),
						}); err != nil {
							return err
						}
					}
				}
				return nil
			})
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateProfileReport lists everything the store has learned.
func (rg *ReportGenerator) GenerateProfileReport(store *profile.Store, writer io.Writer) (err error) {
	cw := &errWriter{w: writer}
	defer cw.report(&err)
	writer = cw
	if store == nil {
		return fmt.Errorf("profile store cannot be nil")
	}
	merchants := store.MerchantProfiles()
	senders := store.SenderPatterns()
	mappings := store.Mappings()

	switch rg.config.Format {
	case FormatConsole:
		fmt.Fprintf(writer, "LEARNED PROFILES\n\n")
		rg.printCounts(store.Counts(), writer)

		fmt.Fprintf(writer, "\n=== MERCHANTS ===\n")
		for i, p := range merchants {
			if rg.truncate(writer, i, len(merchants)) {
				break
			}
			fmt.Fprintf(writer, "  %-30s likelihood %.2f  confidence %.2f  samples %d  range %s-%s  cycle %s",
				rg.displayName(p.Key), p.ReceiptLikelihood, p.Confidence, p.SampleCount,
				p.AmountRange.Min.StringFixed(2), p.AmountRange.Max.StringFixed(2), p.BillingCycle)
			if len(p.Tags) > 0 {
				fmt.Fprintf(writer, "  [%s]", strings.Join(p.Tags, ", "))
			}
			fmt.Fprintf(writer, "\n")
		}

		fmt.Fprintf(writer, "\n=== SENDERS ===\n")
		for i, s := range senders {
			if rg.truncate(writer, i, len(senders)) {
				break
			}
			fmt.Fprintf(writer, "  %-30s likelihood %.2f  confidence %.2f  samples %d  keywords %s\n",
				s.Domain, s.ReceiptLikelihood, s.Confidence, s.SampleCount, strings.Join(s.Keywords, ","))
		}

		fmt.Fprintf(writer, "\n=== MAPPINGS ===\n")
		for i, m := range mappings {
			if rg.truncate(writer, i, len(mappings)) {
				break
			}
			fmt.Fprintf(writer, "  %-30s -> %-25s confidence %.2f  samples %d\n",
				rg.displayName(m.MerchantKey), m.Domain, m.Confidence, m.SampleCount)
		}
		return nil
	case FormatJSON, FormatYAML:
		return rg.encode(map[string]interface{}{
			"merchant_profiles": merchants,
			"sender_patterns":   senders,
			"merchant_mappings": mappings,
			"learned_rules":     store.Rules(),
		}, writer)
	case FormatCSV:
		return rg.writeCSV(writer,
			[]string{"Type", "Key", "Receipt_Likelihood", "Confidence", "Sample_Count", "Details"},
			func(emit func([]string) error) error {
				for _, p := range merchants {
					if err := emit([]string{"merchant", p.Key, formatScore(p.ReceiptLikelihood), formatScore(p.Confidence),
						strconv.Itoa(p.SampleCount), strings.Join(p.Tags, "; ")}); err != nil {
						return err
					}
				}
				for _, s := range senders {
					if err := emit([]string{"sender", s.Domain, formatScore(s.ReceiptLikelihood), formatScore(s.Confidence),
						strconv.Itoa(s.SampleCount), strings.Join(s.Keywords, "; ")}); err != nil {
						return err
					}
				}
				for _, m := range mappings {
					if err := emit([]string{"mapping", m.Key(), "", formatScore(m.Confidence),
						strconv.Itoa(m.SampleCount), fmt.Sprintf("amount_correlation=%.4f", m.AmountCorrelation)}); err != nil {
						return err
					}
				}
				return nil
			})
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) consoleReconciliation(result *matcher.ReconciliationResult, writer io.Writer) error {
	summary := result.Summary

	fmt.Fprintf(writer, "RECEIPT RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Run: %s\n", result.RunID)
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", summary.ProcessingTime)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Transactions:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", summary.TotalTransactions)
	fmt.Fprintf(writer, "  Matched:   %d (%.1f%%)\n",
		summary.MatchedTransactions, calculatePercentage(summary.MatchedTransactions, summary.TotalTransactions))
	fmt.Fprintf(writer, "  Unmatched: %d (%.1f%%)\n",
		summary.UnmatchedTransactions, calculatePercentage(summary.UnmatchedTransactions, summary.TotalTransactions))
	fmt.Fprintf(writer, "\nEmails:\n")
	fmt.Fprintf(writer, "  Total:     %d\n", summary.TotalEmails)
	fmt.Fprintf(writer, "  Unmatched: %d\n", summary.UnmatchedEmails)
	fmt.Fprintf(writer, "\nAcceptance Threshold: %.2f\n", summary.AcceptanceThreshold)
	fmt.Fprintf(writer, "Rejected Candidates:  %d\n\n", summary.RejectedCandidates)

	fmt.Fprintf(writer, "=== AMOUNTS ===\n")
	fmt.Fprintf(writer, "Matched:   %s\n", summary.TotalAmountMatched.StringFixed(2))
	fmt.Fprintf(writer, "Unmatched: %s\n\n", summary.TotalAmountUnmatched.StringFixed(2))

	fmt.Fprintf(writer, "=== MATCH QUALITY BREAKDOWN ===\n")
	total := summary.ExactMatches + summary.CloseMatches + summary.FuzzyMatches + summary.PossibleMatches
	fmt.Fprintf(writer, "Exact Matches:    %d (%.1f%%)\n", summary.ExactMatches, calculatePercentage(summary.ExactMatches, total))
	fmt.Fprintf(writer, "Close Matches:    %d (%.1f%%)\n", summary.CloseMatches, calculatePercentage(summary.CloseMatches, total))
	fmt.Fprintf(writer, "Fuzzy Matches:    %d (%.1f%%)\n", summary.FuzzyMatches, calculatePercentage(summary.FuzzyMatches, total))
	fmt.Fprintf(writer, "Possible Matches: %d (%.1f%%)\n\n", summary.PossibleMatches, calculatePercentage(summary.PossibleMatches, total))

	if rg.config.IncludeMatches && len(result.Matches) > 0 {
		fmt.Fprintf(writer, "=== MATCHED RECEIPTS ===\n")
		for i, m := range result.Matches {
			if rg.truncate(writer, i, len(result.Matches)) {
				break
			}
			fmt.Fprintf(writer, "  %d. %s %s %s <- %s (%.2f, %s)\n",
				i+1, m.Transaction.Date, rg.displayName(m.Transaction.Merchant), m.Transaction.AmountString(),
				m.Email.From, m.Confidence, m.MatchType)
			if rg.config.IncludeReasons && len(m.Reasons) > 0 {
				fmt.Fprintf(writer, "     %s\n", strings.Join(m.Reasons, "; "))
			}
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatchedTransactions && len(result.UnmatchedTransactions) > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED TRANSACTIONS ===\n")
		transactions := append([]*models.Transaction(nil), result.UnmatchedTransactions...)
		if rg.config.SortByAmount {
			sort.SliceStable(transactions, func(i, j int) bool {
				return transactions[i].AmountValue().GreaterThan(transactions[j].AmountValue())
			})
		}
		for i, tx := range transactions {
			if rg.truncate(writer, i, len(transactions)) {
				break
			}
			fmt.Fprintf(writer, "  %d. %s %s %s\n", i+1, tx.Date, rg.displayName(tx.Merchant), tx.AmountString())
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeUnmatchedEmails && len(result.UnmatchedEmails) > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED EMAILS ===\n")
		for i, e := range result.UnmatchedEmails {
			if rg.truncate(writer, i, len(result.UnmatchedEmails)) {
				break
			}
			fmt.Fprintf(writer, "  %d. %s %s %q\n", i+1, e.Date, e.From, e.Subject)
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeDuplicates && len(result.Duplicates) > 0 {
		fmt.Fprintf(writer, "=== POSSIBLE DUPLICATES ===\n")
		for _, group := range result.Duplicates {
			first := group.Transactions[0]
			fmt.Fprintf(writer, "  %s %s %s x%d (%s)\n",
				first.Date, rg.displayName(first.Merchant), first.AmountString(), len(group.Transactions), group.Reason)
		}
	}

	return nil
}

func (rg *ReportGenerator) csvReconciliation(result *matcher.ReconciliationResult, writer io.Writer) error {
	headers := []string{
		"Status",
		"Merchant",
		"Amount",
		"Date",
		"Email_From",
		"Email_Subject",
		"Match_Type",
		"Confidence_Score",
		"Amount_Difference",
		"Days_Apart",
		"Notes",
	}
	return rg.writeCSV(writer, headers, func(emit func([]string) error) error {
		if rg.config.IncludeMatches {
			for _, m := range result.Matches {
				difference := ""
				if m.AmountDifference.Valid {
					difference = m.AmountDifference.Decimal.StringFixed(2)
				}
				if err := emit([]string{
					"Matched",
					m.Transaction.Merchant,
					m.Transaction.AmountString(),
					m.Transaction.Date.String(),
					m.Email.From,
					m.Email.Subject,
					m.MatchType.String(),
					formatScore(m.Confidence),
					difference,
					strconv.Itoa(m.DaysApart),
					strings.Join(m.Reasons, "; "),
				}); err != nil {
					return fmt.Errorf("failed to write matched record: %w", err)
				}
			}
		}

		if rg.config.IncludeUnmatchedTransactions {
			for _, tx := range result.UnmatchedTransactions {
				if err := emit([]string{
					"Unmatched Transaction", tx.Merchant, tx.AmountString(), tx.Date.String(),
					"", "", "", "", "", "", "No receipt accepted",
				}); err != nil {
					return fmt.Errorf("failed to write unmatched transaction record: %w", err)
				}
			}
		}

		if rg.config.IncludeUnmatchedEmails {
			for _, e := range result.UnmatchedEmails {
				if err := emit([]string{
					"Unmatched Email", "", "", e.Date.String(),
					e.From, e.Subject, "", "", "", "", "No transaction claimed this email",
				}); err != nil {
					return fmt.Errorf("failed to write unmatched email record: %w", err)
				}
			}
		}
		return nil
	})
}

func (rg *ReportGenerator) filterResultForOutput(result *matcher.ReconciliationResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":  result.RunID,
		"summary": result.Summary,
	}

	if rg.config.IncludeMatches {
		output["matches"] = result.Matches
	}
	if rg.config.IncludeUnmatchedTransactions {
		output["unmatched_transactions"] = result.UnmatchedTransactions
	}
	if rg.config.IncludeUnmatchedEmails {
		output["unmatched_emails"] = result.UnmatchedEmails
	}
	if rg.config.IncludeDuplicates && len(result.Duplicates) > 0 {
		output["duplicates"] = result.Duplicates
	}

	return output
}

// encode writes v as JSON or YAML depending on the configured format.
func (rg *ReportGenerator) encode(v interface{}, writer io.Writer) error {
	if rg.config.Format == FormatYAML {
		// Round-trip through JSON so YAML keys follow the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		encoder := yaml.NewEncoder(writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(generic); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return encoder.Close()
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (rg *ReportGenerator) writeCSV(writer io.Writer, headers []string, rows func(emit func([]string) error) error) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	if err := rows(csvWriter.Write); err != nil {
		return err
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) printCounts(counts profile.Counts, writer io.Writer) {
	fmt.Fprintf(writer, "=== STORE ===\n")
	fmt.Fprintf(writer, "Merchant Profiles: %d\n", counts.MerchantProfiles)
	fmt.Fprintf(writer, "Sender Patterns:   %d\n", counts.SenderPatterns)
	fmt.Fprintf(writer, "Mappings:          %d\n", counts.Mappings)
	fmt.Fprintf(writer, "Learned Rules:     %d\n", counts.Rules)
}

// truncate prints the "... and N more" marker and reports true once index
// passes the configured list limit.
func (rg *ReportGenerator) truncate(writer io.Writer, index, total int) bool {
	limit := rg.config.MaxListItems
	if limit <= 0 || index < limit {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
	return true
}

// displayName turns an upper-case merchant key into title case for the
// console, for example "SQUARE *COFFEE SHOP" -> "Square *Coffee Shop".
func (rg *ReportGenerator) displayName(key string) string {
	if key == "" {
		return "(unknown)"
	}
	return rg.title.String(strings.ToLower(key))
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func sortedCodes(m map[errors.ErrorCode]int) []errors.ErrorCode {
	out := make([]errors.ErrorCode, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// errWriter remembers the first write error so console reports, which
// ignore Fprintf results, still report a failed destination.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	if err != nil {
		ew.err = err
	}
	return n, err
}

func (ew *errWriter) report(err *error) {
	if *err == nil {
		*err = ew.err
	}
}
