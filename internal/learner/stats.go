package learner

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
)

// LearningStats reports the outcome of one learning pass.
type LearningStats struct {
	Kind            string        `json:"kind" yaml:"kind"`
	RecordsAnalyzed int           `json:"records_analyzed" yaml:"records_analyzed"`
	RecordsSkipped  int           `json:"records_skipped" yaml:"records_skipped"`
	GroupsAnalyzed  int           `json:"groups_analyzed" yaml:"groups_analyzed"`
	GroupsQualified int           `json:"groups_qualified" yaml:"groups_qualified"`
	ProfilesCreated int           `json:"profiles_created" yaml:"profiles_created"`
	ProfilesUpdated int           `json:"profiles_updated" yaml:"profiles_updated"`
	CandidatePairs  int           `json:"candidate_pairs,omitempty" yaml:"candidate_pairs,omitempty"`
	RulesCreated    int           `json:"rules_created,omitempty" yaml:"rules_created,omitempty"`
	RulesUpdated    int           `json:"rules_updated,omitempty" yaml:"rules_updated,omitempty"`
	Duration        time.Duration `json:"duration" yaml:"duration"`

	// Persisted is set when the pass was followed by a successful save.
	Persisted bool `json:"persisted" yaml:"persisted"`

	// Skipped collects the validation errors of skipped records.
	Skipped *errors.ErrorSummary `json:"-" yaml:"-"`
}

func newStats(kind string) *LearningStats {
	return &LearningStats{
		Kind:    kind,
		Skipped: errors.NewErrorSummary(nil),
	}
}

func (s *LearningStats) skip(err *errors.ReconcilerError) {
	s.RecordsSkipped++
	s.Skipped.Add(err)
}

func (s *LearningStats) record(created bool) {
	if created {
		s.ProfilesCreated++
	} else {
		s.ProfilesUpdated++
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// populationVariance divides by n, not n-1.
func populationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// coefficientOfVariation returns population stdev over mean. An empty series
// or a zero mean yields an arithmetic error that callers treat as an absent
// signal.
func coefficientOfVariation(xs []float64) (float64, *errors.ReconcilerError) {
	if len(xs) == 0 {
		return 0, errors.ArithmeticError(errors.CodeEmptySeries, "coefficient of variation")
	}
	m := mean(xs)
	if m == 0 {
		return 0, errors.ArithmeticError(errors.CodeZeroMean, "coefficient of variation")
	}
	return math.Sqrt(populationVariance(xs)) / math.Abs(m), nil
}

func toFloats(amounts []decimal.Decimal) []float64 {
	out := make([]float64, len(amounts))
	for i, a := range amounts {
		out[i] = a.InexactFloat64()
	}
	return out
}

// commonAmounts counts amounts rounded to cents, most frequent first, ties in
// first-seen order.
func commonAmounts(amounts []decimal.Decimal, limit int) []models.AmountCount {
	var out []models.AmountCount
	for _, a := range amounts {
		rounded := a.Round(2)
		found := false
		for i := range out {
			if out[i].Amount.Equal(rounded) {
				out[i].Count++
				found = true
				break
			}
		}
		if !found {
			out = append(out, models.AmountCount{Amount: rounded, Count: 1})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// billingCycle infers the charging cadence from the mean gap between
// distinct dates.
func billingCycle(dates []models.Date) models.BillingCycle {
	distinct := make([]models.Date, 0, len(dates))
	seen := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		if _, ok := seen[d.String()]; ok {
			continue
		}
		seen[d.String()] = struct{}{}
		distinct = append(distinct, d)
	}
	if len(distinct) < 2 {
		return models.BillingUnknown
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i].Before(distinct[j]) })

	span := distinct[len(distinct)-1].DaysBetween(distinct[0])
	gap := float64(span) / float64(len(distinct)-1)
	switch {
	case gap >= 25 && gap <= 35:
		return models.BillingMonthly
	case gap >= 350 && gap <= 380:
		return models.BillingYearly
	default:
		return models.BillingIrregular
	}
}

func latest(dates []models.Date, fallback time.Time) time.Time {
	var last models.Date
	for _, d := range dates {
		if !d.IsZero() && (last.IsZero() || last.Before(d)) {
			last = d
		}
	}
	if last.IsZero() {
		return fallback
	}
	return last.Time()
}

// groupOrder keeps group keys in first-seen order.
type groupOrder[T any] struct {
	keys   []string
	groups map[string][]T
}

func newGroupOrder[T any]() *groupOrder[T] {
	return &groupOrder[T]{groups: make(map[string][]T)}
}

func (g *groupOrder[T]) add(key string, v T) {
	if _, ok := g.groups[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.groups[key] = append(g.groups[key], v)
}
