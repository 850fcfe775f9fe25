package profile

import (
	"sort"

	"receipt-reconciliation-service/internal/models"
)

// Limits caps the list-valued fields of merged entities.
type Limits struct {
	MaxCommonAmounts int
	MaxKeywords      int
}

// DefaultLimits keeps five common amounts and ten keywords.
var DefaultLimits = Limits{MaxCommonAmounts: 5, MaxKeywords: 10}

// MergeMerchantProfile folds delta into the stored profile for delta.Key.
// Sample counts add up, mean and variance are pooled, ranges widen and
// confidence is recomputed from the new total. derive, when non-nil, runs on
// the merged profile before it is stored so callers can recompute values that
// depend on their own configuration. It reports whether a profile was
// created.
func (s *Store) MergeMerchantProfile(delta *models.MerchantProfile, limits Limits, derive func(*models.MerchantProfile)) bool {
	existed := s.UpdateMerchantProfile(delta.Key, func(current *models.MerchantProfile) *models.MerchantProfile {
		merged := MergeMerchantProfiles(current, delta, limits)
		if derive != nil {
			derive(merged)
		}
		return merged
	})
	return !existed
}

// MergeSenderPattern folds delta into the stored pattern for delta.Domain.
func (s *Store) MergeSenderPattern(delta *models.SenderPattern, limits Limits) bool {
	existed := s.UpdateSenderPattern(delta.Domain, func(current *models.SenderPattern) *models.SenderPattern {
		return MergeSenderPatterns(current, delta, limits)
	})
	return !existed
}

// MergeMapping folds delta into the stored mapping for its merchant and
// domain.
func (s *Store) MergeMapping(delta *models.MerchantDomainMapping) bool {
	existed := s.UpdateMapping(delta.MerchantKey, delta.Domain, func(current *models.MerchantDomainMapping) *models.MerchantDomainMapping {
		return MergeMappings(current, delta)
	})
	return !existed
}

// MergeMerchantProfiles returns the combination of current and delta without
// modifying either. A nil current yields a copy of delta.
func MergeMerchantProfiles(current, delta *models.MerchantProfile, limits Limits) *models.MerchantProfile {
	if current == nil {
		out := delta.Clone()
		out.Confidence = models.ProfileConfidence(out.SampleCount)
		return out
	}

	out := current.Clone()
	n1, n2 := float64(current.SampleCount), float64(delta.SampleCount)
	n := n1 + n2
	out.SampleCount = current.SampleCount + delta.SampleCount

	if n > 0 {
		mean := (n1*current.MeanAmount + n2*delta.MeanAmount) / n
		d1, d2 := current.MeanAmount-mean, delta.MeanAmount-mean
		out.AmountVariance = (n1*(current.AmountVariance+d1*d1) + n2*(delta.AmountVariance+d2*d2)) / n
		out.MeanAmount = mean
		out.ReceiptLikelihood = models.Clamp01((n1*current.ReceiptLikelihood + n2*delta.ReceiptLikelihood) / n)
	}

	out.AmountRange = current.AmountRange.Union(delta.AmountRange)
	out.CommonAmounts = mergeAmountCounts(current.CommonAmounts, delta.CommonAmounts, limits.MaxCommonAmounts)

	out.TipCount = current.TipCount + delta.TipCount
	if out.SampleCount > 0 {
		out.TipFrequency = float64(out.TipCount) / float64(out.SampleCount)
	}
	out.CategoryCounts = mergeLabels(current.CategoryCounts, delta.CategoryCounts)
	out.PaymentMethodCounts = mergeLabels(current.PaymentMethodCounts, delta.PaymentMethodCounts)
	out.PrimaryCategory = models.ModeLabel(out.CategoryCounts)
	out.PrimaryPaymentMethod = models.ModeLabel(out.PaymentMethodCounts)

	out.EmailDomains = models.UnionSorted(current.EmailDomains, delta.EmailDomains)
	out.SubjectKeywords = mergeOrdered(current.SubjectKeywords, delta.SubjectKeywords, limits.MaxKeywords)
	out.BodyKeywords = mergeOrdered(current.BodyKeywords, delta.BodyKeywords, limits.MaxKeywords)
	out.Tags = models.UnionSorted(current.Tags, delta.Tags)

	if delta.BillingCycle != "" && delta.BillingCycle != models.BillingUnknown {
		out.BillingCycle = delta.BillingCycle
	}
	if delta.LastSeen.After(out.LastSeen) {
		out.LastSeen = delta.LastSeen
	}

	out.Confidence = models.ProfileConfidence(out.SampleCount)
	return out
}

// MergeSenderPatterns returns the combination of current and delta.
func MergeSenderPatterns(current, delta *models.SenderPattern, limits Limits) *models.SenderPattern {
	if current == nil {
		out := delta.Clone()
		out.Confidence = models.ProfileConfidence(out.SampleCount)
		return out
	}

	out := current.Clone()
	n1, n2 := float64(current.SampleCount), float64(delta.SampleCount)
	out.SampleCount = current.SampleCount + delta.SampleCount
	if n := n1 + n2; n > 0 {
		out.ReceiptLikelihood = models.Clamp01((n1*current.ReceiptLikelihood + n2*delta.ReceiptLikelihood) / n)
		out.AttachmentRate = (n1*current.AttachmentRate + n2*delta.AttachmentRate) / n
	}
	out.Keywords = mergeOrdered(current.Keywords, delta.Keywords, limits.MaxKeywords)
	out.SubjectKeywords = mergeOrdered(current.SubjectKeywords, delta.SubjectKeywords, limits.MaxKeywords)
	out.BodyKeywords = mergeOrdered(current.BodyKeywords, delta.BodyKeywords, limits.MaxKeywords)
	if delta.LastSeen.After(out.LastSeen) {
		out.LastSeen = delta.LastSeen
	}
	out.Confidence = models.ProfileConfidence(out.SampleCount)
	return out
}

// MergeMappings returns the combination of current and delta.
func MergeMappings(current, delta *models.MerchantDomainMapping) *models.MerchantDomainMapping {
	if current == nil {
		out := delta.Clone()
		out.Confidence = models.MappingConfidence(out.SampleCount)
		return out
	}

	out := current.Clone()
	n1, n2 := float64(current.SampleCount), float64(delta.SampleCount)
	out.SampleCount = current.SampleCount + delta.SampleCount
	if n := n1 + n2; n > 0 {
		out.AmountCorrelation = (n1*current.AmountCorrelation + n2*delta.AmountCorrelation) / n
	}
	if delta.LastSeen.After(out.LastSeen) {
		out.LastSeen = delta.LastSeen
	}
	out.Confidence = models.MappingConfidence(out.SampleCount)
	return out
}

func mergeAmountCounts(a, b []models.AmountCount, limit int) []models.AmountCount {
	out := append([]models.AmountCount(nil), a...)
	for _, entry := range b {
		found := false
		for i := range out {
			if out[i].Amount.Equal(entry.Amount) {
				out[i].Count += entry.Count
				found = true
				break
			}
		}
		if !found {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func mergeLabels(a, b []models.LabelCount) []models.LabelCount {
	out := append([]models.LabelCount(nil), a...)
	for _, entry := range b {
		out = models.AddLabel(out, entry.Label, entry.Count)
	}
	return out
}

// mergeOrdered appends the unseen items of b to a, keeping at most limit.
func mergeOrdered(a, b []string, limit int) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AppendKeywords is the exported form of the ordered, deduplicated union used
// when enriching a profile with a sender's keywords.
func AppendKeywords(a, b []string, limit int) []string {
	return mergeOrdered(a, b, limit)
}
