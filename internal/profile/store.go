// Package profile holds the shared repository of learned merchant profiles,
// sender patterns, merchant/domain mappings and learned rules.
//
// A Store is safe for concurrent use. Readers receive copies and never observe
// a partially applied update; writers should still be serialized by the
// caller, because an Update callback that reads and then writes a profile is
// only atomic for that single key.
package profile

import (
	"sort"
	"sync"
	"time"

	"receipt-reconciliation-service/internal/models"
)

// Reader is the read-only view used by the predictor and reconciler.
type Reader interface {
	MerchantProfile(key string) (*models.MerchantProfile, bool)
	SenderPattern(domain string) (*models.SenderPattern, bool)
	Mapping(merchantKey, domain string) (*models.MerchantDomainMapping, bool)
	MappingsForMerchant(merchantKey string) []*models.MerchantDomainMapping
	Rule(merchantKey, domain string) (*models.LearnedRule, bool)
}

// Store owns the learned entities.
type Store struct {
	mu        sync.RWMutex
	merchants map[string]*models.MerchantProfile
	senders   map[string]*models.SenderPattern
	mappings  map[string]*models.MerchantDomainMapping
	rules     map[string]*models.LearnedRule
	updatedAt time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		merchants: make(map[string]*models.MerchantProfile),
		senders:   make(map[string]*models.SenderPattern),
		mappings:  make(map[string]*models.MerchantDomainMapping),
		rules:     make(map[string]*models.LearnedRule),
	}
}

// MerchantProfile returns a copy of the profile stored under key.
func (s *Store) MerchantProfile(key string) (*models.MerchantProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.merchants[key]
	return p.Clone(), ok
}

// PutMerchantProfile replaces the profile stored under p.Key.
func (s *Store) PutMerchantProfile(p *models.MerchantProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[p.Key] = p.Clone()
	s.touch()
}

// UpdateMerchantProfile atomically replaces the profile under key with the
// result of fn. fn receives a copy of the current profile, or nil. It reports
// whether a profile existed before the call.
func (s *Store) UpdateMerchantProfile(key string, fn func(current *models.MerchantProfile) *models.MerchantProfile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, existed := s.merchants[key]
	next := fn(current.Clone())
	if next != nil {
		next.Key = key
		s.merchants[key] = next.Clone()
		s.touch()
	}
	return existed
}

// MerchantProfiles returns copies of all profiles ordered by key.
func (s *Store) MerchantProfiles() []*models.MerchantProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.MerchantProfile, 0, len(s.merchants))
	for _, key := range sortedKeys(s.merchants) {
		out = append(out, s.merchants[key].Clone())
	}
	return out
}

// SenderPattern returns a copy of the pattern stored for domain.
func (s *Store) SenderPattern(domain string) (*models.SenderPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.senders[domain]
	return p.Clone(), ok
}

// PutSenderPattern replaces the pattern stored under p.Domain.
func (s *Store) PutSenderPattern(p *models.SenderPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders[p.Domain] = p.Clone()
	s.touch()
}

// UpdateSenderPattern is the SenderPattern counterpart of
// UpdateMerchantProfile.
func (s *Store) UpdateSenderPattern(domain string, fn func(current *models.SenderPattern) *models.SenderPattern) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, existed := s.senders[domain]
	next := fn(current.Clone())
	if next != nil {
		next.Domain = domain
		s.senders[domain] = next.Clone()
		s.touch()
	}
	return existed
}

// SenderPatterns returns copies of all sender patterns ordered by domain.
func (s *Store) SenderPatterns() []*models.SenderPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SenderPattern, 0, len(s.senders))
	for _, key := range sortedKeys(s.senders) {
		out = append(out, s.senders[key].Clone())
	}
	return out
}

// Mapping returns a copy of the mapping between merchantKey and domain.
func (s *Store) Mapping(merchantKey, domain string) (*models.MerchantDomainMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[models.MappingKey(merchantKey, domain)]
	return m.Clone(), ok
}

// PutMapping replaces the mapping for m's merchant and domain.
func (s *Store) PutMapping(m *models.MerchantDomainMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.Key()] = m.Clone()
	s.touch()
}

// UpdateMapping is the mapping counterpart of UpdateMerchantProfile.
func (s *Store) UpdateMapping(merchantKey, domain string, fn func(current *models.MerchantDomainMapping) *models.MerchantDomainMapping) bool {
	key := models.MappingKey(merchantKey, domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	current, existed := s.mappings[key]
	next := fn(current.Clone())
	if next != nil {
		next.MerchantKey, next.Domain = merchantKey, domain
		s.mappings[key] = next.Clone()
		s.touch()
	}
	return existed
}

// MappingsForMerchant returns the mappings of one merchant, highest
// confidence first.
func (s *Store) MappingsForMerchant(merchantKey string) []*models.MerchantDomainMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MerchantDomainMapping
	for _, key := range sortedKeys(s.mappings) {
		if m := s.mappings[key]; m.MerchantKey == merchantKey {
			out = append(out, m.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Mappings returns copies of all mappings ordered by key.
func (s *Store) Mappings() []*models.MerchantDomainMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.MerchantDomainMapping, 0, len(s.mappings))
	for _, key := range sortedKeys(s.mappings) {
		out = append(out, s.mappings[key].Clone())
	}
	return out
}

// Rule returns the learned rule for merchantKey and domain.
func (s *Store) Rule(merchantKey, domain string) (*models.LearnedRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[models.MappingKey(merchantKey, domain)]
	return r.Clone(), ok
}

// PutRule replaces the rule for r's merchant and domain.
func (s *Store) PutRule(r *models.LearnedRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[models.MappingKey(r.MerchantKey, r.Domain)] = r.Clone()
	s.touch()
}

// Rules returns copies of all learned rules ordered by key.
func (s *Store) Rules() []*models.LearnedRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.LearnedRule, 0, len(s.rules))
	for _, key := range sortedKeys(s.rules) {
		out = append(out, s.rules[key].Clone())
	}
	return out
}

// UpdatedAt returns the time of the last write, or the zero time.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Counts returns the number of stored entities per collection.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		MerchantProfiles: len(s.merchants),
		SenderPatterns:   len(s.senders),
		Mappings:         len(s.mappings),
		Rules:            len(s.rules),
	}
}

// Counts summarizes store size.
type Counts struct {
	MerchantProfiles int `json:"merchant_profiles" yaml:"merchant_profiles"`
	SenderPatterns   int `json:"sender_patterns" yaml:"sender_patterns"`
	Mappings         int `json:"merchant_mappings" yaml:"merchant_mappings"`
	Rules            int `json:"learned_rules" yaml:"learned_rules"`
}

// Replace swaps the whole content of s for other's. It is used after a load.
func (s *Store) Replace(other *Store) {
	snap := other.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants = snap.merchants
	s.senders = snap.senders
	s.mappings = snap.mappings
	s.rules = snap.rules
	s.updatedAt = snap.updatedAt
}

// Snapshot returns an independent deep copy of the store. Writes to either
// store never affect the other.
func (s *Store) Snapshot() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := NewStore()
	for k, v := range s.merchants {
		c.merchants[k] = v.Clone()
	}
	for k, v := range s.senders {
		c.senders[k] = v.Clone()
	}
	for k, v := range s.mappings {
		c.mappings[k] = v.Clone()
	}
	for k, v := range s.rules {
		c.rules[k] = v.Clone()
	}
	c.updatedAt = s.updatedAt
	return c
}

// SetUpdatedAt overrides the last-write time, used when restoring a
// persisted snapshot.
func (s *Store) SetUpdatedAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = t
}

func (s *Store) touch() {
	s.updatedAt = time.Now().UTC()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
