package learner

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// EmailLearner aggregates email history into sender-domain patterns.
type EmailLearner struct {
	store     *profile.Store
	config    *Config
	logger    logger.Logger
	now       func() time.Time
	stopWords map[string]struct{}
	receipt   map[string]struct{}
}

// NewEmailLearner creates a learner writing into store.
func NewEmailLearner(store *profile.Store, config *Config, log logger.Logger) *EmailLearner {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.Clone()
	return &EmailLearner{
		store:     store,
		config:    config,
		logger:    logger.OrGlobal(log).WithComponent("email_learner"),
		now:       time.Now,
		stopWords: wordSet(config.StopWords),
		receipt:   wordSet(config.ReceiptKeywords),
	}
}

// WithClock overrides the clock used for patterns without dated samples.
func (l *EmailLearner) WithClock(now func() time.Time) *EmailLearner {
	l.now = now
	return l
}

// Learn groups emails by sender domain and merges a pattern for every group
// of at least MinGroupSize messages.
func (l *EmailLearner) Learn(emails []*models.Email) *LearningStats {
	start := time.Now()
	stats := newStats("emails")

	groups := newGroupOrder[*models.Email]()
	for i, email := range emails {
		if email == nil {
			stats.skip(errors.ValidationError(errors.CodeMissingField, "email", nil, nil))
			continue
		}
		if err := email.Validate(); err != nil {
			l.logger.WithFields(logger.Fields{"index": i, "code": err.Code}).Debug("skipping email")
			stats.skip(err.WithContext("index", i))
			continue
		}
		stats.RecordsAnalyzed++
		groups.add(email.Domain(), email)
	}

	stats.GroupsAnalyzed = len(groups.keys)
	for _, domain := range groups.keys {
		group := groups.groups[domain]
		if len(group) < l.config.MinGroupSize {
			continue
		}
		stats.GroupsQualified++
		stats.record(l.store.MergeSenderPattern(l.summarize(domain, group), l.config.limits()))
	}

	stats.Duration = time.Since(start)
	l.logger.WithFields(logger.Fields{
		"analyzed": stats.RecordsAnalyzed,
		"skipped":  stats.RecordsSkipped,
		"groups":   stats.GroupsAnalyzed,
		"created":  stats.ProfilesCreated,
		"updated":  stats.ProfilesUpdated,
	}).Info("email learning pass finished")
	return stats
}

func (l *EmailLearner) summarize(domain string, group []*models.Email) *models.SenderPattern {
	texts := make([]string, len(group))
	subjects := make([]string, len(group))
	bodies := make([]string, len(group))
	dates := make([]models.Date, len(group))
	attachments := 0
	for i, email := range group {
		texts[i] = email.Text()
		subjects[i] = email.Subject
		bodies[i] = email.Body
		dates[i] = email.Date
		if email.HasAttachments {
			attachments++
		}
	}

	keywords := l.TopTokens(texts)
	hits := 0
	for _, k := range keywords {
		if _, ok := l.receipt[k]; ok {
			hits++
		}
	}
	likelihood := l.config.SenderBaseLikelihood + l.config.SenderKeywordStep*float64(hits)
	if likelihood > l.config.SenderMaxLikelihood {
		likelihood = l.config.SenderMaxLikelihood
	}

	return &models.SenderPattern{
		Domain:            domain,
		Keywords:          keywords,
		SubjectKeywords:   l.TopTokens(subjects),
		BodyKeywords:      l.TopTokens(bodies),
		ReceiptLikelihood: models.Clamp01(likelihood),
		Confidence:        models.ProfileConfidence(len(group)),
		SampleCount:       len(group),
		AttachmentRate:    float64(attachments) / float64(len(group)),
		LastSeen:          latest(dates, l.now().UTC()),
	}
}

// Tokenize lower-cases text and returns its words with stop words and short
// tokens removed, in order of appearance.
func (l *EmailLearner) Tokenize(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := words[:0]
	for _, w := range words {
		if len(w) < l.config.MinTokenLength {
			continue
		}
		if _, stop := l.stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// TopTokens returns up to TopKeywords tokens occurring at least
// KeywordMinFrequency times across texts, most frequent first and ties in
// order of first occurrence.
func (l *EmailLearner) TopTokens(texts []string) []string {
	type tokenCount struct {
		token string
		count int
		first int
	}
	counts := make(map[string]*tokenCount)
	position := 0
	for _, text := range texts {
		for _, token := range l.Tokenize(text) {
			if tc, ok := counts[token]; ok {
				tc.count++
			} else {
				counts[token] = &tokenCount{token: token, count: 1, first: position}
			}
			position++
		}
	}

	ranked := make([]*tokenCount, 0, len(counts))
	for _, tc := range counts {
		if tc.count >= l.config.KeywordMinFrequency {
			ranked = append(ranked, tc)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})
	if len(ranked) > l.config.TopKeywords {
		ranked = ranked[:l.config.TopKeywords]
	}

	out := make([]string, len(ranked))
	for i, tc := range ranked {
		out[i] = tc.token
	}
	return out
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}
