// Package classify maps normalized items to a classification type with a
// confidence and a per-rule signal breakdown. Classification uses metadata
// and headers only and performs no I/O.
package classify

import (
	"github.com/nhle/inbox-sweep/internal/model"
	"github.com/nhle/inbox-sweep/internal/safety"
)

// Thresholds on the weighted score.
const (
	NewsletterThreshold = 0.75
	PromoThreshold      = 0.50
	SocialThreshold     = 0.30
)

// Fixed confidences of the override rules.
const (
	transactionalConfidence = 0.9
	personalConfidence      = 0.8
)

// strongCategory is the category score above which an unknown result is
// downgraded to promo or social.
const strongCategory = 0.9

// Classify scores a single item. stats may be nil, in which case the
// defaults for an unknown sender apply. Classify is total: missing or
// malformed headers only lower the score.
func Classify(item model.NormalizedItem, stats *model.SenderStats) model.ClassificationResult {
	verdict := safety.CanActOnSender(item)

	if safety.IsTransactional(item) {
		return model.ClassificationResult{
			Type:       model.TypeTransactional,
			Confidence: transactionalConfidence,
			Signals:    []model.Signal{{Name: SignalTransactional, Score: 1, Weight: 1}},
			Verdict:    verdict,
		}
	}
	if safety.IsPersonal(item) {
		return model.ClassificationResult{
			Type:       model.TypePersonal,
			Confidence: personalConfidence,
			Signals:    []model.Signal{{Name: SignalPersonal, Score: 1, Weight: 1}},
			Verdict:    verdict,
		}
	}

	st := model.DefaultSenderStats()
	if stats != nil {
		st = *stats
	}

	unsub := unsubscribeScore(item)
	category := categoryScore(item)
	domain := domainScore(item)
	headers := headerScore(item)
	reputation := clamp01(st.ReputationScore)
	frequency := clamp01(st.FrequencyScore)

	signals := []model.Signal{
		{Name: SignalUnsubscribe, Score: unsub, Weight: weightUnsubscribe},
		{Name: SignalReputation, Score: reputation, Weight: weightReputation},
		{Name: SignalDomainMatch, Score: domain, Weight: weightReputation},
		{Name: SignalCategory, Score: category, Weight: weightCategory},
		{Name: SignalFrequency, Score: frequency, Weight: weightFrequency},
		{Name: SignalHeaders, Score: headers, Weight: weightHeaders},
		{Name: SignalHTML, Score: 0, Weight: weightHTML},
	}

	score := weightUnsubscribe*unsub +
		weightReputation*max(reputation, domain) +
		weightCategory*category +
		weightFrequency*frequency +
		weightHeaders*headers

	return model.ClassificationResult{
		Type:       typeFor(score, item.Category, category),
		Confidence: clamp01(score),
		Signals:    signals,
		Verdict:    verdict,
	}
}

// Score returns the weighted sum Classify would compute for item, or the
// fixed override confidence when an override applies.
func Score(item model.NormalizedItem, stats *model.SenderStats) float64 {
	return Classify(item, stats).Confidence
}

func typeFor(score float64, cat model.Category, categoryScore float64) model.ClassificationType {
	switch {
	case score >= NewsletterThreshold:
		return model.TypeNewsletter
	case score >= PromoThreshold:
		return model.TypePromo
	case score >= SocialThreshold:
		return model.TypeSocial
	}
	if categoryScore >= strongCategory {
		switch cat {
		case model.CategoryPromotions:
			return model.TypePromo
		case model.CategorySocial:
			return model.TypeSocial
		}
	}
	return model.TypeUnknown
}

// ClassifyBatch classifies every item independently. stats is keyed by
// sender address and may be nil. The result is keyed by item ID.
func ClassifyBatch(items []model.NormalizedItem, stats map[string]model.SenderStats) map[string]model.ClassificationResult {
	out := make(map[string]model.ClassificationResult, len(items))
	for _, it := range items {
		var st *model.SenderStats
		if s, ok := stats[it.FromAddress]; ok {
			st = &s
		}
		out[it.ID] = Classify(it, st)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
