package model

// ClassificationType is the closed set of tags the scorer can assign.
type ClassificationType string

const (
	TypeNewsletter    ClassificationType = "newsletter"
	TypePromo         ClassificationType = "promo"
	TypeSocial        ClassificationType = "social"
	TypeTransactional ClassificationType = "transactional"
	TypePersonal      ClassificationType = "personal"
	TypeUnknown       ClassificationType = "unknown"
)

// Signal records one rule's contribution to a classification.
type Signal struct {
	// Name identifies the rule (e.g. "unsubscribe", "domain_match").
	Name string `json:"name"`

	// Score is the raw signal strength in [0,1].
	Score float64 `json:"score"`

	// Weight is the factor applied to Score in the weighted sum. Overrides
	// carry a weight of 1.
	Weight float64 `json:"weight"`
}

// ClassificationResult is the derived, non-persisted output of the scorer.
type ClassificationResult struct {
	Type       ClassificationType `json:"type"`
	Confidence float64            `json:"confidence"`

	// Signals is the per-rule breakdown, in evaluation order.
	Signals []Signal `json:"signals"`

	// Verdict is the sender-level safety verdict for the item.
	Verdict SafetyVerdict `json:"verdict"`
}

// Signal returns the named signal and whether it was recorded.
func (r ClassificationResult) Signal(name string) (Signal, bool) {
	for _, s := range r.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return Signal{}, false
}

// SenderStats holds historical statistics for one sender address.
type SenderStats struct {
	// FrequencyScore in [0,1]; higher means the sender mails more often.
	FrequencyScore float64 `json:"frequency_score" db:"frequency_score"`

	// ReputationScore in [0,1]; higher means more bulk-like behaviour.
	ReputationScore float64 `json:"reputation_score" db:"reputation_score"`
}

// DefaultSenderStats returns the values assumed for an unknown sender.
func DefaultSenderStats() SenderStats {
	return SenderStats{FrequencyScore: 0, ReputationScore: 0.5}
}
