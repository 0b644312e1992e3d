package model

// DomainTier is the coarse trust classification of a sender domain.
type DomainTier string

const (
	TierNever   DomainTier = "never"
	TierCaution DomainTier = "caution"
	TierFree    DomainTier = "free"
	TierUnknown DomainTier = "unknown"
)

// SafetyVerdict is the outcome of a safety gate.
type SafetyVerdict struct {
	Allowed              bool   `json:"allowed"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Reason               string `json:"reason,omitempty"`
}

// Allow returns an unconditional allow verdict.
func Allow() SafetyVerdict {
	return SafetyVerdict{Allowed: true}
}

// Deny returns a denial with the given human-readable reason.
func Deny(reason string) SafetyVerdict {
	return SafetyVerdict{Reason: reason}
}

// Confirm returns an allow verdict that needs explicit caller consent.
func Confirm(reason string) SafetyVerdict {
	return SafetyVerdict{Allowed: true, RequiresConfirmation: true, Reason: reason}
}
