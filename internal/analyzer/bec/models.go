// Package bec implements the business-email-compromise behavioural
// profiling subsystem: content-signal scanning, optional multi-label
// intent classification, sender/pair baseline lookup, and the composite
// risk score. Grounded field-for-field on
// original_source/analysis/src/analysis/analyzers/bec/{analyzer,signals,models,db}.py,
// the newer 21-observation multi-label variant (§9 open question #2), not
// the legacy 13-observation single-label one.
package bec

// IntentCategories is ordered highest-risk first; classification picks the
// single top-scoring category as intent_category.
var IntentCategories = []string{
	"urgent_action",
	"financial_request",
	"credential_request",
	"authority_impersonation",
	"relationship_building",
	"informational",
	"transactional",
}

// CandidateLabels pairs 1:1 with IntentCategories — the natural-language
// hypothesis strings handed to the zero-shot classifier.
var CandidateLabels = []string{
	"This message demands urgent, time-pressured action.",
	"This message requests a financial transaction or payment.",
	"This message requests login credentials or account verification.",
	"This message impersonates an authority figure or executive.",
	"This message is building rapport or a working relationship.",
	"This message shares informational, non-actionable content.",
	"This message is routine transactional correspondence.",
}

// CategoryRiskWeights scales the base risk score by intent category.
var CategoryRiskWeights = map[string]float64{
	"urgent_action":           1.0,
	"financial_request":       1.0,
	"credential_request":      0.9,
	"authority_impersonation": 0.7,
	"relationship_building":   0.4,
	"informational":           0.1,
	"transactional":           0.05,
}

const defaultCategoryRiskWeight = 0.1

// HighRiskCategories gates category_shift and the first-contact/low-volume
// flags.
var HighRiskCategories = map[string]bool{
	"urgent_action":      true,
	"financial_request":  true,
	"credential_request": true,
}

// SignalWeights are added to the composite score per true behavioural
// flag, before the confidence dampener is applied.
var SignalWeights = map[string]float64{
	"is_new_sender":                15,
	"display_name_anomaly":         10,
	"category_shift":               20,
	"time_anomaly":                 10,
	"reply_to_mismatch":            15,
	"is_first_contact":             10,
	"low_volume_sensitive_request": 15,
	"context_escalation":           15,
}

// ContentSignalWeights are added after the dampener — hard regex/keyword
// evidence is never discounted by classifier confidence.
var ContentSignalWeights = map[string]float64{
	"has_financial_entities":      20,
	"has_payment_instructions":    15,
	"has_urgency_language":        10,
	"has_credential_request":      15,
	"has_personal_info_request":   10,
}

// RiskLevel converts a 0-100 composite score to its categorical level per
// §4.2's boundary table (25->medium, 49->medium, 50->high, 74->high,
// 75->critical).
func RiskLevel(score float64) string {
	switch {
	case score >= 75:
		return "critical"
	case score >= 50:
		return "high"
	case score >= 25:
		return "medium"
	default:
		return "low"
	}
}

// ContentSignals is the output of the zero-cost regex-only content scan
// (step 2).
type ContentSignals struct {
	HasFinancialEntities    bool
	HasPaymentInstructions  bool
	HasUrgencyLanguage      bool
	HasCredentialRequest    bool
	HasPersonalInfoRequest  bool
	UrgencyScore            float64
	FormalityScore          float64
}

// BehaviouralFlags is the output of step 4's baseline lookup.
type BehaviouralFlags struct {
	IsNewSender               bool
	SenderTenureDays          float64
	DisplayNameAnomaly        bool
	CategoryShift             bool
	TimeAnomaly               bool
	ReplyToMismatch           bool
	IsFirstContact            bool
	LowVolumeSensitiveRequest bool
	ContextEscalation         bool
}
