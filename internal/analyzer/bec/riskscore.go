package bec

import "math"

// ComputeRiskScore implements step 5: base category weight, behavioural
// flags (dampened by classifier confidence), content signals (not
// dampened — hard regex/keyword evidence), clamped to [0,100].
func ComputeRiskScore(category string, confidence int, flags BehaviouralFlags, content ContentSignals) int {
	weight, ok := CategoryRiskWeights[category]
	if !ok {
		weight = defaultCategoryRiskWeight
	}
	score := weight * 30

	for name, on := range behaviouralFlagMap(flags) {
		if on {
			score += SignalWeights[name]
		}
	}

	confidenceFactor := math.Max(float64(confidence)/100, 0.3)
	score *= confidenceFactor

	for name, on := range contentSignalMap(content) {
		if on {
			score += ContentSignalWeights[name]
		}
	}

	score = math.Round(score)
	return int(math.Max(0, math.Min(100, score)))
}

func behaviouralFlagMap(f BehaviouralFlags) map[string]bool {
	return map[string]bool{
		"is_new_sender":                f.IsNewSender,
		"display_name_anomaly":         f.DisplayNameAnomaly,
		"category_shift":               f.CategoryShift,
		"time_anomaly":                 f.TimeAnomaly,
		"reply_to_mismatch":            f.ReplyToMismatch,
		"is_first_contact":             f.IsFirstContact,
		"low_volume_sensitive_request": f.LowVolumeSensitiveRequest,
		"context_escalation":           f.ContextEscalation,
	}
}

func contentSignalMap(c ContentSignals) map[string]bool {
	return map[string]bool{
		"has_financial_entities":    c.HasFinancialEntities,
		"has_payment_instructions":  c.HasPaymentInstructions,
		"has_urgency_language":      c.HasUrgencyLanguage,
		"has_credential_request":    c.HasCredentialRequest,
		"has_personal_info_request": c.HasPersonalInfoRequest,
	}
}
