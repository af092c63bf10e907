package bec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeRiskScore_BaseWeightNoSignals(t *testing.T) {
	got := ComputeRiskScore("urgent_action", 100, BehaviouralFlags{}, ContentSignals{})
	assert.Equal(t, 30, got)
}

func TestComputeRiskScore_UnknownCategoryUsesDefaultWeight(t *testing.T) {
	got := ComputeRiskScore("something_unmodeled", 100, BehaviouralFlags{}, ContentSignals{})
	assert.Equal(t, 3, got)
}

func TestComputeRiskScore_LowConfidenceDampensBehaviouralFlagsOnly(t *testing.T) {
	flags := BehaviouralFlags{IsNewSender: true}
	got := ComputeRiskScore("financial_request", 0, flags, ContentSignals{})
	assert.Equal(t, 14, got, "(30 base + 15 flag) * 0.3 confidence floor, rounded")
}

func TestComputeRiskScore_ContentSignalsAddedAfterDampening(t *testing.T) {
	flags := BehaviouralFlags{IsNewSender: true}
	content := ContentSignals{HasFinancialEntities: true}
	got := ComputeRiskScore("financial_request", 0, flags, content)
	assert.Equal(t, 34, got, "content signal weight is added undampened after the confidence floor is applied")
}

func TestComputeRiskScore_ClampsAtUpperBound(t *testing.T) {
	flags := BehaviouralFlags{
		IsNewSender: true, DisplayNameAnomaly: true, CategoryShift: true, TimeAnomaly: true,
		ReplyToMismatch: true, IsFirstContact: true, LowVolumeSensitiveRequest: true, ContextEscalation: true,
	}
	content := ContentSignals{
		HasFinancialEntities: true, HasPaymentInstructions: true, HasUrgencyLanguage: true,
		HasCredentialRequest: true, HasPersonalInfoRequest: true,
	}
	got := ComputeRiskScore("urgent_action", 100, flags, content)
	assert.Equal(t, 100, got)
}

func TestComputeRiskScore_ClampsAtLowerBound(t *testing.T) {
	got := ComputeRiskScore("transactional", 0, BehaviouralFlags{}, ContentSignals{})
	assert.Equal(t, 0, got)
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0, "low"},
		{24.9, "low"},
		{25, "medium"},
		{49.9, "medium"},
		{50, "high"},
		{74.9, "high"},
		{75, "critical"},
		{100, "critical"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskLevel(tt.score), tt.score)
	}
}
