package bec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

func TestAnalyzer_Analyze_Always21Observations(t *testing.T) {
	a := &Analyzer{}
	event := domain.EmailEvent{
		TenantID: "t1",
		Sender:   domain.Address{Address: "a@evil.com", Name: "A Sender"},
		Subject:  "wire transfer needed today",
		Body:     domain.Body{ContentType: "text", Content: "please process this payment urgently"},
	}

	obs, err := a.Analyze(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, obs, 21)
}

func TestAnalyzer_Analyze_UsesInjectedNow(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeBehaviourStore{profile: &domain.SenderProfile{FirstSeenAt: fixed.Add(-3 * 24 * time.Hour)}}
	a := &Analyzer{Store: store, Now: func() time.Time { return fixed }}
	event := domain.EmailEvent{Sender: domain.Address{Address: "a@evil.com"}}

	obs, err := a.Analyze(context.Background(), event)
	require.NoError(t, err)
	for _, o := range obs {
		if o.Key == "is_new_sender" {
			assert.True(t, o.BoolValue(), "a profile first seen 3 days before the injected now is still a new sender")
		}
	}
}

func TestAnalyzer_Analyze_FinancialContentDrivesRiskScoreHigh(t *testing.T) {
	a := &Analyzer{}
	event := domain.EmailEvent{
		Sender: domain.Address{Address: "ceo@corp-finance.com"},
		Body: domain.Body{
			ContentType: "text",
			Content:     "This is urgent, please process this payment via wire transfer to routing number 123456789 immediately.",
		},
	}

	obs, err := a.Analyze(context.Background(), event)
	require.NoError(t, err)

	var score float64
	for _, o := range obs {
		if o.Key == "bec_risk_score" {
			score, _ = o.NumericValue()
		}
	}
	assert.Greater(t, score, float64(0))
}

func TestReplyToDomainOf(t *testing.T) {
	event := domain.EmailEvent{Headers: map[string]string{
		"Reply-To": "\"Finance Team\" <payments@partner.com>",
	}}
	assert.Equal(t, "partner.com", replyToDomainOf(event))

	assert.Equal(t, "", replyToDomainOf(domain.EmailEvent{}))
}

func TestUpdateBehaviouralProfiles_NoBECResultIsNoop(t *testing.T) {
	store := &fakeBehaviourStore{}
	err := UpdateBehaviouralProfiles(context.Background(), store, domain.EmailEvent{}, domain.Verdict{}, time.Now())
	assert.NoError(t, err)
}

func TestUpdateBehaviouralProfiles_UpsertsProfileAndEveryPair(t *testing.T) {
	calls := 0
	store := &countingStore{fakeBehaviourStore: fakeBehaviourStore{}, onPairUpsert: func() { calls++ }}

	event := domain.EmailEvent{
		TenantID: "t1",
		Sender:   domain.Address{Address: "a@evil.com", Name: "A Sender"},
		To:       []domain.Address{{Address: "b@corp.com"}, {Address: "c@corp.com"}},
	}
	verdict := domain.Verdict{
		Results: []domain.AnalysisResult{
			{Analyzer: "bec_detector", Observations: []domain.Observation{domain.Text("intent_category", "urgent_action")}},
		},
	}

	err := UpdateBehaviouralProfiles(context.Background(), store, event, verdict, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "one UpsertSenderRecipientPair call per recipient")
}

type countingStore struct {
	fakeBehaviourStore
	onPairUpsert func()
}

func (c *countingStore) UpsertSenderRecipientPair(ctx context.Context, tenantID, sender, recipient, senderDomain, category string, at time.Time) error {
	c.onPairUpsert()
	return nil
}
