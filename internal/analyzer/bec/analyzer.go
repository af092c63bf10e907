package bec

import (
	"context"
	"strings"
	"time"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/htmlstrip"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

// Analyzer is the bec_detector analyzer (order=45). It does not import the
// analyzer package to avoid a cycle; internal/analyzer/bec.go registers it
// structurally against the analyzer.Analyzer interface.
type Analyzer struct {
	Store      ports.Store
	Classifier ports.Classifier
	Now        func() time.Time
}

func (a *Analyzer) Name() string { return "bec_detector" }
func (a *Analyzer) Order() int   { return 45 }

func (a *Analyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Analyze runs the 5-step pipeline and emits exactly 21 observations, every
// time, per §4.2.
func (a *Analyzer) Analyze(ctx context.Context, event domain.EmailEvent) ([]domain.Observation, error) {
	// Step 1: HTML-to-text.
	plain := toPlainText(event)

	// Step 2: content-signal scan.
	content := ScanContentSignals(plain)

	// Step 3: intent classification.
	classifier := a.Classifier
	if classifier == nil {
		classifier = NullClassifier{}
	}
	category, confidence, topics := ClassifyIntent(classifier, plain)

	// Step 4: behavioural lookup.
	replyToDomain := replyToDomainOf(event)
	flags := lookupBehaviour(ctx, a.Store, event, category, a.now(), replyToDomain)

	// Step 5: composite risk score.
	score := ComputeRiskScore(category, confidence, flags, content)
	level := RiskLevel(float64(score))

	return []domain.Observation{
		domain.Boolean("has_financial_entities", content.HasFinancialEntities),
		domain.Boolean("has_payment_instructions", content.HasPaymentInstructions),
		domain.Boolean("has_urgency_language", content.HasUrgencyLanguage),
		domain.Boolean("has_credential_request", content.HasCredentialRequest),
		domain.Boolean("has_personal_info_request", content.HasPersonalInfoRequest),
		domain.Numeric("urgency_score", content.UrgencyScore),
		domain.Numeric("formality_score", content.FormalityScore),
		domain.Text("intent_category", category),
		domain.Numeric("intent_confidence", float64(confidence)),
		domain.Text("topics_detected", strings.Join(topics, ",")),
		domain.Boolean("is_new_sender", flags.IsNewSender),
		domain.Numeric("sender_tenure_days", flags.SenderTenureDays),
		domain.Boolean("display_name_anomaly", flags.DisplayNameAnomaly),
		domain.Boolean("category_shift", flags.CategoryShift),
		domain.Boolean("time_anomaly", flags.TimeAnomaly),
		domain.Boolean("reply_to_mismatch", flags.ReplyToMismatch),
		domain.Boolean("is_first_contact", flags.IsFirstContact),
		domain.Boolean("low_volume_sensitive_request", flags.LowVolumeSensitiveRequest),
		domain.Boolean("context_escalation", flags.ContextEscalation),
		domain.Numeric("bec_risk_score", float64(score)),
		domain.Text("bec_risk_level", level),
	}, nil
}

func toPlainText(event domain.EmailEvent) string {
	body := event.Body.Content
	if htmlstrip.LooksLikeHTML(event.Body.ContentType, body) {
		body = htmlstrip.Strip(body)
	}
	return "Subject: " + event.Subject + "\n\n" + body
}

func replyToDomainOf(event domain.EmailEvent) string {
	for k, v := range event.Headers {
		if strings.EqualFold(k, "Reply-To") {
			at := strings.LastIndexByte(v, '@')
			if at < 0 {
				return ""
			}
			end := len(v)
			if gt := strings.IndexByte(v[at:], '>'); gt >= 0 {
				end = at + gt
			}
			return strings.ToLower(strings.TrimSpace(v[at+1 : end]))
		}
	}
	return ""
}

// UpdateBehaviouralProfiles is the post-analysis step (not part of
// Analyze): after the verdict is persisted, best-effort upsert the
// SenderProfile and every SenderRecipientPair. Failure is logged by the
// caller, never surfaced — matches
// original_source/.../bec/analyzer.py's update_behavioral_profiles, which
// is deliberately not called from analyze().
func UpdateBehaviouralProfiles(ctx context.Context, store ports.Store, event domain.EmailEvent, verdict domain.Verdict, at time.Time) error {
	result, ok := verdict.Result("bec_detector")
	if !ok {
		return nil
	}
	category := "informational"
	if obs, ok := result.Observation("intent_category"); ok {
		category = obs.StringValue()
	}

	senderDomain := event.SenderDomain()
	replyToDomain := replyToDomainOf(event)
	sendHour := event.ReceivedAt.UTC().Hour()

	if err := store.UpsertSenderProfile(ctx, event.TenantID, senderDomain, event.Sender.Name, category, sendHour, replyToDomain, at); err != nil {
		return err
	}

	for _, recipient := range event.Recipients() {
		if err := store.UpsertSenderRecipientPair(ctx, event.TenantID, event.Sender.Address, recipient, senderDomain, category, at); err != nil {
			return err
		}
	}
	return nil
}
