// Package notify sends best-effort Slack alerts for critical-risk BEC
// verdicts. The teacher's fraud_detection_service.go left a comment,
// "In production, this would: ... Send Slack alert to security team", for
// exactly this step; this builds it.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// SlackNotifier posts a formatted alert to a fixed channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

// NotifyCriticalBEC posts an alert if the verdict's bec_detector result
// carries bec_risk_level == "critical"; otherwise it's a no-op. A posting
// failure is logged by the caller, never fatal to the dispatch path.
func (n *SlackNotifier) NotifyCriticalBEC(ctx context.Context, verdict domain.Verdict) error {
	result, ok := verdict.Result("bec_detector")
	if !ok {
		return nil
	}
	level, ok := result.Observation("bec_risk_level")
	if !ok || level.StringValue() != "critical" {
		return nil
	}

	var riskScore float64
	if score, ok := result.Observation("bec_risk_score"); ok {
		riskScore, _ = score.NumericValue()
	}
	text := fmt.Sprintf(":rotating_light: *Critical BEC risk detected*\n"+
		"Message: `%s`\nTenant: `%s`\nSender: `%s`\nRecipients: `%v`\nRisk score: `%.0f`",
		verdict.MessageID, verdict.TenantID, verdict.Sender, verdict.Recipients, riskScore)

	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post slack alert: %w", err)
	}
	return nil
}
