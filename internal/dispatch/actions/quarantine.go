package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/sony/gobreaker"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

const remediateURLTemplate = "%s/security/collaboration/analyzedEmails/remediate"

// QuarantineAction calls the remediation endpoint synchronously (a direct
// action, not batched), wrapped in a circuit breaker so a downed
// remediation API doesn't pin the dispatching worker on its HTTP timeout —
// the pack's idiomatic answer (github.com/sony/gobreaker) to the
// transport-failure error kind the source never addresses.
type QuarantineAction struct {
	APIBase  string
	Client   *http.Client
	Breaker  *gobreaker.CircuitBreaker
	Severity string
}

func NewQuarantineAction(apiBase string, client *http.Client) *QuarantineAction {
	severity := os.Getenv("DEFENDER_REMEDIATE_SEVERITY")
	if severity == "" {
		severity = "high"
	}
	return &QuarantineAction{
		APIBase:  apiBase,
		Client:   client,
		Severity: severity,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "remediation-direct",
			MaxRequests: 1,
		}),
	}
}

func (q *QuarantineAction) Execute(ctx context.Context, verdict domain.Verdict, token string) error {
	recipients := verdict.Recipients
	if len(recipients) == 0 {
		recipients = []string{verdict.UserID}
	}

	analyzedEmails := make([]map[string]string, 0, len(recipients))
	for _, r := range recipients {
		analyzedEmails = append(analyzedEmails, map[string]string{
			"networkMessageId":    verdict.MessageID,
			"recipientEmailAddress": r,
		})
	}

	body := map[string]interface{}{
		"displayName":    "BlackChamber ICES automated remediation",
		"description":    fmt.Sprintf("Automated quarantine for message %s", verdict.MessageID),
		"severity":       q.Severity,
		"action":         "softDelete",
		"remediateBy":    "automation",
		"analyzedEmails": analyzedEmails,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal remediate body: %w", err)
	}

	_, err = q.Breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf(remediateURLTemplate, q.APIBase), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := q.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("remediate endpoint returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
