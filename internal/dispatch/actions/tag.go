package actions

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// TagAction builds a Graph API PATCH sub-request categorising and flagging
// the message. Label mirrors the source's legacy score-to-label mapping,
// now driven by the BEC risk level when present.
type TagAction struct{}

func (TagAction) BuildRequest(verdict domain.Verdict) BatchRequest {
	label := labelFor(verdict)
	return BatchRequest{
		ID:     uuid.NewString(),
		Method: "PATCH",
		URL:    fmt.Sprintf("/users/%s/messages/%s", verdict.UserID, verdict.MessageID),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: map[string]interface{}{
			"categories": []string{"BCEM: " + label},
			"flag": map[string]string{
				"flagStatus": "flagged",
			},
		},
	}
}

func labelFor(verdict domain.Verdict) string {
	if result, ok := verdict.Result("bec_detector"); ok {
		if level, ok := result.Observation("bec_risk_level"); ok {
			return level.StringValue()
		}
	}
	return "suspicious"
}
