package actions

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// DeleteAction builds a Graph API move-to-deleted-items sub-request.
type DeleteAction struct{}

func (DeleteAction) BuildRequest(verdict domain.Verdict) BatchRequest {
	return BatchRequest{
		ID:     uuid.NewString(),
		Method: "POST",
		URL:    fmt.Sprintf("/users/%s/messages/%s/move", verdict.UserID, verdict.MessageID),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: map[string]string{
			"destinationId": "deleteditems",
		},
	}
}
