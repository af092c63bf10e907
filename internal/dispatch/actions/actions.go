// Package actions implements the remediation action handlers the
// dispatcher routes verdicts to: two batch-style actions (tag, delete)
// that produce a Graph-API-style batch sub-request, and one direct action
// (quarantine) that calls the remediation endpoint synchronously. Grounded
// on original_source/verdict/src/verdict/actions/{_base,tag,delete,quarantine}.py.
package actions

import (
	"context"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// BatchRequest is one sub-request handed to the batch client, matching the
// $batch wire schema in §6.
type BatchRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

// BatchAction builds a sub-request; execution happens later, coalesced by
// the batch client.
type BatchAction interface {
	BuildRequest(verdict domain.Verdict) BatchRequest
}

// DirectAction calls the remediation API synchronously and returns any
// error to the caller's retry mechanism.
type DirectAction interface {
	Execute(ctx context.Context, verdict domain.Verdict, token string) error
}
