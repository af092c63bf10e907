// Package dispatch implements the remediation dispatcher (§4.5): given a
// Verdict, evaluate policy, locate the matching action handler, and
// dispatch — batch actions go to the batch client, the direct
// (quarantine) action calls the remediation API synchronously. A
// PolicyOutcome is written for action=none and for every successful
// dispatch, so the dedup gate fires on retries; a failed dispatch writes
// nothing, keeping the gate open so the queue's retry mechanism can
// re-attempt the remediation.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/dispatch/actions"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/obs"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/policy"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

// BatchAdder is the subset of the batch client's API the dispatcher needs.
type BatchAdder interface {
	Add(ctx context.Context, request actions.BatchRequest) error
}

type Dispatcher struct {
	Engine        *policy.Engine
	Store         ports.Store
	Tokens        ports.TokenProvider
	Batch         BatchAdder
	BatchActions  map[string]actions.BatchAction
	DirectActions map[string]actions.DirectAction
	Metrics       *obs.Metrics
	Now           func() time.Time
}

func New(engine *policy.Engine, store ports.Store, tokens ports.TokenProvider, batch BatchAdder, quarantine actions.DirectAction) *Dispatcher {
	return &Dispatcher{
		Engine: engine,
		Store:  store,
		Tokens: tokens,
		Batch:  batch,
		BatchActions: map[string]actions.BatchAction{
			"tag":    actions.TagAction{},
			"delete": actions.DeleteAction{},
		},
		DirectActions: map[string]actions.DirectAction{
			"quarantine": quarantine,
		},
	}
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch evaluates policy for verdict and routes to the matching action.
// A handler failure (token fetch, batch buffering, the direct HTTP call)
// returns before the outcome is written: the message stays unprocessed in
// the dedup gate's eyes and the task retry mechanism re-attempts it (§7),
// preserving exactly-one remediation instead of zero.
func (d *Dispatcher) Dispatch(ctx context.Context, verdict domain.Verdict) error {
	decision := d.Engine.Evaluate(verdict)

	action := "none"
	policyName := ""
	var matched []domain.Observation

	if decision != nil {
		action = decision.Action
		policyName = decision.PolicyName
		matched = []domain.Observation{decision.MatchedObservation}
	}

	if d.Metrics != nil {
		d.Metrics.PolicyDecisions.WithLabelValues(action).Inc()
	}

	switch action {
	case "tag", "delete":
		if handler, ok := d.BatchActions[action]; ok && d.Batch != nil {
			req := handler.BuildRequest(verdict)
			if err := d.Batch.Add(ctx, req); err != nil {
				return fmt.Errorf("%s: add to batch: %w", action, err)
			}
		}
	case "quarantine":
		if handler, ok := d.DirectActions[action]; ok {
			token, err := d.Tokens.GetToken(ctx, verdict.TenantID)
			if err != nil {
				return fmt.Errorf("quarantine: fetch token: %w", err)
			}
			if err := handler.Execute(ctx, verdict, token); err != nil {
				return fmt.Errorf("quarantine: %w", err)
			}
		}
	case "none":
		// no handler invoked; the outcome below still records the
		// decision so the dedup gate fires on redelivery.
	}

	outcome := domain.PolicyOutcome{
		MessageID:           verdict.MessageID,
		PolicyName:          outcomePolicyName(policyName),
		TenantID:            verdict.TenantID,
		ActionTaken:         action,
		MatchedObservations: matched,
		CreatedAt:           d.now(),
	}
	if err := d.Store.StoreOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("store policy outcome: %w", err)
	}

	return nil
}

func outcomePolicyName(name string) string {
	if name == "" {
		return "none"
	}
	return name
}
