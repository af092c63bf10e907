// Package ports defines the contracts the analyzer pipeline, BEC subsystem,
// dispatcher and workers depend on, implemented by concrete adapters under
// internal/adapters. Mirrors the teacher's ports/adapters split
// (internal/ports/{storage,email_provider}.go), generalised to this
// pipeline's durable store, ephemeral cache and queue.
package ports

import (
	"context"
	"time"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// Store is the durable-store contract (§4.3): event/result/outcome upserts
// with dedup, plus the BEC subsystem's behavioural-profile reads and
// writes.
type Store interface {
	// IsMessageProcessed reports whether a PolicyOutcome already exists for
	// message_id; the remediation worker's dedup gate.
	IsMessageProcessed(ctx context.Context, messageID string) (bool, error)

	// StoreEvent is an idempotent upsert on message_id; returns the
	// event's durable row id (existing or newly created).
	StoreEvent(ctx context.Context, event domain.EmailEvent) (string, error)

	// StoreAnalysisResults persists one row per analyzer result for the
	// given durable event id.
	StoreAnalysisResults(ctx context.Context, eventID string, results []domain.AnalysisResult) error

	// StoreOutcome is an idempotent upsert keyed by (message_id,
	// policy_name): an existing row is updated in place.
	StoreOutcome(ctx context.Context, outcome domain.PolicyOutcome) error

	// GetSenderProfile returns the profile for (tenant_id, sender_domain),
	// or nil if none exists yet.
	GetSenderProfile(ctx context.Context, tenantID, senderDomain string) (*domain.SenderProfile, error)

	// GetSenderRecipientPair returns the address-level pair, or nil.
	GetSenderRecipientPair(ctx context.Context, tenantID, sender, recipient string) (*domain.SenderRecipientPair, error)

	// GetDomainPairSummary returns a synthetic pair aggregating every
	// sender address in senderDomain that has messaged recipient, or nil
	// if the aggregate total is zero.
	GetDomainPairSummary(ctx context.Context, tenantID, senderDomain, recipient string) (*domain.SenderRecipientPair, error)

	// UpsertSenderProfile bumps counters and unions display
	// names/reply-to-domains for (tenant_id, sender_domain) as a
	// best-effort post-analysis step.
	UpsertSenderProfile(ctx context.Context, tenantID, senderDomain, displayName, category string, sendHour int, replyToDomain string, at time.Time) error

	// UpsertSenderRecipientPair bumps the pair's counters and category
	// distribution.
	UpsertSenderRecipientPair(ctx context.Context, tenantID, sender, recipient, senderDomain, category string, at time.Time) error

	Close() error
}

// Cache is the ephemeral-cache contract (§6): TTL key-value plus atomic
// list operations backing the DNSBL cache and the batch buffer.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error

	ListPush(ctx context.Context, key string, value string) error
	ListLen(ctx context.Context, key string) (int64, error)
	// ListPopN atomically pops up to n items from the tail of the list
	// (the oldest N of an ever-growing push-at-head buffer), returning
	// them oldest-first, per batch_client.py's lrange(-N,-1)+ltrim(0,-N-1)
	// pipeline.
	ListPopN(ctx context.Context, key string, n int64) ([]string, error)
}

// Queue is the external emails/verdicts queue contract (§6).
type Queue interface {
	Publish(ctx context.Context, queue string, payload []byte) error
	// Consume blocks until a payload is available or ctx is cancelled. The
	// payload is not considered delivered until Ack is called with it; a
	// worker that crashes between Consume and Ack must see the payload
	// redelivered (§5: "a crashed worker must re-enqueue the task").
	Consume(ctx context.Context, queue string) ([]byte, error)
	// Ack confirms successful processing of a payload previously returned
	// by Consume, permanently removing it from the queue's recovery list.
	Ack(ctx context.Context, queue string, payload []byte) error
}

// TokenProvider issues a bearer token for the named tenant, used by the
// dispatcher and batch client to authenticate remediation API calls.
type TokenProvider interface {
	GetToken(ctx context.Context, tenantID string) (string, error)
}

// Classifier is the zero-shot multi-label intent classifier seam (§4.2 step
// 3, §9 lazy singleton). The default implementation always reports
// unavailable; a real model is wired in behind this interface outside this
// module's scope (§1, "ML model loading glue" is out of scope).
type Classifier interface {
	// Classify scores text against candidateLabels, returning parallel
	// label/score slices. Returns ok=false when no model is loaded.
	Classify(text string, candidateLabels []string) (labels []string, scores []float64, ok bool)
}
