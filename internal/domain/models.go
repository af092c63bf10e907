// Package domain holds the core types shared by the analyzer pipeline, the
// BEC profiling subsystem, the policy engine and the remediation dispatcher.
// Types here are immutable after construction except where a doc comment
// says otherwise (SenderProfile/SenderRecipientPair counters, which only
// ever increase).
package domain

import (
	"encoding/json"
	"time"
)

// Address is a named mailbox address ({address,name} in the wire schema).
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Body is the email's rendered content plus its declared content type.
type Body struct {
	ContentType string `json:"content_type"` // "text" or "html"
	Content     string `json:"content"`
}

// Attachment is one file attached to the message. ContentBytes is base64 or
// empty when the ingester chose not to ship bytes for this attachment.
type Attachment struct {
	Name          string `json:"name"`
	ContentType   string `json:"content_type"`
	Size          int64  `json:"size"`
	ContentBase64 string `json:"content_bytes,omitempty"`
}

// EmailEvent is the immutable input to the analysis pipeline, constructed
// once per message by the out-of-scope ingester and never mutated
// thereafter.
type EmailEvent struct {
	MessageID   string            `json:"message_id"`
	TenantID    string            `json:"tenant_id"`
	TenantAlias string            `json:"tenant_alias,omitempty"`
	UserID      string            `json:"user_id"`
	ReceivedAt  time.Time         `json:"received_at"`
	Sender      Address           `json:"sender"`
	To          []Address         `json:"to"`
	Subject     string            `json:"subject"`
	Body        Body              `json:"body"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`
}

// emailEventWire mirrors EmailEvent's wire shape except for the sender,
// which the ingester emits as either the schema form {"from":{"address",
// "name"}} or the flat form {"sender","sender_name"} — the schema form
// takes precedence when both are present (§6).
type emailEventWire struct {
	MessageID   string            `json:"message_id"`
	TenantID    string            `json:"tenant_id"`
	TenantAlias string            `json:"tenant_alias,omitempty"`
	UserID      string            `json:"user_id"`
	ReceivedAt  time.Time         `json:"received_at"`
	From        *Address          `json:"from"`
	Sender      string            `json:"sender"`
	SenderName  string            `json:"sender_name"`
	To          []Address         `json:"to"`
	Subject     string            `json:"subject"`
	Body        Body              `json:"body"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`
}

// UnmarshalJSON accepts both sender wire forms described in §6: the schema
// form ("from": {"address","name"}) takes precedence over the flat form
// ("sender"/"sender_name") when both are present.
func (e *EmailEvent) UnmarshalJSON(data []byte) error {
	var w emailEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.MessageID = w.MessageID
	e.TenantID = w.TenantID
	e.TenantAlias = w.TenantAlias
	e.UserID = w.UserID
	e.ReceivedAt = w.ReceivedAt
	e.To = w.To
	e.Subject = w.Subject
	e.Body = w.Body
	e.Headers = w.Headers
	e.Attachments = w.Attachments

	if w.From != nil {
		e.Sender = *w.From
	} else {
		e.Sender = Address{Address: w.Sender, Name: w.SenderName}
	}
	return nil
}

// MarshalJSON emits the schema sender form ("from") alongside the flat
// form, so the EmailEvent<->JSON round trip is lossless regardless of
// which form a future reader expects.
func (e EmailEvent) MarshalJSON() ([]byte, error) {
	w := emailEventWire{
		MessageID:   e.MessageID,
		TenantID:    e.TenantID,
		TenantAlias: e.TenantAlias,
		UserID:      e.UserID,
		ReceivedAt:  e.ReceivedAt,
		From:        &e.Sender,
		Sender:      e.Sender.Address,
		SenderName:  e.Sender.Name,
		To:          e.To,
		Subject:     e.Subject,
		Body:        e.Body,
		Headers:     e.Headers,
		Attachments: e.Attachments,
	}
	return json.Marshal(w)
}

// SenderDomain returns the lower-cased domain part of the sender address, or
// "" if the address is malformed.
func (e EmailEvent) SenderDomain() string {
	return domainOf(e.Sender.Address)
}

// Recipients returns the bare addresses from To, in order.
func (e EmailEvent) Recipients() []string {
	out := make([]string, len(e.To))
	for i, a := range e.To {
		out[i] = a.Address
	}
	return out
}

func domainOf(address string) string {
	at := -1
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == '@' {
			at = i
			break
		}
	}
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return lower(address[at+1:])
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// AnalysisResult is one analyzer's complete output for one event.
type AnalysisResult struct {
	Analyzer          string        `json:"analyzer"`
	Observations      []Observation `json:"observations"`
	ProcessingTimeMS  float64       `json:"processing_time_ms"`
}

// Observation returns the first observation with the given key, and whether
// one was found. Used by the policy engine's observation scan.
func (r AnalysisResult) Observation(key string) (Observation, bool) {
	for _, o := range r.Observations {
		if o.Key == key {
			return o, true
		}
	}
	return Observation{}, false
}

// Verdict is the collection shipped from analysis to remediation: every
// registered analyzer's result for one event.
type Verdict struct {
	MessageID   string           `json:"message_id"`
	TenantID    string           `json:"tenant_id"`
	TenantAlias string           `json:"tenant_alias,omitempty"`
	UserID      string           `json:"user_id"`
	Sender      string           `json:"sender"`
	Recipients  []string         `json:"recipients"`
	Results     []AnalysisResult `json:"results"`
}

// Result returns the AnalysisResult for the named analyzer, if present.
func (v Verdict) Result(analyzer string) (AnalysisResult, bool) {
	for _, r := range v.Results {
		if r.Analyzer == analyzer {
			return r, true
		}
	}
	return AnalysisResult{}, false
}

// SenderProfile is the per-tenant behavioural baseline keyed by
// (tenant_id, sender_domain). Counters never decrease; the BEC store bumps
// them with atomic SQL statements and never writes this struct back.
type SenderProfile struct {
	TenantID          string
	SenderDomain      string
	EmailCount        int
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	KnownDisplayNames []string
	TypicalCategories map[string]int
	TypicalSendHours  map[int]int
	ReplyToDomains    []string
}

// TenureDays is the profile's age in days at t, including the fractional
// part.
func (p SenderProfile) TenureDays(t time.Time) float64 {
	return t.Sub(p.FirstSeenAt).Hours() / 24
}

// IsNew reports whether the profile is younger than 7 days at t.
func (p SenderProfile) IsNew(t time.Time) bool {
	return p.TenureDays(t) < 7
}

// DominantCategory returns the category with the highest count, or "" if
// none recorded.
func (p SenderProfile) DominantCategory() string {
	best, bestCount := "", -1
	for cat, n := range p.TypicalCategories {
		if n > bestCount {
			best, bestCount = cat, n
		}
	}
	return best
}

// SenderRecipientPair is keyed by (tenant_id, sender_address,
// recipient_address).
type SenderRecipientPair struct {
	TenantID             string
	SenderAddress        string
	RecipientAddress     string
	SenderDomain         string
	MessageCount         int
	FirstContactAt       time.Time
	LastContactAt        time.Time
	CategoryDistribution map[string]int
}

// IsFirstContact reports whether no prior messages have been recorded for
// this pair.
func (p SenderRecipientPair) IsFirstContact() bool {
	return p.MessageCount == 0
}

// PolicyDecision is the outcome of evaluating one matching policy rule
// against a Verdict: exactly one observation is carried as evidence, per the
// testable-properties invariant that a decision's matched_observations
// contains only the observation whose operator actually fired.
type PolicyDecision struct {
	PolicyName        string
	Action            string
	MatchedAnalyzer   string
	MatchedObservation Observation
}

// PolicyOutcome is the decision record persisted per (message_id,
// policy_name); writing an existing key updates it in place.
type PolicyOutcome struct {
	MessageID          string
	PolicyName         string
	TenantID           string
	ActionTaken        string
	MatchedObservations []Observation
	CreatedAt          time.Time
}

// ActionPriority orders remediation actions so the dispatcher and policy
// engine can pick the single highest-priority match across rules.
var ActionPriority = map[string]int{
	"delete":     4,
	"quarantine": 3,
	"tag":        2,
	"none":       1,
}
