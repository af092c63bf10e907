// Package policy evaluates a Verdict against configured policy rules,
// matching typed observations with tenant/sender/recipient scoping and
// resolving the highest-priority action across all matching rules.
// Grounded on original_source/verdict/src/verdict/policy_engine.py, ported
// field-for-field including its tie semantics.
package policy

import (
	"path"
	"strconv"
	"strings"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

// When is a rule's match clause: Analyzer restricts which analyzers'
// observations are considered (empty = all); Observation names the
// required key; exactly one operator field should be non-nil.
type When struct {
	Analyzer    []string
	Observation string
	Equals      *string
	GTE         *float64
	LTE         *float64
	Contains    *string
	Exists      *bool
}

// Rule is one policy record loaded from config.
type Rule struct {
	Name       string
	Tenant     string   // alias, tenant_id, or "*"
	Sender     string   // glob pattern, or "*"
	Recipients []string // glob patterns, or ["*"]
	When       When
	Action     string // delete | quarantine | tag | none
}

// Engine evaluates an ordered rule list against verdicts.
type Engine struct {
	Rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	return &Engine{Rules: rules}
}

// Evaluate scans rules in order, keeping the highest-priority action across
// every matching rule; ties are broken by rule order (first-seen wins,
// since only a strictly greater priority replaces the running best,
// mirroring the source's "> not >=").
func (e *Engine) Evaluate(verdict domain.Verdict) *domain.PolicyDecision {
	var best *domain.PolicyDecision
	bestPriority := -1

	for _, rule := range e.Rules {
		decision := e.evaluateOne(rule, verdict)
		if decision == nil {
			continue
		}
		priority := domain.ActionPriority[decision.Action]
		if priority > bestPriority {
			best = decision
			bestPriority = priority
		}
	}
	return best
}

func (e *Engine) evaluateOne(rule Rule, verdict domain.Verdict) *domain.PolicyDecision {
	if !matchTenant(rule.Tenant, verdict.TenantID, verdict.TenantAlias) {
		return nil
	}
	if !matchGlob(rule.Sender, verdict.Sender) {
		return nil
	}
	if !matchRecipients(rule.Recipients, verdict.Recipients) {
		return nil
	}
	if rule.When.Observation == "" {
		return nil
	}

	for _, result := range verdict.Results {
		if !analyzerSelected(rule.When.Analyzer, result.Analyzer) {
			continue
		}
		obs, ok := result.Observation(rule.When.Observation)
		if !ok {
			continue
		}
		if matchObservation(rule.When, obs) {
			return &domain.PolicyDecision{
				PolicyName:         rule.Name,
				Action:             rule.Action,
				MatchedAnalyzer:    result.Analyzer,
				MatchedObservation: obs,
			}
		}
		// Matched key but operator failed to fire: per source, stop
		// scanning further analyzers for this rule (the first key match
		// is authoritative), same as not matching.
		return nil
	}
	return nil
}

func analyzerSelected(allowed []string, analyzer string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, analyzer) {
			return true
		}
	}
	return false
}

func matchTenant(pattern, tenantID, tenantAlias string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return strings.EqualFold(pattern, tenantID) || strings.EqualFold(pattern, tenantAlias)
}

func matchRecipients(patterns []string, recipients []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		for _, r := range recipients {
			if matchGlob(p, r) {
				return true
			}
		}
	}
	return false
}

// matchGlob resolves the §9 open question: path.Match handles both glob
// patterns and exact matches through the same code path — a pattern with
// no metacharacter degenerates to an exact (case-folded) match for free.
func matchGlob(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(value))
	return err == nil && ok
}

func matchObservation(w When, obs domain.Observation) bool {
	switch {
	case w.Equals != nil:
		return matchEquals(*w.Equals, obs)
	case w.GTE != nil:
		v, ok := obs.NumericValue()
		return ok && v >= *w.GTE
	case w.LTE != nil:
		v, ok := obs.NumericValue()
		return ok && v <= *w.LTE
	case w.Contains != nil:
		return strings.Contains(strings.ToLower(obs.StringValue()), strings.ToLower(*w.Contains))
	case w.Exists != nil:
		return *w.Exists
	default:
		return false
	}
}

func matchEquals(expected string, obs domain.Observation) bool {
	if obs.Kind == domain.KindBoolean {
		truthy := expected == "true" || expected == "True" || expected == "1"
		return obs.BoolValue() == truthy
	}
	return strings.EqualFold(obs.StringValue(), expected)
}

// ParseFloat is a small helper for config loaders building When.GTE/LTE
// from string-typed config values.
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
