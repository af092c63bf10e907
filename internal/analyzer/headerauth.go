package analyzer

import (
	"context"
	"net/mail"
	"regexp"
	"strings"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

func init() {
	Register(&HeaderAuthAnalyzer{})
}

// HeaderAuthAnalyzer parses Authentication-Results (falling back to the
// legacy Received-SPF header for spf when Authentication-Results omits it)
// and flags an envelope/header sender mismatch. Grounded on
// header_analyzer.py's dual-header handling, re-expressed as pass_fail
// observations per §4.1 rather than the legacy cumulative score.
type HeaderAuthAnalyzer struct{}

func (HeaderAuthAnalyzer) Name() string { return "header_auth" }
func (HeaderAuthAnalyzer) Order() int   { return 10 }

var authResultTokenRe = regexp.MustCompile(`(?i)\b(spf|dkim|dmarc)\s*=\s*([a-z]+)`)

func (HeaderAuthAnalyzer) Analyze(ctx context.Context, event domain.EmailEvent) ([]domain.Observation, error) {
	results := map[string]string{"spf": "none", "dkim": "none", "dmarc": "none"}

	if ar, ok := headerValue(event.Headers, "Authentication-Results"); ok {
		for _, m := range authResultTokenRe.FindAllStringSubmatch(ar, -1) {
			mech := strings.ToLower(m[1])
			verdict := normalizeAuthVerdict(m[2])
			results[mech] = verdict
		}
	}

	if results["spf"] == "none" {
		if spf, ok := headerValue(event.Headers, "Received-SPF"); ok {
			results["spf"] = normalizeAuthVerdict(firstWord(spf))
		}
	}

	obs := []domain.Observation{
		domain.PassFail("spf", results["spf"]),
		domain.PassFail("dkim", results["dkim"]),
		domain.PassFail("dmarc", results["dmarc"]),
	}

	envelopeDomain, headerDomain, mismatch := senderMismatch(event)
	obs = append(obs, domain.Boolean("sender_mismatch", mismatch))
	if mismatch {
		obs = append(obs, domain.Text("envelope_domain", envelopeDomain))
	}
	_ = headerDomain

	return obs, nil
}

func normalizeAuthVerdict(v string) string {
	switch strings.ToLower(v) {
	case "pass":
		return "pass"
	case "fail", "softfail", "permerror", "temperror", "neutral", "none":
		return "fail"
	default:
		return "none"
	}
}

func senderMismatch(event domain.EmailEvent) (envelopeDomain, headerDomain string, mismatch bool) {
	headerDomain = event.SenderDomain()

	returnPath, ok := headerValue(event.Headers, "Return-Path")
	if !ok {
		return "", headerDomain, false
	}
	if addr, err := mail.ParseAddress(strings.Trim(returnPath, "<> ")); err == nil {
		envelopeDomain = domainOfAddr(addr.Address)
	} else {
		envelopeDomain = domainOfAddr(strings.Trim(returnPath, "<> "))
	}
	if envelopeDomain == "" || headerDomain == "" {
		return envelopeDomain, headerDomain, false
	}
	return envelopeDomain, headerDomain, !strings.EqualFold(envelopeDomain, headerDomain)
}

func domainOfAddr(addr string) string {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 || i == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s
	}
	return s[:i]
}
