package bec

import (
	"math"
	"regexp"
	"strings"
)

// Keyword lists grounded on signals.py's four keyword tables. Phrases are
// matched as lower-cased substrings.
var urgencyKeywords = []string{
	"urgent", "immediately", "asap", "right away", "as soon as possible",
	"action required", "act now", "time sensitive", "time-sensitive",
	"deadline", "reply immediately", "before end of day", "today only",
}

var paymentKeywords = []string{
	"wire transfer", "bank transfer", "payment", "invoice", "routing number",
	"account number", "swift code", "iban", "remit", "outstanding balance",
	"process this payment", "bank details", "wire the funds",
}

var credentialKeywords = []string{
	"password", "login", "verify your account", "click here to verify",
	"update your credentials", "security alert", "confirm your identity",
	"reset your password", "sign in to confirm", "account suspended",
}

var personalInfoKeywords = []string{
	"social security", "ssn", "date of birth", "passport number",
	"driver's license", "tax id", "w-2", "direct deposit form",
	"bank account details", "employee id",
}

var formalMarkers = []string{
	"sincerely", "regards", "dear", "please find attached", "kind regards",
	"best regards", "yours faithfully", "to whom it may concern",
}

var informalMarkers = []string{
	"hey", "hi there", "thanks!", "btw", "lol", "cheers", "gonna", "yep",
}

// Financial entity regexes, ported verbatim from signals.py.
var routingRe = regexp.MustCompile(`(?i)(?:routing|aba|transit)[^\d]{0,20}(\d{9})\b`)
var accountRe = regexp.MustCompile(`(?i)(?:account|acct)[^\d]{0,20}(\d{8,17})\b`)
var bankNameRe = regexp.MustCompile(`(?i:bank)[:\s]+([A-Z][A-Za-z\s&'.]{2,30})`)

func countKeywordHits(lowerText string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lowerText, kw) {
			hits++
		}
	}
	return hits
}

// ScanContentSignals runs the zero-cost regex-only scan over plain text
// (already HTML-stripped and whitespace-collapsed).
func ScanContentSignals(text string) ContentSignals {
	lower := strings.ToLower(text)

	urgencyHits := countKeywordHits(lower, urgencyKeywords)
	paymentHits := countKeywordHits(lower, paymentKeywords)
	credentialHits := countKeywordHits(lower, credentialKeywords)
	personalHits := countKeywordHits(lower, personalInfoKeywords)

	hasRouting := routingRe.MatchString(text)
	hasAccount := accountRe.MatchString(text)
	hasBankName := bankNameRe.MatchString(text)
	hasFinancialEntities := hasRouting || hasAccount || hasBankName

	formalHits := countKeywordHits(lower, formalMarkers)
	informalHits := countKeywordHits(lower, informalMarkers)

	var formality float64 = 50
	if formalHits+informalHits > 0 {
		formality = math.Round(float64(formalHits) / float64(formalHits+informalHits) * 100)
	}

	return ContentSignals{
		HasFinancialEntities:   hasFinancialEntities,
		HasPaymentInstructions: paymentHits > 0,
		HasUrgencyLanguage:     urgencyHits > 0,
		HasCredentialRequest:   credentialHits > 0,
		HasPersonalInfoRequest: personalHits > 0,
		UrgencyScore:           math.Min(100, float64(urgencyHits)*20),
		FormalityScore:         formality,
	}
}
