package analyzer

import (
	"context"
	"net"
	"regexp"
	"strings"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
)

func init() {
	Register(&URLCheckAnalyzer{})
}

// URLCheckAnalyzer extracts URLs from the email body and counts categories
// of suspicious hostnames. Grounded on url_analyzer.py's SUSPICIOUS_TLDS,
// SHORTENERS and homoglyph substitution/brand tables, re-expressed as
// observation counts per §4.1 instead of the legacy cumulative score.
type URLCheckAnalyzer struct{}

func (URLCheckAnalyzer) Name() string { return "url_check" }
func (URLCheckAnalyzer) Order() int   { return 20 }

var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
var ipHostRe = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

var suspiciousTLDs = map[string]bool{
	"tk": true, "ml": true, "ga": true, "cf": true, "gq": true,
	"xyz": true, "top": true, "club": true, "work": true, "click": true,
	"loan": true, "win": true, "download": true, "racing": true, "review": true,
}

var shortenerHosts = map[string]bool{
	"bit.ly": true, "tinyurl.com": true, "goo.gl": true, "t.co": true,
	"ow.ly": true, "is.gd": true, "buff.ly": true, "rebrand.ly": true,
	"shorturl.at": true, "cutt.ly": true,
}

// Ordered: "1" must rewrite to "l" before "l" rewrites to "i", or the two
// spellings of the same lookalike normalise to different strings.
var homoglyphSubstitutions = []struct{ from, to string }{
	{"0", "o"}, {"1", "l"}, {"l", "i"}, {"rn", "m"}, {"vv", "w"}, {"5", "s"}, {"3", "e"},
}

var brandDomains = map[string]string{
	"paypal":    "paypal.com",
	"microsoft": "microsoft.com",
	"apple":     "apple.com",
	"amazon":    "amazon.com",
	"google":    "google.com",
	"netflix":   "netflix.com",
	"chase":     "chase.com",
	"wellsfargo": "wellsfargo.com",
}

func (URLCheckAnalyzer) Analyze(ctx context.Context, event domain.EmailEvent) ([]domain.Observation, error) {
	urls := urlRe.FindAllString(event.Body.Content+" "+event.Subject, -1)

	var ipCount, tldCount, shortenerCount, brandCount, manyLabelsCount int

	for _, raw := range urls {
		host := extractHost(raw)
		if host == "" {
			continue
		}
		host = strings.ToLower(host)

		if ipHostRe.MatchString(host) || net.ParseIP(host) != nil {
			ipCount++
		}

		labels := strings.Split(host, ".")
		if len(labels) > 4 {
			manyLabelsCount++
		}

		tld := labels[len(labels)-1]
		if suspiciousTLDs[tld] {
			tldCount++
		}

		if shortenerHosts[host] {
			shortenerCount++
		}

		if isBrandLookalike(host) {
			brandCount++
		}
	}

	return []domain.Observation{
		domain.Numeric("total_url_count", float64(len(urls))),
		domain.Numeric("ip_url_count", float64(ipCount)),
		domain.Numeric("suspicious_tld_count", float64(tldCount)),
		domain.Numeric("shortener_count", float64(shortenerCount)),
		domain.Numeric("brand_lookalike_count", float64(brandCount)),
		domain.Numeric("many_labels_count", float64(manyLabelsCount)),
	}, nil
}

func extractHost(rawURL string) string {
	rest := rawURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	for i, c := range rest {
		if c == '/' || c == '?' || c == '#' || c == ':' {
			return rest[:i]
		}
	}
	return rest
}

func isBrandLookalike(host string) bool {
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	primary := labels[len(labels)-2]

	for brand, officialDomain := range brandDomains {
		if strings.HasSuffix(host, officialDomain) {
			continue // the real thing, not a lookalike
		}
		if primary == brand {
			continue
		}
		if normalizeHomoglyphs(primary) == normalizeHomoglyphs(brand) {
			return true
		}
	}
	return false
}

func normalizeHomoglyphs(s string) string {
	for _, sub := range homoglyphSubstitutions {
		s = strings.ReplaceAll(s, sub.from, sub.to)
	}
	return s
}
