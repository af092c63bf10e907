package analyzer

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/htmlstrip"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

// SaaSVendor is one catalog entry, compiled out-of-process by the
// out-of-scope scripts/compile_saas_catalog.py and consumed here as a
// pre-built JSON file per §1.
type SaaSVendor struct {
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

var (
	vendorCatalogOnce sync.Once
	vendorCatalog     map[string]SaaSVendor // keyed by registered domain suffix
)

// loadVendorCatalog loads saas_vendors.json once per process into an
// immutable map, matching saas_usage_analyzer.py's _load_vendor_data
// lazy-load-once idiom, with the same graceful empty-map fallback on a
// missing file.
func loadVendorCatalog(path string) map[string]SaaSVendor {
	vendorCatalogOnce.Do(func() {
		vendorCatalog = map[string]SaaSVendor{}
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		var vendors []SaaSVendor
		if err := json.Unmarshal(data, &vendors); err != nil {
			return
		}
		for _, v := range vendors {
			vendorCatalog[strings.ToLower(v.Domain)] = v
		}
	})
	return vendorCatalog
}

var marketingMailers = map[string]bool{
	"mailchimp": true, "sendgrid": true, "hubspot": true, "marketo": true,
	"constantcontact": true, "klaviyo": true, "braze": true,
}

// SaaSUsageAnalyzer looks up the sender domain in the pre-built catalog via
// longest-suffix match and, if matched, classifies subject+body into
// {usage, marketing}. Grounded on saas_usage_analyzer.py.
type SaaSUsageAnalyzer struct {
	CatalogPath string
	Classifier  ports.Classifier
}

func init() {
	Register(&SaaSUsageAnalyzer{CatalogPath: "saas_vendors.json"})
}

func (SaaSUsageAnalyzer) Name() string { return "saas_usage" }
func (SaaSUsageAnalyzer) Order() int   { return 50 }

var saasCandidateLabels = []string{
	"This message is a product or service notification from using a SaaS application.",
	"This message is a marketing or promotional email from a SaaS vendor.",
}
var saasCategories = []string{"usage", "marketing"}

func (a *SaaSUsageAnalyzer) Analyze(ctx context.Context, event domain.EmailEvent) ([]domain.Observation, error) {
	catalog := loadVendorCatalog(a.CatalogPath)

	vendor, matched := longestSuffixMatch(catalog, event.SenderDomain())
	if !matched {
		return []domain.Observation{domain.Boolean("is_saas", false)}, nil
	}

	obs := []domain.Observation{
		domain.Boolean("is_saas", true),
		domain.Text("saas_vendor", vendor.Name),
		domain.Text("saas_category", vendor.Category),
	}

	classifier := a.Classifier
	if classifier == nil {
		classifier = nullSaaSClassifier{}
	}

	text := event.Subject + " " + event.Body.Content
	if htmlstrip.LooksLikeHTML(event.Body.ContentType, text) {
		text = htmlstrip.Strip(text)
	}
	if len(text) > 500 {
		text = text[:500]
	}

	labels, scores, ok := classifier.Classify(text, saasCandidateLabels)
	if !ok || len(labels) == 0 {
		return obs, nil
	}

	best, bestScore := 0, -1.0
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	category := saasCategories[best]
	confidence := int(math.Round(bestScore * 100))
	confidence = adjustConfidence(confidence, category, event)

	return append(obs,
		domain.Text("category", category),
		domain.Numeric("confidence", float64(confidence)),
	), nil
}

// adjustConfidence applies the ±5-per-corroborating/contradicting-header
// rule: List-Unsubscribe, Precedence: bulk|list, Auto-Submitted and a
// known marketing X-Mailer all indicate bulk/marketing mail. Each one
// corroborates a "marketing" classification (confidence +5) and
// contradicts a "usage" classification (confidence -5).
func adjustConfidence(confidence int, category string, event domain.EmailEvent) int {
	signals := 0
	if _, ok := headerValue(event.Headers, "List-Unsubscribe"); ok {
		signals++
	}
	if precedence, ok := headerValue(event.Headers, "Precedence"); ok {
		p := strings.ToLower(precedence)
		if p == "bulk" || p == "list" {
			signals++
		}
	}
	if _, ok := headerValue(event.Headers, "Auto-Submitted"); ok {
		signals++
	}
	if mailer, ok := headerValue(event.Headers, "X-Mailer"); ok {
		lower := strings.ToLower(mailer)
		for known := range marketingMailers {
			if strings.Contains(lower, known) {
				signals++
				break
			}
		}
	}

	delta := signals * 5
	if category == "usage" {
		delta = -delta
	}

	confidence += delta
	if confidence > 100 {
		return 100
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

// longestSuffixMatch finds the catalog entry whose domain is the longest
// dot-label suffix of senderDomain, e.g. "eu.mail.salesforce.com" matches
// "salesforce.com".
func longestSuffixMatch(catalog map[string]SaaSVendor, senderDomain string) (SaaSVendor, bool) {
	labels := strings.Split(senderDomain, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if v, ok := catalog[candidate]; ok {
			return v, true
		}
	}
	return SaaSVendor{}, false
}

type nullSaaSClassifier struct{}

func (nullSaaSClassifier) Classify(text string, candidateLabels []string) ([]string, []float64, bool) {
	return nil, nil, false
}
