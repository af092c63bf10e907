package bec

import (
	"context"
	"math"
	"time"

	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/domain"
	"github.com/BlackChamberSecurity/BlackChamber-ICES/internal/ports"
)

// lookupBehaviour performs step 4: all best-effort, any store error
// degrades to "no profile" rather than failing the analyzer.
func lookupBehaviour(ctx context.Context, store ports.Store, event domain.EmailEvent, category string, now time.Time, replyToDomain string) BehaviouralFlags {
	tenantID := event.TenantID
	senderDomain := event.SenderDomain()

	profile, err := safeGetProfile(ctx, store, tenantID, senderDomain)
	flags := BehaviouralFlags{}

	if profile == nil || err != nil {
		flags.IsNewSender = true
		flags.SenderTenureDays = 0
	} else {
		flags.SenderTenureDays = profile.TenureDays(now)
		flags.IsNewSender = profile.IsNew(now)
		flags.DisplayNameAnomaly = displayNameAnomaly(event.Sender.Name, profile.KnownDisplayNames)
		flags.CategoryShift = categoryShift(category, profile.TypicalCategories)
		flags.TimeAnomaly = timeAnomaly(event.ReceivedAt, profile.TypicalSendHours)
		flags.ReplyToMismatch = replyToMismatch(replyToDomain, senderDomain, profile.ReplyToDomains)
	}

	isHighRisk := HighRiskCategories[category]
	for _, recipient := range event.Recipients() {
		pair := safeGetPair(ctx, store, tenantID, event.Sender.Address, recipient)
		domainPair := safeGetDomainPair(ctx, store, tenantID, senderDomain, recipient)

		if pair == nil || pair.IsFirstContact() {
			flags.IsFirstContact = true
			if isHighRisk {
				flags.LowVolumeSensitiveRequest = true
			}
		} else if pair.MessageCount < 5 && isHighRisk {
			flags.LowVolumeSensitiveRequest = true
		}

		if isHighRisk {
			if escalates(pair, category) || escalates(domainPair, category) {
				flags.ContextEscalation = true
			}
		}
	}

	return flags
}

func escalates(pair *domain.SenderRecipientPair, category string) bool {
	if pair == nil {
		return false
	}
	total := 0
	for _, n := range pair.CategoryDistribution {
		total += n
	}
	if total < 3 {
		return false
	}
	ratio := float64(pair.CategoryDistribution[category]) / float64(total)
	return ratio < 0.10
}

func displayNameAnomaly(senderName string, known []string) bool {
	if senderName == "" || len(known) == 0 {
		return false
	}
	for _, n := range known {
		if n == senderName {
			return false
		}
	}
	return true
}

func categoryShift(category string, typical map[string]int) bool {
	if !HighRiskCategories[category] {
		return false
	}
	total := 0
	for _, n := range typical {
		total += n
	}
	if total < 5 {
		return false
	}
	ratio := float64(typical[category]) / float64(total)
	return ratio < 0.05
}

func timeAnomaly(receivedAt time.Time, hourCounts map[int]int) bool {
	total := 0
	for _, n := range hourCounts {
		total += n
	}
	if total < 10 {
		return false
	}

	var sum float64
	for hour, n := range hourCounts {
		sum += float64(hour) * float64(n)
	}
	mean := sum / float64(total)

	var variance float64
	for hour, n := range hourCounts {
		d := float64(hour) - mean
		variance += d * d * float64(n)
	}
	variance /= float64(total)
	std := math.Sqrt(variance)

	hour := float64(receivedAt.UTC().Hour())
	return math.Abs(hour-mean) > 2*std
}

func replyToMismatch(replyToDomain, senderDomain string, known []string) bool {
	if replyToDomain == "" || replyToDomain == senderDomain {
		return false
	}
	for _, d := range known {
		if d == replyToDomain {
			return false
		}
	}
	return true
}

// safeGetProfile/safeGetPair/safeGetDomainPair swallow store errors,
// degrading to "no data" — BEC lookups are best-effort per §4.2 step 4 and
// §7 ("DB unavailable during BEC lookup — degrade to no profile").

func safeGetProfile(ctx context.Context, store ports.Store, tenantID, senderDomain string) (*domain.SenderProfile, error) {
	if store == nil {
		return nil, nil
	}
	p, err := store.GetSenderProfile(ctx, tenantID, senderDomain)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func safeGetPair(ctx context.Context, store ports.Store, tenantID, sender, recipient string) *domain.SenderRecipientPair {
	if store == nil {
		return nil
	}
	p, err := store.GetSenderRecipientPair(ctx, tenantID, sender, recipient)
	if err != nil {
		return nil
	}
	return p
}

func safeGetDomainPair(ctx context.Context, store ports.Store, tenantID, senderDomain, recipient string) *domain.SenderRecipientPair {
	if store == nil {
		return nil
	}
	p, err := store.GetDomainPairSummary(ctx, tenantID, senderDomain, recipient)
	if err != nil {
		return nil
	}
	return p
}
